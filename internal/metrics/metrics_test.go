package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter struct {
	n   int64
	err error
}

func (c fixedCounter) Count(context.Context) (int64, error) { return c.n, c.err }

type fixedSessions int

func (s fixedSessions) ActiveSessions() int { return int(s) }

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.CallDecision("INTERNAL", true)
	r.CallDecision("INTERNAL", true)
	r.CallDecision("MISMATCH", false)
	r.CallDecision("", false)
	r.Provisioning(OpCreateTenant, OutcomeSuccess)
	r.Provisioning(OpCreateTenant, OutcomeDuplicate)
	r.ReloadFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.decisions.WithLabelValues("INTERNAL", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("MISMATCH", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("NONE", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.provisioning.WithLabelValues(OpCreateTenant, OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reloadFailures))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.CallDecision("ERROR", false)
		r.Provisioning(OpCreateExtension, OutcomeError)
		r.ReloadFailed()
	})
}

func TestCollector(t *testing.T) {
	c := NewCollector(fixedCounter{n: 3}, fixedCounter{n: 7}, fixedSessions(2), time.Now().Add(-time.Minute))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 3.0, values["tenantpbx_tenants"])
	assert.Equal(t, 7.0, values["tenantpbx_endpoints"])
	assert.Equal(t, 2.0, values["tenantpbx_agi_sessions_active"])
	assert.GreaterOrEqual(t, values["tenantpbx_uptime_seconds"], 60.0)
}

func TestCollectorSkipsFailingProviders(t *testing.T) {
	c := NewCollector(fixedCounter{err: errors.New("db down")}, nil, nil, time.Now())
	// Only uptime is emitted.
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}
