package agi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/flowpbx/tenantpbx/internal/callauth"
	"github.com/flowpbx/tenantpbx/internal/dialplan"
	"github.com/flowpbx/tenantpbx/internal/metrics"
)

// State is the lifecycle position of one session.
type State int

const (
	StateAwaitingVariables State = iota
	StateDeciding
	StatePublishing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingVariables:
		return "awaiting_variables"
	case StateDeciding:
		return "deciding"
	case StatePublishing:
		return "publishing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Authorizer decides a single call. *callauth.Service satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, from, to string) callauth.Decision
}

// Handler runs the authorization state machine for one session at a time.
// It holds no per-session state and is safe for concurrent use.
type Handler struct {
	auth             Authorizer
	variablesTimeout time.Duration
	metrics          *metrics.Recorder
}

// NewHandler creates a Handler. A zero variablesTimeout waits for the
// initial variable block indefinitely.
func NewHandler(auth Authorizer, variablesTimeout time.Duration, rec *metrics.Recorder) *Handler {
	return &Handler{
		auth:             auth,
		variablesTimeout: variablesTimeout,
		metrics:          rec,
	}
}

// sessionRun is the per-session state carried through Serve.
type sessionRun struct {
	sess   Session
	state  State
	logger *slog.Logger
}

func (r *sessionRun) transition(to State) {
	r.logger.Debug("agi session state", "from", r.state.String(), "to", to.String())
	r.state = to
}

// Serve drives sess from AwaitingVariables to Terminated. The session is
// ended exactly once on every path and Serve never panics.
func (h *Handler) Serve(ctx context.Context, sess Session, logger *slog.Logger) State {
	run := &sessionRun{sess: sess, state: StateAwaitingVariables, logger: logger}

	listenerDone := make(chan struct{})
	if errs := sess.Errors(); errs != nil {
		go func() {
			defer close(listenerDone)
			for err := range errs {
				logger.Warn("agi protocol error", "error", err)
			}
		}()
	} else {
		close(listenerDone)
	}

	defer func() {
		run.transition(StateTerminated)
		if err := sess.End(); err != nil {
			logger.Debug("ending agi session", "error", err)
		}
		<-listenerDone
	}()

	waitCtx := ctx
	if h.variablesTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.variablesTimeout)
		defer cancel()
	}

	if _, err := sess.AwaitVariables(waitCtx); err != nil {
		logger.Warn("agi session ended without variables", "error", err)
		return StateTerminated
	}

	from := strings.TrimSpace(variable(sess, VarCaller))
	to := strings.TrimSpace(variable(sess, VarDestination))
	if from == "" || to == "" {
		logger.Warn("agi session missing arguments, denying",
			"from", from,
			"to", to,
		)
		run.transition(StatePublishing)
		h.publish(ctx, run, callauth.Decision{Allowed: false}, false)
		h.metrics.CallDecision("", false)
		return StateTerminated
	}

	run.transition(StateDeciding)
	decision := h.decide(ctx, run, from, to)

	logger.Info("call authorized",
		"from", from,
		"to", to,
		"allowed", decision.Allowed,
		"classification", string(decision.Classification),
	)

	run.transition(StatePublishing)
	h.publish(ctx, run, decision, true)
	h.metrics.CallDecision(string(decision.Classification), decision.Allowed)
	return StateTerminated
}

// decide invokes the authorizer, converting a panic into a denied ERROR.
func (h *Handler) decide(ctx context.Context, run *sessionRun, from, to string) (d callauth.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			run.logger.Error("call authorization panicked, denying",
				"panic", fmt.Sprint(rec),
				"from", from,
				"to", to,
			)
			d = callauth.Decision{Allowed: false, Classification: callauth.Error}
		}
	}()
	return h.auth.Authorize(ctx, from, to)
}

// publish writes the decision variables. Every write is attempted and
// failures are only logged.
func (h *Handler) publish(ctx context.Context, run *sessionRun, d callauth.Decision, withClassification bool) {
	if err := run.sess.SetVariable(ctx, dialplan.VarAllowed, strconv.FormatBool(d.Allowed)); err != nil {
		run.logger.Warn("writing agi variable", "variable", dialplan.VarAllowed, "error", err)
	}
	if !withClassification {
		return
	}
	if err := run.sess.SetVariable(ctx, dialplan.VarTargetType, string(d.Classification)); err != nil {
		run.logger.Warn("writing agi variable", "variable", dialplan.VarTargetType, "error", err)
	}
}

func variable(sess Session, name string) string {
	v, _ := sess.Variable(name)
	return v
}
