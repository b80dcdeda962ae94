// Package provision creates tenants and their extensions.
//
// Creating a tenant writes a database row and a dialplan file that must
// agree with each other: the file is written inside the transaction and the
// row is committed only once the file is on disk. The routing engine is
// then asked to reload, outside the transaction. Extensions live purely in
// the realtime tables Asterisk reads on every call, so creating one needs
// neither a file nor a reload.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/flowpbx/tenantpbx/internal/database"
	"github.com/flowpbx/tenantpbx/internal/database/models"
	"github.com/flowpbx/tenantpbx/internal/dialplan"
	"github.com/flowpbx/tenantpbx/internal/metrics"
)

// TenantRequest carries the inputs for a new tenant.
type TenantRequest struct {
	ID            string
	InboundNumber string
	Trunk         string
}

func (r TenantRequest) normalize() TenantRequest {
	return TenantRequest{
		ID:            strings.TrimSpace(r.ID),
		InboundNumber: strings.TrimSpace(r.InboundNumber),
		Trunk:         strings.TrimSpace(r.Trunk),
	}
}

func (r TenantRequest) validate() error {
	return collect(
		validateTenantID("id", r.ID),
		validateDID("inbound_number", r.InboundNumber),
		validateTrunk("trunk", r.Trunk),
	)
}

// TenantResult is the outcome of a successful CreateTenant.
type TenantResult struct {
	Tenant   models.Tenant
	FilePath string
	// ReloadWarning is set when the tenant was persisted but the routing
	// engine could not be reloaded. An operator reload picks it up later.
	ReloadWarning error
}

// Options configures a Workflow.
type Options struct {
	// Dir is where dialplan files are written.
	Dir string
	// AGIURL is embedded in every rendered dialplan.
	AGIURL        string
	Reloader      ReloadTrigger
	ReloadTimeout time.Duration
	Metrics       *metrics.Recorder
}

// Workflow provisions tenants.
type Workflow struct {
	db            *database.DB
	tenants       database.TenantRepository
	dir           string
	agiURL        string
	reloader      ReloadTrigger
	reloadTimeout time.Duration
	metrics       *metrics.Recorder
	logger        *slog.Logger
}

// NewWorkflow creates a tenant provisioning workflow.
func NewWorkflow(db *database.DB, opts Options, logger *slog.Logger) *Workflow {
	reloader := opts.Reloader
	if reloader == nil {
		reloader = NopReloader{}
	}
	return &Workflow{
		db:            db,
		tenants:       database.NewTenantRepository(db),
		dir:           opts.Dir,
		agiURL:        opts.AGIURL,
		reloader:      reloader,
		reloadTimeout: opts.ReloadTimeout,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "provision"),
	}
}

// CreateTenant persists a tenant and its dialplan file, then triggers a
// reload. It returns ErrValidation, ErrDuplicateTenant or a *StorageError;
// a failed reload is reported in TenantResult.ReloadWarning instead.
func (w *Workflow) CreateTenant(ctx context.Context, req TenantRequest) (_ *TenantResult, err error) {
	defer func() { w.metrics.Provisioning(metrics.OpCreateTenant, outcomeOf(err)) }()

	req = req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	tenant := models.Tenant{
		ID:            req.ID,
		InboundDID:    req.InboundNumber,
		OutboundTrunk: req.Trunk,
	}

	path, err := w.persistTenant(ctx, &tenant)
	if err != nil {
		return nil, err
	}

	w.logger.Info("tenant provisioned",
		"tenant_id", tenant.ID,
		"inbound_did", tenant.InboundDID,
		"trunk", tenant.OutboundTrunk,
		"file", path,
	)

	res := &TenantResult{Tenant: tenant, FilePath: path}
	if err := w.reload(ctx); err != nil {
		w.logger.Warn("dialplan reload failed after provisioning, reload manually",
			"tenant_id", tenant.ID,
			"error", err,
		)
		res.ReloadWarning = err
	}
	return res, nil
}

// persistTenant runs the transactional part of CreateTenant. The
// connection is released before it returns.
func (w *Workflow) persistTenant(ctx context.Context, t *models.Tenant) (string, error) {
	tx, err := w.db.NewTx(ctx)
	if err != nil {
		return "", storageErr("beginning transaction", err)
	}
	defer tx.Rollback()

	if err := tx.InsertTenant(ctx, t); err != nil {
		if database.IsUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateTenant, t.ID)
		}
		return "", storageErr("inserting tenant", err)
	}

	conf := dialplan.Render(w.renderInput(t))
	path, err := writeArtifact(w.dir, dialplan.FileName(t.ID), conf)
	if err != nil {
		return "", storageErr("writing dialplan", err)
	}

	if err := tx.Commit(); err != nil {
		// The file must not outlive an uncommitted tenant.
		if rmErr := os.Remove(path); rmErr != nil {
			w.logger.Error("removing orphaned dialplan after failed commit",
				"tenant_id", t.ID,
				"file", path,
				"error", rmErr,
			)
		}
		return "", storageErr("committing tenant", err)
	}
	return path, nil
}

func (w *Workflow) renderInput(t *models.Tenant) dialplan.Input {
	return dialplan.Input{
		TenantID:      t.ID,
		InboundNumber: t.InboundDID,
		Trunk:         t.OutboundTrunk,
		AGIURL:        w.agiURL,
	}
}

// Reload triggers a routing engine reload on demand.
func (w *Workflow) Reload(ctx context.Context) error {
	if err := w.reload(ctx); err != nil {
		w.logger.Warn("manual dialplan reload failed", "error", err)
		return err
	}
	w.logger.Info("dialplan reloaded")
	return nil
}

// reload runs the trigger detached from the caller's cancellation but
// bounded by the reload timeout.
func (w *Workflow) reload(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if w.reloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.reloadTimeout)
		defer cancel()
	}
	if err := w.reloader.Reload(ctx); err != nil {
		w.metrics.ReloadFailed()
		return err
	}
	return nil
}

// ListTenants returns all tenants ordered by id.
func (w *Workflow) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	tenants, err := w.tenants.List(ctx)
	if err != nil {
		return nil, storageErr("listing tenants", err)
	}
	return tenants, nil
}

// GetTenant returns one tenant or ErrTenantNotFound.
func (w *Workflow) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	t, err := w.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("getting tenant", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return t, nil
}

// PreviewDialplan renders a stored tenant's dialplan without writing it.
func (w *Workflow) PreviewDialplan(ctx context.Context, id string) ([]byte, error) {
	t, err := w.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	return dialplan.Render(w.renderInput(t)), nil
}

// outcomeOf maps a provisioning error to its metrics label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrValidation):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrDuplicateTenant), errors.Is(err, ErrDuplicateExtension):
		return metrics.OutcomeDuplicate
	case errors.Is(err, ErrTenantNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
