// Package reconciler drives each managed database through its
// provisioning and materialization phases once per reconcile cycle.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/geofleet/ingestd/internal/audit"
	"github.com/geofleet/ingestd/internal/extract"
	"github.com/geofleet/ingestd/internal/importer"
	"github.com/geofleet/ingestd/internal/provisioner"
	"github.com/geofleet/ingestd/internal/registry"
	"github.com/geofleet/ingestd/internal/storage"
	"github.com/geofleet/ingestd/internal/telemetry"
)

// Phase names, used both as audit-log labels and Prometheus label
// values.
const (
	PhaseProvision   = "P1-provision"
	PhaseBatchImport = "P2-batch-import"
	PhaseMaterialize = "P3-materialize"
)

const defaultStatusRetries = 5

// Config holds settings that don't change between reconcile cycles.
type Config struct {
	// ExtraDataPrefix namespaces synced extra-data objects, e.g. a
	// fleet name. May be empty.
	ExtraDataPrefix string

	// ExtraDataLocalDir is where extra-data CSVs are synced to before
	// being loaded. Leaving it empty disables extra-data sync/load
	// entirely, matching a deployment with no --extradata-storage set.
	ExtraDataLocalDir string

	// StatusRetries bounds the retry loop around the final HASMAPDATA
	// status write in P3. Defaults to 5.
	StatusRetries int

	// SkipImport suppresses P2 (batch import) and the Write/Rotate
	// calls in P3, leaving the fleet's map data exactly as it was
	// loaded on a previous cycle. Extra-data sync/load, SQL-helper
	// install, and the HASMAPDATA status write still run, so a
	// database that finished importing on an earlier pass can still
	// pick up a non-OSM overlay change without re-running imposm3.
	SkipImport bool
}

// Reconciler drives the P1-P3 per-cycle lifecycle described for the
// managed database fleet.
type Reconciler struct {
	inventory   registry.DatabaseInventory
	importer    *importer.Importer
	provisioner *provisioner.Provisioner
	extraData   storage.Storage
	auditRepo   *audit.Repository
	metrics     telemetry.Recorder
	cfg         Config
}

// New creates a Reconciler. extraData may be nil, which disables the
// extra-data sync/load step in P3 regardless of cfg.ExtraDataLocalDir.
func New(inventory registry.DatabaseInventory, imp *importer.Importer, prov *provisioner.Provisioner, extraData storage.Storage, auditRepo *audit.Repository, metrics telemetry.Recorder, cfg Config) *Reconciler {
	if cfg.StatusRetries <= 0 {
		cfg.StatusRetries = defaultStatusRetries
	}
	return &Reconciler{
		inventory:   inventory,
		importer:    imp,
		provisioner: prov,
		extraData:   extraData,
		auditRepo:   auditRepo,
		metrics:     metrics,
		cfg:         cfg,
	}
}

// isProvisionable reports whether a database's status is one that P1
// should act on: the INIT phase, or the CR's status subresource not
// yet populated at all.
func isProvisionable(status string) bool {
	return status == "" || status == registry.StatusInit
}

// isMaterializable reports whether a database's status is one that P3
// should act on: already provisioned, or previously materialized and
// now due for a refresh.
func isMaterializable(status string) bool {
	return status == registry.StatusProvisioned || status == registry.StatusHasMapData
}

// Reconcile runs one P1-P3 pass. updated reports whether any extract
// changed on this cycle (from the fetcher); initial marks the very
// first pass since daemon start, which forces a batch import even
// when no extract changed.
func (r *Reconciler) Reconcile(ctx context.Context, extracts []extract.Extract, updated, initial bool) error {
	databases, err := r.inventory.EnumerateDatabases(ctx)
	if err != nil {
		return fmt.Errorf("enumerate databases: %w", err)
	}

	// Every import call in the control-loop path runs non-incremental
	// (no -diff/-diffdir): imposm3's diff mode is reserved for a
	// separate standing-daemon update model this reconciler doesn't
	// implement.
	const incremental = false
	shouldImport := updated || initial

	r.runProvisionPhase(ctx, databases)

	if shouldImport {
		r.runBatchImportPhase(ctx, extracts, incremental)
	}

	r.runMaterializePhase(ctx, databases, shouldImport, incremental)

	return nil
}

func (r *Reconciler) runProvisionPhase(ctx context.Context, databases []registry.ManagedDatabase) {
	for _, db := range databases {
		if !isProvisionable(db.Status) {
			continue
		}

		start := time.Now()
		r.metrics.SetReconcilePhase(db.Name, PhaseProvision, true)

		if err := r.inventory.SetStatus(ctx, db.Name, registry.StatusProvisioning); err != nil {
			r.recordOutcome(ctx, db.Name, PhaseProvision, audit.OutcomeFailure, start, fmt.Sprintf("set PROVISIONING: %v", err))
			r.metrics.SetReconcilePhase(db.Name, PhaseProvision, false)
			continue
		}

		err := r.provisioner.ProvisionDatabase(ctx, db.DSNInit, db.DSN, db.Name)
		if err != nil {
			log.Printf("reconciler: provision %s failed: %v", db.Name, err)
			if revertErr := r.inventory.SetStatus(ctx, db.Name, registry.StatusInit); revertErr != nil {
				log.Printf("reconciler: revert status for %s failed: %v", db.Name, revertErr)
			}
			r.recordOutcome(ctx, db.Name, PhaseProvision, audit.OutcomeFailure, start, err.Error())
			r.metrics.SetReconcilePhase(db.Name, PhaseProvision, false)
			continue
		}

		if err := r.inventory.SetStatus(ctx, db.Name, registry.StatusProvisioned); err != nil {
			log.Printf("reconciler: set PROVISIONED for %s failed: %v", db.Name, err)
			r.recordOutcome(ctx, db.Name, PhaseProvision, audit.OutcomeFailure, start, fmt.Sprintf("set PROVISIONED: %v", err))
			r.metrics.SetReconcilePhase(db.Name, PhaseProvision, false)
			continue
		}

		r.recordOutcome(ctx, db.Name, PhaseProvision, audit.OutcomeSuccess, start, "")
		r.metrics.SetReconcilePhase(db.Name, PhaseProvision, false)
	}
}

func (r *Reconciler) runBatchImportPhase(ctx context.Context, extracts []extract.Extract, incremental bool) {
	if r.cfg.SkipImport {
		log.Printf("reconciler: skipping batch import phase (--skipimport)")
		return
	}

	start := time.Now()
	r.metrics.SetExtractsTotal(len(extracts))

	err := r.importer.ReadBatch(ctx, extracts, incremental)
	duration := time.Since(start)
	r.metrics.RecordImportPhase("read", duration.Seconds())
	r.metrics.RecordEvent("batch_import", duration.Seconds(), float64(time.Now().Unix()))

	outcome := audit.OutcomeSuccess
	detail := ""
	if err != nil {
		outcome = audit.OutcomeFailure
		detail = err.Error()
		log.Printf("reconciler: batch import failed: %v", err)
		r.metrics.RecordReconcileError(PhaseBatchImport)
	}
	r.recordOutcome(ctx, "", PhaseBatchImport, outcome, start, detail)
}

func (r *Reconciler) runMaterializePhase(ctx context.Context, databases []registry.ManagedDatabase, shouldImport, incremental bool) {
	for _, db := range databases {
		if !isMaterializable(db.Status) {
			continue
		}
		if db.Status == registry.StatusHasMapData && !shouldImport {
			continue
		}

		r.materializeOne(ctx, db, incremental)
	}
}

func (r *Reconciler) materializeOne(ctx context.Context, db registry.ManagedDatabase, incremental bool) {
	start := time.Now()
	r.metrics.SetReconcilePhase(db.Name, PhaseMaterialize, true)
	defer r.metrics.SetReconcilePhase(db.Name, PhaseMaterialize, false)

	targetDSN := r.inventory.URLDSN(db.DSN)

	if !r.cfg.SkipImport {
		if err := r.importer.Write(ctx, targetDSN, incremental); err != nil {
			r.fail(ctx, db.Name, start, fmt.Errorf("write: %w", err))
			return
		}

		if err := r.importer.Rotate(ctx, targetDSN, incremental); err != nil {
			r.fail(ctx, db.Name, start, fmt.Errorf("rotate: %w", err))
			return
		}
	}

	if r.extraData != nil && r.cfg.ExtraDataLocalDir != "" {
		if err := provisioner.SyncExtraData(ctx, r.extraData, r.cfg.ExtraDataPrefix, db.Name, r.cfg.ExtraDataLocalDir); err != nil {
			r.fail(ctx, db.Name, start, fmt.Errorf("sync extra data: %w", err))
			return
		}

		if err := provisioner.LoadExtraData(ctx, db.DSN, r.cfg.ExtraDataLocalDir); err != nil {
			r.fail(ctx, db.Name, start, fmt.Errorf("load extra data: %w", err))
			return
		}
	}

	if err := r.provisioner.InstallSQLHelpers(ctx, db.DSN); err != nil {
		r.fail(ctx, db.Name, start, fmt.Errorf("install sql helpers: %w", err))
		return
	}

	if err := r.setStatusWithRetry(ctx, db.Name, registry.StatusHasMapData); err != nil {
		log.Printf("reconciler: %s exhausted status-set retries, leaving status unchanged: %v", db.Name, err)
		r.recordOutcome(ctx, db.Name, PhaseMaterialize, audit.OutcomeFailure, start,
			fmt.Sprintf("set HASMAPDATA: %v (status left unchanged)", err))
		r.metrics.RecordReconcileError(PhaseMaterialize)
		return
	}

	r.recordOutcome(ctx, db.Name, PhaseMaterialize, audit.OutcomeSuccess, start, "")
}

func (r *Reconciler) fail(ctx context.Context, databaseName string, start time.Time, err error) {
	log.Printf("reconciler: materialize %s failed: %v", databaseName, err)
	r.recordOutcome(ctx, databaseName, PhaseMaterialize, audit.OutcomeFailure, start, err.Error())
	r.metrics.RecordReconcileError(PhaseMaterialize)
}

// setStatusWithRetry retries SetStatus against transient registry
// errors up to cfg.StatusRetries times. The cycle proceeds with status
// left unchanged after exhaustion, per §4.6.
func (r *Reconciler) setStatusWithRetry(ctx context.Context, name, status string) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.StatusRetries; attempt++ {
		if err := r.inventory.SetStatus(ctx, name, status); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (r *Reconciler) recordOutcome(ctx context.Context, databaseName, phase, outcome string, start time.Time, detail string) {
	duration := time.Since(start)
	r.metrics.RecordEvent(phase, duration.Seconds(), float64(time.Now().Unix()))

	if r.auditRepo == nil {
		return
	}

	event := &audit.Event{
		DatabaseName: databaseName,
		Phase:        phase,
		Outcome:      outcome,
		Duration:     duration,
	}
	if detail != "" {
		if outcome == audit.OutcomeFailure {
			event.ErrorMessage = sql.NullString{String: detail, Valid: true}
		} else {
			event.Detail = sql.NullString{String: detail, Valid: true}
		}
	}

	if err := r.auditRepo.Record(ctx, event); err != nil {
		// The audit log is diagnostic, not authoritative: a broken
		// audit sink never blocks or fails a reconcile cycle.
		log.Printf("reconciler: failed to record audit event for %s/%s: %v", databaseName, phase, err)
	}
}
