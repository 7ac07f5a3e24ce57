// Package syncer reconciles a fleet's tile-service deployments against
// its set of ready databases: create one for every database that's ready
// and doesn't have one, delete every deployment whose database isn't
// ready (or no longer exists). No local state is cached between runs, so
// a missed cycle self-heals on the next one.
package syncer

import (
	"context"
	"fmt"

	"github.com/geofleet/ingestd/internal/registry"
	"github.com/geofleet/ingestd/internal/telemetry"
)

// Syncer reconciles deployments against the registry's ready-database
// set, grounded on the original engine's execute_kube_sync_deployments:
// create-missing-then-delete-orphaned, logging and continuing past
// per-item failures rather than aborting the pass.
type Syncer struct {
	inventory   registry.DatabaseInventory
	deployments registry.DeploymentSet
	metrics     telemetry.Recorder
}

// New creates a Syncer over inventory (the ready-database source of
// truth) and deployments (the set being reconciled against it). metrics
// may be telemetry.NoOpRecorder{} when telemetry is disabled.
func New(inventory registry.DatabaseInventory, deployments registry.DeploymentSet, metrics telemetry.Recorder) *Syncer {
	if metrics == nil {
		metrics = telemetry.NoOpRecorder{}
	}
	return &Syncer{inventory: inventory, deployments: deployments, metrics: metrics}
}

// Result summarizes one Sync pass for logging/metrics/audit purposes.
type Result struct {
	Created []string
	Deleted []string
	Errors  []error
}

// Sync performs one create-missing/delete-orphaned pass. It returns an
// error only when the ready databases cannot be enumerated; per-item
// failures, and a failure to list existing deployments, are collected
// into Result.Errors so the caller can log them and let the next cycle
// retry, matching the original engine's try/except-per-item loop.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	var result Result

	ready, err := s.inventory.EnumerateReadyDatabases(ctx)
	if err != nil {
		return result, fmt.Errorf("enumerate ready databases: %w", err)
	}

	readyNames := make(map[string]struct{}, len(ready))
	for _, db := range ready {
		readyNames[db.Name] = struct{}{}

		exists, err := s.deployments.ExistsFor(ctx, db)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("check deployment for %s: %w", db.Name, err))
			continue
		}
		if exists {
			continue
		}

		if err := s.deployments.EnsureFor(ctx, db); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("create deployment for %s: %w", db.Name, err))
			continue
		}
		result.Created = append(result.Created, db.Name)
		s.metrics.RecordDeploymentCreated()
	}

	existing, err := s.deployments.List(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list deployments: %w", err))
		return result, nil
	}

	for _, name := range existing {
		if _, stillReady := readyNames[name]; stillReady {
			continue
		}

		if err := s.deployments.RemoveFor(ctx, registry.ManagedDatabase{Name: name}); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete deployment for %s: %w", name, err))
			continue
		}
		result.Deleted = append(result.Deleted, name)
		s.metrics.RecordDeploymentDeleted()
	}

	return result, nil
}
