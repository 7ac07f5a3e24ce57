// Package registry is the Fleet Registry: a thin polling client over a
// ManagedDatabase custom resource in Kubernetes. It never watches or
// caches informer state -- every read issues a fresh List/Get against the
// API server, matching the original engine's plain-client design. The
// only caching here is a short-TTL snapshot cache (see snapshot_cache.go)
// that protects the API server from being hit once per reconciler/syncer
// call within a single rescan tick.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"github.com/geofleet/ingestd/internal/telemetry"
)

// Database status phases, unchanged in meaning from the original engine's
// string-valued dbstatus field.
const (
	StatusInit         = "INIT"
	StatusProvisioning = "PROVISIONING"
	StatusProvisioned  = "PROVISIONED"
	StatusHasMapData   = "HASMAPDATA"
)

// managedDatabaseGVR identifies the ManagedDatabase custom resource.
var managedDatabaseGVR = schema.GroupVersionResource{
	Group:    "geoingest.io",
	Version:  "v1",
	Resource: "manageddatabases",
}

// ManagedDatabase is a fleet member as seen by the registry: its
// connection strings and its current provisioning/import status.
type ManagedDatabase struct {
	Name    string
	DSN     string
	DSNInit string
	Status  string
}

// DatabaseInventory is the read/write view over ManagedDatabase resources.
// Split from DeploymentSet per the spec's registry-abstraction design note,
// so a test double can implement one without the other.
type DatabaseInventory interface {
	EnumerateDatabases(ctx context.Context) ([]ManagedDatabase, error)
	EnumerateReadyDatabases(ctx context.Context) ([]ManagedDatabase, error)
	SetStatus(ctx context.Context, name, status string) error
	URLDSN(dsn string) string
}

// Registry implements DatabaseInventory against a real Kubernetes API
// server via the dynamic client -- no generated clientset, no
// controller-runtime manager, no watches.
type Registry struct {
	client    dynamic.Interface
	namespace string
	limiter   *rate.Limiter
	snapshot  *snapshotCache
	metrics   telemetry.Recorder
}

// Config holds the registry's construction parameters.
type Config struct {
	Namespace             string
	StatusWritesPerSecond float64
	StatusWritesBurst     int
	SnapshotTTLSeconds    int
}

// New creates a Registry bound to namespace, pacing SetStatus calls
// through a rate.Limiter the way the teacher paces concurrent downloads
// in provider/auto_download.go. metrics may be telemetry.NoOpRecorder{}
// when telemetry is disabled.
func New(client dynamic.Interface, cfg Config, metrics telemetry.Recorder) *Registry {
	perSecond := cfg.StatusWritesPerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.StatusWritesBurst
	if burst <= 0 {
		burst = 10
	}
	if metrics == nil {
		metrics = telemetry.NoOpRecorder{}
	}

	return &Registry{
		client:    client,
		namespace: cfg.Namespace,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		snapshot:  newSnapshotCache(cfg.SnapshotTTLSeconds),
		metrics:   metrics,
	}
}

// EnumerateDatabases lists every ManagedDatabase in the configured
// namespace, serving from the short-TTL snapshot cache when fresh.
func (r *Registry) EnumerateDatabases(ctx context.Context) ([]ManagedDatabase, error) {
	if dbs, ok := r.snapshot.get(); ok {
		return dbs, nil
	}

	list, err := r.client.Resource(managedDatabaseGVR).Namespace(r.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list managed databases: %w", err)
	}

	dbs := make([]ManagedDatabase, 0, len(list.Items))
	ready := 0
	for _, item := range list.Items {
		db := toManagedDatabase(item)
		dbs = append(dbs, db)
		if db.Status == StatusHasMapData {
			ready++
		}
	}

	r.metrics.SetFleetCounts(len(dbs), ready)
	r.snapshot.set(dbs)
	return dbs, nil
}

// EnumerateReadyDatabases returns the subset of EnumerateDatabases whose
// Status is HASMAPDATA.
func (r *Registry) EnumerateReadyDatabases(ctx context.Context) ([]ManagedDatabase, error) {
	all, err := r.EnumerateDatabases(ctx)
	if err != nil {
		return nil, err
	}

	ready := make([]ManagedDatabase, 0, len(all))
	for _, db := range all {
		if db.Status == StatusHasMapData {
			ready = append(ready, db)
		}
	}
	return ready, nil
}

// SetStatus patches status.phase for the named ManagedDatabase. Calls are
// paced through the registry's rate limiter so a large fleet's per-cycle
// status writes cannot burst past the API server's tolerance. This
// bypasses the snapshot cache and invalidates it after a successful
// patch, so the next enumerate refetches and reflects the write.
func (r *Registry) SetStatus(ctx context.Context, name, status string) error {
	if err := r.waitForStatusWrite(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	patch := []byte(fmt.Sprintf(`{"status":{"phase":%q}}`, status))
	_, err := r.client.Resource(managedDatabaseGVR).Namespace(r.namespace).
		Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("set status for %s: %w", name, err)
	}

	r.snapshot.invalidate()
	return nil
}

// waitForStatusWrite reserves a limiter slot and blocks until it's due,
// recording a throttle event whenever the caller actually had to wait
// rather than being served immediately.
func (r *Registry) waitForStatusWrite(ctx context.Context) error {
	now := time.Now()
	reservation := r.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("status write burst exceeded limiter capacity")
	}

	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	r.metrics.RecordStatusWriteThrottled()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// URLDSN translates a libpq key=value DSN into the postgres:// URL form
// imposm3 expects via -connection.
func (r *Registry) URLDSN(dsn string) string {
	fields := parseKeyValueDSN(dsn)

	host := fields["host"]
	port := fields["port"]
	user := fields["user"]
	password := fields["password"]
	dbname := fields["dbname"]

	hostPort := host
	if port != "" {
		hostPort = host + ":" + port
	}

	userInfo := ""
	if user != "" {
		userInfo = user
		if password != "" {
			userInfo += ":" + password
		}
		userInfo += "@"
	}

	return fmt.Sprintf("postgres://%s%s/%s", userInfo, hostPort, dbname)
}

func parseKeyValueDSN(dsn string) map[string]string {
	fields := make(map[string]string)
	for _, part := range strings.Fields(dsn) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = strings.Trim(kv[1], "'\"")
	}
	return fields
}

func toManagedDatabase(item unstructured.Unstructured) ManagedDatabase {
	name := item.GetName()
	dsn, _, _ := unstructured.NestedString(item.Object, "spec", "dsn")
	dsnInit, _, _ := unstructured.NestedString(item.Object, "spec", "dsnInit")
	status, _, _ := unstructured.NestedString(item.Object, "status", "phase")

	return ManagedDatabase{
		Name:    name,
		DSN:     dsn,
		DSNInit: dsnInit,
		Status:  status,
	}
}
