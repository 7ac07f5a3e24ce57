// Command ingestd is the OSM geodata ingestion daemon: it fetches extract
// PBFs, drives them through imposm3, provisions and materializes the
// managed database fleet, and optionally keeps a Kubernetes tile-service
// deployment set in sync with that fleet. With --updatemodel unset or
// "none" it performs a single pass and exits; imposmauto/importloop run
// it forever as a single foreground process, matching the original
// ingestion engine's standing-daemon run model.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/geofleet/ingestd/internal/audit"
	"github.com/geofleet/ingestd/internal/config"
	"github.com/geofleet/ingestd/internal/controlloop"
	"github.com/geofleet/ingestd/internal/extract"
	"github.com/geofleet/ingestd/internal/fetcher"
	"github.com/geofleet/ingestd/internal/importer"
	"github.com/geofleet/ingestd/internal/provisioner"
	"github.com/geofleet/ingestd/internal/reconciler"
	"github.com/geofleet/ingestd/internal/registry"
	"github.com/geofleet/ingestd/internal/storage"
	"github.com/geofleet/ingestd/internal/syncer"
	"github.com/geofleet/ingestd/internal/telemetry"
	"github.com/geofleet/ingestd/internal/version"
)

// whereFlag collects repeated -where NAME values into a slice, the
// stdlib flag package's usual pattern for a multi-value flag.
type whereFlag []string

func (w *whereFlag) String() string { return strings.Join(*w, ",") }
func (w *whereFlag) Set(v string) error {
	*w = append(*w, v)
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("ingestd %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
		os.Exit(0)
	}

	var where whereFlag
	skipImport := flag.Bool("skipimport", false, "suppress import phases")
	updateModel := flag.String("updatemodel", "", "update mode: none, imposmauto, importloop")
	sourceUpdate := flag.Bool("sourceupdate", false, "load extracts list at startup")
	telemetryEnabled := flag.Bool("telemetry", false, "enable telemetry HTTP server")
	delay := flag.Int("delay", 0, "cycle_delay in seconds")
	extractsPath := flag.String("extracts", "", "path to extracts list (JSON)")
	mappingPath := flag.String("mapping", "", "importer mapping file path")
	imposmPath := flag.String("imposm", "", "importer executable")
	flag.Var(&where, "where", "restrict extracts by name (repeatable)")
	cacheDir := flag.String("cachedir", "", "imposm3 cache directory")
	diffDir := flag.String("diffdir", "", "imposm3 diff directory")
	pbfDir := flag.String("pbfdir", "", "downloaded PBF directory")
	expireDir := flag.String("expiredir", "", "imposm3 expire tile directory")
	extraDataDir := flag.String("extradatadir", "", "optional non-OSM CSV directory")
	extraDataStorage := flag.String("extradata-storage", "", "backend for --extradatadir: local or s3")
	importerConfigPath := flag.String("config", "", "importer config file")
	provision := flag.Bool("provision", false, "run provisioning against --dsn_init/--dsn explicitly")
	dsn := flag.String("dsn", "", "default database DSN")
	dsnInit := flag.String("dsn_init", "", "default administrative DSN")
	dynamicDB := flag.Bool("dynamic_db", false, "enable Kubernetes registry/deployment sync")
	alwaysUpdate := flag.Bool("always_update", false, "force updated=true every cycle")
	verbose := flag.Bool("verbose", false, "lower log threshold to informational")
	configFile := flag.String("configfile", "", "optional HCL file for ambient settings")
	auditDBPath := flag.String("auditdb", "", "path to the local SQLite audit log")
	metricsPort := flag.Int("metrics-port", 0, "telemetry HTTP port")
	statusAuthSecret := flag.String("status-auth-secret", "", "HS256 secret protecting /status")
	kubeconfig := flag.String("kubeconfig", "", "path to kubeconfig (defaults to in-cluster config)")
	flag.Parse()

	log.Printf("starting ingestd %s (built %s, commit %s)", version.Version, version.BuildTime, version.GitCommit)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	applyFlagOverrides(cfg, flagOverrides{
		skipImport:         skipImport,
		updateModel:        updateModel,
		sourceUpdate:       sourceUpdate,
		telemetryEnabled:   telemetryEnabled,
		delay:              delay,
		extractsPath:       extractsPath,
		mappingPath:        mappingPath,
		imposmPath:         imposmPath,
		where:              where,
		cacheDir:           cacheDir,
		diffDir:            diffDir,
		pbfDir:             pbfDir,
		expireDir:          expireDir,
		extraDataDir:       extraDataDir,
		extraDataStorage:   extraDataStorage,
		importerConfigPath: importerConfigPath,
		provision:          provision,
		dsn:                dsn,
		dsnInit:            dsnInit,
		dynamicDB:          dynamicDB,
		alwaysUpdate:       alwaysUpdate,
		verbose:            verbose,
		auditDBPath:        auditDBPath,
		metricsPort:        metricsPort,
		statusAuthSecret:   statusAuthSecret,
	})
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid configuration after flag overrides: %v", err)
	}

	if cfg.Logging.Verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	ctx := context.Background()

	extracts, err := loadExtracts(cfg)
	if err != nil {
		log.Fatalf("failed to load extracts: %v", err)
	}
	log.Printf("loaded %d extract(s)", len(extracts))

	fetch := fetcher.New(cfg.Extracts.PBFDir)

	imp := importer.New(importer.Config{
		Executable:  cfg.Importer.Executable,
		MappingPath: cfg.Importer.MappingPath,
		CacheDir:    cfg.Importer.CacheDir,
		DiffDir:     cfg.Importer.DiffDir,
		ExpireDir:   cfg.Importer.ExpireDir,
		PBFDir:      cfg.Extracts.PBFDir,
	})

	prov := provisioner.New(cfg.Database.IngestDir)

	var extraStore storage.Storage
	if cfg.ExtraData.Dir != "" && cfg.ExtraData.StorageType != "" {
		extraStore, err = storage.NewFromConfig(ctx, cfg.ExtraData)
		if err != nil {
			log.Fatalf("failed to initialize extra-data storage: %v", err)
		}
		defer extraStore.Close()
	}

	auditPath := cfg.Audit.Path
	if auditPath == "" {
		auditPath = "./ingestd-audit.db"
	}
	auditDB, err := audit.Open(auditPath)
	if err != nil {
		log.Fatalf("failed to open audit log %s: %v", auditPath, err)
	}
	defer auditDB.Close()
	auditRepo := audit.NewRepository(auditDB)

	auditPruneStop := make(chan struct{})
	defer close(auditPruneStop)
	if cfg.Audit.RetentionDays > 0 {
		go runAuditPruning(ctx, auditRepo, cfg.Audit.RetentionPeriod(), auditPruneStop)
	}

	var metrics telemetry.Recorder = telemetry.NoOpRecorder{}
	var promMetrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		promMetrics = telemetry.New()
		metrics = promMetrics
	}

	var inventory registry.DatabaseInventory
	var deploySyncer *syncer.Syncer
	if cfg.Database.DynamicDB {
		restCfg, err := registry.RESTConfig(*kubeconfig)
		if err != nil {
			log.Fatalf("failed to build Kubernetes client config: %v", err)
		}
		dyn, clientset, err := registry.NewClients(restCfg)
		if err != nil {
			log.Fatalf("failed to build Kubernetes clients: %v", err)
		}

		reg := registry.New(dyn, registry.Config{
			Namespace:             cfg.Registry.Namespace,
			StatusWritesPerSecond: cfg.Registry.StatusWritesPerSecond,
			StatusWritesBurst:     cfg.Registry.StatusWritesBurst,
			SnapshotTTLSeconds:    cfg.Cache.SnapshotTTLSeconds,
		}, metrics)
		inventory = reg

		if cfg.Registry.DeploymentTemplatePath != "" {
			deployments, err := registry.NewDeploymentSet(clientset, cfg.Registry.Namespace, cfg.Registry.DeploymentTemplatePath)
			if err != nil {
				log.Fatalf("failed to build deployment set: %v", err)
			}
			deploySyncer = syncer.New(inventory, deployments, metrics)
		}
	} else {
		inventory = &staticInventory{
			name:    "default",
			dsn:     cfg.Database.DSN,
			dsnInit: cfg.Database.DSNInit,
		}
	}

	if cfg.Database.Provision {
		log.Printf("provisioning %s against %s", cfg.Database.DSN, cfg.Database.DSNInit)
		if err := prov.ProvisionDatabase(ctx, cfg.Database.DSNInit, cfg.Database.DSN, "osm"); err != nil {
			log.Fatalf("explicit provisioning failed: %v", err)
		}
	}

	rec := reconciler.New(inventory, imp, prov, extraStore, auditRepo, metrics, reconciler.Config{
		ExtraDataPrefix:   cfg.ExtraData.Prefix,
		ExtraDataLocalDir: cfg.ExtraData.Dir,
		StatusRetries:     cfg.Registry.StatusRetryAttempts,
		SkipImport:        cfg.Importer.SkipImport,
	})

	status := &fleetStatus{inventory: inventory}

	var telemetryServer *telemetry.Server
	if cfg.Telemetry.Enabled {
		telemetryServer = telemetry.NewServer(telemetry.Config{
			Enabled:          true,
			Port:             cfg.Server.MetricsPort,
			StatusAuthSecret: cfg.Server.StatusAuthSecret,
		}, promMetrics, status)

		go func() {
			log.Printf("telemetry server listening on :%d", cfg.Server.MetricsPort)
			if err := telemetryServer.Start(); err != nil {
				log.Printf("telemetry server stopped: %v", err)
			}
		}()
	}

	if cfg.Importer.UpdateModel == "none" {
		log.Println("update model is none: running a single pass and exiting")
		runOnce(ctx, cfg, extracts, fetch, rec, deploySyncer, status)

		if telemetryServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Loop.ShutdownTimeout())
			defer cancel()
			if err := telemetryServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("telemetry server shutdown error: %v", err)
			}
		}

		log.Println("ingestd stopped")
		return
	}

	var loopSyncer controlloop.Syncer
	if deploySyncer != nil {
		loopSyncer = deploySyncer
	}

	loop := controlloop.New(controlloop.Config{
		CycleDelay:      cfg.Loop.CycleDelay(),
		RescanDelay:     cfg.Loop.RescanDelay(),
		DynamicDB:       cfg.Database.DynamicDB,
		AlwaysUpdate:    cfg.Loop.AlwaysUpdate,
		ShutdownTimeout: cfg.Loop.ShutdownTimeout(),
	}, extracts, fetch, rec, loopSyncer)

	status.markPoll()
	if err := loop.Start(ctx); err != nil {
		log.Fatalf("failed to start control loop: %v", err)
	}
	status.markCycleActive(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down ingestd...")
	if err := loop.Stop(); err != nil {
		log.Printf("control loop stop error: %v", err)
	}
	status.markCycleActive(false)

	if telemetryServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Loop.ShutdownTimeout())
		defer cancel()
		if err := telemetryServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry server shutdown error: %v", err)
		}
	}

	log.Println("ingestd stopped")
}

// runOnce performs a single fetch -> reconcile -> sync pass and
// returns, used for --updatemodel none: a one-shot invocation in
// place of the standing daemon's fetch-reconcile-sync loop.
func runOnce(ctx context.Context, cfg *config.Config, extracts []extract.Extract, fetch *fetcher.Fetcher, rec *reconciler.Reconciler, deploySyncer *syncer.Syncer, status *fleetStatus) {
	status.markPoll()
	status.markCycleActive(true)
	defer status.markCycleActive(false)

	updated, errs := fetch.FetchAll(ctx, extracts)
	for _, err := range errs {
		log.Printf("fetch error: %v", err)
	}
	if cfg.Loop.AlwaysUpdate {
		updated = true
	}

	if err := rec.Reconcile(ctx, extracts, updated, true); err != nil {
		log.Printf("reconcile error: %v", err)
	}

	if cfg.Database.DynamicDB && deploySyncer != nil {
		result, err := deploySyncer.Sync(ctx)
		if err != nil {
			log.Printf("deployment sync error: %v", err)
			return
		}
		for _, syncErr := range result.Errors {
			log.Printf("deployment sync item error: %v", syncErr)
		}
	}
}

// auditPruneInterval bounds how often runAuditPruning sweeps the local
// audit log, independent of how long cfg.Audit.RetentionDays is.
const auditPruneInterval = 24 * time.Hour

// runAuditPruning periodically deletes reconcile-audit rows older than
// retention, so the local SQLite file doesn't grow unbounded over the
// daemon's lifetime. It prunes once immediately, then on every tick
// until stop is closed or ctx is done.
func runAuditPruning(ctx context.Context, repo *audit.Repository, retention time.Duration, stop <-chan struct{}) {
	prune := func() {
		cutoff := time.Now().Add(-retention)
		n, err := repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Printf("audit prune: %v", err)
			return
		}
		if n > 0 {
			log.Printf("audit prune: removed %d event(s) older than %s", n, cutoff.Format(time.RFC3339))
		}
	}

	prune()

	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// loadExtracts reads and filters the extract set per --extracts/--where,
// honoring --sourceupdate the same way the original engine treats it: a
// flag that merely controls whether the extracts list itself is loaded
// at startup, independent of whether individual PBFs are re-downloaded.
// With it off, no list is read and the extract set is empty.
func loadExtracts(cfg *config.Config) ([]extract.Extract, error) {
	if !cfg.Extracts.SourceUpdate {
		return nil, nil
	}
	if cfg.Extracts.Path == "" {
		return nil, fmt.Errorf("no extracts path configured")
	}
	extracts, err := extract.LoadFile(cfg.Extracts.Path)
	if err != nil {
		return nil, err
	}
	return extract.Filter(extracts, cfg.Extracts.Where), nil
}

// staticInventory is the non-dynamic-DB DatabaseInventory: a single
// fixed database named "default", used when --dynamic_db is not set and
// the daemon manages exactly one target database via --dsn/--dsn_init.
type staticInventory struct {
	mu      sync.Mutex
	name    string
	dsn     string
	dsnInit string
	status  string
}

func (s *staticInventory) EnumerateDatabases(ctx context.Context) ([]registry.ManagedDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []registry.ManagedDatabase{{Name: s.name, DSN: s.dsn, DSNInit: s.dsnInit, Status: s.status}}, nil
}

func (s *staticInventory) EnumerateReadyDatabases(ctx context.Context) ([]registry.ManagedDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != registry.StatusHasMapData {
		return nil, nil
	}
	return []registry.ManagedDatabase{{Name: s.name, DSN: s.dsn, DSNInit: s.dsnInit, Status: s.status}}, nil
}

func (s *staticInventory) SetStatus(ctx context.Context, name, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != s.name {
		return fmt.Errorf("unknown database %s", name)
	}
	s.status = status
	return nil
}

func (s *staticInventory) URLDSN(dsn string) string {
	return dsn
}

// fleetStatus implements telemetry.StatusProvider over a live
// DatabaseInventory, tracking the control loop's last-poll time and
// whether a cycle is currently running.
type fleetStatus struct {
	inventory registry.DatabaseInventory

	mu          sync.Mutex
	lastPollAt  time.Time
	cycleActive bool
}

func (f *fleetStatus) markPoll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPollAt = time.Now()
}

func (f *fleetStatus) markCycleActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycleActive = active
}

func (f *fleetStatus) Status(ctx context.Context) (telemetry.StatusReport, error) {
	databases, err := f.inventory.EnumerateDatabases(ctx)
	if err != nil {
		return telemetry.StatusReport{}, err
	}

	ready := 0
	for _, db := range databases {
		if db.Status == registry.StatusHasMapData {
			ready++
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return telemetry.StatusReport{
		FleetSize:   len(databases),
		FleetReady:  ready,
		LastPollAt:  f.lastPollAt,
		CycleActive: f.cycleActive,
	}, nil
}

// flagOverrides holds the parsed CLI flags that take precedence over an
// HCL config file when explicitly set (non-zero-value).
type flagOverrides struct {
	skipImport         *bool
	updateModel        *string
	sourceUpdate       *bool
	telemetryEnabled   *bool
	delay              *int
	extractsPath       *string
	mappingPath        *string
	imposmPath         *string
	where              whereFlag
	cacheDir           *string
	diffDir            *string
	pbfDir             *string
	expireDir          *string
	extraDataDir       *string
	extraDataStorage   *string
	importerConfigPath *string
	provision          *bool
	dsn                *string
	dsnInit            *string
	dynamicDB          *bool
	alwaysUpdate       *bool
	verbose            *bool
	auditDBPath        *string
	metricsPort        *int
	statusAuthSecret   *string
}

// applyFlagOverrides layers explicitly-set CLI flags on top of whatever
// config.Load already produced from defaults/env/HCL file, matching the
// precedence flags > environment > HCL file > defaults described for the
// daemon's configuration surface.
func applyFlagOverrides(cfg *config.Config, f flagOverrides) {
	if *f.skipImport {
		cfg.Importer.SkipImport = true
	}
	if *f.updateModel != "" {
		cfg.Importer.UpdateModel = *f.updateModel
	}
	if *f.sourceUpdate {
		cfg.Extracts.SourceUpdate = true
	}
	if *f.telemetryEnabled {
		cfg.Telemetry.Enabled = true
	}
	if *f.delay > 0 {
		cfg.Loop.CycleDelaySeconds = *f.delay
	}
	if *f.extractsPath != "" {
		cfg.Extracts.Path = *f.extractsPath
	}
	if *f.mappingPath != "" {
		cfg.Importer.MappingPath = *f.mappingPath
	}
	if *f.imposmPath != "" {
		cfg.Importer.Executable = *f.imposmPath
	}
	if len(f.where) > 0 {
		cfg.Extracts.Where = f.where
	}
	if *f.cacheDir != "" {
		cfg.Importer.CacheDir = *f.cacheDir
	}
	if *f.diffDir != "" {
		cfg.Importer.DiffDir = *f.diffDir
	}
	if *f.pbfDir != "" {
		cfg.Extracts.PBFDir = *f.pbfDir
	}
	if *f.expireDir != "" {
		cfg.Importer.ExpireDir = *f.expireDir
	}
	if *f.extraDataDir != "" {
		cfg.ExtraData.Dir = *f.extraDataDir
	}
	if *f.extraDataStorage != "" {
		cfg.ExtraData.StorageType = *f.extraDataStorage
	}
	if *f.importerConfigPath != "" {
		cfg.Importer.ConfigPath = *f.importerConfigPath
	}
	if *f.provision {
		cfg.Database.Provision = true
	}
	if *f.dsn != "" {
		cfg.Database.DSN = *f.dsn
	}
	if *f.dsnInit != "" {
		cfg.Database.DSNInit = *f.dsnInit
	}
	if *f.dynamicDB {
		cfg.Database.DynamicDB = true
	}
	if *f.alwaysUpdate {
		cfg.Loop.AlwaysUpdate = true
	}
	if *f.verbose {
		cfg.Logging.Verbose = true
	}
	if *f.auditDBPath != "" {
		cfg.Audit.Path = *f.auditDBPath
	}
	if *f.metricsPort > 0 {
		cfg.Server.MetricsPort = *f.metricsPort
	}
	if *f.statusAuthSecret != "" {
		cfg.Server.StatusAuthSecret = *f.statusAuthSecret
	}

	if ns := os.Getenv("NAMESPACE"); ns != "" {
		cfg.Registry.Namespace = ns
	}
	if ingestDir := os.Getenv("INGEST"); ingestDir != "" {
		cfg.Database.IngestDir = ingestDir
	}
}
