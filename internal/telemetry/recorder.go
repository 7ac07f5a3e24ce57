package telemetry

// Recorder is the subset of Metrics that reconciler, registry and syncer
// code depend on, so a NoOpRecorder can stand in when telemetry is disabled
// without scattering nil checks through the call sites.
type Recorder interface {
	RecordEvent(eventName string, durationSeconds, endUnix float64)
	RecordImportPhase(phase string, durationSeconds float64)
	SetFleetCounts(total, ready int)
	RecordDeploymentCreated()
	RecordDeploymentDeleted()
	RecordReconcileError(phase string)
	SetReconcilePhase(database, phase string, active bool)
	RecordStatusWriteThrottled()
	SetExtractsTotal(count int)
}

// NoOpRecorder discards every recording. It is used when
// --telemetry/cfg.Telemetry.Enabled is false, mirroring the original
// engine's `if args.telemetry:` guard around telemetry_log calls.
type NoOpRecorder struct{}

var _ Recorder = NoOpRecorder{}

func (NoOpRecorder) RecordEvent(eventName string, durationSeconds, endUnix float64) {}
func (NoOpRecorder) RecordImportPhase(phase string, durationSeconds float64)        {}
func (NoOpRecorder) SetFleetCounts(total, ready int)                                {}
func (NoOpRecorder) RecordDeploymentCreated()                                       {}
func (NoOpRecorder) RecordDeploymentDeleted()                                       {}
func (NoOpRecorder) RecordReconcileError(phase string)                             {}
func (NoOpRecorder) SetReconcilePhase(database, phase string, active bool)          {}
func (NoOpRecorder) RecordStatusWriteThrottled()                                    {}
func (NoOpRecorder) SetExtractsTotal(count int)                                     {}
