package kiroku

// Run is the public representation of a tracked run.
// It is a curated view of internal/model.Run for use in extension
// interfaces. No internal package imports — safe to use from outside the
// module.
type Run struct {
	RunID        string
	RunName      string
	ExperimentID string
	UserID       string
	// Status is one of RUNNING, SCHEDULED, FINISHED, FAILED, KILLED.
	Status      string
	StartTime   int64 // unix milliseconds
	EndTime     int64 // 0 while the run is open
	ArtifactURI string
	Tags        map[string]string
}

// ModelVersion is the public representation of a registered model
// version.
type ModelVersion struct {
	Name    string
	Version int64
	// Stage is one of None, Staging, Production, Archived.
	Stage  string
	Source string
	RunID  string
	// Status is one of PENDING_REGISTRATION, FAILED_REGISTRATION, READY.
	Status string
}
