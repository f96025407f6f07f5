package sed

import (
	"time"
)

// JobState is the lifecycle state of a ResetJob.
type JobState string

const (
	JobLaunching JobState = "launching"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// ResetJob is one in-flight PSID revert. The process handle and the
// diagnostic sink belong to the orchestrator run that created the job.
type ResetJob struct {
	Serial     string
	DevicePath string
	State      JobState
	Started    time.Time

	secret string
	proc   Process
	sink   DiagnosticSink
}

func newResetJob(serial, devicePath, secret string) *ResetJob {
	return &ResetJob{
		Serial:     serial,
		DevicePath: devicePath,
		State:      JobLaunching,
		secret:     secret,
	}
}

// Terminal reports whether the job has reached Succeeded or Failed.
func (j *ResetJob) Terminal() bool {
	return j.State == JobSucceeded || j.State == JobFailed
}

// release hands the sink back exactly once; later calls are no-ops.
func (j *ResetJob) release() error {
	if j.sink == nil {
		return nil
	}
	err := j.sink.Release()
	j.sink = nil
	return err
}
