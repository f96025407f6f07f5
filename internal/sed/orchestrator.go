package sed

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the pause between supervision rounds.
const DefaultPollInterval = 100 * time.Millisecond

// SecretProvider returns the PSID for a serial number. Any error means the
// device is skipped.
type SecretProvider interface {
	FetchSecret(ctx context.Context, serial string) (string, error)
}

// SecretFunc adapts a function to SecretProvider.
type SecretFunc func(ctx context.Context, serial string) (string, error)

// FetchSecret implements SecretProvider.
func (f SecretFunc) FetchSecret(ctx context.Context, serial string) (string, error) {
	return f(ctx, serial)
}

// Orchestrator launches one reset per identity and supervises them all.
type Orchestrator struct {
	Secrets  SecretProvider
	Launcher Launcher
	NewSink  SinkFactory

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// MaxWait kills a reset that runs longer. Zero waits forever.
	MaxWait time.Duration

	Logger zerolog.Logger
}

// Run resets every device in ids and returns one outcome per serial number.
// Secrets are fetched first; devices without one are skipped. All remaining
// resets are launched before any is supervised, and Run returns only when
// every launched job is terminal.
func (o *Orchestrator) Run(ctx context.Context, ids Identities) ResultSet {
	results := make(ResultSet, len(ids))
	var running []*ResetJob

	for _, serial := range ids.Serials() {
		id := ids[serial]
		log := o.Logger.With().Str("serial", serial).Str("device", id.DevicePath).Logger()

		secret, err := o.Secrets.FetchSecret(ctx, serial)
		if err == nil && secret == "" {
			err = errors.New("empty secret")
		}
		if err != nil {
			log.Error().Err(err).Msg("psid is not available, skipping reset")
			results[serial] = Skipped(id.DevicePath, ReasonNoSecret)
			continue
		}

		job := newResetJob(serial, id.DevicePath, secret)
		if err := o.launch(job); err != nil {
			diagnostic := fmt.Sprintf("failed to launch reset: %v", err)
			log.Error().Err(err).Msg("failed to launch reset")
			results[serial] = Failed(id.DevicePath, diagnostic, 0)
			continue
		}

		log.Debug().Msg("reset launched")
		running = append(running, job)
	}

	o.supervise(running, results)

	return results
}

// launch moves job from Launching to Running, or to Failed with the sink
// already released.
func (o *Orchestrator) launch(job *ResetJob) error {
	newSink := o.NewSink
	if newSink == nil {
		newSink = TempSinkFactory("")
	}

	sink, err := newSink()
	if err != nil {
		job.State = JobFailed
		return errors.Wrap(err, "create diagnostic sink")
	}
	job.sink = sink

	proc, err := o.Launcher.Launch(job.secret, job.DevicePath, sink)
	if err != nil {
		job.State = JobFailed
		if rerr := job.release(); rerr != nil {
			o.Logger.Warn().Err(rerr).Str("serial", job.Serial).Msg("failed to release diagnostic sink")
		}
		return err
	}

	job.proc = proc
	job.State = JobRunning
	job.Started = time.Now()

	return nil
}

// supervise polls every running job once per round, finalizing the ones that
// exited, and sleeps between rounds until none are left.
func (o *Orchestrator) supervise(jobs []*ResetJob, results ResultSet) {
	interval := o.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for len(jobs) > 0 {
		pending := jobs[:0]
		for _, job := range jobs {
			done, exitErr := job.proc.Poll()
			if !done {
				if o.MaxWait > 0 && time.Since(job.Started) > o.MaxWait {
					results[job.Serial] = o.expire(job)
					continue
				}
				pending = append(pending, job)
				continue
			}
			results[job.Serial] = o.finish(job, exitErr)
		}

		jobs = pending
		if len(jobs) > 0 {
			time.Sleep(interval)
		}
	}
}

func (o *Orchestrator) finish(job *ResetJob, exitErr error) Outcome {
	elapsed := time.Since(job.Started)
	log := o.Logger.With().Str("serial", job.Serial).Str("device", job.DevicePath).Logger()

	var outcome Outcome
	if exitErr == nil {
		job.State = JobSucceeded
		log.Info().Dur("elapsed", elapsed).Msg("device reset successfully")
		outcome = Succeeded(job.DevicePath, elapsed)
	} else {
		job.State = JobFailed
		diagnostic, err := job.sink.Text()
		if err != nil {
			log.Warn().Err(err).Msg("failed to read reset diagnostics")
		}
		if diagnostic == "" {
			diagnostic = exitErr.Error()
		}
		log.Error().Str("reason", diagnostic).Msg("device failed to reset")
		outcome = Failed(job.DevicePath, diagnostic, elapsed)
	}

	if err := job.release(); err != nil {
		log.Warn().Err(err).Msg("failed to release diagnostic sink")
	}

	return outcome
}

func (o *Orchestrator) expire(job *ResetJob) Outcome {
	log := o.Logger.With().Str("serial", job.Serial).Str("device", job.DevicePath).Logger()

	if err := job.proc.Kill(); err != nil {
		log.Warn().Err(err).Msg("failed to kill reset process")
	}
	job.State = JobFailed

	diagnostic := fmt.Sprintf("reset timed out after %s", o.MaxWait)
	log.Error().Str("reason", diagnostic).Msg("device failed to reset")

	if err := job.release(); err != nil {
		log.Warn().Err(err).Msg("failed to release diagnostic sink")
	}

	return Failed(job.DevicePath, diagnostic, time.Since(job.Started))
}
