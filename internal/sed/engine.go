package sed

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinkerbell/hook/internal/runner"
)

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Report is the result of one Engine.Reset call.
type Report struct {
	RunID      string     `json:"run_id"`
	Started    time.Time  `json:"started"`
	Finished   time.Time  `json:"finished"`
	Directory  *Directory `json:"directory"`
	Identities Identities `json:"identities"`
	Results    ResultSet  `json:"results"`
	Fragment   Fragment   `json:"fragment"`
}

// Options configures NewEngine.
type Options struct {
	SedutilPath  string
	TypeTag      string
	PollInterval time.Duration
	MaxWait      time.Duration
	// SinkDir holds diagnostic files; os.TempDir when empty.
	SinkDir string
}

// Engine runs the scan, resolve, reset and aggregate pipeline.
type Engine struct {
	Runner       runner.Runner
	SedutilPath  string
	Resolver     *Resolver
	Orchestrator *Orchestrator
	// Recorder is optional.
	Recorder Recorder
	Logger   zerolog.Logger
}

// NewEngine wires an engine that runs sedutil on the host.
func NewEngine(opts Options, r runner.Runner, secrets SecretProvider, log zerolog.Logger) *Engine {
	path := opts.SedutilPath
	if path == "" {
		path = DefaultSedutilPath
	}

	return &Engine{
		Runner:      r,
		SedutilPath: path,
		Resolver: &Resolver{
			Runner:      r,
			SedutilPath: path,
			TypeTag:     opts.TypeTag,
			Logger:      log,
		},
		Orchestrator: &Orchestrator{
			Secrets:      secrets,
			Launcher:     ExecLauncher{Path: path},
			NewSink:      TempSinkFactory(opts.SinkDir),
			PollInterval: opts.PollInterval,
			MaxWait:      opts.MaxWait,
			Logger:       log,
		},
		Logger: log,
	}
}

// Scan lists devices and resolves their identities without resetting anything.
// A failing scan command is logged and yields an empty directory.
func (e *Engine) Scan(ctx context.Context) (*Directory, Identities, error) {
	out, err := e.Runner.Run(ctx, e.SedutilPath, "--scan")
	if err != nil {
		e.Logger.Error().Err(err).Msg("sed scan failed")
		return NewDirectory(), Identities{}, nil
	}

	dir, err := ParseScan(bytes.NewReader(out))
	if err != nil {
		e.Logger.Warn().Err(err).Msg("scan output truncated")
	}

	ids, err := e.Resolver.Resolve(ctx, dir)
	if err != nil {
		return dir, nil, err
	}

	e.Logger.Info().Int("devices", dir.Len()).Int("resolved", len(ids)).Msg("sed devices resolved")

	return dir, ids, nil
}

// Reset performs one full orchestration run. The only error is a duplicate
// serial number during resolution; per-device problems end up in Results.
func (e *Engine) Reset(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
	}
	log := e.Logger.With().Str("run_id", report.RunID).Logger()

	dir, ids, err := e.Scan(ctx)
	if err != nil {
		return nil, err
	}
	report.Directory = dir
	report.Identities = ids

	report.Results = e.Orchestrator.Run(ctx, ids)
	report.Fragment = Aggregate(dir, report.Results)
	report.Finished = time.Now().UTC()

	log.Info().
		Int("succeeded", report.Results.Count(StatusSucceeded)).
		Int("failed", report.Results.Count(StatusFailed)).
		Int("skipped", report.Results.Count(StatusSkipped)).
		Msg("sed reset run finished")

	if e.Recorder != nil {
		if err := e.Recorder.RecordRun(ctx, report); err != nil {
			log.Error().Err(err).Msg("failed to record reset run")
		}
	}

	return report, nil
}
