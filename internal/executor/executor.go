// Package executor implements the bounded-parallel fan-out engine that all
// device operations (run, backup, upload, download, firmware) build on.
//
// Every operation follows the same shape: resolve the target expression,
// fail fast on resolution-level errors, then map a per-device worker over
// the resolved list with bounded concurrency. Inside the fan-out a worker
// opens its own session, performs the operation and closes the session on
// every exit path; any failure is captured in that device's Result and
// never aborts the batch.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/narrowin/networka-sub002/internal/config"
	"github.com/narrowin/networka-sub002/internal/device"
	nwerrors "github.com/narrowin/networka-sub002/internal/errors"
	"github.com/narrowin/networka-sub002/internal/filter"
	"github.com/narrowin/networka-sub002/internal/inventory"
	"github.com/narrowin/networka-sub002/internal/logging"
	"github.com/narrowin/networka-sub002/internal/parallel"
	"github.com/narrowin/networka-sub002/internal/resolver"
	"github.com/narrowin/networka-sub002/internal/session"
)

// DefaultWorkers caps concurrency for multi-device targets when the caller
// does not set an explicit limit. A single resolved device always runs with
// exactly one worker.
const DefaultWorkers = 8

// Options parameterizes one fan-out call.
type Options struct {
	Target string // Target expression (devices, groups, IP literals)
	Prefer string // Preference token for ambiguous inventory names

	Commands   []string // Commands to execute (run)
	RemotePath string   // Remote file path (upload destination / download source)
	LocalPath  string   // Local file path (upload source / download directory)
	BackupDir  string   // Directory receiving backup artifacts
	ImagePath  string   // Local firmware image path (firmware)

	Filters []filter.Filter // Narrow the resolved device list before fan-out

	Workers    int                  // Max concurrent device workers (0 for default)
	CmdTimeout time.Duration        // Per-command timeout (0 for none)
	Cancel     *parallel.CancelToken

	// Streaming callbacks, invoked from worker goroutines. Implementations
	// must be safe for concurrent use.
	OnOutput   func(device, line string)
	OnProgress func(msg string)
	OnError    func(device, msg string)
}

// Result is the outcome of one device task within a fan-out. Created once
// on completion, immutable afterwards.
type Result struct {
	Device  string            `json:"device"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"` // command → output
	Files   []string          `json:"files,omitempty"`   // artifacts written or transferred
	Elapsed time.Duration     `json:"elapsed_ms"`
}

// Totals aggregates success and failure counts for one fan-out call.
type Totals struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Resolution summarizes how the target expression was expanded. Unknown
// tokens are reported once here, not per worker.
type Resolution struct {
	Resolved []string `json:"resolved"`
	Unknown  []string `json:"unknown,omitempty"`
	IPMode   bool     `json:"ip_mode,omitempty"`
}

// Report is the uniform shape returned by every fan-out operation. Results
// are ordered by the resolver's device order, not completion order.
type Report struct {
	Operation  string        `json:"operation"`
	Totals     Totals        `json:"totals"`
	Results    []Result      `json:"results"`
	Resolution Resolution    `json:"resolution"`
	Elapsed    time.Duration `json:"elapsed_ms"`
}

// Runner executes fan-out operations against the loaded configuration.
type Runner struct {
	cfg     *config.Config
	base    *resolver.Resolver
	factory session.Factory
	logger  *logging.Logger
	pool    *session.Pool
}

// NewRunner creates a runner. A nil factory defaults to SSH-backed sessions.
func NewRunner(cfg *config.Config, logger *logging.Logger, factory session.Factory) *Runner {
	if factory == nil {
		factory = session.NewSSHFactory(logger)
	}
	return &Runner{
		cfg:     cfg,
		base:    resolver.New(cfg, inventory.Selector{}),
		factory: factory,
		logger:  logger,
		pool:    session.NewPool(logger),
	}
}

// ResolveTargets expands a target expression without executing anything.
func (r *Runner) ResolveTargets(expression, prefer string) (*resolver.Resolution, error) {
	return r.base.WithSelector(inventory.Selector{Prefer: prefer}).Resolve(expression)
}

// task pairs a resolved device name with its effective payload.
type task struct {
	name string
	dev  *device.Config
}

// deviceOp performs one operation against a connected session, filling in
// the operation-specific parts of the result.
type deviceOp func(ctx context.Context, s session.Session, t task, res *Result) error

// plan is the pre-fan-out stage: resolution plus per-device payloads.
type plan struct {
	resolution *resolver.Resolution
	tasks      []task
	workers    int
}

// prepare resolves targets and looks up every device payload before any
// worker starts, so ambiguity and zero-resolution errors are fatal for the
// whole call.
func (r *Runner) prepare(opts *Options) (*plan, error) {
	res := r.base.WithSelector(inventory.Selector{Prefer: opts.Prefer})

	resolution, err := res.Resolve(opts.Target)
	if err != nil {
		return nil, err
	}

	if r.logger != nil {
		r.logger.LogResolution(opts.Target, len(resolution.Devices), len(resolution.Unknown), resolution.IPMode)
	}

	if len(resolution.Devices) == 0 {
		return nil, &nwerrors.TargetResolutionError{
			Expression: opts.Target,
			Unknown:    resolution.Unknown,
		}
	}

	tasks := make([]task, 0, len(resolution.Devices))
	for _, name := range resolution.Devices {
		dev, err := res.DeviceConfig(name)
		if err != nil {
			return nil, err
		}
		if !matchesFilters(name, dev, opts.Filters) {
			continue
		}
		tasks = append(tasks, task{name: name, dev: dev})
	}

	if len(tasks) == 0 {
		return nil, nwerrors.NewConfigurationError(
			"no devices left after filtering %q", opts.Target)
	}

	resolution.Devices = taskNames(tasks)

	return &plan{
		resolution: resolution,
		tasks:      tasks,
		workers:    workerCount(opts.Workers, len(tasks)),
	}, nil
}

func matchesFilters(name string, dev *device.Config, filters []filter.Filter) bool {
	for _, f := range filters {
		if !f.Match(name, dev) {
			return false
		}
	}
	return true
}

func taskNames(tasks []task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.name
	}
	return names
}

// workerCount applies the single-device shortcut and the default cap.
func workerCount(requested, deviceCount int) int {
	if deviceCount <= 1 {
		return 1
	}
	workers := requested
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > deviceCount {
		workers = deviceCount
	}
	return workers
}

// fanOut runs op across the plan's devices. The per-device wrapper never
// returns an error to the parallel primitive, so the batch always completes
// and len(results) == len(devices).
func (r *Runner) fanOut(ctx context.Context, operation string, opts Options, op deviceOp) (*Report, error) {
	p, err := r.prepare(&opts)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	if r.logger != nil {
		r.logger.LogFanoutStart(operation, len(p.tasks), p.workers)
	}

	results, err := parallel.Map(ctx, p.tasks, func(ctx context.Context, t task) (Result, error) {
		return r.runDevice(ctx, operation, &opts, t, op), nil
	}, p.workers)
	if err != nil {
		// Unreachable in practice: the wrapper swallows all task errors.
		return nil, err
	}

	report := &Report{
		Operation: operation,
		Results:   results,
		Resolution: Resolution{
			Resolved: p.resolution.Devices,
			Unknown:  p.resolution.Unknown,
			IPMode:   p.resolution.IPMode,
		},
		Elapsed: time.Since(startTime),
	}
	for _, res := range results {
		report.Totals.Total++
		if res.Success {
			report.Totals.Succeeded++
		} else {
			report.Totals.Failed++
		}
	}

	if r.logger != nil {
		r.logger.LogFanoutComplete(operation, report.Totals.Total,
			report.Totals.Succeeded, report.Totals.Failed, report.Elapsed)
	}

	return report, nil
}

// runDevice is the per-device worker: open session, perform the operation,
// close the session on every exit path, and convert any failure (including
// panics) into the device's Result.
func (r *Runner) runDevice(ctx context.Context, operation string, opts *Options, t task, op deviceOp) (result Result) {
	result = Result{Device: t.name}
	startTime := time.Now()

	defer func() {
		result.Elapsed = time.Since(startTime)
		if rec := recover(); rec != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", rec)
			r.reportDeviceError(operation, t.name, opts, fmt.Errorf("panic: %v", rec))
		}
	}()

	if opts.Cancel != nil && opts.Cancel.Canceled() {
		result.Error = "canceled before start"
		return result
	}

	s := r.factory(t.name, t.dev)
	if err := s.Connect(ctx); err != nil {
		result.Error = err.Error()
		r.reportDeviceError(operation, t.name, opts, err)
		return result
	}
	defer s.Disconnect()

	if err := op(ctx, s, t, &result); err != nil {
		result.Error = err.Error()
		r.reportDeviceError(operation, t.name, opts, err)
		return result
	}

	result.Success = true
	return result
}

func (r *Runner) reportDeviceError(operation, name string, opts *Options, err error) {
	if r.logger != nil {
		r.logger.LogDeviceError(operation, name, err, nwerrors.Classify(err).String())
	}
	if opts.OnError != nil {
		opts.OnError(name, err.Error())
	}
}

// commandContext derives the per-command timeout context.
func commandContext(ctx context.Context, opts *Options) (context.Context, context.CancelFunc) {
	if opts.CmdTimeout > 0 {
		return context.WithTimeout(ctx, opts.CmdTimeout)
	}
	return context.WithCancel(ctx)
}
