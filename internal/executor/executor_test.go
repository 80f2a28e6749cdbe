package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrowin/networka-sub002/internal/config"
	"github.com/narrowin/networka-sub002/internal/device"
	nwerrors "github.com/narrowin/networka-sub002/internal/errors"
	"github.com/narrowin/networka-sub002/internal/filter"
	"github.com/narrowin/networka-sub002/internal/inventory"
	"github.com/narrowin/networka-sub002/internal/parallel"
	"github.com/narrowin/networka-sub002/internal/session"
)

// fakeTransport is a scripted session shared by a fakeFactory.
type fakeTransport struct {
	name string
	hub  *fakeHub

	mu        sync.Mutex
	connected bool
	closed    int
}

// fakeHub scripts failures per device and records call order.
type fakeHub struct {
	mu          sync.Mutex
	connectErr  map[string]error
	commandErr  map[string]error
	commandOut  map[string]string
	panicOn     map[string]bool
	openCount   map[string]int
	closeCount  map[string]int
}

func newHub() *fakeHub {
	return &fakeHub{
		connectErr: make(map[string]error),
		commandErr: make(map[string]error),
		commandOut: make(map[string]string),
		panicOn:    make(map[string]bool),
		openCount:  make(map[string]int),
		closeCount: make(map[string]int),
	}
}

func (h *fakeHub) factory() session.Factory {
	return func(name string, dev *device.Config) session.Session {
		return &fakeTransport{name: name, hub: h}
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.hub.mu.Lock()
	f.hub.openCount[f.name]++
	err := f.hub.connectErr[f.name]
	f.hub.mu.Unlock()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.hub.mu.Lock()
	f.hub.closeCount[f.name]++
	f.hub.mu.Unlock()
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ExecuteCommand(ctx context.Context, command string) (string, error) {
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	if f.hub.panicOn[f.name] {
		panic("scripted panic on " + f.name)
	}
	if err := f.hub.commandErr[f.name]; err != nil {
		return "", err
	}
	if out, ok := f.hub.commandOut[f.name]; ok {
		return out, nil
	}
	return f.name + ": " + command + "\n", nil
}

func (f *fakeTransport) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return nil
}

func (f *fakeTransport) UploadFile(ctx context.Context, localPath, remotePath string) error {
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	if err := f.hub.commandErr[f.name]; err != nil {
		return err
	}
	return nil
}

func (f *fakeTransport) Device() string        { return f.name }
func (f *fakeTransport) State() session.State  { return session.Connected }

func fanoutConfig(names ...string) *config.Config {
	cfg := &config.Config{
		Devices: make(map[string]*device.Config),
		Groups:  make(map[string]*device.Group),
		Catalog: inventory.NewCatalog(),
	}
	cfg.Settings.BackupDir = "backups"

	devices := make(map[string]*device.Config, len(names))
	for _, n := range names {
		devices[n] = &device.Config{Host: n + ".lab", Platform: "linux"}
	}
	cfg.AddSource(inventory.SourceRef{SourceID: "config", Kind: inventory.KindConfig},
		devices,
		map[string]*device.Group{"all": {Members: names}})
	return cfg
}

func TestRunTotalsInvariantAndOrder(t *testing.T) {
	hub := newHub()
	r := NewRunner(fanoutConfig("d1", "d2", "d3"), nil, hub.factory())

	report, err := r.Run(context.Background(), Options{
		Target:   "d1,d2,d3",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err)

	assert.Equal(t, report.Totals.Total, len(report.Results))
	assert.Equal(t, report.Totals.Total, report.Totals.Succeeded+report.Totals.Failed)
	assert.Equal(t, 3, report.Totals.Succeeded)

	// Results follow resolver order, not completion order.
	var order []string
	for _, res := range report.Results {
		order = append(order, res.Device)
	}
	assert.Equal(t, []string{"d1", "d2", "d3"}, order)
}

func TestRunFaultIsolation(t *testing.T) {
	hub := newHub()
	hub.commandErr["d2"] = errors.New("connection reset")

	r := NewRunner(fanoutConfig("d1", "d2", "d3"), nil, hub.factory())
	report, err := r.Run(context.Background(), Options{
		Target:   "all",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err, "a per-device failure must never abort the batch")

	require.Len(t, report.Results, 3)
	assert.True(t, report.Results[0].Success)
	assert.False(t, report.Results[1].Success)
	assert.Contains(t, report.Results[1].Error, "connection reset")
	assert.True(t, report.Results[2].Success)
	assert.Equal(t, Totals{Total: 3, Succeeded: 2, Failed: 1}, report.Totals)
}

func TestRunPanicIsCapturedPerDevice(t *testing.T) {
	hub := newHub()
	hub.panicOn["d2"] = true

	r := NewRunner(fanoutConfig("d1", "d2", "d3"), nil, hub.factory())
	report, err := r.Run(context.Background(), Options{
		Target:   "all",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.False(t, report.Results[1].Success)
	assert.Contains(t, report.Results[1].Error, "panic")
	assert.Equal(t, 2, report.Totals.Succeeded)
}

func TestSessionsAlwaysClosed(t *testing.T) {
	hub := newHub()
	hub.commandErr["d2"] = errors.New("execution failed")

	r := NewRunner(fanoutConfig("d1", "d2", "d3"), nil, hub.factory())
	_, err := r.Run(context.Background(), Options{
		Target:   "all",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err)

	for _, name := range []string{"d1", "d2", "d3"} {
		assert.Equal(t, 1, hub.openCount[name], "%s opens", name)
		assert.Equal(t, 1, hub.closeCount[name], "%s closes", name)
	}
}

func TestConnectFailureIsPerDevice(t *testing.T) {
	hub := newHub()
	hub.connectErr["d1"] = errors.New("no route to host")

	r := NewRunner(fanoutConfig("d1", "d2"), nil, hub.factory())
	report, err := r.Run(context.Background(), Options{
		Target:   "d1,d2",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err)

	assert.False(t, report.Results[0].Success)
	assert.True(t, report.Results[1].Success)
	// A failed connect must not leak a session close.
	assert.Equal(t, 0, hub.closeCount["d1"])
	assert.Equal(t, 1, hub.closeCount["d2"])
}

func TestZeroResolutionIsFatal(t *testing.T) {
	hub := newHub()
	r := NewRunner(fanoutConfig("d1"), nil, hub.factory())

	_, err := r.Run(context.Background(), Options{
		Target:   "nope,also-nope",
		Commands: []string{"uptime"},
	})

	var resErr *nwerrors.TargetResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.ElementsMatch(t, []string{"nope", "also-nope"}, resErr.Unknown)
	// Fatal before any device work starts.
	assert.Empty(t, hub.openCount)
}

func TestAmbiguityIsFatalBeforeWorkers(t *testing.T) {
	cfg := fanoutConfig("d1")
	cfg.AddSource(inventory.SourceRef{SourceID: "lab-a", Kind: inventory.KindDiscovered},
		map[string]*device.Config{"d1": {Host: "other.lab", Platform: "linux"}}, nil)

	hub := newHub()
	r := NewRunner(cfg, nil, hub.factory())

	_, err := r.Run(context.Background(), Options{
		Target:   "d1",
		Commands: []string{"uptime"},
	})
	require.Error(t, err)
	assert.True(t, nwerrors.IsAmbiguity(err))
	assert.Empty(t, hub.openCount)

	// A preference token resolves the same call.
	report, err := r.Run(context.Background(), Options{
		Target:   "d1",
		Prefer:   "local:lab-a",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.Succeeded)
}

func TestUnknownTokensReportedOnce(t *testing.T) {
	hub := newHub()
	r := NewRunner(fanoutConfig("d1"), nil, hub.factory())

	report, err := r.Run(context.Background(), Options{
		Target:   "d1,ghost",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, report.Resolution.Unknown)
	assert.Equal(t, []string{"d1"}, report.Resolution.Resolved)
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		requested, devices, want int
	}{
		{0, 1, 1},     // single device shortcut
		{16, 1, 1},    // shortcut wins over request
		{0, 3, 3},     // default cap, bounded by device count
		{0, 100, DefaultWorkers},
		{2, 10, 2},    // explicit request
		{50, 10, 10},  // request bounded by device count
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, workerCount(tt.requested, tt.devices),
			"requested=%d devices=%d", tt.requested, tt.devices)
	}
}

func TestSoftCancelSkipsUnscheduledDevices(t *testing.T) {
	hub := newHub()
	r := NewRunner(fanoutConfig("d1", "d2", "d3"), nil, hub.factory())

	var token parallel.CancelToken
	token.SoftCancel()

	report, err := r.Run(context.Background(), Options{
		Target:   "all",
		Commands: []string{"uptime"},
		Cancel:   &token,
	})
	require.NoError(t, err)

	// Every device still gets a result; none were started.
	require.Len(t, report.Results, 3)
	for _, res := range report.Results {
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "canceled")
	}
	assert.Empty(t, hub.openCount)
}

func TestRunStreamsOutputLines(t *testing.T) {
	hub := newHub()
	hub.commandOut["d1"] = "line one\nline two\n"

	r := NewRunner(fanoutConfig("d1"), nil, hub.factory())

	var mu sync.Mutex
	var lines []string
	report, err := r.Run(context.Background(), Options{
		Target:   "d1",
		Commands: []string{"show version"},
		OnOutput: func(dev, line string) {
			mu.Lock()
			lines = append(lines, fmt.Sprintf("%s|%s", dev, line))
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.Succeeded)
	assert.Equal(t, []string{"d1|line one", "d1|line two"}, lines)
}

func TestRunRendersTemplates(t *testing.T) {
	hub := newHub()
	r := NewRunner(fanoutConfig("d1"), nil, hub.factory())

	report, err := r.Run(context.Background(), Options{
		Target:   "d1",
		Commands: []string{"ping {{.Host}}"},
	})
	require.NoError(t, err)

	res := report.Results[0]
	require.True(t, res.Success)
	_, ok := res.Outputs["ping d1.lab"]
	assert.True(t, ok, "template should render the device host: %v", res.Outputs)
}

func TestBackupWritesPerDeviceFiles(t *testing.T) {
	hub := newHub()
	hub.commandOut["d1"] = "config d1\n"
	hub.commandOut["d2"] = "config d2\n"

	dir := t.TempDir()
	r := NewRunner(fanoutConfig("d1", "d2"), nil, hub.factory())

	report, err := r.Backup(context.Background(), Options{
		Target:    "d1,d2",
		BackupDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Totals.Succeeded)

	for _, res := range report.Results {
		require.Len(t, res.Files, 1)
		assert.Equal(t, dir, filepath.Dir(res.Files[0]))
	}
}

func TestDownloadUsesDeviceDistinctPaths(t *testing.T) {
	hub := newHub()
	dir := t.TempDir()
	r := NewRunner(fanoutConfig("d1", "d2"), nil, hub.factory())

	report, err := r.Download(context.Background(), Options{
		Target:     "d1,d2",
		RemotePath: "/etc/config.rsc",
		LocalPath:  dir,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "d1_config.rsc"), report.Results[0].Files[0])
	assert.Equal(t, filepath.Join(dir, "d2_config.rsc"), report.Results[1].Files[0])
}

func TestFiltersNarrowTheBatch(t *testing.T) {
	cfg := fanoutConfig("edge1", "core1")
	cfg.Devices["edge1"].Tags = []string{"edge"}

	hub := newHub()
	r := NewRunner(cfg, nil, hub.factory())

	filters, err := filter.Parse("tag:edge")
	require.NoError(t, err)

	report, err := r.Run(context.Background(), Options{
		Target:   "edge1,core1",
		Commands: []string{"uptime"},
		Filters:  filters,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"edge1"}, report.Resolution.Resolved)
	assert.Equal(t, 1, report.Totals.Total)
	assert.Empty(t, hub.openCount["core1"])
}

func TestBackgroundDeliversOutcome(t *testing.T) {
	hub := newHub()
	r := NewRunner(fanoutConfig("d1"), nil, hub.factory())

	outcome := <-Background(func() (*Report, error) {
		return r.Run(context.Background(), Options{
			Target:   "d1",
			Commands: []string{"uptime"},
		})
	})
	require.NoError(t, outcome.Err)
	assert.Equal(t, 1, outcome.Report.Totals.Succeeded)
}

func TestPooledSessionReuse(t *testing.T) {
	hub := newHub()
	r := NewRunner(fanoutConfig("d1"), nil, hub.factory())

	ctx := context.Background()
	first, err := r.PooledSession(ctx, "d1", "")
	require.NoError(t, err)

	second, err := r.PooledSession(ctx, "d1", "")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, hub.openCount["d1"])

	r.Close()
	assert.Equal(t, 1, hub.closeCount["d1"])

	// After Close a new call dials again.
	_, err = r.PooledSession(ctx, "d1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, hub.openCount["d1"])
	r.Close()
}

func TestIPTargetsRunAgainstEphemeralDevices(t *testing.T) {
	cfg := fanoutConfig("d1")
	cfg.Settings.Platform = "linux"

	hub := newHub()
	r := NewRunner(cfg, nil, hub.factory())

	report, err := r.Run(context.Background(), Options{
		Target:   "10.0.0.1,10.0.0.2",
		Commands: []string{"uptime"},
	})
	require.NoError(t, err)
	assert.True(t, report.Resolution.IPMode)
	assert.Equal(t, []string{"ip_10_0_0_1", "ip_10_0_0_2"}, report.Resolution.Resolved)
	assert.Equal(t, 2, report.Totals.Succeeded)
}
