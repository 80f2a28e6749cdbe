// Package output formats fan-out reports for the terminal: streamed
// per-line output, buffered per-device blocks, or NDJSON for machine
// consumption.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/narrowin/networka-sub002/internal/executor"
)

// Mode defines the available output formatting modes
type Mode string

const (
	// StreamedMode prints command output in real time with [device] prefixes
	StreamedMode Mode = "streamed"

	// BufferedMode shows complete output per device after the fan-out completes
	BufferedMode Mode = "buffered"

	// JSONMode emits one NDJSON object per device result
	JSONMode Mode = "json"
)

// timeRound trims sub-10ms noise from the summary duration.
const timeRound = 10 * time.Millisecond

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case StreamedMode, BufferedMode, JSONMode:
		return Mode(s), nil
	case "":
		return StreamedMode, nil
	default:
		return "", fmt.Errorf("unknown output mode: %q (streamed, buffered, json)", s)
	}
}

// Formatter renders device results and the final summary.
type Formatter struct {
	mode   Mode
	writer io.Writer
	quiet  bool
	mu     sync.Mutex
}

// NewFormatter creates a formatter for the given mode. A nil writer
// defaults to stdout.
func NewFormatter(mode Mode, writer io.Writer, quiet bool) *Formatter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Formatter{mode: mode, writer: writer, quiet: quiet}
}

// StreamLine is the per-line callback for streamed mode. Safe for
// concurrent use from worker goroutines; other modes ignore it.
func (f *Formatter) StreamLine(device, line string) {
	if f.mode != StreamedMode {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.writer, "[%s] %s\n", device, line)
}

// StreamError is the per-device error callback for streamed mode.
func (f *Formatter) StreamError(device, msg string) {
	if f.mode != StreamedMode {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.writer, "[%s] ERROR: %s\n", device, msg)
}

// Render writes the full report in the configured mode.
func (f *Formatter) Render(report *executor.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.mode {
	case StreamedMode:
		// Per-line output already happened; errors for devices that never
		// produced output still need a line each.
		for i := range report.Results {
			res := &report.Results[i]
			if !res.Success && res.Error != "" {
				fmt.Fprintf(f.writer, "[%s] ERROR: %s\n", res.Device, res.Error)
			}
		}
	case BufferedMode:
		if err := f.renderBuffered(report); err != nil {
			return err
		}
	case JSONMode:
		return f.renderJSON(report)
	default:
		return fmt.Errorf("unknown output mode: %s", f.mode)
	}

	if !f.quiet {
		f.renderSummary(report)
	}
	return nil
}

// renderBuffered prints one block per device in resolver order.
func (f *Formatter) renderBuffered(report *executor.Report) error {
	for i := range report.Results {
		res := &report.Results[i]
		if i > 0 {
			fmt.Fprintln(f.writer)
		}
		fmt.Fprintf(f.writer, "=== %s ===\n", res.Device)

		commands := make([]string, 0, len(res.Outputs))
		for command := range res.Outputs {
			commands = append(commands, command)
		}
		sort.Strings(commands)
		for _, command := range commands {
			out := res.Outputs[command]
			if len(commands) > 1 {
				fmt.Fprintf(f.writer, "$ %s\n", command)
			}
			fmt.Fprint(f.writer, out)
			if out != "" && !strings.HasSuffix(out, "\n") {
				fmt.Fprintln(f.writer)
			}
		}
		for _, file := range res.Files {
			fmt.Fprintf(f.writer, "file: %s\n", file)
		}
		if res.Error != "" {
			fmt.Fprintf(f.writer, "ERROR: %s\n", res.Error)
		}
		fmt.Fprintf(f.writer, "Duration: %v\n", res.Elapsed)
	}
	return nil
}

// renderJSON emits one NDJSON object per result, then the report totals.
func (f *Formatter) renderJSON(report *executor.Report) error {
	enc := json.NewEncoder(f.writer)
	for i := range report.Results {
		if err := enc.Encode(&report.Results[i]); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}
	return enc.Encode(struct {
		Operation string          `json:"operation"`
		Totals    executor.Totals `json:"totals"`
	}{report.Operation, report.Totals})
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderSummary prints the one-line totals footer.
func (f *Formatter) renderSummary(report *executor.Report) {
	parts := []string{
		okStyle.Render(fmt.Sprintf("%d succeeded", report.Totals.Succeeded)),
	}
	if report.Totals.Failed > 0 {
		parts = append(parts, failStyle.Render(fmt.Sprintf("%d failed", report.Totals.Failed)))
	}
	if len(report.Resolution.Unknown) > 0 {
		parts = append(parts, dimStyle.Render(
			fmt.Sprintf("unknown: %s", strings.Join(report.Resolution.Unknown, ", "))))
	}
	parts = append(parts, dimStyle.Render(report.Elapsed.Round(timeRound).String()))

	fmt.Fprintf(f.writer, "\n%s: %s\n", report.Operation, strings.Join(parts, ", "))
}
