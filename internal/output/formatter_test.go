package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrowin/networka-sub002/internal/executor"
)

func sampleReport() *executor.Report {
	return &executor.Report{
		Operation: "run",
		Totals:    executor.Totals{Total: 2, Succeeded: 1, Failed: 1},
		Results: []executor.Result{
			{
				Device:  "sw1",
				Success: true,
				Outputs: map[string]string{"uptime": "up 4 days\n"},
				Elapsed: 120 * time.Millisecond,
			},
			{
				Device: "sw2",
				Error:  "dial tcp: connection refused",
			},
		},
		Resolution: executor.Resolution{Resolved: []string{"sw1", "sw2"}},
		Elapsed:    150 * time.Millisecond,
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"streamed", "buffered", "json", ""} {
		_, err := ParseMode(valid)
		assert.NoError(t, err, valid)
	}
	_, err := ParseMode("xml")
	assert.Error(t, err)
}

func TestStreamLineOnlyInStreamedMode(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(StreamedMode, &buf, true)
	f.StreamLine("sw1", "up 4 days")
	assert.Equal(t, "[sw1] up 4 days\n", buf.String())

	buf.Reset()
	f = NewFormatter(BufferedMode, &buf, true)
	f.StreamLine("sw1", "up 4 days")
	assert.Empty(t, buf.String())
}

func TestRenderStreamedPrintsFailures(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(StreamedMode, &buf, true)
	require.NoError(t, f.Render(sampleReport()))

	assert.Contains(t, buf.String(), "[sw2] ERROR: dial tcp: connection refused")
	assert.NotContains(t, buf.String(), "[sw1] ERROR")
}

func TestRenderBuffered(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(BufferedMode, &buf, true)
	require.NoError(t, f.Render(sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "=== sw1 ===")
	assert.Contains(t, out, "up 4 days")
	assert.Contains(t, out, "=== sw2 ===")
	assert.Contains(t, out, "ERROR: dial tcp: connection refused")

	// Device order follows the report, not completion order.
	assert.Less(t, strings.Index(out, "sw1"), strings.Index(out, "sw2"))
}

func TestRenderJSONEmitsNDJSON(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(JSONMode, &buf, true)
	require.NoError(t, f.Render(sampleReport()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3) // two results plus totals

	var first executor.Result
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "sw1", first.Device)
	assert.True(t, first.Success)

	var footer struct {
		Operation string          `json:"operation"`
		Totals    executor.Totals `json:"totals"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &footer))
	assert.Equal(t, "run", footer.Operation)
	assert.Equal(t, 1, footer.Totals.Failed)
}

func TestSummarySuppressedWhenQuiet(t *testing.T) {
	var loud, silent bytes.Buffer

	require.NoError(t, NewFormatter(BufferedMode, &loud, false).Render(sampleReport()))
	assert.Contains(t, loud.String(), "1 succeeded")
	assert.Contains(t, loud.String(), "1 failed")

	require.NoError(t, NewFormatter(BufferedMode, &silent, true).Render(sampleReport()))
	assert.NotContains(t, silent.String(), "succeeded")
}
