package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"", FormatTable, false},
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"  table  ", FormatTable, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestPrinterPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON, false)

	require.NoError(t, p.Print(map[string]string{"name": "galaxyData"}))
	assert.Contains(t, buf.String(), `"name": "galaxyData"`)
}

func TestPrinterPrintTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, false)

	td := NewTableData("NAME", "STATE")
	td.AddRow("galaxyData", "Running")
	td.AddRow("galaxy", "Starting")

	require.NoError(t, p.Print(td))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "galaxyData")
	assert.Contains(t, out, "Starting")
}

func TestPrinterWarningColor(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, true)

	p.Warning("low disk space")
	assert.True(t, strings.Contains(buf.String(), "\033[33m"))
	assert.Contains(t, buf.String(), "low disk space")
}
