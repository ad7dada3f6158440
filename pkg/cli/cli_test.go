package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestColorFunctions(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(string) string
		prefix string
	}{
		{"Green", Green, "\033[32m"},
		{"Yellow", Yellow, "\033[33m"},
		{"Red", Red, "\033[31m"},
		{"Bold", Bold, "\033[1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !colorEnabled {
				t.Skip("NO_COLOR set in environment")
			}
			got := tt.fn("hello")
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("%s should start with %q", tt.name, tt.prefix)
			}
			if !strings.Contains(got, "hello") {
				t.Errorf("%s should contain the input string", tt.name)
			}
			if !strings.HasSuffix(got, "\033[0m") {
				t.Errorf("%s should end with reset code", tt.name)
			}
		})
	}
}

func TestTableOutput(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "ENTITY", "TYPE")
	tbl.Row("light.main_galley", "light")
	tbl.Row("tank.fresh_water", "tank")
	tbl.Flush()

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected headers + divider + 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ENTITY") {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[2], "light.main_galley") {
		t.Errorf("row 1 = %q", lines[2])
	}
}

func TestTableEmptyProducesNoOutput(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "A", "B")
	tbl.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table should print nothing, got %q", buf.String())
	}
}
