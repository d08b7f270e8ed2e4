package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/blackwell-systems/agentpulse/internal/agent"
)

func TestVisualLen(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"plain", "Codex #2", 8},
		{"empty", "", 0},
		{"styled", "\x1b[1m\x1b[33mneeds permission\x1b[0m", 16},
		{"badge glyph", "● active", 8},
		{"arrow", "↳ done", 6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := visualLen(tc.input); got != tc.want {
				t.Errorf("visualLen(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func TestPad_UsesDisplayWidth(t *testing.T) {
	got := pad("○ waiting", 12)
	if w := visualLen(got); w != 12 {
		t.Errorf("pad width = %d, want 12", w)
	}
	if got := pad("Claude Code #1", 4); got != "Claude Code #1" {
		t.Errorf("pad truncated to %q", got)
	}
}

func TestTable_AgentListing(t *testing.T) {
	SetNoColor(true)

	tbl := NewTable("ID", "Status", "Terminal")
	tbl.AddRow("1", StatusBadge(agent.StatusActive, false), "Claude Code #1")
	tbl.AddRow("12", StatusBadge(agent.StatusWaiting, true), "Codex #12")

	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}

	lines := strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator and 2 rows, got %d lines", len(lines))
	}

	// Terminal column starts at the same display column on every row.
	col := -1
	for i, line := range []string{lines[0], lines[2], lines[3]} {
		idx := strings.Index(line, []string{"Terminal", "Claude", "Codex"}[i])
		if idx < 0 {
			t.Fatalf("row %d missing terminal column: %q", i, line)
		}
		c := visualLen(line[:idx])
		if col >= 0 && c != col {
			t.Errorf("row %d terminal column at %d, want %d", i, c, col)
		}
		col = c
	}

	if !strings.Contains(lines[3], "● permission") {
		t.Errorf("permission should win over waiting: %q", lines[3])
	}
}

func TestTable_EmptyHeaders(t *testing.T) {
	if got := NewTable().Render(); got != "" {
		t.Errorf("expected empty output for empty table, got %q", got)
	}
}

func TestTable_Fprint(t *testing.T) {
	SetNoColor(true)

	tbl := NewTable("Provider")
	tbl.AddRow("cursor")

	var buf bytes.Buffer
	if err := tbl.Fprint(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != tbl.String() {
		t.Error("Fprint output differs from String()")
	}
}

func TestSetNoColor(t *testing.T) {
	SetNoColor(true)
	if !IsNoColor() {
		t.Error("IsNoColor() = false after SetNoColor(true)")
	}
	if rendered := StyleAttention.Render("x"); strings.Contains(rendered, "\x1b[") {
		t.Error("expected no ANSI codes after SetNoColor(true)")
	}
}
