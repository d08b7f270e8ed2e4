package tail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func TestPoll_MissingFile(t *testing.T) {
	res := Poll(filepath.Join(t.TempDir(), "nope.jsonl"), 42, []byte("x"))
	if len(res.Lines) != 0 || res.Offset != 42 || string(res.Pending) != "x" || res.Reset {
		t.Errorf("missing file should leave the cursor alone, got %+v", res)
	}
}

func TestPoll_HoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	appendFile(t, path, `{"type":"a"}`+"\n"+`{"type":`)

	res := Poll(path, 0, nil)
	if len(res.Lines) != 1 || res.Lines[0] != `{"type":"a"}` {
		t.Fatalf("Lines = %q, want one complete line", res.Lines)
	}
	if string(res.Pending) != `{"type":` {
		t.Fatalf("Pending = %q", res.Pending)
	}

	appendFile(t, path, `"b"}`+"\r\n")
	res = Poll(path, res.Offset, res.Pending)
	if len(res.Lines) != 1 || res.Lines[0] != `{"type":"b"}` {
		t.Fatalf("Lines = %q, want reassembled line without CR", res.Lines)
	}
	if len(res.Pending) != 0 {
		t.Errorf("Pending = %q, want empty", res.Pending)
	}
}

func TestPoll_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	appendFile(t, path, "one\ntwo\n")

	first := Poll(path, 0, nil)
	second := Poll(path, first.Offset, first.Pending)
	if len(second.Lines) != 0 {
		t.Errorf("unchanged file returned %q", second.Lines)
	}
	if second.Offset != first.Offset {
		t.Errorf("offset moved from %d to %d", first.Offset, second.Offset)
	}
}

func TestPoll_GranularityIndependent(t *testing.T) {
	content := "alpha\nbeta\n\ngamma delta\r\n{\"k\":\"é\"}\n"
	want := []string{"alpha", "beta", "", "gamma delta", `{"k":"é"}`}

	// Whole file at once.
	dir := t.TempDir()
	whole := filepath.Join(dir, "whole.jsonl")
	appendFile(t, whole, content)
	res := Poll(whole, 0, nil)
	if strings.Join(res.Lines, "|") != strings.Join(want, "|") {
		t.Fatalf("whole-file lines = %q, want %q", res.Lines, want)
	}

	// One byte per poll.
	path := filepath.Join(dir, "bytes.jsonl")
	var got []string
	var offset int64
	var pending []byte
	for i := 0; i < len(content); i++ {
		appendFile(t, path, content[i:i+1])
		r := Poll(path, offset, pending)
		for _, l := range r.Lines {
			if strings.Contains(l, "\n") {
				t.Fatalf("line %q contains a terminator", l)
			}
		}
		got = append(got, r.Lines...)
		offset, pending = r.Offset, r.Pending
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("byte-at-a-time lines = %q, want %q", got, want)
	}
	if offset != int64(len(content)) {
		t.Errorf("final offset = %d, want %d", offset, len(content))
	}
}

func TestPoll_ResetOnShrink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	appendFile(t, path, "old line one\nold line two\nold parti")
	res := Poll(path, 0, nil)
	if len(res.Pending) == 0 {
		t.Fatal("expected a held partial line")
	}

	if err := os.WriteFile(path, []byte("new\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res = Poll(path, res.Offset, res.Pending)
	if !res.Reset {
		t.Fatal("expected Reset after the file shrank")
	}
	if len(res.Lines) != 1 || res.Lines[0] != "new" {
		t.Errorf("Lines = %q, want only the new content", res.Lines)
	}
	if res.Offset != 4 {
		t.Errorf("Offset = %d, want 4", res.Offset)
	}
}

func TestPoll_ResetToEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	appendFile(t, path, "line\n")
	res := Poll(path, 0, nil)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	res = Poll(path, res.Offset, []byte("stale"))
	if !res.Reset || res.Offset != 0 || len(res.Pending) != 0 || len(res.Lines) != 0 {
		t.Errorf("truncate to zero: got %+v", res)
	}
}

func TestFirstLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	if _, ok := FirstLine(path); ok {
		t.Error("missing file should report !ok")
	}
	appendFile(t, path, `{"type":"session_meta"`)
	if _, ok := FirstLine(path); ok {
		t.Error("unterminated first line should report !ok")
	}
	appendFile(t, path, "}\r\nsecond\n")
	line, ok := FirstLine(path)
	if !ok || line != `{"type":"session_meta"}` {
		t.Errorf("FirstLine = %q, %v", line, ok)
	}
}

func TestSizeAndExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	if Exists(path) || Size(path) != 0 {
		t.Error("missing file should not exist and have size 0")
	}
	appendFile(t, path, "12345\n")
	if !Exists(path) || Size(path) != 6 {
		t.Errorf("Exists=%v Size=%d", Exists(path), Size(path))
	}
	if Exists(dir) {
		t.Error("a directory is not a transcript")
	}
}
