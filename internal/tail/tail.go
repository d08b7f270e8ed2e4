// Package tail reads append-only transcript files incrementally and
// discovers transcripts that appear in a directory after watching started.
package tail

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
)

// MaxChunk caps how many bytes a single Poll reads. Anything beyond it is
// picked up by the next poll.
const MaxChunk = 4 << 20

// Result is the outcome of one Poll.
type Result struct {
	// Lines are the newly completed lines, in file order, without their
	// terminators.
	Lines []string
	// Offset is the position to pass to the next Poll.
	Offset int64
	// Pending holds bytes read past the last terminator.
	Pending []byte
	// Reset is set when the file had shrunk below the previous offset and
	// was reread from the start.
	Reset bool
}

// Poll returns the lines completed in path since offset. pending is the
// partial line held from the previous poll; it is prefixed to the new bytes.
// A file shorter than offset is treated as a new file: pending is discarded
// and reading restarts at zero. A missing or unreadable file yields no lines
// and leaves the position unchanged.
func Poll(path string, offset int64, pending []byte) Result {
	res := Result{Offset: offset, Pending: pending}

	f, err := os.Open(path)
	if err != nil {
		return res
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return res
	}
	size := info.Size()

	if size < offset {
		offset = 0
		pending = nil
		res = Result{Reset: true}
	}
	if size == offset {
		res.Offset = offset
		res.Pending = pending
		return res
	}

	n := size - offset
	if n > MaxChunk {
		n = MaxChunk
	}
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		res.Offset = offset
		res.Pending = pending
		return res
	}
	buf = buf[:read]

	data := buf
	if len(pending) > 0 {
		data = make([]byte, 0, len(pending)+len(buf))
		data = append(data, pending...)
		data = append(data, buf...)
	}

	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		res.Pending = data
	} else {
		res.Lines = splitLines(data[:last])
		if rest := data[last+1:]; len(rest) > 0 {
			res.Pending = append([]byte(nil), rest...)
		}
	}
	res.Offset = offset + int64(read)
	return res
}

func splitLines(b []byte) []string {
	parts := strings.Split(string(b), "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}

// Size returns the current size of path, or 0 if it cannot be stat'ed.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FirstLine returns the first complete line of path. ok is false when the
// file is missing or has no terminated line yet.
func FirstLine(path string) (line string, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	s, err := r.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimRight(s, "\r\n"), true
}
