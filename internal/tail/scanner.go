package tail

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TranscriptExt is the extension every provider uses for transcripts.
const TranscriptExt = ".jsonl"

// Scanner watches one directory for transcript files that are not yet
// known. It polls on a fixed interval; an fsnotify watch on the directory
// only wakes it early, when a transcript is created or renamed into place.
type Scanner struct {
	Dir      string
	Interval time.Duration

	// Known reports whether a path is already attributed to an agent.
	Known func(path string) bool
	// OnNew is called once per scan for every unknown transcript, oldest
	// first. It stays unknown until the callee records it, so a file that
	// could not be attributed yet is offered again on the next scan.
	OnNew func(path string)

	Logger *slog.Logger
}

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("fsnotify unavailable, polling only", "dir", s.Dir, "err", err)
	} else {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}
	watching := false
	watch := func() {
		if watcher == nil || watching {
			return
		}
		if err := watcher.Add(s.Dir); err == nil {
			watching = true
		}
	}
	watch()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Scan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			watch()
			s.Scan()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Appends to tracked transcripts are the pollers' business;
			// only a new name can be a new transcript.
			if s.wakes(ev) {
				s.Scan()
			}
			if ev.Has(fsnotify.Remove) && filepath.Clean(ev.Name) == filepath.Clean(s.Dir) {
				watching = false
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Debug("fsnotify error", "dir", s.Dir, "err", err)
		}
	}
}

func (s *Scanner) wakes(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasSuffix(ev.Name, TranscriptExt)
}

// Scan performs a single pass over the directory.
func (s *Scanner) Scan() {
	for _, path := range List(s.Dir) {
		if s.Known != nil && s.Known(path) {
			continue
		}
		if s.OnNew != nil {
			s.OnNew(path)
		}
	}
}

// List returns the transcript files directly inside dir, oldest
// modification first. A missing directory yields nil.
func List(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TranscriptExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].path < files[j].path
		}
		return files[i].mod.Before(files[j].mod)
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths
}
