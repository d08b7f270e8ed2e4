package claude

import (
	"path/filepath"
	"strings"
)

// NormalizePath cleans a file path to a canonical form suitable for comparison.
// It resolves ".." components, removes trailing slashes, and normalizes
// separators. Returns an empty string for empty input.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// ProjectDirName returns the directory name Claude Code uses under
// ~/.claude/projects/ for a working directory: every character that is not
// an ASCII letter or digit becomes '-'.
func ProjectDirName(workDir string) string {
	workDir = NormalizePath(workDir)
	var sb strings.Builder
	sb.Grow(len(workDir))
	for _, r := range workDir {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// ProjectDir returns the transcript directory for a working directory.
func ProjectDir(claudeHome, workDir string) string {
	return filepath.Join(claudeHome, "projects", ProjectDirName(workDir))
}

// TranscriptPath returns the transcript written for sessionID.
func TranscriptPath(projectDir, sessionID string) string {
	return filepath.Join(projectDir, sessionID+".jsonl")
}

// SessionID derives the session id from a transcript file name.
func SessionID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}
