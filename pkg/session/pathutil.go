package session

import (
	"os"
	"path/filepath"
	"strings"
)

// devModeEnv, when set to any non-empty value, redirects session storage
// to a project-local directory instead of the per-user default — useful
// for iterating on a single checkout without touching the user's real
// session history.
const devModeEnv = "GEMINI_DEV_MODE"

// devModeRoot is the project-local storage root used under dev mode.
const devModeRoot = "logs"

// SanitizePath converts a working directory into a directory-safe name
// that can be used as a path component.
// e.g. "/Users/foo/bar" → "Users-foo-bar"
func SanitizePath(cwd string) string {
	s := strings.ReplaceAll(cwd, string(filepath.Separator), "-")
	return strings.TrimLeft(s, "-")
}

// DefaultBaseDir returns the session storage root for the "projects"
// layer of the persisted layout: ~/.claude/projects, or ./logs/projects
// when GEMINI_DEV_MODE is set.
func DefaultBaseDir() string {
	if os.Getenv(devModeEnv) != "" {
		return filepath.Join(".", devModeRoot, "projects")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}
