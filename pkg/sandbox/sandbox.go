// Package sandbox implements the read/write/list tool executor that the
// dispatcher invokes on the model's behalf, confined to a single root
// directory captured once at startup.
package sandbox

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jg-phare/gshell/pkg/types"
)

const listMaxEntries = 50

// Sandbox confines list/read/write operations to Root, the absolute
// directory captured at initialization. Root is immutable for the
// lifetime of the Sandbox.
type Sandbox struct {
	root string
}

// New creates a Sandbox rooted at root. root is resolved to an absolute,
// symlink-free path once; all subsequent operations validate against it.
func New(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, types.Wrap(types.KindFatalConfig, "resolve sandbox root", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, types.Wrap(types.KindFatalConfig, "resolve sandbox root symlinks", err)
	}
	return &Sandbox{root: resolved}, nil
}

// Root returns the sandbox's resolved root directory.
func (s *Sandbox) Root() string { return s.root }

// resolve validates path per spec §4.1 and returns the absolute,
// symlink-resolved location within the sandbox root.
//
// Rejected: absolute input paths, any ".." segment after normalization,
// paths that resolve outside root, and paths that are or traverse a
// symbolic link.
func (s *Sandbox) resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return "", types.New(types.KindSecurityViolation, "absolute paths are not allowed: "+path)
	}
	clean := filepath.Clean(path)
	for _, seg := range strings.Split(clean, string(filepath.Separator)) {
		if seg == ".." {
			return "", types.New(types.KindSecurityViolation, "path escapes sandbox root: "+path)
		}
	}

	joined := filepath.Join(s.root, clean)
	rel, err := filepath.Rel(s.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", types.New(types.KindSecurityViolation, "path escapes sandbox root: "+path)
	}

	if err := s.rejectSymlinkTraversal(joined); err != nil {
		return "", err
	}

	return joined, nil
}

// rejectSymlinkTraversal walks from root down to target, failing if any
// existing path component (including target itself) is a symlink. Missing
// components (e.g. a file not yet written) are permitted to not exist.
func (s *Sandbox) rejectSymlinkTraversal(target string) error {
	rel, err := filepath.Rel(s.root, target)
	if err != nil {
		return types.New(types.KindSecurityViolation, "path escapes sandbox root")
	}
	if rel == "." {
		return nil
	}

	cur := s.root
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, seg)
		info, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				return nil // rest of the path doesn't exist yet; nothing to traverse
			}
			return types.Wrap(types.KindIOFailure, "stat path component", err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return types.New(types.KindSecurityViolation, "path traverses a symlink: "+cur)
		}
	}
	return nil
}

// List returns a newline-joined, lexicographically sorted list of paths
// (relative to the sandbox root) matching pattern, truncated to 50
// entries. pattern is a doublestar glob; "**" matches any depth. The
// empty pattern defaults to "*".
func (s *Sandbox) List(pattern string) (string, error) {
	if pattern == "" {
		pattern = "*"
	}

	fsys := os.DirFS(s.root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return "", types.Wrap(types.KindIOFailure, "glob pattern", err)
	}

	// Reject matches that (after the glob already confined them to the
	// sandbox's own fs.FS view) still resolve through a symlink.
	filtered := matches[:0]
	for _, m := range matches {
		if _, err := s.resolve(m); err == nil {
			filtered = append(filtered, m)
		}
	}

	sort.Strings(filtered)
	if len(filtered) > listMaxEntries {
		filtered = filtered[:listMaxEntries]
	}
	return strings.Join(filtered, "\n"), nil
}

// Read returns the string contents of the file at path.
func (s *Sandbox) Read(path string) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if strings.EqualFold(filepath.Ext(resolved), ".pdf") {
		return readPDF(resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", types.Wrap(types.KindNotFound, "file not found: "+path, err)
		}
		return "", types.Wrap(types.KindIOFailure, "read file: "+path, err)
	}
	return string(data), nil
}

// Write creates parent directories as needed and writes content to path,
// atomically (write-to-temp then rename). Overwriting an existing file is
// allowed.
func (s *Sandbox) Write(path, content string) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Wrap(types.KindIOFailure, "create parent directories", err)
	}

	tmp, err := os.CreateTemp(dir, ".gshell-write-*")
	if err != nil {
		return types.Wrap(types.KindIOFailure, "create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return types.Wrap(types.KindIOFailure, "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return types.Wrap(types.KindIOFailure, "close temp file", err)
	}

	if err := os.Rename(tmpPath, resolved); err != nil {
		return types.Wrap(types.KindIOFailure, "rename into place", err)
	}
	return nil
}
