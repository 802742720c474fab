// Package promptfile resolves and hot-reloads the system prompt used by
// the controller. It follows the same directory-watch-plus-debounce shape
// as the teacher's skill file watcher, adapted to a single file instead of
// a directory of skills.
package promptfile

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// DefaultPrompt is used when no $GEMINI_SYSTEM_PROMPT env var and no
// ./resources/system_prompt.txt file are present.
const DefaultPrompt = `You are a helpful assistant with access to a sandboxed file tool: list, read, and write files. Use tools only when the user's request requires it.`

// envVar is checked first; its value, if set, is used verbatim as the
// prompt and the file path is not watched.
const envVar = "GEMINI_SYSTEM_PROMPT"

// DefaultPath is the fallback prompt file location.
const DefaultPath = "resources/system_prompt.txt"

// Source holds the resolved system prompt and optionally watches its
// backing file for changes, matching the teacher's SkillWatcher pattern.
type Source struct {
	path string // "" when resolved from the env var (not file-backed)

	current atomic.Pointer[string]

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Resolve determines the system prompt per the precedence rule:
// $GEMINI_SYSTEM_PROMPT env var, then ./resources/system_prompt.txt,
// then DefaultPrompt. Absence of either source is not an error.
func Resolve() *Source {
	if v, ok := os.LookupEnv(envVar); ok && v != "" {
		s := &Source{}
		s.current.Store(&v)
		return s
	}

	s := &Source{path: DefaultPath}
	text := DefaultPrompt
	if data, err := os.ReadFile(DefaultPath); err == nil {
		text = string(data)
	}
	s.current.Store(&text)
	return s
}

// Text returns the currently resolved system prompt.
func (s *Source) Text() string {
	return *s.current.Load()
}

// Watch begins watching the backing file for changes, updating Text()'s
// return value after a debounce window. It is a no-op for env-var-backed
// sources, since there's no file to watch. Call Stop to end watching.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		log.Printf("promptfile: skipping watch on %s: %v", dir, err)
		watcher.Close()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx, watcher)
	return nil
}

// Stop ends the file watch, if one is running.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Source) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	pending := false

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(defaultDebounce, func() {
				if pending {
					s.reload()
					pending = false
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("promptfile watcher error: %v", err)
		}
	}
}

func (s *Source) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		log.Printf("promptfile: error reloading %s: %v", s.path, err)
		return
	}
	text := string(data)
	s.current.Store(&text)
	log.Printf("promptfile: reloaded %s", s.path)
}
