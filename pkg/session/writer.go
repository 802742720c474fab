package session

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	journalWriterBufferSize = 256
	journalFlushIdleTimeout = 100 * time.Millisecond
)

// journalWriteRequest is a single append request queued for the journal writer.
type journalWriteRequest struct {
	path string
	data []byte
	err  chan error // optional: nil if caller doesn't need confirmation
}

// journalWriter serializes appends to the session journal files across a
// single process: one background goroutine batches and flushes pending
// writes, and a per-file flock guards against a second process (or a
// stale handle from a crashed one) writing the same journal concurrently.
type journalWriter struct {
	ch    chan journalWriteRequest
	done  chan struct{}
	mu    sync.Mutex
	files map[string]*os.File
}

func newJournalWriter() *journalWriter {
	w := &journalWriter{
		ch:    make(chan journalWriteRequest, journalWriterBufferSize),
		done:  make(chan struct{}),
		files: make(map[string]*os.File),
	}
	go w.run()
	return w
}

func (w *journalWriter) run() {
	defer close(w.done)

	timer := time.NewTimer(journalFlushIdleTimeout)
	defer timer.Stop()

	var pending []journalWriteRequest

	for {
		select {
		case req, ok := <-w.ch:
			if !ok {
				// Channel closed — flush remaining and exit
				w.flushAll(pending)
				return
			}
			pending = append(pending, req)

			// Drain any more that are immediately available
			for {
				select {
				case req2, ok2 := <-w.ch:
					if !ok2 {
						w.flushAll(pending)
						return
					}
					pending = append(pending, req2)
				default:
					goto batchDone
				}
			}
		batchDone:
			w.flushAll(pending)
			pending = pending[:0]
			timer.Reset(journalFlushIdleTimeout)

		case <-timer.C:
			// Idle timeout — flush anything pending (usually empty)
			if len(pending) > 0 {
				w.flushAll(pending)
				pending = pending[:0]
			}
			timer.Reset(journalFlushIdleTimeout)
		}
	}
}

func (w *journalWriter) flushAll(reqs []journalWriteRequest) {
	for _, req := range reqs {
		err := w.appendToFile(req.path, req.data)
		if req.err != nil {
			req.err <- err
		}
	}
}

const journalLockTimeout = 5 * time.Second

func (w *journalWriter) appendToFile(path string, data []byte) error {
	w.mu.Lock()
	f, ok := w.files[path]
	if !ok {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		w.files[path] = f
	}
	w.mu.Unlock()

	// Acquire per-file lock for cross-process safety
	fl := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), journalLockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return ErrLockTimeout
	}
	defer fl.Unlock()

	_, err = f.Write(data)
	return err
}

// Append enqueues a write request. If errCh is non-nil, the error is sent on it.
func (w *journalWriter) Append(path string, data []byte, errCh chan error) {
	w.ch <- journalWriteRequest{path: path, data: data, err: errCh}
}

// Close signals the writer to flush and stop, then closes all file handles.
func (w *journalWriter) Close() error {
	close(w.ch)
	<-w.done // wait for goroutine to finish

	w.mu.Lock()
	defer w.mu.Unlock()

	var lastErr error
	for _, f := range w.files {
		if err := f.Close(); err != nil {
			lastErr = err
		}
	}
	w.files = nil
	return lastErr
}
