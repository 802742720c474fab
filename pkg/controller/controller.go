// Package controller wires the sandbox, decision engine, dispatcher, rate
// controller, and session store into the turn-level state machine:
//
//	Idle -> Classifying -> [Executing <-> AwaitingModel]* -> Emitting -> Idle
//
// Classifying is decision.Engine.Classify, Executing/AwaitingModel is the
// dispatcher's trampoline, and Emitting is journaling the final text and
// returning it to the caller. A Controller serializes turns per session
// (single-flight: a second concurrent Handle for the same session blocks
// until the first completes) and bounds each turn with a timeout.
package controller

import (
	"context"
	"sync"
	"time"

	gocontext "github.com/jg-phare/gshell/pkg/context"
	"github.com/jg-phare/gshell/pkg/dispatch"
	"github.com/jg-phare/gshell/pkg/observe"
	"github.com/jg-phare/gshell/pkg/session"
	"github.com/jg-phare/gshell/pkg/types"
)

// DefaultTurnTimeout bounds a single turn's Classifying+trampoline work.
const DefaultTurnTimeout = 120 * time.Second

// Controller is the per-process owner of session state. One Controller
// typically serves one CORE process (spec.md's single-user, single-session
// scope); session IDs still let it hold several resumable conversations.
type Controller struct {
	Store      *session.Store
	Dispatcher *dispatch.Dispatcher
	Hub        *observe.Hub // optional; nil disables event broadcast

	TurnTimeout time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex // per-session single-flight guard
	contexts map[string]*gocontext.Context
}

// New creates a Controller. dispatcher must have its Sandbox, Client,
// Decision, Rate, and Model fields already set.
func New(store *session.Store, dispatcher *dispatch.Dispatcher) *Controller {
	return &Controller{
		Store:       store,
		Dispatcher:  dispatcher,
		TurnTimeout: DefaultTurnTimeout,
		locks:       make(map[string]*sync.Mutex),
		contexts:    make(map[string]*gocontext.Context),
	}
}

// Stats is a read-only snapshot of a session's in-memory state.
type Stats struct {
	SessionID    string
	MessageCount int
	TotalTokens  int
	Budget       int
}

// lockFor returns the per-session mutex, creating it on first use.
func (c *Controller) lockFor(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	return l
}

// contextFor returns the in-memory Context for sessionID, restoring it
// from the journal on first use.
func (c *Controller) contextFor(sessionID, model string) (*gocontext.Context, error) {
	c.mu.Lock()
	if cctx, ok := c.contexts[sessionID]; ok {
		c.mu.Unlock()
		return cctx, nil
	}
	c.mu.Unlock()

	entries, err := c.Store.LoadEntries(sessionID)
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, "load session entries", err)
	}

	messages := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		if e.Message == nil {
			continue
		}
		messages = append(messages, types.Message{
			Role:      e.Message.Role,
			Content:   e.Message.Content,
			Timestamp: e.Timestamp,
			Tokens:    gocontext.SimpleEstimator{}.Estimate(e.Message.Content),
		})
	}

	cctx := gocontext.Restore(model, gocontext.BudgetFor(model), gocontext.SimpleEstimator{}, messages)

	c.mu.Lock()
	c.contexts[sessionID] = cctx
	c.mu.Unlock()
	return cctx, nil
}

// Create starts a new session rooted at cwd.
func (c *Controller) Create(cwd string) (types.SessionMetadata, error) {
	return c.Store.Create(cwd, c.Dispatcher.Model)
}

// Resume loads an existing session's metadata without replaying its
// history into memory; the history is lazily restored on first Handle.
func (c *Controller) Resume(sessionID string) (types.SessionMetadata, error) {
	state, err := c.Store.Load(sessionID)
	if err != nil {
		return types.SessionMetadata{}, err
	}
	return state.Metadata, nil
}

// ListSessions returns all known sessions, most recently updated first.
func (c *Controller) ListSessions() ([]types.SessionMetadata, error) {
	return c.Store.List()
}

// ClearContext discards the in-memory conversation for sessionID without
// touching its journal; the next Handle call re-restores from disk.
func (c *Controller) ClearContext(sessionID string) {
	c.mu.Lock()
	delete(c.contexts, sessionID)
	c.mu.Unlock()
}

// Stats reports the in-memory state for sessionID, or ok=false if the
// session hasn't been loaded into memory yet.
func (c *Controller) Stats(sessionID string) (Stats, bool) {
	c.mu.Lock()
	cctx, ok := c.contexts[sessionID]
	c.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return Stats{
		SessionID:    sessionID,
		MessageCount: len(cctx.Messages()),
		TotalTokens:  cctx.TotalTokens(),
		Budget:       cctx.Budget(),
	}, true
}

// Handle runs one full turn for sessionID: it restores/uses the session's
// in-memory Context, classifies and dispatches utterance, journals every
// entry produced along the way (the user turn, each tool execution, the
// final assistant turn, and — on failure — an error entry), and returns
// the assistant's final text.
//
// Only one Handle call per sessionID runs at a time; a second concurrent
// call blocks until the first completes (spec's single-flight guard).
// The turn is bounded by c.TurnTimeout (DefaultTurnTimeout if unset).
func (c *Controller) Handle(ctx context.Context, sessionID, utterance string) (string, error) {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	timeout := c.TurnTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.Hub != nil {
		c.Hub.Broadcast(observe.Event{Kind: observe.EventTurnStarted, Data: utterance})
	}

	cctx, err := c.contextFor(sessionID, c.Dispatcher.Model)
	if err != nil {
		return "", c.surfaceError(sessionID, err)
	}

	if _, err := c.Store.Append(sessionID, types.EntryUser, &types.EntryMessage{Role: types.RoleUser, Content: utterance}, nil); err != nil {
		return "", c.surfaceError(sessionID, types.Wrap(types.KindIOFailure, "journal user turn", err))
	}

	text, events, err := c.Dispatcher.Handle(ctx, cctx, utterance)
	for _, ev := range events {
		meta := &types.EntryMetadata{Tool: string(ev.Tool), Args: ev.Args, ResultPreview: ev.ResultPreview, IsError: ev.IsError}
		c.Store.Append(sessionID, types.EntryToolUse, nil, meta)
	}
	if err != nil {
		kind := classifyCtxErr(ctx, err)
		if kind != types.KindTrampolineLimit {
			return text, c.surfaceError(sessionID, types.Wrap(kind, "turn failed", err))
		}
		// TrampolineLimit is a non-fatal annotation (spec §7): the
		// dispatcher already appended the annotated text to cctx as the
		// assistant turn, so the journal must record the same entry to
		// keep resume(save(C)) == C.
		if c.Hub != nil {
			c.Hub.Broadcast(observe.Event{Kind: observe.EventSessionError, Data: err.Error()})
		}
	}

	if _, appendErr := c.Store.Append(sessionID, types.EntryAssistant, &types.EntryMessage{Role: types.RoleAssistant, Content: text}, nil); appendErr != nil {
		return text, c.surfaceError(sessionID, types.Wrap(types.KindIOFailure, "journal assistant turn", appendErr))
	}
	if err != nil {
		return text, err
	}

	if c.Hub != nil {
		c.Hub.Broadcast(observe.Event{Kind: observe.EventTurnCompleted, Data: text})
	}
	return text, nil
}

// classifyCtxErr reclassifies err as Cancelled/Timeout when ctx's own
// deadline or cancellation is the proximate cause, so a caller switching
// on Kind sees the turn-level reason rather than whatever kind the
// dispatcher's last internal call happened to wrap it as.
func classifyCtxErr(ctx context.Context, err error) types.Kind {
	if ctx.Err() == context.DeadlineExceeded {
		return types.KindTimeout
	}
	if ctx.Err() == context.Canceled {
		return types.KindCancelled
	}
	if te, ok := err.(*types.Error); ok {
		return te.Kind
	}
	return types.KindUnknown
}

// surfaceError journals an error entry and broadcasts it, then returns
// err unchanged for the caller.
func (c *Controller) surfaceError(sessionID string, err error) error {
	reason := err.Error()
	c.Store.Append(sessionID, types.EntryError, nil, &types.EntryMetadata{Reason: reason})
	if c.Hub != nil {
		c.Hub.Broadcast(observe.Event{Kind: observe.EventSessionError, Data: reason})
	}
	return err
}

// Close flushes the underlying session store.
func (c *Controller) Close() error {
	return c.Store.Close()
}
