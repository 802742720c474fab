// Package context holds the in-memory conversation Context: an ordered
// Message sequence kept under a per-model token budget.
package context

import (
	"time"

	"github.com/jg-phare/gshell/pkg/types"
)

// Context is the resumable, in-memory conversation state for one session.
// It is not safe for concurrent use; the controller serializes access per
// session.
type Context struct {
	model     string
	budget    int
	estimator Estimator
	messages  []types.Message
}

// New creates an empty Context for model, with budget defaulting to
// BudgetFor(model) when budget <= 0.
func New(model string, budget int, estimator Estimator) *Context {
	if budget <= 0 {
		budget = BudgetFor(model)
	}
	if estimator == nil {
		estimator = SimpleEstimator{}
	}
	return &Context{model: model, budget: budget, estimator: estimator}
}

// Restore rebuilds a Context from a previously saved message sequence,
// e.g. loaded from the session journal. Restored messages are trusted to
// already carry token counts; trimming still applies if the restored
// sequence exceeds budget.
func Restore(model string, budget int, estimator Estimator, messages []types.Message) *Context {
	c := New(model, budget, estimator)
	c.messages = append(c.messages, messages...)
	c.trim()
	return c
}

// Add appends a message with computed token count and trims the oldest
// entries until the budget is satisfied.
func (c *Context) Add(role types.Role, content string) types.Message {
	msg := types.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    c.estimator.Estimate(content),
	}
	c.messages = append(c.messages, msg)
	c.trim()
	return msg
}

// ReplaceLastUserContent rewrites the most recently added role=user
// message's content in place (recomputing its token estimate) and
// re-trims. It is used for the first tool result of a turn, which is
// folded into the triggering user message as an enhanced prompt rather
// than appended as its own role=tool entry.
func (c *Context) ReplaceLastUserContent(content string) {
	idx := c.lastUserIndex()
	if idx == -1 {
		return
	}
	c.messages[idx].Content = content
	c.messages[idx].Tokens = c.estimator.Estimate(content)
	c.trim()
}

// Messages returns a snapshot of the current message sequence.
func (c *Context) Messages() []types.Message {
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// TotalTokens returns the sum of Tokens across all held messages.
func (c *Context) TotalTokens() int {
	total := 0
	for _, m := range c.messages {
		total += m.Tokens
	}
	return total
}

// Clear discards all held messages.
func (c *Context) Clear() {
	c.messages = nil
}

// Budget returns the token budget this Context trims against.
func (c *Context) Budget() int { return c.budget }

// trim drops the oldest non-system messages until TotalTokens is within
// budget, or no further message can be dropped without violating the
// invariants: the most recent user message is never dropped, and a user
// message is dropped together with its paired assistant reply whenever
// dropping it alone would leave that reply orphaned (breaking strict
// user/assistant alternation). Any role=tool messages between the user
// message and that reply are dropped with them.
func (c *Context) trim() {
	for c.TotalTokens() > c.budget {
		idx := c.oldestNonSystem()
		if idx == -1 {
			return
		}
		if idx == c.lastUserIndex() {
			return
		}

		if c.messages[idx].Role == types.RoleUser {
			// The paired reply may follow role=tool results of the same turn.
			end := idx + 1
			for end < len(c.messages) && c.messages[end].Role == types.RoleTool {
				end++
			}
			if end < len(c.messages) && c.messages[end].Role == types.RoleAssistant {
				c.messages = append(c.messages[:idx], c.messages[end+1:]...)
				continue
			}
		}
		c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	}
}

func (c *Context) oldestNonSystem() int {
	for i, m := range c.messages {
		if m.Role != types.RoleSystem {
			return i
		}
	}
	return -1
}

func (c *Context) lastUserIndex() int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == types.RoleUser {
			return i
		}
	}
	return -1
}
