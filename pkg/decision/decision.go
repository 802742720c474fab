// Package decision implements the classifier that turns one user
// utterance into a ToolDecision: either "no tool needed" or a specific
// sandbox tool call with its arguments.
package decision

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jg-phare/gshell/pkg/llm"
	"github.com/jg-phare/gshell/pkg/types"
)

// bypassEnv, when set to any non-empty value, forces every classification
// to "no tool needed" without calling the model. Intended for testing the
// rest of the pipeline without burning LLM calls on dispatch decisions.
const bypassEnv = "GEMINI_STRUCTURED_DISPATCH"

const classifierTemperature = 0.0

const defaultTTL = 10 * time.Minute

// Engine classifies utterances into ToolDecisions, caching results for
// identical utterances within a TTL window.
type Engine struct {
	client llm.Client
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	decision types.ToolDecision
	expires  time.Time
}

// New creates an Engine backed by client.
func New(client llm.Client) *Engine {
	return &Engine{client: client, ttl: defaultTTL, cache: make(map[string]cacheEntry)}
}

// Classify returns the ToolDecision for utterance, serving from the TTL
// cache when the exact utterance string was classified recently.
func (e *Engine) Classify(ctx context.Context, utterance string) (types.ToolDecision, error) {
	if os.Getenv(bypassEnv) != "" {
		return types.ToolDecision{RequiresToolCall: false, Reasoning: "structured dispatch bypassed"}, nil
	}

	if cached, ok := e.fromCache(utterance); ok {
		return cached, nil
	}

	decision, malformed, err := e.attempt(ctx, utterance)
	if err != nil {
		return types.ToolDecision{}, err
	}
	if malformed {
		// One retry: ask again before giving up on tool use entirely.
		// This covers both a successfully parsed decision missing
		// required fields and a transport-level KindMalformedDecision —
		// either counts as "malformed" for the twice-in-a-row rule.
		decision, malformed, err = e.attempt(ctx, utterance)
		if err != nil {
			return types.ToolDecision{}, err
		}
		if malformed {
			decision = types.ToolDecision{RequiresToolCall: false, Reasoning: "malformed decision after retry"}
		}
	}

	e.store(utterance, decision)
	return decision, nil
}

// attempt runs one classification call and reports whether the result
// was malformed — either the transport call itself failed with
// KindMalformedDecision, or it parsed but is missing required fields.
// Any other error is returned for the caller to propagate directly.
func (e *Engine) attempt(ctx context.Context, utterance string) (types.ToolDecision, bool, error) {
	decision, err := e.classifyOnce(ctx, utterance)
	if err != nil {
		var te *types.Error
		if as(err, &te) && te.Kind == types.KindMalformedDecision {
			return types.ToolDecision{}, true, nil
		}
		return types.ToolDecision{}, false, err
	}
	normalize(&decision)
	return decision, !decision.RequiredFieldsPresent(), nil
}

func (e *Engine) classifyOnce(ctx context.Context, utterance string) (types.ToolDecision, error) {
	var raw map[string]any
	err := e.client.GenerateStructured(ctx, classifierSystemPrompt, utterance, decisionSchema, classifierTemperature, &raw)
	if err != nil {
		return types.ToolDecision{}, err
	}
	return fromRaw(raw), nil
}

// fromRaw builds a ToolDecision from a loosely-shaped JSON object,
// flattening nested "parameters"/"args" containers and the "path" alias
// for file_path that models occasionally emit instead of the documented
// field names.
func fromRaw(raw map[string]any) types.ToolDecision {
	flat := map[string]any{}
	for k, v := range raw {
		flat[k] = v
	}
	for _, nestKey := range []string{"parameters", "args"} {
		if nested, ok := raw[nestKey].(map[string]any); ok {
			for k, v := range nested {
				flat[k] = v
			}
		}
	}
	if path, ok := flat["path"]; ok {
		flat["file_path"] = path
	}

	return types.ToolDecision{
		RequiresToolCall: asBool(flat["requires_tool_call"]),
		ToolName:         types.ToolName(asString(flat["tool_name"])),
		Reasoning:        asString(flat["reasoning"]),
		FilePath:         asString(flat["file_path"]),
		Pattern:          asString(flat["pattern"]),
		Content:          asString(flat["content"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}

func (e *Engine) fromCache(utterance string) (types.ToolDecision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[utterance]
	if !ok || time.Now().After(entry.expires) {
		return types.ToolDecision{}, false
	}
	return entry.decision, true
}

func (e *Engine) store(utterance string, decision types.ToolDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[utterance] = cacheEntry{decision: decision, expires: time.Now().Add(e.ttl)}
}

// normalize trims surrounding whitespace from the tool name, file path,
// and pattern, and clears every tool field of a no-tool decision. The
// flattening of nested "parameters"/"args" objects, the "path" alias, and
// string-boolean coercion happen earlier, in fromRaw.
func normalize(d *types.ToolDecision) {
	d.ToolName = types.ToolName(strings.TrimSpace(string(d.ToolName)))
	d.FilePath = strings.TrimSpace(d.FilePath)
	d.Pattern = strings.TrimSpace(d.Pattern)
	if !d.RequiresToolCall {
		d.ToolName, d.FilePath, d.Pattern, d.Content = "", "", "", ""
	}
}

func as(err error, target **types.Error) bool {
	te, ok := err.(*types.Error)
	if !ok {
		return false
	}
	*target = te
	return true
}
