// Package dispatch implements the trampoline: given a ToolDecision, it
// executes the first tool call inline, then repeatedly offers the
// sandbox's tools to the model and executes whatever it asks for until a
// pure-text response comes back or the iteration cap is hit.
package dispatch

import (
	"context"
	"fmt"

	gocontext "github.com/jg-phare/gshell/pkg/context"
	"github.com/jg-phare/gshell/pkg/decision"
	"github.com/jg-phare/gshell/pkg/llm"
	"github.com/jg-phare/gshell/pkg/ratelimit"
	"github.com/jg-phare/gshell/pkg/sandbox"
	"github.com/jg-phare/gshell/pkg/types"
)

// kMax bounds the number of tool/model round-trips within a single turn.
const kMax = 8

const truncateLimit = 2000

const trampolineLimitNote = "(trampoline limit reached)"

// enhancedPromptMarker separates the original utterance from the inlined
// first-tool-call result within the rewritten user message (spec §4.7
// step 3.b: the first tool result replaces the last user message's
// content rather than becoming its own role=tool entry).
const enhancedPromptMarker = "---tool result below---"

// ToolEvent records one tool execution for the session journal.
type ToolEvent struct {
	Tool          types.ToolName
	Args          map[string]any
	ResultPreview string
	IsError       bool
}

// Dispatcher owns one turn's tool/model trampoline.
type Dispatcher struct {
	Sandbox  *sandbox.Sandbox
	Client   llm.Client
	Decision *decision.Engine
	Rate     *ratelimit.Controller
	Model    string

	SystemPrompt string
}

var toolDeclarations = []llm.FunctionDeclaration{
	{
		Name:        string(types.ToolListFiles),
		Description: "List files under the sandbox matching a glob pattern.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"pattern": map[string]any{"type": "string"}},
		},
	},
	{
		Name:        string(types.ToolReadFile),
		Description: "Read the contents of a file.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"file_path": map[string]any{"type": "string"}},
			"required":   []string{"file_path"},
		},
	},
	{
		Name:        string(types.ToolWriteFile),
		Description: "Write content to a file, creating parent directories as needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
				"content":   map[string]any{"type": "string"},
			},
			"required": []string{"file_path", "content"},
		},
	},
}

// Handle runs one full turn: it appends utterance to cctx, classifies it,
// optionally executes the classified tool inline, then trampolines
// against the model until pure text is returned. It returns the final
// text and the ordered list of tool executions performed along the way.
func (d *Dispatcher) Handle(ctx context.Context, cctx *gocontext.Context, utterance string) (string, []ToolEvent, error) {
	cctx.Add(types.RoleUser, utterance)

	decided, err := d.Decision.Classify(ctx, utterance)
	if err != nil {
		return "", nil, err
	}

	var events []ToolEvent
	if decided.RequiresToolCall {
		ev := d.execute(decided.ToolName, toolArgs(decided))
		events = append(events, ev)
		enhanced := fmt.Sprintf("%s\n%s\n[%s result]\n%s", utterance, enhancedPromptMarker, decided.ToolName, truncate(ev.ResultPreview, truncateLimit))
		cctx.ReplaceLastUserContent(enhanced)
	}

	text, more, err := d.trampoline(ctx, cctx)
	events = append(events, more...)
	return text, events, err
}

func (d *Dispatcher) trampoline(ctx context.Context, cctx *gocontext.Context) (string, []ToolEvent, error) {
	var events []ToolEvent

	for iteration := 0; iteration < kMax; iteration++ {
		result, err := d.generate(ctx, cctx)
		if err != nil {
			return "", events, err
		}

		if len(result.ToolCalls) == 0 {
			cctx.Add(types.RoleAssistant, result.Text)
			return result.Text, events, nil
		}

		for _, call := range result.ToolCalls {
			ev := d.execute(types.ToolName(call.Name), call.Args)
			events = append(events, ev)
			cctx.Add(types.RoleTool, fmt.Sprintf("[%s result]\n%s", call.Name, truncate(ev.ResultPreview, truncateLimit)))
		}
	}

	cctx.Add(types.RoleAssistant, trampolineLimitNote)
	return trampolineLimitNote, events, types.New(types.KindTrampolineLimit, "tool/model round-trip cap reached")
}

func (d *Dispatcher) generate(ctx context.Context, cctx *gocontext.Context) (llm.Result, error) {
	var result llm.Result
	err := d.Rate.WithRetry(ctx, func(ctx context.Context) error {
		if err := d.Rate.Acquire(ctx, d.Model); err != nil {
			return err
		}
		r, err := d.Client.Generate(ctx, d.SystemPrompt, cctx.Messages(), toolDeclarations, d.Model)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (d *Dispatcher) execute(tool types.ToolName, args map[string]any) ToolEvent {
	ev := ToolEvent{Tool: tool, Args: args}

	var (
		out string
		err error
	)
	switch tool {
	case types.ToolListFiles:
		out, err = d.Sandbox.List(stringArg(args, "pattern"))
	case types.ToolReadFile:
		out, err = d.Sandbox.Read(stringArg(args, "file_path"))
	case types.ToolWriteFile:
		err = d.Sandbox.Write(stringArg(args, "file_path"), stringArg(args, "content"))
		out = "wrote " + stringArg(args, "file_path")
	default:
		err = types.New(types.KindBadRequest, "unknown tool: "+string(tool))
	}

	// A tool failure is captured as a tool-result message containing the
	// error description, not raised: the model gets a chance to recover.
	if err != nil {
		ev.IsError = true
		ev.ResultPreview = err.Error()
	} else {
		ev.ResultPreview = out
	}
	return ev
}

func toolArgs(d types.ToolDecision) map[string]any {
	args := map[string]any{}
	if d.FilePath != "" {
		args["file_path"] = d.FilePath
	}
	if d.Pattern != "" {
		args["pattern"] = d.Pattern
	}
	if d.Content != "" {
		args["content"] = d.Content
	}
	return args
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n…(truncated)"
}
