package decision

// classifierSystemPrompt names the three sandbox tools and their exact
// parameter names so the model's JSON output lines up with
// types.ToolDecision without guesswork.
const classifierSystemPrompt = `You decide whether a user message requires calling one of three file tools, or whether it can be answered directly in conversation.

Tools:
- list_files(pattern): lists files under the sandbox matching a glob pattern, e.g. "*.go" or "**/*.md". Defaults to "*" when no pattern is given.
- read_file(file_path): returns the contents of one file.
- write_file(file_path, content): writes content to one file, creating parent directories as needed.

Respond with a JSON object with fields:
- requires_tool_call (boolean)
- tool_name: one of "list_files", "read_file", "write_file" (omit if requires_tool_call is false)
- reasoning: one short sentence
- file_path, pattern, content: only the fields the chosen tool needs

Example 1.
User: "what's in the config.yaml file?"
{"requires_tool_call": true, "tool_name": "read_file", "reasoning": "user asked for file contents", "file_path": "config.yaml"}

Example 2.
User: "what's your favorite color?"
{"requires_tool_call": false, "reasoning": "conversational question, no file operation needed"}`

// decisionSchema is the Gemini responseSchema constraining structured
// classification output to the ToolDecision shape.
var decisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"requires_tool_call": map[string]any{"type": "boolean"},
		"tool_name":          map[string]any{"type": "string", "enum": []string{"list_files", "read_file", "write_file"}},
		"reasoning":          map[string]any{"type": "string"},
		"file_path":          map[string]any{"type": "string"},
		"pattern":            map[string]any{"type": "string"},
		"content":            map[string]any{"type": "string"},
	},
	"required": []string{"requires_tool_call", "reasoning"},
}
