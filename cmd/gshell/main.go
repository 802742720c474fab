// Command gshell is a thin wiring example for the CORE console system:
// given one utterance, it creates or resumes a session, classifies and
// dispatches the utterance, prints the reply, and exits. The REPL loop
// that would normally drive many turns against this binary is out of
// scope here — see spec.md's Non-goals — so this just demonstrates the
// CLI surface the loop is expected to pass in: --name, --resume,
// --list-sessions.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/jg-phare/gshell/pkg/config"
	"github.com/jg-phare/gshell/pkg/controller"
	"github.com/jg-phare/gshell/pkg/decision"
	"github.com/jg-phare/gshell/pkg/dispatch"
	"github.com/jg-phare/gshell/pkg/llm"
	"github.com/jg-phare/gshell/pkg/observe"
	"github.com/jg-phare/gshell/pkg/promptfile"
	"github.com/jg-phare/gshell/pkg/ratelimit"
	"github.com/jg-phare/gshell/pkg/sandbox"
	"github.com/jg-phare/gshell/pkg/session"
)

// defaultModel is GEMINI_MODEL's fallback per spec.md's External
// Interfaces env var table ("Model name for main calls (default:
// flash-lite)").
const defaultModel = "gemini-2.5-flash-lite"

// modelEnv names the env var that overrides the default model.
const modelEnv = "GEMINI_MODEL"

// observeAddrEnv, when set, serves the observability WebSocket hub on
// this address (e.g. "localhost:8787") instead of leaving it unreachable.
const observeAddrEnv = "GEMINI_OBSERVE_ADDR"

func main() {
	name := flag.String("name", "", "short name for a new session")
	resume := flag.String("resume", "", "resume an existing session by UUID or name")
	listSessions := flag.Bool("list-sessions", false, "list known sessions and exit")
	model := flag.String("model", "", "Gemini model ID (default: $GEMINI_MODEL, else "+defaultModel+")")
	sandboxRoot := flag.String("sandbox", ".", "sandbox root for list/read/write tools")
	envFile := flag.String("env", ".env", "path to .env file (empty to skip)")
	prompt := flag.String("prompt", "", "utterance to send (reads stdin if empty)")
	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY is not set")
		os.Exit(1)
	}

	resolvedModel := *model
	if resolvedModel == "" {
		resolvedModel = os.Getenv(modelEnv)
	}
	if resolvedModel == "" {
		resolvedModel = defaultModel
	}

	baseDir := session.DefaultBaseDir()
	cwd, _ := os.Getwd()
	baseDir = filepath.Join(baseDir, session.SanitizePath(cwd), "sessions")

	store := session.NewStore(baseDir)
	defer store.Close()

	if *listSessions {
		sessions, err := store.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, s := range sessions {
			fmt.Printf("%s\t%s\tupdated %s\n", s.ID, s.CWD, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return
	}

	sb, err := sandbox.New(*sandboxRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := llm.NewClient(llm.ClientConfig{
		BaseURL: "https://generativelanguage.googleapis.com",
		APIKey:  apiKey,
		Model:   resolvedModel,
	})

	ticks := make(chan ratelimit.Tick, 8)
	rate := ratelimit.New(config.MergeRPM(ratelimit.DefaultRPM, cfg.RPM))
	rate.Ticks = ticks

	sysPrompt := promptfile.Resolve()

	d := &dispatch.Dispatcher{
		Sandbox:      sb,
		Client:       client,
		Decision:     decision.New(client),
		Rate:         rate,
		Model:        resolvedModel,
		SystemPrompt: sysPrompt.Text(),
	}

	ctrl := controller.New(store, d)
	if cfg.TurnTimeoutSeconds > 0 {
		ctrl.TurnTimeout = time.Duration(cfg.TurnTimeoutSeconds) * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hub := observe.NewHub()
	ctrl.Hub = hub
	go observe.RelayTicks(ctx, hub, ticks)
	if addr := os.Getenv(observeAddrEnv); addr != "" {
		srv := &http.Server{Addr: addr, Handler: hub}
		go srv.ListenAndServe()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	sessionID, err := resolveSession(store, baseDir, ctrl, *resume, *name, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	utterance := *prompt
	if utterance == "" {
		utterance = readStdin()
	}

	text, err := ctrl.Handle(ctx, sessionID, utterance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Println(text)
		os.Exit(1)
	}
	fmt.Println(text)
}

func resolveSession(store *session.Store, baseDir string, ctrl *controller.Controller, resume, name, cwd string) (string, error) {
	if resume != "" {
		if id, err := session.ResolveName(baseDir, resume); err == nil {
			return id, nil
		}
		if _, err := store.Load(resume); err != nil {
			return "", fmt.Errorf("resume %q: %w", resume, err)
		}
		return resume, nil
	}

	meta, err := ctrl.Create(cwd)
	if err != nil {
		return "", err
	}
	if name != "" {
		if err := session.SetName(baseDir, name, meta.ID); err != nil {
			return "", err
		}
	}
	return meta.ID, nil
}

func readStdin() string {
	scanner := bufio.NewScanner(os.Stdin)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n")
}

// loadEnvFile reads a .env file and sets environment variables (won't overwrite existing).
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // silently skip if no .env
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}
