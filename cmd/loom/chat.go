package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomapp/loom/internal/agent/ai"
	"github.com/loomapp/loom/internal/agent/permission"
	"github.com/loomapp/loom/internal/agent/runner"
	"github.com/loomapp/loom/internal/agent/tools"
	"github.com/loomapp/loom/internal/db"
	"github.com/loomapp/loom/internal/db/migrations"
	"github.com/loomapp/loom/internal/logging"
	"github.com/loomapp/loom/internal/workspace"
)

const systemPrompt = `You are Loom, an AI agent running in the user's terminal. You can read, write, and list files in the workspace, run shell commands, and fetch web pages. Use your tools to gather information before acting, and verify your changes worked. Keep answers concise; this is a terminal.`

func chatCmd() *cobra.Command {
	var model string
	var resume string
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Chat with the agent (interactive when no prompt is given)",
		Run: func(_ *cobra.Command, args []string) {
			runChat(model, resume, showMetrics, args)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", `model to use, e.g. "anthropic/claude-sonnet-4-5"`)
	cmd.Flags().StringVarP(&resume, "resume", "r", "", "conversation ID to resume")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print run metrics after each turn")
	return cmd
}

func runChat(model, resume string, showMetrics bool, args []string) {
	logging.Disable()
	migrations.QuietMode = true
	cfg := rootConfig

	store, err := db.NewSQLite(cfg.Database.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	providers := ai.FromConfig(cfg.Providers)
	if len(providers) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no providers configured. Set ANTHROPIC_API_KEY or OPENAI_API_KEY, or run Ollama locally.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\033[33mInterrupted\033[0m")
		cancel()
	}()

	ws := workspace.New(cfg.Workspace.Root, cfg.Workspace.MaxFiles)
	go func() {
		if err := ws.Watch(ctx); err != nil {
			logging.Warnf("workspace watcher: %v", err)
		}
	}()

	arbiter := permission.NewArbiter()
	registry := tools.NewRegistry(arbiter)
	registry.Register(tools.NewFileTool(ws.Root(), cfg.Workspace.MaxFiles))
	registry.Register(tools.NewShellTool(ws.Root()))
	registry.Register(tools.NewFetchTool())

	r := runner.New(cfg, store, providers, registry)

	conversationID := resume
	if conversationID == "" {
		title := "terminal session " + time.Now().Format("2006-01-02 15:04")
		conv, err := store.CreateConversation(ctx, title)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create conversation: %v\n", err)
			os.Exit(1)
		}
		conversationID = conv.ID
	} else if _, err := store.GetConversation(ctx, conversationID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: conversation %s: %v\n", conversationID, err)
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)
	session := &chatSession{
		runner:         r,
		arbiter:        arbiter,
		workspace:      ws,
		reader:         reader,
		conversationID: conversationID,
		model:          model,
		showMetrics:    showMetrics,
	}

	if len(args) > 0 {
		session.turn(ctx, strings.Join(args, " "))
		return
	}

	fmt.Println("\033[1mLoom\033[0m — conversation " + conversationID)
	fmt.Println("Type a message and press Enter. /help for commands, Ctrl+C to exit.")
	fmt.Println()

	for {
		fmt.Print("\033[36m> \033[0m")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if session.handleCommand(ctx, line, store) {
				return
			}
			continue
		}
		session.turn(ctx, line)
		if ctx.Err() != nil {
			return
		}
	}
}

type chatSession struct {
	runner         *runner.Runner
	arbiter        *permission.Arbiter
	workspace      *workspace.Workspace
	reader         *bufio.Reader
	conversationID string
	model          string
	showMetrics    bool
}

// turn runs one prompt, answering permission requests from stdin while the
// runner streams in the background.
func (s *chatSession) turn(ctx context.Context, prompt string) {
	opts := &runner.RunOptions{
		ConversationID: s.conversationID,
		Prompt:         prompt,
		Model:          s.model,
		System:         systemPrompt + "\n\n" + s.workspace.ContextString(),
	}

	cb := &runner.Callbacks{
		OnText: func(text string) {
			fmt.Print("\033[32m" + text + "\033[0m")
		},
		OnReasoning: func(text string) {
			fmt.Print("\033[90m" + text + "\033[0m")
		},
		OnToolCall: func(call ai.ToolCall) {
			fmt.Printf("\n\033[33m[tool: %s]\033[0m\n", call.Name)
		},
		OnToolResult: func(_ ai.ToolCall, content string, isError bool) {
			preview := content
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			color := "\033[90m"
			if isError {
				color = "\033[31m"
			}
			fmt.Printf("%s%s\033[0m\n", color, preview)
		},
		OnRetry: func(attempt int, delay time.Duration, _ error) {
			fmt.Printf("\033[33m[rate limited, retry %d in %s]\033[0m\n", attempt, delay)
		},
	}

	type outcome struct {
		res *runner.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.runner.Run(ctx, opts, cb)
		done <- outcome{res, err}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case out := <-done:
			fmt.Println()
			if out.err != nil {
				fmt.Printf("\033[31mError: %v\033[0m\n", out.err)
				if s.showMetrics && out.res != nil {
					fmt.Printf("\033[90m%s\033[0m\n", out.res.Metrics.Report())
				}
				return
			}
			if out.res.Aborted {
				fmt.Println("\033[33m(aborted)\033[0m")
			}
			if s.showMetrics {
				fmt.Printf("\033[90m%s\033[0m\n", out.res.Metrics.Report())
			}
			fmt.Println()
			return
		case <-ticker.C:
			if req := s.arbiter.Current(); req != nil {
				s.promptPermission(req)
			}
		}
	}
}

func (s *chatSession) promptPermission(req *permission.Request) {
	fmt.Printf("\n\033[35mAllow %s: %s? [y]es / [n]o / [a]lways: \033[0m", req.Operation, req.Subject)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		s.arbiter.Resolve(permission.ChoiceDeny)
		return
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		s.arbiter.Resolve(permission.ChoiceAllow)
	case "a", "always":
		s.arbiter.Resolve(permission.ChoiceAlwaysAllow)
	default:
		s.arbiter.Resolve(permission.ChoiceDeny)
	}
}

// handleCommand processes a /command. Returns true when the REPL should
// exit.
func (s *chatSession) handleCommand(ctx context.Context, line string, store *db.Store) bool {
	switch strings.Fields(line)[0] {
	case "/help":
		fmt.Println(`Commands:
  /help        Show this help
  /id          Print the current conversation ID
  /new         Start a fresh conversation
  /sessions    List stored conversations
  /quit        Exit`)
	case "/id":
		fmt.Println(s.conversationID)
	case "/new":
		conv, err := store.CreateConversation(ctx, "terminal session "+time.Now().Format("2006-01-02 15:04"))
		if err != nil {
			fmt.Printf("\033[31mError: %v\033[0m\n", err)
			break
		}
		s.conversationID = conv.ID
		fmt.Println("Started conversation " + conv.ID)
	case "/sessions":
		printConversations(ctx, store, s.conversationID)
	case "/quit", "/exit":
		return true
	default:
		fmt.Println("Unknown command. /help for a list.")
	}
	return false
}
