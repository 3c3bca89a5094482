package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/config"
	"github.com/glowlab/deskagent/internal/confirm"
	"github.com/glowlab/deskagent/internal/llm"
	"github.com/glowlab/deskagent/internal/logger"
	"github.com/glowlab/deskagent/internal/mcp"
	"github.com/glowlab/deskagent/internal/orchestrator"
	"github.com/glowlab/deskagent/internal/store"
	"github.com/glowlab/deskagent/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := flag.String("config", config.GetConfigPath(), "path to the config file")
	prompt := flag.String("p", "", "one-shot prompt; runs a single turn and exits")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warn, error, none)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if envLevel := strings.TrimSpace(os.Getenv("DESKAGENT_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("fatal: %v", err)
		}
		_ = logger.Global().Close()
	}()
	logger.Info("deskagent starting, model=%s/%s", cfg.Model.Provider, cfg.Model.ModelID)

	client, err := llm.NewClient(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewCurrentTimeTool())
	registry.Register(tools.NewWebFetchTool(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := mcp.NewManager()
	defer manager.Close()
	connectSessions(ctx, manager, cfg)

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	conv, err := db.CreateConversation("New conversation")
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	stdin := bufio.NewReader(os.Stdin)

	orch := orchestrator.New(client, cfg.Model, registry, manager, db, orchestrator.Options{
		MaxIterations:       cfg.MaxIterations,
		RequireConfirmation: cfg.Confirmation.Required,
		ConfirmMode:         confirm.Mode(cfg.Confirmation.Mode),
		ConfirmTimeout:      confirmTimeout(cfg),
		OutputReserveTokens: cfg.Context.OutputReserveTokens,
		SafetyMarginTokens:  cfg.Context.SafetyMarginTokens,
		Events:              buildEvents(stdin),
	})
	if err := orch.AttachConversation(conv.ID); err != nil {
		return err
	}
	wireConfirmations(orch, stdin)

	// Config edits apply to the next turn without a restart.
	watcher, err := config.NewWatcher(*configPath, func(updated *config.Config) {
		logger.Global().SetLevel(logger.ParseLevel(updated.LogLevel))
		syncSessions(ctx, manager, updated)
	})
	if err == nil {
		if startErr := watcher.Start(); startErr == nil {
			defer watcher.Stop()
		}
	}

	// Ctrl-C stops the running turn; a second one exits.
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		fmt.Fprintln(os.Stderr, "\nstopping current turn (Ctrl-C again to exit)")
		orch.Stop()
		<-interrupts
		cancel()
		os.Exit(130)
	}()

	if *prompt != "" {
		_, err := orch.SendMessage(ctx, *prompt)
		return err
	}

	return repl(ctx, orch, stdin)
}

func confirmTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Confirmation.TimeoutSeconds) * time.Second
}

func connectSessions(ctx context.Context, manager *mcp.Manager, cfg *config.Config) {
	for name, server := range cfg.MCPServers {
		if server.Disabled {
			continue
		}
		if err := connectServer(ctx, manager, name, server); err != nil {
			logger.Warn("failed to connect tool server %q: %v", name, err)
			fmt.Fprintf(os.Stderr, "warning: tool server %q unavailable: %v\n", name, err)
		}
	}
}

func connectServer(ctx context.Context, manager *mcp.Manager, name string, server *config.MCPServerConfig) error {
	var conn mcp.Connection
	var err error
	switch server.Type {
	case "websocket":
		conn, err = mcp.DialWS(ctx, server.URL)
	case "openapi":
		conn, err = mcp.LoadOpenAPI(ctx, mcp.OpenAPIOptions{
			SpecLocation: server.SpecLocation,
			BaseURL:      server.URL,
			Headers:      server.Headers,
		})
	default:
		return fmt.Errorf("unknown server type %q", server.Type)
	}
	if err != nil {
		return err
	}

	session, err := manager.AddSession(ctx, name, name, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	fmt.Printf("connected tool server %q (%d tools)\n", session.ID, session.ToolCount)
	return nil
}

// syncSessions applies a reloaded config to the session manager: disabled
// servers are switched off, newly configured ones are connected.
func syncSessions(ctx context.Context, manager *mcp.Manager, cfg *config.Config) {
	for name, server := range cfg.MCPServers {
		if server.Disabled {
			_ = manager.SetEnabled(name, false)
			continue
		}
		if err := manager.SetEnabled(name, true); err != nil {
			// Not connected yet.
			if connErr := connectServer(ctx, manager, name, server); connErr != nil {
				logger.Warn("failed to connect tool server %q: %v", name, connErr)
			}
		}
	}
}

func buildEvents(stdin *bufio.Reader) orchestrator.Events {
	return orchestrator.Events{
		OnToolCall: func(record chat.ToolCallRecord) {
			status := "ok"
			if !record.Success {
				status = record.Error
			}
			fmt.Printf("  [tool] %s -> %s\n", record.ToolName, status)
		},
		OnReasoningUpdate: func(text string) {
			// Reasoning is verbose; show only the latest line.
			lines := strings.Split(strings.TrimSpace(text), "\n")
			fmt.Printf("  [thinking] %s\n", lines[len(lines)-1])
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		},
	}
}

// wireConfirmations answers confirmation requests interactively. The prompt
// runs inside the turn, which is blocked waiting on the coordinator, so
// reading stdin here does not race the main loop.
func wireConfirmations(orch *orchestrator.Orchestrator, stdin *bufio.Reader) {
	coordinator := orch.Confirmations()
	coordinator.SetNotify(func(req confirm.Request) {
		fmt.Printf("\nThe assistant wants to run %d tool(s):\n", len(req.Tools))
		for i, tool := range req.Tools {
			fmt.Printf("  %d. %s %v\n", i+1, tool.Descriptor.Name, tool.Parameters)
		}

		switch req.Mode {
		case confirm.ModeIndividual:
			for i := range req.Tools {
				fmt.Printf("allow tool %d? [y/N]: ", i+1)
				answer, _ := stdin.ReadString('\n')
				approved := strings.HasPrefix(strings.TrimSpace(strings.ToLower(answer)), "y")
				if err := coordinator.RespondTool(req.ID, i, approved, nil); err != nil {
					return
				}
			}
		default:
			fmt.Print("allow all? [y/N]: ")
			answer, _ := stdin.ReadString('\n')
			if strings.HasPrefix(strings.TrimSpace(strings.ToLower(answer)), "y") {
				_ = coordinator.Confirm(req.ID, nil)
			} else {
				_ = coordinator.Reject(req.ID)
			}
		}
	})
}

func repl(ctx context.Context, orch *orchestrator.Orchestrator, stdin *bufio.Reader) error {
	fmt.Println("deskagent ready. /stats for counters, /quit to exit.")
	for {
		fmt.Print("> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/stats":
			stats := orch.Stats()
			fmt.Printf("turns=%d messages=%d tool_calls=%d tokens=%d/%d cost=$%.4f avg_latency=%dms\n",
				stats.Turns, stats.Messages, stats.ToolCalls,
				stats.TotalInputTokens, stats.TotalOutputTokens,
				stats.CostEstimate, stats.AvgLatencyMs)
			continue
		}

		msg, err := orch.SendMessage(ctx, line)
		if err != nil {
			continue
		}
		fmt.Printf("\n%s\n\n", msg.Content)
	}
}
