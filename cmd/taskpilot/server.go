package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/taskpilot/internal/api"
	"github.com/kalambet/taskpilot/internal/backfill"
	"github.com/kalambet/taskpilot/internal/config"
	"github.com/kalambet/taskpilot/internal/embedding"
	"github.com/kalambet/taskpilot/internal/engine"
	"github.com/kalambet/taskpilot/internal/search"
	"github.com/kalambet/taskpilot/internal/storage"
	"github.com/kalambet/taskpilot/internal/subtasks"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskpilot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running taskpilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show taskpilot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "taskpilot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "taskpilot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{
		Backend:    cfg.Engine.Backend,
		BaseURL:    cfg.Engine.BaseURL,
		APIKey:     cfg.Engine.APIKey,
		ChatModel:  cfg.Engine.ChatModel,
		EmbedModel: cfg.Engine.EmbedModel,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.OpenRepository(ctx, cfg.Storage.Driver, cfg.Storage.DataDir, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	embedder := embedding.NewEmbedder(eng, cfg.Engine.EmbedModel)
	searcher := search.New(store, embedder, search.Options{
		Threshold:    cfg.Search.Threshold,
		Limit:        cfg.Search.Limit,
		Concurrency:  cfg.Search.Concurrency,
		EmbedTimeout: cfg.Search.QueryTimeout,
	})
	generator := subtasks.NewGenerator(eng, cfg.Engine.ChatModel)

	worker, err := backfill.NewWorker(store, embedder, backfill.Options{
		PollInterval: cfg.Backfill.Interval,
		BatchSize:    cfg.Backfill.BatchSize,
		Workers:      cfg.Backfill.Workers,
	})
	if err != nil {
		return fmt.Errorf("starting backfill worker: %w", err)
	}
	defer worker.Release()
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Searcher:    searcher,
		Subtasks:    generator,
		Embedder:    embedder,
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		CORSOrigins: cfg.Server.Origins(),
	})

	if serveMCP {
		if cfg.MCP.UserID == "" {
			slog.Warn("MCP enabled without mcp.user_id; tools will refuse to run")
		}
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    store,
			Searcher: searcher,
			Subtasks: generator,
			Embedder: embedder,
			UserID:   cfg.MCP.UserID,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "user_id", cfg.MCP.UserID)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "taskpilot listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("taskpilot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop taskpilot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to taskpilot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(serverURL(cfg) + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	eng, err := engine.Detect(engine.DetectConfig{
		Backend:    cfg.Engine.Backend,
		BaseURL:    cfg.Engine.BaseURL,
		APIKey:     cfg.Engine.APIKey,
		ChatModel:  cfg.Engine.ChatModel,
		EmbedModel: cfg.Engine.EmbedModel,
	})
	if err != nil {
		printStatus("Engine", "misconfigured: %v", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if eng.IsRunning(ctx) {
			printStatus("Engine", "%s reachable", cfg.Engine.Backend)
		} else {
			printStatus("Engine", "%s not reachable", cfg.Engine.Backend)
		}
	}

	printStatus("Chat model", "%s", cfg.Engine.ChatModel)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
