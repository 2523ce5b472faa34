package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mpy-dev-ml/scopegate/internal/api"
	"github.com/mpy-dev-ml/scopegate/internal/config"
	"github.com/mpy-dev-ml/scopegate/internal/coordinator"
	"github.com/mpy-dev-ml/scopegate/internal/engine"
	"github.com/mpy-dev-ml/scopegate/internal/helper"
	"github.com/mpy-dev-ml/scopegate/internal/journal"
	"github.com/mpy-dev-ml/scopegate/internal/ledger"
	"github.com/mpy-dev-ml/scopegate/internal/lock"
	"github.com/mpy-dev-ml/scopegate/internal/log"
	"github.com/mpy-dev-ml/scopegate/internal/metrics"
	"github.com/mpy-dev-ml/scopegate/internal/queue"
	"github.com/mpy-dev-ml/scopegate/internal/secrets"
	"github.com/mpy-dev-ml/scopegate/internal/storage"
	"github.com/mpy-dev-ml/scopegate/internal/token"
	"github.com/mpy-dev-ml/scopegate/internal/tui/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "submit":
		os.Exit(runSubmit(args))
	case "watch":
		os.Exit(runWatch(args))
	case "secret":
		os.Exit(runSecret(args))
	case "version":
		fmt.Printf("scopegate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`scopegate - privileged-operation execution coordinator

Usage:
  scopegate <command> [flags]

Commands:
  start       Run the coordinator service in foreground
  submit      Submit one command and wait for its terminal state
  watch       Live TUI against a running instance's API
  secret set  Store a secret (value read from stdin)
  version     Show version information
  help        Show this help message

Start flags:
  -config <path>   Path to configuration file (required)

Submit flags:
  -config <path>   Path to configuration file (required)
  -op <op>         Operation: backup | restore | check
  -path <p>        Resource path (repeatable)

Watch flags:
  -api <url>       Base URL of a running instance (default http://127.0.0.1:8080)

Secret flags:
  -config <path>   Path to configuration file (required)
`)
}

// services holds the wired core components shared by start and submit.
type services struct {
	cfg        *config.Config
	pidLock    *lock.PIDLock
	closeDB    func() error
	ledger     *ledger.Ledger
	queue      *queue.Queue
	journal    *journal.Journal
	secrets    *secrets.SQLStore
	metrics    *metrics.Collector
	dispatcher *helper.PooledClient
	coord      *coordinator.Coordinator
}

func (s *services) shutdown() {
	s.coord.Close()
	_ = s.dispatcher.Close()
	_ = s.closeDB()
	_ = s.pidLock.Release()
}

func buildServices(configPath string) (*services, error) {
	if configPath == "" {
		return nil, fmt.Errorf("-config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("scopegate starting", "version", version, "config", configPath)

	lockPath := filepath.Join(filepath.Dir(cfg.State.Path), "scopegate.lock")
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		_ = pidLock.Release()
		return nil, fmt.Errorf("open database: %w", err)
	}

	collector := metrics.NewCollector()

	dispatcher, err := helper.NewPooled(helper.Config{
		Binary:           cfg.Helper.Binary,
		Timeout:          cfg.Helper.Timeout,
		TerminationGrace: cfg.Helper.TerminationGrace,
	}, cfg.Pool.MaxSize, collector)
	if err != nil {
		_ = db.Close()
		_ = pidLock.Release()
		return nil, fmt.Errorf("configure helper: %w", err)
	}

	led := ledger.New(token.NewStore(db), token.NewFSProvider())
	q := queue.New(queue.Config{
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
	})
	jrnl := journal.New(db)

	coord := coordinator.New(led, q, dispatcher, jrnl, collector, coordinator.Config{
		PollInterval: cfg.Queue.PollInterval,
	})

	return &services{
		cfg:        cfg,
		pidLock:    pidLock,
		closeDB:    db.Close,
		ledger:     led,
		queue:      q,
		journal:    jrnl,
		secrets:    secrets.NewSQLStore(db),
		metrics:    collector,
		dispatcher: dispatcher,
		coord:      coord,
	}, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	svc, err := buildServices(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer svc.shutdown()

	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if svc.cfg.API.Enabled {
		apiServer := api.New(
			api.Config{Listen: svc.cfg.API.Listen, APIKey: svc.cfg.API.APIKey},
			svc.queue, svc.ledger, svc.journal, svc.coord,
			svc.metrics, log.WithComponent("api"),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", svc.cfg.API.Listen)
	} else {
		logger.Warn("API server disabled; commands can only arrive via 'scopegate submit'")
	}

	logger.Info("scopegate running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("scopegate stopped")
	return 0
}

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	op := fs.String("op", engine.OpBackup, "Operation to run")
	var paths stringList
	fs.Var(&paths, "path", "Resource path (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "At least one -path is required")
		return 1
	}

	svc, err := buildServices(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer svc.shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	spec := coordinator.CommandSpec{
		Op:   *op,
		Args: paths,
		Env:  map[string]string{},
	}
	if *op == engine.OpCheck {
		// check operates on the repository alone; -path only scopes access.
		spec.Args = nil
	}
	if id := svc.cfg.Engine.PasswordSecretID; id != "" {
		password, err := svc.secrets.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load secret %q: %v\n", id, err)
			return 1
		}
		spec.Env[engine.PasswordEnvVar] = string(password)
	}

	result, err := svc.coord.Submit(ctx, spec, paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command %s failed: %v\n", result.CommandID, err)
		return 1
	}

	out, _ := json.MarshalIndent(map[string]any{
		"command_id": result.CommandID,
		"status":     result.Status,
		"retries":    result.Retries,
	}, "", "  ")
	fmt.Println(string(out))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Base URL of a running instance")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/")))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch TUI failed: %v\n", err)
		return 1
	}
	return 0
}

func runSecret(args []string) int {
	if len(args) < 1 || args[0] != "set" {
		fmt.Fprintln(os.Stderr, "Usage: scopegate secret set -config <path> <id>")
		return 1
	}

	fs := flag.NewFlagSet("secret set", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: scopegate secret set -config <path> <id>")
		return 1
	}
	id := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	fmt.Fprint(os.Stderr, "Value (reads until newline): ")
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read value: %v\n", err)
		return 1
	}
	value = strings.TrimRight(value, "\r\n")

	if err := secrets.NewSQLStore(db).Put(ctx, id, []byte(value)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store secret: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Secret %q stored\n", id)
	return 0
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
