package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"heartbridge/internal/adapter/alert"
	"heartbridge/internal/adapter/sink"
	"heartbridge/internal/adapter/source"
	"heartbridge/internal/adapter/tui"
	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
	"heartbridge/internal/infra/logger"
	"heartbridge/internal/infra/tracer"
	"heartbridge/internal/usecase/alerting"
	"heartbridge/internal/usecase/dispatcher"
	"heartbridge/internal/usecase/eventbus"
	"heartbridge/internal/usecase/history"
)

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt-key":
		if err := runEncrypt(); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "history":
		if err := runHistory(); err != nil {
			fmt.Fprintf(os.Stderr, "history: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'heartbridge --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`heartbridge - Heart rate bridge for Discord and VRChat

USAGE:
    heartbridge [COMMAND] [FLAGS]

COMMANDS:
    doctor      Check config, source reachability, and sink targets
    encrypt-key Encrypt a secret for use as an "enc:" config value
    history     Show recent readings and session stats

    (no command) - Run the bridge with existing config

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)
    --headless         Run without the dashboard (log output only)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: HEARTBRIDGE_* variables override config
    Secrets:     HEARTBRIDGE_CONFIG_KEY decrypts "enc:" values

EXAMPLES:
    heartbridge                          # Run with config.yaml
    heartbridge --config ~/hb.yaml       # Run with custom config
    heartbridge --headless               # Run without the dashboard
    heartbridge encrypt-key              # Encrypt a Pulsoid token
    heartbridge doctor                   # Check setup health`)
}

type cliFlags struct {
	configPath string
	headless   bool
}

func parseFlags(args []string) cliFlags {
	flags := cliFlags{configPath: "config.yaml"}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				flags.configPath = args[i+1]
				i++
			}
		case "--headless":
			flags.headless = true
		}
	}
	return flags
}

func run() error {
	flags := parseFlags(os.Args[1:])

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	bus := eventbus.New(log)
	defer bus.Close()

	src, err := source.New(cfg.Source, log)
	if err != nil {
		return err
	}

	sinks := sink.Build(cfg.Sinks, log)
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				log.Warn("sink close", "sink", s.Name(), "error", err)
			}
		}
	}()
	if len(sinks) == 0 {
		log.Warn("no sinks enabled, readings will only be logged")
	}

	opts := []dispatcher.Option{
		dispatcher.WithBus(bus),
		dispatcher.WithBackoff(dispatcher.Backoff{
			Initial: cfg.Source.Backoff.Initial,
			Max:     cfg.Source.Backoff.Max,
		}),
	}

	if cfg.History.Enabled {
		store, err := history.New(cfg.History.Path, cfg.History.RetentionDays, cfg.History.PruneSchedule, log)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, dispatcher.WithRecorder(store))
	}

	if cfg.Alerts.Enabled {
		notifiers, err := buildNotifiers(cfg.Alerts, log)
		if err != nil {
			return err
		}
		alerter := alerting.New(cfg.Alerts.Threshold, cfg.Alerts.Cooldown, notifiers, bus, log)
		defer alerter.Close()
		opts = append(opts, dispatcher.WithAlerter(alerter))
	}

	disp := dispatcher.New(src, sinks, log, opts...)

	runErr := make(chan error, 1)
	go func() {
		runErr <- disp.Run(ctx)
	}()

	if flags.headless || !term.IsTerminal(int(os.Stdout.Fd())) {
		log.Info("running headless", "source", src.Name(), "sinks", len(sinks))
		<-ctx.Done()
		disp.Stop()
		return <-runErr
	}

	if err := runDashboard(disp, bus, sinks); err != nil {
		stop()
		disp.Stop()
		<-runErr
		return err
	}

	stop()
	disp.Stop()
	return <-runErr
}

func runDashboard(disp *dispatcher.Dispatcher, bus domain.EventBus, sinks []domain.Sink) error {
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}

	model := tui.NewModel(tui.Deps{
		Bus:    bus,
		Latest: disp.Latest,
		State:  disp.State,
		Sinks:  names,
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	model.Subscribe(program.Send)

	_, err := program.Run()
	return err
}

func buildNotifiers(cfg config.AlertsConfig, log *slog.Logger) ([]domain.Notifier, error) {
	var notifiers []domain.Notifier
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.WebhookURL, log))
	}
	if cfg.Discord != nil {
		n, err := alert.NewDiscordNotifier(*cfg.Discord, log)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}

// runDoctor checks the local setup without starting the pipeline.
func runDoctor() error {
	flags := parseFlags(os.Args[2:])

	fmt.Println("heartbridge doctor")
	fmt.Println()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Printf("  ✗ config: %v\n", err)
		return fmt.Errorf("config check failed")
	}
	fmt.Printf("  ✓ config: %s (source=%s)\n", flags.configPath, cfg.Source.Type)

	healthy := true

	switch cfg.Source.Type {
	case config.SourcePulsoid:
		log := slog.New(slog.DiscardHandler)
		src := source.NewPulsoid(cfg.Source.Pulsoid, log)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := src.Connect(ctx); err != nil {
			fmt.Printf("  ✗ pulsoid: %v\n", err)
			healthy = false
		} else {
			src.Close()
			fmt.Println("  ✓ pulsoid: token valid, stream reachable")
		}
	case config.SourceBluetooth:
		fmt.Println("  - bluetooth: checked at runtime (scan on start)")
	}

	if cfg.Sinks.Discord.Enabled {
		fmt.Printf("  ✓ discord sink: client_id=%s (presence connects on first reading)\n", cfg.Sinks.Discord.ClientID)
	}
	if cfg.Sinks.VRChat.Enabled {
		fmt.Printf("  ✓ vrchat sink: %s:%d (UDP, fire and forget)\n", cfg.Sinks.VRChat.Host, cfg.Sinks.VRChat.Port)
	}
	if cfg.History.Enabled {
		fmt.Printf("  ✓ history: %s (retention %dd)\n", cfg.History.Path, cfg.History.RetentionDays)
	}

	if !healthy {
		return fmt.Errorf("one or more checks failed")
	}
	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}

// runEncrypt reads a secret from stdin and prints the "enc:" config value.
func runEncrypt() error {
	passphrase := os.Getenv("HEARTBRIDGE_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("HEARTBRIDGE_CONFIG_KEY must be set")
	}

	fmt.Fprint(os.Stderr, "Secret: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	if len(secret) == 0 {
		return fmt.Errorf("empty secret")
	}

	encrypted, err := config.EncryptValue(string(secret), passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + encrypted)
	return nil
}

// runHistory prints recent readings and 24h stats from the history store.
func runHistory() error {
	flags := parseFlags(os.Args[2:])

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in config")
	}

	log := slog.New(slog.DiscardHandler)
	store, err := history.New(cfg.History.Path, cfg.History.RetentionDays, "", log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := store.Stats(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	fmt.Printf("Last 24h: %d readings", stats.Count)
	if stats.Count > 0 {
		fmt.Printf(", min %d / avg %.0f / max %d BPM", stats.MinBPM, stats.AvgBPM, stats.MaxBPM)
	}
	fmt.Println()

	records, err := store.Recent(ctx, 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No readings recorded yet.")
		return nil
	}
	fmt.Println()
	for _, r := range records {
		fmt.Printf("  %s  %3d BPM\n", r.CapturedAt.Local().Format("2006-01-02 15:04:05"), r.BPM)
	}
	return nil
}
