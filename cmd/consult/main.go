package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chzyer/readline"

	"github.com/parthfloyd/la-hacks/internal/dotenv"
	"github.com/parthfloyd/la-hacks/pkg/config"
	"github.com/parthfloyd/la-hacks/pkg/live/transport"
	"github.com/parthfloyd/la-hacks/pkg/metrics"
)

func parseArgs(args []string, environ map[string]string) (config.Config, error) {
	fs := flag.NewFlagSet("consult", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", environ["CONSULT_CONFIG"], "YAML config file (or CONSULT_CONFIG)")
	model := fs.String("model", "", "live model name")
	endpoint := fs.String("endpoint", "", "backend host or ws(s):// URL")
	apiVersion := fs.String("api-version", "", "backend API version")
	transportName := fs.String("transport", "", "websocket|genai")
	turnTimeout := fs.Duration("turn-timeout", 0, "abandon a reply after this long (0 disables)")
	logLevel := fs.String("log-level", "", "debug|info|warn|error")
	logFormat := fs.String("log-format", "", "text|json")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := config.Load(*configPath, environ)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model = *model
		case "endpoint":
			cfg.Endpoint = *endpoint
		case "api-version":
			cfg.APIVersion = *apiVersion
		case "transport":
			cfg.Transport = *transportName
		case "turn-timeout":
			cfg.TurnTimeout = *turnTimeout
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newDialer(cfg config.Config, logger *slog.Logger) transport.Dialer {
	if cfg.Transport == config.TransportGenai {
		return &transport.GenaiDialer{SetupTimeout: cfg.SetupTimeout, Logger: logger}
	}
	return &transport.WebsocketDialer{
		HandshakeTimeout: cfg.DialTimeout,
		SetupTimeout:     cfg.SetupTimeout,
		PingInterval:     cfg.PingInterval,
		Logger:           logger,
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func run(ctx context.Context, cfg config.Config, stdin io.ReadCloser, stdout, stderr io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		Stdin:           stdin,
		Stdout:          stdout,
		Stderr:          stderr,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("init prompt: %w", err)
	}
	defer rl.Close()

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat, rl.Stderr())
	slog.SetDefault(logger)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		defer serveMetrics(cfg.MetricsAddr, m, logger)()
	}

	a, err := newApp(cfg, deps{
		dialer:  newDialer(cfg, logger),
		metrics: m,
		logger:  logger,
		out:     rl.Stdout(),
	})
	if err != nil {
		return err
	}
	defer a.close()

	a.start(ctx)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if quit := a.handle(ctx, line); quit {
			return nil
		}
	}
}

func main() {
	if _, err := dotenv.LoadFiles(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "consult: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseArgs(os.Args[1:], env.ToMap(os.Environ()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "consult: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "consult: %v\n", err)
		os.Exit(1)
	}
}
