package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rathix/devserver/internal/certs"
	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/hmr"
	"github.com/rathix/devserver/internal/metrics"
	"github.com/rathix/devserver/internal/plugin"
	"github.com/rathix/devserver/internal/proxy"
	"github.com/rathix/devserver/internal/server"
)

const defaultConfigFile = "devserver.yaml"

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// envFiles are loaded in order; variables already set are never overridden,
// so earlier files win.
var envFiles = []string{".env.local", ".env"}

// options holds the command-line settings layered over the config file.
type options struct {
	ShowVersion bool
	PrintConfig bool
	ConfigFile  string
	Host        string
	Port        int
	LogFormat   string
	LogLevel    slog.Level
}

func main() {
	// Quick check for version flag before full config loading
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("devserver version %s\n", Version)
			return
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFiles loads each existing dotenv file into the process environment.
func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// loadOptions parses flags and environment variables with precedence:
// Flag > Env > Config file > Default.
func loadOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("devserver", flag.ContinueOnError)

	opts := options{}
	fs.BoolVar(&opts.ShowVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.PrintConfig, "print-config", false, "print the effective config as YAML and exit")
	fs.StringVar(&opts.ConfigFile, "config", getEnv("DEVSERVER_CONFIG", defaultConfigFile), "path to YAML config file")
	fs.StringVar(&opts.Host, "host", getEnv("DEVSERVER_HOST", ""), "override server.host")
	fs.IntVar(&opts.Port, "port", getEnvInt("DEVSERVER_PORT", 0), "override server.port")
	fs.StringVar(&opts.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")

	levelStr := getEnv("LOG_LEVEL", "info")
	fs.StringVar(&levelStr, "log-level", levelStr, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.LogFormat != "json" && opts.LogFormat != "text" {
		return options{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", opts.LogFormat)
	}
	if err := opts.LogLevel.UnmarshalText([]byte(levelStr)); err != nil {
		return options{}, fmt.Errorf("invalid log level %q: %w", levelStr, err)
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return options{}, fmt.Errorf("port must be between 1 and 65535, got %d", opts.Port)
	}

	return opts, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			slog.Warn("ignoring invalid integer environment variable", "key", key, "value", value, "error", err)
			return fallback
		}
		return n
	}
	return fallback
}

func setupLogger(format string, level slog.Level) *slog.Logger {
	return setupLoggerWithWriter(format, level, os.Stdout)
}

func setupLoggerWithWriter(format string, level slog.Level, writer io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	}
	return slog.New(handler)
}

// loadServerConfig reads the config file and layers flag/env overrides on top.
func loadServerConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if err := cfg.Validate(); err != nil {
		var le *config.LoadError
		if errors.As(err, &le) {
			le.Path = opts.ConfigFile
		}
		return nil, err
	}
	return cfg, nil
}

// run starts the dev server and handles graceful shutdown.
func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := loadServerConfig(opts)
	if err != nil {
		return err
	}
	if opts.PrintConfig {
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	logger := setupLoggerWithWriter(opts.LogFormat, opts.LogLevel, stdout)
	slog.SetDefault(logger)
	slog.Info("Starting devserver", "version", Version, "plugins", strings.Join(cfg.Plugins, ","))

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root %q: %w", cfg.Root, err)
	}
	cacheDir := cfg.CacheDir
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(root, cacheDir)
	}

	plugins, err := plugin.Resolve(cfg.Plugins)
	if err != nil {
		return fmt.Errorf("failed to resolve plugins: %w", err)
	}

	reg := metrics.New()

	router, err := proxy.NewRouter(cfg.Server.Proxy, proxy.WithLogger(logger), proxy.WithRecorder(reg))
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	for _, rule := range router.Rules() {
		slog.Info("Proxy rule", "prefix", rule.Prefix, "target", rule.Target.String(), "ws", rule.WS)
	}

	hub := hmr.NewHub(logger, hmr.WithMetrics(reg))
	clientHandler, err := hmr.NewClientHandler(clientConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create hmr client: %w", err)
	}

	// The live-reload client goes first so it loads before framework preambles.
	transform := append(plugin.Pipeline{plugin.Static{
		PluginName: "devserver:client",
		Tags:       []string{hmr.ClientTag()},
	}}, plugins...)
	deny := append([]string{filepath.Base(cacheDir)}, server.DefaultDeny...)
	static := server.NewStaticHandler(os.DirFS(root), transform, logger, deny...)

	var tlsConfig *tls.Config
	if cfg.Server.HTTPS {
		assets, err := certs.LoadOrGenerate(cacheDir, certs.DevHosts(cfg.Server.Host, cfg.Server.HMR.Host))
		if err != nil {
			return fmt.Errorf("failed to load certificates: %w", err)
		}
		if assets.Generated {
			slog.Info("Generated self-signed development certificate", "cert", assets.CertPath, "hosts", assets.Hosts)
		} else {
			slog.Info("Using existing development certificate", "cert", assets.CertPath)
		}
		tlsConfig, err = certs.TLSConfig(assets)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	ln, err := server.Listen(cfg.Server.Host, cfg.Server.Port, cfg.Server.StrictPortEnabled())
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		Proxy:   router,
		HMR:     hub,
		Client:  clientHandler,
		Metrics: reg.Handler(),
		Static:  static,
		TLS:     tlsConfig,
		Logger:  logger,
	})

	watcherCtx, watcherCancel := context.WithCancel(ctx)
	defer watcherCancel()
	watcher := hmr.NewWatcher(root, func(paths []string) {
		msg := hmr.MessageForChanges(root, cfg.Base, paths, time.Now())
		if _, err := hub.Broadcast(watcherCtx, msg); err != nil {
			slog.Warn("hmr broadcast failed", "error", err)
		}
	}, logger, hmr.WithIgnore(filepath.Base(cacheDir)))
	go func() {
		if err := watcher.Run(watcherCtx); err != nil && watcherCtx.Err() == nil {
			slog.Warn("file watcher stopped with error", "error", err)
		}
	}()

	slog.Info("Listening",
		"url", server.LocalURL(tlsConfig != nil, ln.Addr(), cfg.Server.Host, cfg.Base),
		"root", root,
	)
	return srv.Serve(ctx, ln)
}

// clientConfig derives what browsers are told about the live-reload socket.
func clientConfig(cfg *config.Config) hmr.ClientConfig {
	protocol := cfg.Server.HMR.Protocol
	if protocol == "" && cfg.Server.HTTPS {
		protocol = "wss"
	}
	return hmr.ClientConfig{
		Host:     cfg.Server.HMR.Host,
		Port:     cfg.Server.HMR.ClientPort,
		Path:     cfg.Server.HMR.Path,
		Protocol: protocol,
	}
}
