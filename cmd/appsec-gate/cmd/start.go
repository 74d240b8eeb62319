package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/appsec-gate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/appsec-gate/internal/adapter/inbound/httpgw"
	"github.com/Sentinel-Gate/appsec-gate/internal/config"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/clientip"
	"github.com/Sentinel-Gate/appsec-gate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the appsec-gate reverse proxy.

Requests are matched against upstream.targets by longest path prefix and
forwarded after the request-phase rules pass. Upstream responses are held
until the response-phase rules pass.

On Unix, SIGHUP reloads rules and upstream targets from the config file.
Block templates are loaded once at startup.

Examples:
  # Start with config file settings
  appsec-gate start

  # Start with a specific config file
  appsec-gate --config /path/to/config.yaml start

  # Start in development mode (debug logging, monitor-all rule)
  appsec-gate start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, monitor-all rule when no rules are configured)")
	rootCmd.AddCommand(startCmd)
}

// loadConfig reads, defaults and validates the configuration, honoring --dev.
func loadConfig() (*config.Config, error) {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logger := newLogger(os.Stderr, cfg)
	logger.Debug("log level configured", "level", cfg.Server.LogLevel)

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "appsec-gate stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("appsec-gate stopped")
	return nil
}

// newLogger builds the process logger.
// Priority: DevMode=true -> debug, otherwise use configured log_level
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug // DevMode always forces debug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled: debug logging is on, do not use in production")
	}

	// Block templates are loaded exactly once per process.
	var holder blocking.Holder
	if err := holder.Initialize(blocking.Options{
		HTMLTemplatePath: cfg.AppSec.Templates.HTML,
		JSONTemplatePath: cfg.AppSec.Templates.JSON,
		Logger:           logger,
	}); err != nil {
		return err
	}

	ruleList, err := cfg.BuildRules()
	if err != nil {
		return err
	}

	reg := http.NewRegistry()
	metrics := http.NewMetrics(reg)

	ruleService, err := service.NewRuleService(ruleList, logger,
		service.WithCacheSize(cfg.AppSec.DecisionCacheSize),
		service.WithRuleObserver(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	inspection := service.NewInspectionService(ruleService, holder.Service(), logger,
		service.WithClientIPResolver(clientip.NewResolver(cfg.AppSec.ClientIPHeader)),
		service.WithArenaChunkSize(cfg.AppSec.ArenaChunkSize),
		service.WithInspectionObserver(metrics),
	)

	targets, err := buildTargets(cfg.Upstream.Targets)
	if err != nil {
		return err
	}
	proxy := httpgw.NewReverseProxy(logger)
	proxy.SetTargets(targets)
	if len(targets) == 0 {
		logger.Warn("no upstream targets configured, every request will get 404")
	}

	readHeaderTimeout, err := time.ParseDuration(cfg.Server.ReadHeaderTimeout)
	if err != nil {
		return fmt.Errorf("invalid server.read_header_timeout: %w", err)
	}

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithReadHeaderTimeout(readHeaderTimeout),
		http.WithInspector(inspection, cfg.AppSec.MaxDiscardBody),
		http.WithMetrics(reg, metrics),
		http.WithHealthChecker(http.NewHealthChecker(ruleService, &holder, Version)),
	}
	if cfg.Server.TLSCertFile != "" {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	transport := http.NewHTTPTransport(proxy, opts...)

	go watchReload(ctx, ruleService, proxy, logger)

	requestRules, responseRules := ruleService.RuleCount()
	printBanner(os.Stderr, Version, cfg.Server.HTTPAddr, cfg.DevMode, len(targets), requestRules, responseRules)

	return transport.Start(ctx)
}

// buildTargets converts configured upstream targets into proxy targets.
func buildTargets(targets []config.UpstreamTarget) ([]httpgw.UpstreamTarget, error) {
	out := make([]httpgw.UpstreamTarget, 0, len(targets))
	for i, t := range targets {
		var timeout time.Duration
		if t.Timeout != "" {
			d, err := time.ParseDuration(t.Timeout)
			if err != nil {
				return nil, fmt.Errorf("upstream.targets[%d]: invalid timeout %q: %w", i, t.Timeout, err)
			}
			timeout = d
		}
		out = append(out, httpgw.UpstreamTarget{
			Name:        t.Name,
			PathPrefix:  t.PathPrefix,
			Upstream:    t.Upstream,
			StripPrefix: t.StripPrefix,
			Headers:     t.Headers,
			Timeout:     timeout,
		})
	}
	return out, nil
}

// watchReload reloads rules and targets on each reload signal until ctx ends.
func watchReload(ctx context.Context, rules *service.RuleService, proxy *httpgw.ReverseProxy, logger *slog.Logger) {
	sigs := reloadSignals()
	if len(sigs) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := reload(rules, proxy); err != nil {
				logger.Error("reload failed, keeping previous rules", "error", err)
				continue
			}
			req, resp := rules.RuleCount()
			logger.Info("configuration reloaded",
				"request_rules", req,
				"response_rules", resp,
				"targets", len(proxy.Targets()),
			)
		}
	}
}

// reload re-reads the config and swaps rules and targets. Nothing is
// swapped unless the whole config is valid.
func reload(rules *service.RuleService, proxy *httpgw.ReverseProxy) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ruleList, err := cfg.BuildRules()
	if err != nil {
		return err
	}
	targets, err := buildTargets(cfg.Upstream.Targets)
	if err != nil {
		return err
	}
	if err := rules.Reload(ruleList); err != nil {
		return err
	}
	proxy.SetTargets(targets)
	return nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// printBanner prints a formatted startup banner with version, address, mode
// and rule counts.
func printBanner(w io.Writer, version, httpAddr string, devMode bool, targetCount, requestRules, responseRules int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	baseURL := fmt.Sprintf("http://localhost%s", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		baseURL = fmt.Sprintf("http://%s", httpAddr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s appsec-gate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s/\n", "Gateway:", baseURL)
	fmt.Fprintf(w, "  %-14s %s/metrics\n", "Metrics:", baseURL)
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %-14s %d configured\n", "Upstreams:", targetCount)
	fmt.Fprintf(w, "  %-14s %d request / %d response\n", "Rules:", requestRules, responseRules)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
