package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aatn/firegate/internal/config"
	"github.com/aatn/firegate/internal/credwatch"
	"github.com/aatn/firegate/internal/fireconn"
	"github.com/aatn/firegate/internal/history"
	"github.com/aatn/firegate/internal/logging"
	"github.com/aatn/firegate/internal/monitor"
	"github.com/aatn/firegate/internal/notify"
	"github.com/aatn/firegate/internal/web"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	port        int
	bind        string
	allowSubnet string
	dbPath      string
	logFile     string
	verbosity   int
	interval    time.Duration
	retention   time.Duration
	webhookURL  string

	// Timeout flags (advanced)
	connectTimeout time.Duration
	probeTimeout   time.Duration
	httpTimeout    time.Duration
	websocketPing  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "firegate",
		Short: "Firegate - Firestore connection gateway",
		Long:  `Firegate owns the Firestore client handle for a deployment, self-heals a missing handle, and reports connection health over HTTP, websocket, and scheduled probes.`,
		RunE:  run,
	}

	// Flags
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (required, or set PORT env var)")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	rootCmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	rootCmd.Flags().StringVarP(&dbPath, "db", "d", "./firegate.db", "Health history SQLite database path (or set DB_PATH env var)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Rotating log file path (console only when empty)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	rootCmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Interval between scheduled health probes")
	rootCmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour, "How long to keep health probe history (0 disables pruning)")
	rootCmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook URL notified on health status transitions")

	// Advanced timeout flags
	rootCmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "Timeout for establishing the Firestore handle")
	rootCmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 15*time.Second, "Timeout for a single health probe")
	rootCmd.Flags().DurationVar(&httpTimeout, "http-timeout", 30*time.Second, "Timeout for outbound HTTP requests")
	rootCmd.Flags().DurationVar(&websocketPing, "websocket-ping", 30*time.Second, "Interval between WebSocket keepalive pings")

	// Check command
	checkCmd := &cobra.Command{
		Use:          "check",
		Short:        "Run a one-shot health probe and print the result",
		SilenceUsage: true,
		RunE:         check,
	}
	checkCmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 15*time.Second, "Timeout for the health probe")
	rootCmd.AddCommand(checkCmd)

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("firegate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Check for PORT env var if flag not set
	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
				return fmt.Errorf("invalid PORT environment variable %q: %w", envPort, err)
			}
		}
	}

	// Check for DB_PATH env var if using default
	if dbPath == "./firegate.db" {
		if envDB := os.Getenv("DB_PATH"); envDB != "" {
			dbPath = envDB
		}
	}

	// Validate port
	if port == 0 {
		return fmt.Errorf("--port flag or PORT environment variable is required")
	}

	// Validate bind address if provided
	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	// Validate and parse allow-subnet if provided
	var allowedNet *net.IPNet
	if allowSubnet != "" {
		_, parsedNet, err := net.ParseCIDR(allowSubnet)
		if err != nil {
			return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
		}
		allowedNet = parsedNet
	}

	// Setup logging
	logging.Apply(verbosity, logFile)

	// Configure global timeouts
	config.SetGlobalTimeouts(&config.TimeoutConfig{
		Connect:       connectTimeout,
		HealthProbe:   probeTimeout,
		HTTPClient:    httpTimeout,
		WebSocketPing: websocketPing,
	})

	// Warn if binding to all interfaces without an allow list
	if (bind == "" || bind == "0.0.0.0" || bind == "::") && allowSubnet == "" {
		log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider using --bind or --allow-subnet for security.")
	}

	// Load Firebase configuration from environment
	fbConfig, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load Firebase configuration")
	}

	log.Info().
		Str("version", version).
		Int("port", port).
		Str("bind", bind).
		Str("allow_subnet", allowSubnet).
		Str("database", dbPath).
		Str("project_id", fbConfig.ProjectID).
		Msg("Starting Firegate")

	// Establish the Firestore handle; the manager owns it for the process lifetime
	manager := fireconn.New(fbConfig)
	if err := manager.Initialize(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Firestore connection")
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing Firestore handle during shutdown (ignored)")
		}
	}()

	// Open health history store
	store, err := history.New(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open health history database")
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run history database migrations")
	}

	// Start scheduled health probes
	webhook := notify.NewWebhook(notify.WebhookConfig{URL: webhookURL})
	mon := monitor.New(manager, store, webhook, monitor.Config{
		Interval:  interval,
		Retention: retention,
	})
	if err := mon.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start health monitor")
	}
	defer mon.Stop()

	// Watch the credentials file for rotation
	watcher := credwatch.New(manager, fbConfig.CredentialsPath)
	if started, err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start credentials watcher")
	} else if !started {
		log.Debug().Msg("Credentials watcher not started (no credentials path configured)")
	} else {
		defer watcher.Stop()
	}

	// Create web server with bind address and allowed subnet
	server := web.NewServer(manager, mon, store, port, bind, allowedNet)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Firegate stopped")
	return nil
}

func check(cmd *cobra.Command, args []string) error {
	logging.Apply(verbosity, "")

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		Connect:       connectTimeout,
		HealthProbe:   probeTimeout,
		HTTPClient:    httpTimeout,
		WebSocketPing: websocketPing,
	})

	fbConfig, err := config.FromEnv()
	if err != nil {
		return err
	}

	manager := fireconn.New(fbConfig)
	defer func() {
		if err := manager.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing Firestore handle (ignored)")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	res := manager.HealthCheck(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}

	if !res.Healthy() {
		os.Exit(1)
	}
	return nil
}
