package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fleetd-io/fleetd/server/internal/api"
	"github.com/fleetd-io/fleetd/server/internal/auth"
	fleetdconfig "github.com/fleetd-io/fleetd/server/internal/config"
	"github.com/fleetd-io/fleetd/server/internal/db"
	grpcserver "github.com/fleetd-io/fleetd/server/internal/grpc"
	"github.com/fleetd-io/fleetd/server/internal/job"
	"github.com/fleetd-io/fleetd/server/internal/monitor"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/server/internal/notify"
	"github.com/fleetd-io/fleetd/server/internal/proxy"
	"github.com/fleetd-io/fleetd/server/internal/reaper"
	"github.com/fleetd-io/fleetd/server/internal/repositories"
	"github.com/fleetd-io/fleetd/server/internal/websocket"
	"github.com/fleetd-io/fleetd/shared/types"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr          string
	grpcAddr          string
	dbDriver          string
	dbDSN             string
	secretKey         string
	logLevel          string
	dataDir           string
	sharedSecret      string
	secureCookies     bool
	allowedNodeNames  []string
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	reaperInterval    time.Duration
}

// defaultHeartbeatInterval must agree with peer.DefaultHeartbeatInterval on
// the agent side — the two are configured independently since the agent and
// controller are separate processes (and, in this monorepo, separate Go
// modules), but offline detection only lands in the spec's [2H,3H] window
// if both sides agree on H.
const defaultHeartbeatInterval = 2 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}
	var allowedNodesFlag string

	root := &cobra.Command{
		Use:   "fleetd-controller",
		Short: "fleetd controller — central fleet management server",
		Long: `fleetd controller is the central component of the fleetd fleet system.
It exposes a REST API for the web GUI, a gRPC server that agents connect to,
and owns the Node registry, Job engine, and heartbeat reaper.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.allowedNodeNames = splitCSV(allowedNodesFlag)
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	// file holds the merged /etc/fleetd/fleetd.conf + fleetd.conf.d/*.conf
	// layer; missing files just yield an empty map, so every option still
	// falls through to its env var or hardcoded default below.
	file, err := fleetdconfig.Load(fleetdconfig.DefaultFile, fleetdconfig.DefaultConfDir)
	if err != nil {
		file = fleetdconfig.Values{}
	}

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", fleetdconfig.Resolve(file, "ListenAddr", "FLEETD_HTTP_ADDR", ":8080"), "HTTP API and GUI listen address")
	root.PersistentFlags().StringVar(&cfg.grpcAddr, "grpc-addr", fleetdconfig.Resolve(file, "GRPCAddr", "FLEETD_GRPC_ADDR", ":9090"), "gRPC server listen address for agents")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", fleetdconfig.Resolve(file, "DBDriver", "FLEETD_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", fleetdconfig.Resolve(file, "DBDSN", "FLEETD_DB_DSN", "./fleetd.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", fleetdconfig.Resolve(file, "SecretKey", "FLEETD_SECRET_KEY", ""), "Master secret key for encrypting credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", fleetdconfig.Resolve(file, "LogLevel", "FLEETD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", fleetdconfig.Resolve(file, "DataDir", "FLEETD_DATA_DIR", "./data"), "Directory for server data (RSA keys, etc.)")
	root.PersistentFlags().StringVar(&cfg.sharedSecret, "shared-secret", fleetdconfig.Resolve(file, "SharedSecret", "FLEETD_SHARED_SECRET", ""), "Shared secret for gRPC agent authentication (empty = disabled, dev only)")
	root.PersistentFlags().BoolVar(&cfg.secureCookies, "secure-cookies", fleetdconfig.Resolve(file, "SecureCookies", "FLEETD_SECURE_COOKIES", "false") == "true", "Set Secure flag on auth cookies (enable in production over HTTPS)")
	root.PersistentFlags().StringVar(&allowedNodesFlag, "allowed-nodes", fleetdconfig.Resolve(file, "AllowedNodeNames", "FLEETD_ALLOWED_NODES", ""), "Comma-separated allow-list of node names (empty = accept any name)")
	root.PersistentFlags().DurationVar(&cfg.heartbeatInterval, "heartbeat-interval", resolveDuration(file, "HeartbeatInterval", "FLEETD_HEARTBEAT_INTERVAL", defaultHeartbeatInterval), "Expected Agent heartbeat cadence H — must match the agents' --heartbeat-interval; only used to derive the defaults of --heartbeat-timeout and --reaper-interval")
	root.PersistentFlags().DurationVar(&cfg.heartbeatTimeout, "heartbeat-timeout", resolveDuration(file, "HeartbeatTimeout", "FLEETD_HEARTBEAT_TIMEOUT", 2*cfg.heartbeatInterval), "Heartbeat staleness window before a node is marked offline (spec window is [2H,3H] for heartbeat interval H)")
	root.PersistentFlags().DurationVar(&cfg.reaperInterval, "reaper-interval", resolveDuration(file, "ReaperInterval", "FLEETD_REAPER_INTERVAL", cfg.heartbeatInterval), "How often the heartbeat reaper sweeps the Node registry")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetd-controller %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or FLEETD_SECRET_KEY")
	}

	logger.Info("starting fleetd controller",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("grpc_addr", cfg.grpcAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must be called before opening the database so that
	// EncryptedString fields can encrypt/decrypt transparently on read/write.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	userRepo := repositories.NewUserRepository(gormDB)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(gormDB)
	nodeRepo := repositories.NewNodeRepository(gormDB)
	jobRepo := repositories.NewJobRepository(gormDB)
	notificationRepo := repositories.NewNotificationRepository(gormDB)
	oidcProviderRepo := repositories.NewOIDCProviderRepository(gormDB)
	settingsRepo := repositories.NewSettingsRepository(gormDB)

	// --- 4. Auth ---
	// In development (no data dir or missing key files), ephemeral keys are
	// generated in memory. In production, persistent PEM files are used so
	// tokens survive server restarts.
	jwtManager, err := buildJWTManager(cfg.dataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	localProvider := auth.NewLocalAuthProvider(userRepo, refreshTokenRepo, jwtManager)
	oidcProvider := auth.NewOIDCAuthProvider(oidcProviderRepo, userRepo, refreshTokenRepo, jwtManager)
	authService := auth.NewAuthService(localProvider, oidcProvider, refreshTokenRepo, jwtManager)

	// --- 5. WebSocket hub ---
	hub := websocket.NewHub()
	go hub.Run(ctx)

	// --- 6. Notification service ---
	notifyService := notify.NewService(notify.Config{
		NotifRepo:    notificationRepo,
		UserRepo:     userRepo,
		SettingsRepo: settingsRepo,
		Hub:          hub,
		Logger:       logger,
	})

	// --- 7. Node registry ---
	registry := node.New(node.Config{
		AllowedNodeNames: cfg.allowedNodeNames,
		Logger:           logger,
	})

	// --- 8. Job, monitor and proxy engines ---
	jobs := job.New(job.Config{Registry: registry, Logger: logger})
	monitors := monitor.New(logger)
	proxies := proxy.New(proxy.Config{Registry: registry, Logger: logger})

	// jobIndex correlates job.Engine's in-memory uint32 job ids with the
	// uuid.UUID primary key of the JobHistoryRecord row created at
	// submission, so the completion hook below can update the same row
	// rather than creating a second one.
	jobIndex := newJobIndex()

	jobs.OnNew(func(id uint32, objectPath string) {
		snap, ok := jobs.Get(id)
		if !ok {
			return
		}
		rec := &db.JobHistoryRecord{
			NodeName:    snap.NodeName,
			JobType:     string(snap.JobType),
			Unit:        snap.Unit,
			Mode:        snap.Mode,
			State:       string(types.JobStateWaiting),
			SubmittedAt: time.Now().UTC(),
		}
		if err := jobRepo.Create(context.Background(), rec); err != nil {
			logger.Error("failed to persist new job", zap.Uint32("job_id", id), zap.Error(err))
			return
		}
		jobIndex.put(id, rec.ID, snap.NodeName, string(snap.JobType), snap.Unit)
	})

	jobs.OnStart(func(snap job.Snapshot) {
		entry, ok := jobIndex.get(snap.ID)
		if !ok {
			return
		}
		ctx := context.Background()
		if err := jobRepo.UpdateState(ctx, entry.recordID, string(types.JobStateRunning), "", "", snap.StartedAt, nil); err != nil {
			logger.Error("failed to update job history on start", zap.Uint32("job_id", snap.ID), zap.Error(err))
		}
	})

	jobs.OnRemoved(func(snap job.Snapshot, result types.JobResult) {
		entry, ok := jobIndex.take(snap.ID)
		if !ok {
			return
		}
		ctx := context.Background()
		now := time.Now().UTC()
		if err := jobRepo.UpdateState(ctx, entry.recordID, string(snap.State), string(result), "", snap.StartedAt, &now); err != nil {
			logger.Error("failed to update job history on completion", zap.Uint32("job_id", snap.ID), zap.Error(err))
		}

		switch result {
		case types.JobResultDone:
			if err := notifyService.NotifyJobDone(ctx, entry.recordID, entry.nodeName, entry.jobType, entry.unit); err != nil {
				logger.Warn("job-done notification failed", zap.Error(err))
			}
		case types.JobResultFailed:
			if err := notifyService.NotifyJobFailed(ctx, entry.recordID, entry.nodeName, entry.jobType, entry.unit, string(result)); err != nil {
				logger.Warn("job-failed notification failed", zap.Error(err))
			}
		case types.JobResultCanceled:
			// No dedicated notification — cancellation is caller-initiated,
			// not an unexpected outcome worth paging an operator about.
		}
	})

	registry.OnStatusChange(func(nodeName string, status types.NodeStatus) {
		ctx := context.Background()
		if err := nodeRepo.UpdateStatus(ctx, nodeName, string(status), "", time.Now().UTC()); err != nil {
			logger.Warn("failed to persist node status change", zap.String("node", nodeName), zap.Error(err))
		}

		topic := "node:" + nodeName
		hub.Publish(topic, websocket.Message{
			Type:    websocket.MsgNodeStatus,
			Topic:   topic,
			Payload: map[string]any{"node": nodeName, "status": string(status)},
		})

		proxies.NotifyNodeStatus(nodeName, status)

		switch status {
		case types.NodeStatusOnline:
			if err := notifyService.NotifyNodeOnline(ctx, nodeName); err != nil {
				logger.Warn("node-online notification failed", zap.Error(err))
			}
		case types.NodeStatusOffline:
			jobs.CancelForNode(nodeName)
			monitors.InvalidateNode(nodeName)
			if err := notifyService.NotifyNodeOffline(ctx, nodeName); err != nil {
				logger.Warn("node-offline notification failed", zap.Error(err))
			}
		}
	})

	// --- 9. Heartbeat reaper ---
	reap, err := reaper.New(reaper.Config{
		Registry: registry,
		Timeout:  cfg.heartbeatTimeout,
		Interval: cfg.reaperInterval,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create heartbeat reaper: %w", err)
	}
	if err := reap.Start(cfg.reaperInterval); err != nil {
		return fmt.Errorf("failed to start heartbeat reaper: %w", err)
	}
	defer func() {
		if err := reap.Stop(); err != nil {
			logger.Warn("reaper shutdown error", zap.Error(err))
		}
	}()

	// --- 10. gRPC server (agent-facing) ---
	grpcSrv := grpcserver.New(
		grpcserver.Config{
			ListenAddr:   cfg.grpcAddr,
			SharedSecret: cfg.sharedSecret,
		},
		registry,
		jobs,
		proxies,
		monitors,
		logger,
	)

	go func() {
		if err := grpcSrv.ListenAndServe(ctx, cfg.grpcAddr); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
			cancel()
		}
	}()

	// --- 11. HTTP server (REST API + GUI) ---
	router := api.NewRouter(api.RouterConfig{
		AuthService:   authService,
		Registry:      registry,
		JobEngine:     jobs,
		Monitors:      monitors,
		Hub:           hub,
		Logger:        logger,
		Users:         userRepo,
		Jobs:          jobRepo,
		Notifications: notificationRepo,
		OIDCProviders: oidcProviderRepo,
		Secure:        cfg.secureCookies,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down fleetd controller")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("fleetd controller stopped")
	return nil
}

// jobIndex correlates job.Engine's in-memory uint32 job ids with the
// JobHistoryRecord row created for them at submission time, so the
// completion hook can update the same row instead of creating a second one.
// An entry is removed as soon as its job's completion is processed,
// mirroring the engine's own byID lifecycle.
type jobIndex struct {
	mu      sync.Mutex
	entries map[uint32]jobIndexEntry
}

type jobIndexEntry struct {
	recordID uuid.UUID
	nodeName string
	jobType  string
	unit     string
}

func newJobIndex() *jobIndex {
	return &jobIndex{entries: make(map[uint32]jobIndexEntry)}
}

func (i *jobIndex) put(id uint32, recordID uuid.UUID, nodeName, jobType, unit string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries[id] = jobIndexEntry{recordID: recordID, nodeName: nodeName, jobType: jobType, unit: unit}
}

func (i *jobIndex) take(id uint32) (jobIndexEntry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.entries[id]
	if ok {
		delete(i.entries, id)
	}
	return e, ok
}

// get looks up id without removing it, used by the OnStart hook which
// fires well before the job's eventual OnRemoved/take.
func (i *jobIndex) get(id uint32) (jobIndexEntry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.entries[id]
	return e, ok
}

// buildJWTManager loads RSA keys from the data directory if available,
// or generates ephemeral in-memory keys for development.
func buildJWTManager(dataDir string, logger *zap.Logger) (*auth.JWTManager, error) {
	privPath := filepath.Join(dataDir, "jwt_private.pem")
	pubPath := filepath.Join(dataDir, "jwt_public.pem")

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading JWT keys from disk", zap.String("private", privPath))
		return auth.NewJWTManagerFromFiles(privPath, pubPath, "fleetd-controller")
	}

	logger.Warn("JWT key files not found — using ephemeral in-memory keys (tokens will be invalidated on restart)",
		zap.String("expected_private", privPath),
	)
	return auth.NewJWTManagerGenerated("fleetd-controller")
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

// resolveDuration applies the file/env precedence chain like fleetdconfig.Resolve,
// then parses the result as a duration. config stays string-only and generic, so
// duration parsing lives here instead, next to the only two flags that need it.
func resolveDuration(file fleetdconfig.Values, fileKey, envKey string, defaultVal time.Duration) time.Duration {
	resolved := fleetdconfig.Resolve(file, fileKey, envKey, defaultVal.String())
	d, err := time.ParseDuration(resolved)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
