package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NudgeAgent/internal/auth"
	"NudgeAgent/internal/backend"
	"NudgeAgent/internal/config"
	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/events"
	"NudgeAgent/internal/httpapi"
	"NudgeAgent/internal/metrics"
	"NudgeAgent/internal/notifications"
	"NudgeAgent/internal/push"
	"NudgeAgent/internal/service"
	"NudgeAgent/internal/store/memory"
	"NudgeAgent/internal/store/postgres"
	redisstore "NudgeAgent/internal/store/redis"

	"golang.org/x/time/rate"
)

const hubHistory = 512

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("agent stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var sealer service.TokenSealer
	if cfg.StoreSecret != "" {
		s, err := auth.NewSealer(cfg.StoreSecret)
		if err != nil {
			return err
		}
		sealer = s
	} else {
		logger.Warn("APP_STORE_SECRET not set: session token stored unsealed")
	}

	session := &auth.Session{}
	client := backend.New(cfg.BackendURL.String(), cfg.BackendTimeout, session)
	client.Logger = logger
	if cfg.BackendAudience != "" {
		ts, err := auth.NewGoogleIDTokenSource(ctx, cfg.BackendAudience, cfg.GoogleCredentials)
		if err != nil {
			return err
		}
		client.IDTokens = ts
	}

	m := metrics.New()
	hub := events.NewHub(hubHistory)
	queue := dialog.NewQueue(func(snap dialog.Snapshot) {
		depth := len(snap.Waiting)
		if snap.Active != nil {
			depth++
		}
		m.SetDialogDepth(depth)
		hub.Publish(events.TopicDialogChanged, snap)
	})

	var forward notifications.Presenter
	if cfg.FCMProjectID != "" {
		fcm, err := notifications.NewFCMPresenter(ctx, cfg.FCMProjectID, cfg.GoogleCredentials, cfg.FCMDeviceToken)
		if err != nil {
			return err
		}
		forward = fcm
		logger.Info("fcm forwarding enabled", "project", cfg.FCMProjectID)
	}
	presenter := notifications.NewHubPresenter(hub, forward, logger)
	device := notifications.NewReportedDevice(hub)

	repo := &service.Repository{
		Friends:  st.friends,
		Pending:  st.pending,
		Cached:   st.cached,
		Messages: st.messages,
		Jobs:     st.jobs,
		Prefs:    st.prefs,
		Wiper:    st.wiper,
		Backend:  client,
		Session:  session,
		Sealer:   sealer,
		Dialog:   queue,
		Hub:      hub,
		Metrics:  m,
		Logger:   logger,
		Weights: domain.ImportanceWeights{
			Decay:     cfg.ImportanceDecay,
			Increment: cfg.ImportanceIncrement,
		},
		HandledHistory: cfg.HandledAlertHistory,
	}
	engine := &notifications.Engine{Device: device, Settings: repo, Logger: logger}

	sends := &service.SendWorker{
		Repo:      repo,
		Backend:   client,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		Dialog:    queue,
		Presenter: presenter,
		Metrics:   m,
		Logger:    logger,
	}
	repo.Sends = sends
	actions := &service.FriendActionWorker{Repo: repo, Dialog: queue, Logger: logger}
	inbound := &service.InboundRouter{
		Repo:      repo,
		Backend:   client,
		Engine:    engine,
		Dialog:    queue,
		Presenter: presenter,
		Metrics:   m,
		Logger:    logger,
	}

	info, err := repo.RestoreSession(ctx)
	if err != nil {
		return err
	}
	if info.Active {
		logger.Info("session restored", "username", info.Username)
	} else {
		logger.Info("no saved session, sign in to send alerts")
	}

	// Workers outlive requests; they stop when the process is asked to.
	actions.Start(ctx)
	defer actions.Close()
	inbound.Start(ctx)
	defer inbound.Close()
	if err := sends.Start(ctx); err != nil {
		return err
	}
	defer sends.Close()

	if cfg.ImportanceDecayInterval > 0 {
		go repo.RunImportanceDecay(ctx, cfg.ImportanceDecayInterval)
	}

	if cfg.NATSURL != "" {
		sub, err := push.NewNATSSubscriber(push.NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			Queue:   cfg.NATSQueue,
			Name:    "nudge-agent",
		}, inbound, logger)
		if err != nil {
			return err
		}
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sub.Close() }()
	}

	handler := httpapi.NewRouter(httpapi.RouterOpts{
		Logger:       logger,
		IsProd:       cfg.IsProd(),
		DBPing:       st.ping,
		APIToken:     cfg.APIToken,
		CORSOrigins:  cfg.CORSOrigins,
		Repo:         repo,
		Sends:        sends,
		Actions:      actions,
		Inbound:      inbound,
		Dialog:       queue,
		Device:       device,
		Presenter:    presenter,
		Hub:          hub,
		Metrics:      m,
		Webhook:      auth.NewWebhookVerifier([]byte(cfg.WebhookSecret)),
		PushAudience: cfg.PushAudience,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent listening", "env", cfg.Env, "addr", cfg.Addr, "backend", cfg.BackendURL.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type stores struct {
	friends  service.FriendsStore
	pending  service.PendingFriendsStore
	cached   service.CachedFriendsStore
	messages service.MessagesStore
	jobs     service.SendJobsStore
	prefs    service.PreferencesStore
	wiper    service.LocalDataWiper
	ping     func(context.Context) error
	closers  []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores uses Postgres when APP_DB_DSN is set and an in-memory store
// otherwise. Preferences move to Redis when APP_REDIS_ADDR is set.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	if cfg.DBDSN != "" {
		pool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			st.close()
			return nil, err
		}
		st.friends = postgres.NewFriendsStore(pool)
		st.pending = postgres.NewPendingFriendsStore(pool)
		st.cached = postgres.NewCachedFriendsStore(pool)
		st.messages = postgres.NewMessagesStore(pool)
		st.jobs = postgres.NewSendJobsStore(pool)
		st.prefs = postgres.NewPreferencesStore(pool)
		st.wiper = postgres.NewMaintenanceStore(pool)
		st.ping = pool.Ping
		logger.Info("local store: postgres")
	} else {
		mem := memory.New()
		st.friends = mem
		st.pending = mem
		st.cached = mem
		st.messages = mem
		st.jobs = mem
		st.prefs = mem
		st.wiper = mem
		logger.Warn("local store: memory, data is lost on restart")
	}

	if cfg.RedisAddr != "" {
		prefs, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = prefs.Close() })
		st.prefs = prefs
		logger.Info("preferences: redis", "addr", cfg.RedisAddr)
	}

	return st, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
