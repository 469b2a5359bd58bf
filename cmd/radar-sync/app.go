package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gdlbo/packageradar-sub000/config"
	"github.com/gdlbo/packageradar-sub000/internal/broker/kafka"
	"github.com/gdlbo/packageradar-sub000/internal/cache"
	"github.com/gdlbo/packageradar-sub000/internal/cache/rediscache"
	"github.com/gdlbo/packageradar-sub000/internal/integrations/radarapi"
	"github.com/gdlbo/packageradar-sub000/internal/notify"
	"github.com/gdlbo/packageradar-sub000/internal/retry"
	"github.com/gdlbo/packageradar-sub000/internal/services/feed"
	"github.com/gdlbo/packageradar-sub000/internal/services/session"
	"github.com/gdlbo/packageradar-sub000/internal/storage/pgstore"
)

// storage — то, что агенту нужно от локального кэша: и лента, и сессия.
type storage interface {
	feed.Store
	session.Store
}

type rateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type agentFactories struct {
	newStorage     func(cfg *config.Config) (storage, func(), error)
	newAPIClient   func(cfg *config.Config, token func() string) *radarapi.Client
	newCache       func(cfg *config.Config) cache.BytesCache
	newRateLimiter func(cfg *config.Config) rateLimiter
	newNotifier    func(cfg *config.Config) feed.Notifier
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newStorage: func(cfg *config.Config) (storage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgstore.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newAPIClient: func(cfg *config.Config, token func() string) *radarapi.Client {
			return radarapi.New(cfg.Radar.APIBaseURL, radarapi.Options{
				AppVersion: cfg.Radar.AppVersion,
				OSVersion:  cfg.Radar.OSVersion,
				Locale:     cfg.Radar.Locale,
				UserAgent:  cfg.Radar.UserAgent,
				Token:      token,
				Timeout:    time.Duration(cfg.Radar.APITimeoutSeconds) * time.Second,
			})
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newRateLimiter: func(cfg *config.Config) rateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newNotifier: func(cfg *config.Config) feed.Notifier {
			if cfg.Kafka.Host == "" {
				return notify.NewSlogNotifier()
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return notify.NewKafkaNotifier(kafka.NewProducer(brokers), cfg.Kafka.NotificationsTopicName)
		},
	}
}

// Agent гоняет фоновую синхронизацию ленты по тикеру и по внешнему
// триггеру (pull-to-refresh через HTTP).
type Agent struct {
	svc *feed.Service
	rl  rateLimiter

	syncInterval       time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}
}

func newAgent(svc *feed.Service, rl rateLimiter, syncInterval time.Duration, rlPerMin int64) *Agent {
	if syncInterval <= 0 {
		syncInterval = 5 * time.Minute
	}
	if rlPerMin <= 0 {
		rlPerMin = 30
	}
	return &Agent{
		svc:                svc,
		rl:                 rl,
		syncInterval:       syncInterval,
		rateLimitPerMinute: rlPerMin,
		triggerCh:          make(chan struct{}, 1),
	}
}

// Trigger форсирует цикл синхронизации (best-effort, не блокирует).
func (a *Agent) Trigger() {
	select {
	case a.triggerCh <- struct{}{}:
	default:
	}
}

func (a *Agent) Run(ctx context.Context) error {
	a.svc.WarmFromCache(ctx)
	a.runOnce(ctx, false)

	t := time.NewTicker(a.syncInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			a.runOnce(ctx, false)
		case <-a.triggerCh:
			a.runOnce(ctx, true)
		}
	}
}

func (a *Agent) runOnce(ctx context.Context, force bool) {
	if a.rl != nil {
		minuteKey := fmt.Sprintf("rl:sync:%s", time.Now().UTC().Format("200601021504"))
		allowed, n, err := a.rl.Allow(ctx, minuteKey, a.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("sync rate limiter unavailable", "error", err.Error())
		} else if !allowed {
			slog.Warn("sync rate limit exceeded, skipping cycle", "count", n)
			return
		}
	}

	snap := a.svc.Refresh(ctx, force)
	if snap.State == feed.StateError {
		slog.Error("sync cycle failed", "error", snap.Message)
		return
	}
	slog.Info("sync cycle done", "state", snap.State.String(), "items", len(snap.Items))
}

func RunRadarSync(ctx context.Context, cfg *config.Config, f agentFactories) error {
	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	token := func() string {
		tok, err := st.Token(ctx)
		if err != nil {
			slog.Error("load token", "error", err.Error())
			return ""
		}
		return tok
	}

	api := f.newAPIClient(cfg, token)
	notifier := f.newNotifier(cfg)

	cacheTTL := time.Duration(cfg.Radar.FeedCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	retryOpts := retry.Options{
		Times:        cfg.Radar.RetryTimes,
		InitialDelay: time.Duration(cfg.Radar.RetryInitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Radar.RetryMaxDelayMs) * time.Millisecond,
	}

	svc := feed.New(st, api, notifier).
		WithCache(f.newCache(cfg), cacheTTL).
		WithRetry(retryOpts).
		WithPlaceholderRefresh(
			time.Duration(cfg.Radar.PlaceholderRefreshSeconds)*time.Second,
			cfg.Radar.PlaceholderMaxAttempts,
		)

	sess := session.New(api, st).WithFeedCacheClear(svc.ClearCache)

	agent := newAgent(
		svc,
		f.newRateLimiter(cfg),
		time.Duration(cfg.Radar.SyncIntervalSeconds)*time.Second,
		int64(cfg.Radar.SyncRateLimitPerMinute),
	)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runAgentHTTPServer(ctx, agentHTTPOpts{
			httpAddr: cfg.Radar.HTTPAddr,
			agent:    agent,
			svc:      svc,
			sess:     sess,
		})
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- agent.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-runErr:
		return err
	}
}
