package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"proofgate/internal/auditlog"
	"proofgate/internal/jwttoken"
	"proofgate/internal/platform/config"
	"proofgate/internal/platform/httpserver"
	"proofgate/internal/platform/logger"
	"proofgate/internal/platform/metrics"
	platformredis "proofgate/internal/platform/redis"
	ratelimitmetrics "proofgate/internal/ratelimit/metrics"
	ratelimit "proofgate/internal/ratelimit/service"
	"proofgate/internal/ratelimit/store/bucket"
	"proofgate/internal/verification"
	"proofgate/internal/verification/handler"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Audit log: cipher, durable store, recorder.
	cipher, err := buildAuditCipher(cfg.Audit, log)
	if err != nil {
		return err
	}
	auditStore, closeStore, err := buildAuditStore(cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeStore()

	recorderOpts := []auditlog.Option{auditlog.WithMetrics(m)}
	if cfg.Audit.BestEffort {
		recorderOpts = append(recorderOpts, auditlog.WithBestEffort(cfg.Audit.QueueSize))
	}
	recorder := auditlog.NewRecorder(cipher, auditStore, log, recorderOpts...)

	// Admission control: Redis-backed buckets when configured, in-memory
	// buckets otherwise.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	var buckets ratelimit.BucketStore
	if redisClient != nil {
		defer redisClient.Close()
		buckets = bucket.NewFailoverBucketStore(
			bucket.NewRedisBucketStore(redisClient.Client),
			bucket.NewInMemoryBucketStore(),
			log,
		)
		log.Info("rate limiter using redis bucket store with local failover")
	} else {
		memStore := bucket.NewInMemoryBucketStore()
		buckets = memStore
		go sweepBuckets(ctx, memStore, cfg.RateLimit)
		log.Info("rate limiter using in-memory bucket store")
	}

	limiterOpts := []ratelimit.Option{
		ratelimit.WithConfig(&ratelimit.Config{
			Burst:      cfg.RateLimit.Burst,
			RefillRate: cfg.RateLimit.RefillRate,
		}),
		ratelimit.WithExemptSubjects(cfg.RateLimit.ExemptSubjects),
		ratelimit.WithMetrics(ratelimitmetrics.New()),
	}
	if cfg.RateLimit.Disabled {
		limiterOpts = append(limiterOpts, ratelimit.WithDisabled())
		log.Warn("rate limiting disabled")
	}
	limiter, err := ratelimit.New(buckets, log, limiterOpts...)
	if err != nil {
		return err
	}

	// Verification pipeline.
	verifierOpts := []verification.Option{verification.WithMetrics(m)}
	if cfg.Audit.BestEffort {
		verifierOpts = append(verifierOpts, verification.WithBestEffortAudit())
	}
	verifier := verification.New(limiter, recorder, log, verifierOpts...)

	jwtService := jwttoken.NewService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	verifyHandler := handler.New(
		verifier,
		log,
		m,
		jwttoken.NewAdapter(jwtService),
		cfg.Auth.RequiredScope,
		cfg.Server.RequestTimeout,
	)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	verifyHandler.Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Audit.BestEffort {
		g.Go(func() error {
			return recorder.Worker(gCtx)
		})
	}

	g.Go(func() error {
		log.Info("starting proofgate", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildAuditCipher selects the audit key source: an explicit hex key, a
// passphrase stretched with argon2id, or a fresh random key for local
// development. A random key makes earlier log files unreadable after
// restart, hence the warning.
func buildAuditCipher(cfg config.Audit, log *slog.Logger) (*auditlog.Cipher, error) {
	switch {
	case cfg.KeyHex != "":
		key, err := auditlog.KeyFromHex(cfg.KeyHex)
		if err != nil {
			return nil, err
		}
		return auditlog.NewCipher(key)
	case cfg.Passphrase != "":
		return auditlog.NewCipher(auditlog.DeriveKey(cfg.Passphrase, cfg.Salt))
	default:
		key := make([]byte, auditlog.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		log.Warn("no audit key configured, generated an ephemeral key; audit entries will be unreadable after restart")
		return auditlog.NewCipher(key)
	}
}

func buildAuditStore(cfg config.Audit, log *slog.Logger) (auditlog.Store, func(), error) {
	if cfg.FilePath == "" {
		log.Warn("no audit file configured, audit entries are held in memory only")
		return auditlog.NewInMemoryStore(), func() {}, nil
	}
	fileStore, err := auditlog.NewFileStore(cfg.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return fileStore, func() { _ = fileStore.Close() }, nil
}

// sweepBuckets periodically drops buckets that have refilled to capacity so
// the in-memory store does not grow without bound.
func sweepBuckets(ctx context.Context, store *bucket.InMemoryBucketStore, cfg config.RateLimit) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep(cfg.Burst, cfg.RefillRate)
		}
	}
}
