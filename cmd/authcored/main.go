// Command authcored serves the authcore engine over HTTP.
//
// Configuration comes from AUTHCORE_* environment variables (see
// authcore.ConfigFromEnv) plus the flags below. Without REDIS_ADDR an
// in-process miniredis is started; without AUTHCORE_DATABASE_URL users,
// roles and sessions live in memory.
//
//	go run ./cmd/authcored -seed cmd/authcored/seed.example.yaml
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/authcore"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/store/postgres"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "listen address")
		seedPath = flag.String("seed", "", "YAML file with permissions, roles and users to create at startup")
		secure   = flag.Bool("secure-cookies", false, "mark refresh cookies Secure")
		logLevel = flag.String("log-level", "info", "logrus level")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(*addr, *seedPath, *secure, log); err != nil {
		log.WithError(err).Fatal("authcored stopped")
	}
}

func run(addr, seedPath string, secureCookies bool, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := authcore.ConfigFromEnv(authcore.DefaultConfig())
	if err != nil {
		return err
	}
	ensureSigningKey(&cfg, log)

	var seed *Seed
	if seedPath != "" {
		if seed, err = loadSeed(seedPath); err != nil {
			return err
		}
	}

	rdb, closeRedis, err := openRedis(log)
	if err != nil {
		return err
	}
	defer closeRedis()

	builder := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(log)
	if seed != nil {
		builder.WithPermissions(seed.Permissions...)
	}

	var target seedTarget
	if dsn := os.Getenv("AUTHCORE_DATABASE_URL"); dsn != "" {
		db, err := openDatabase(ctx, dsn)
		if err != nil {
			return err
		}
		defer db.Close()

		users := postgres.NewUsers(db)
		perms := postgres.NewPermissions(db)
		sessions := postgres.NewSessions(db)
		builder.
			WithUserStore(users).
			WithPermissionStore(perms).
			WithSessionStore(sessions).
			WithAuditSink(postgres.NewAuditSink(db))
		go sweepExpired(ctx, sessions, time.Hour, 24*time.Hour, log)
		target = seedTarget{createUser: users.CreateUser, createRole: perms.CreateRole}
		log.Info("using postgres stores")
	} else {
		users := memory.NewUsers(nil)
		perms := memory.NewPermissions(nil)
		builder.
			WithUserStore(users).
			WithPermissionStore(perms).
			WithAuditSink(authcore.NewLogrusSink(log.WithField("stream", "audit")))
		target = seedTarget{
			createUser: users.CreateUser,
			createRole: func(ctx context.Context, r permission.Role) error {
				_, err := perms.CreateRole(ctx, r)
				return err
			},
		}
		log.Warn("using in-memory stores; data is lost on restart")
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if seed != nil {
		hasher, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
			MaxLength:   cfg.Password.MaxLength,
		})
		if err != nil {
			return err
		}
		if err := seed.apply(ctx, engine, target, hasher); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"roles": len(seed.Roles),
			"users": len(seed.Users),
		}).Info("seed applied")
	}

	srv := &server{
		engine:        engine,
		log:           log,
		refreshTTL:    cfg.Refresh.TTL,
		secureCookies: secureCookies,
		deliverReset: func(_ context.Context, email, _ string) {
			// Wire a mailer here. The token itself is never logged.
			log.WithField("email", email).Info("password reset token issued")
		},
	}
	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics = promexport.Handler(promexport.NewCollector(engine))
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(metrics),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// ensureSigningKey generates a throwaway Ed25519 key when none is
// configured. Tokens issued with it do not survive a restart.
func ensureSigningKey(cfg *authcore.Config, log logrus.FieldLogger) {
	if len(cfg.JWT.PrivateKey) > 0 || cfg.JWT.SigningMethod != "ed25519" {
		return
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.WithError(err).Fatal("generate signing key")
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	log.Warn("no signing key configured; using an ephemeral ed25519 key")
}

func openRedis(log logrus.FieldLogger) (redis.UniversalClient, func(), error) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		log.WithField("addr", addr).Info("using redis")
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log.WithField("addr", mr.Addr()).Warn("REDIS_ADDR not set; using in-process miniredis")
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := postgres.Open(dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time, retain time.Duration) (int64, error)
}

// sweepExpired deletes refresh tokens that expired more than retain ago,
// once per interval, until ctx ends. Redis expires its records on its own.
func sweepExpired(ctx context.Context, store expiredDeleter, every, retain time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.DeleteExpired(ctx, now, retain)
			if err != nil {
				log.WithError(err).Warn("expired session sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("deleted", n).Debug("swept expired sessions")
			}
		}
	}
}
