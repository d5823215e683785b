package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/theatre-auth/internal/cache"
	"github.com/iliyamo/theatre-auth/internal/config"
	"github.com/iliyamo/theatre-auth/internal/database"
	"github.com/iliyamo/theatre-auth/internal/handler"
	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/middleware"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/oauth"
	"github.com/iliyamo/theatre-auth/internal/repository"
	"github.com/iliyamo/theatre-auth/internal/repository/memstore"
	"github.com/iliyamo/theatre-auth/internal/router"
	"github.com/iliyamo/theatre-auth/internal/service"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// stores bundles one persistence backend behind the service ports.
type stores struct {
	users    service.UserStore
	roles    service.RoleStore
	sessions service.SessionStore
	tokens   service.TokenLedger
	social   service.SocialStore
	db       *sql.DB // nil for the memory driver
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("using in-memory storage, data is lost on restart")
		st := memstore.New()
		return stores{users: st.Users(), roles: st.Roles(), sessions: st.Sessions(), tokens: st.Tokens(), social: st.Social()}, nil
	}
	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return stores{}, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		users:    repository.NewUserRepo(db),
		roles:    repository.NewRoleRepo(db),
		sessions: repository.NewSessionRepo(db),
		tokens:   repository.NewTokenRepo(db),
		social:   repository.NewSocialAccountRepo(db),
		db:       db,
	}, nil
}

func oauthProviders(cfg config.Config) map[string]service.OAuthProvider {
	out := map[string]service.OAuthProvider{}
	for name, c := range cfg.OAuth {
		creds := oauth.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret, RedirectURL: c.RedirectURL}
		switch name {
		case "google":
			out[name] = oauth.Google(creds)
		case "yandex":
			out[name] = oauth.Yandex(creds)
		}
	}
	return out
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.String(),
				"ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				log.Warn("request", append(attrs, "error", v.Error.Error())...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	})
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)
	cacheCfg := config.LoadCacheConfig()
	limitCfg := config.LoadRateLimitConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("storage unavailable", "driver", cfg.StorageDriver, "error", err.Error())
		os.Exit(1)
	}
	if st.db != nil {
		defer st.db.Close()
	}
	if err := st.roles.EnsureRoles(ctx, model.DefaultRoles()...); err != nil {
		log.Error("seed roles", "error", err.Error())
		os.Exit(1)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, cache disabled")
	} else {
		defer rdb.Close()
	}
	store := cache.New(rdb, cacheCfg.Prefix)

	codec := utils.NewCodec(cfg.SecretKey, cfg.AccessTTL, cfg.RefreshTTL)
	signer := utils.NewSigner(cfg.SecretKey)

	var (
		mailer service.Mailer
		events service.EventPublisher
	)
	if cfg.MailTransport == "log" {
		mailer, events = service.NewLogMailer(log), service.NewLogEvents(log)
	} else {
		pub := service.NewPublisher(cfg.RabbitURL, log)
		mailer, events = pub, pub
	}

	identity := service.NewIdentityResolver(st.users, store, cacheCfg.IdentityTTL, log)
	auth := service.NewAuthService(st.users, st.sessions, st.tokens, identity, codec, log)
	signup := service.NewSignupService(st.users, identity, signer, mailer, events, service.SignupOptions{
		BcryptCost:         cfg.BcryptCost,
		FrontendURL:        cfg.FrontendURL,
		ConfirmationMaxAge: cfg.ConfirmationMaxAge,
	}, log)
	users := service.NewUserService(st.users, st.tokens, identity, store, signer, mailer, service.UserOptions{
		BcryptCost:  cfg.BcryptCost,
		FrontendURL: cfg.FrontendURL,
		LinkMaxAge:  cfg.ConfirmationMaxAge,
		ListTTL:     cacheCfg.ListTTL,
		ResetTTL:    cacheCfg.ResetTTL,
	}, log)
	roles := service.NewRoleService(st.roles, identity, store, cacheCfg.ListTTL, log)
	grants := service.NewUserRoleService(st.roles, identity, store, log)
	sessions := service.NewSessionService(st.sessions)
	social := service.NewOAuthService(oauthProviders(cfg), st.users, st.social, auth, identity, signer, events, log)

	health := &handler.Health{Required: map[string]handler.Pinger{}, Optional: map[string]handler.Pinger{}}
	if st.db != nil {
		health.Required["mysql"] = st.db
	}
	if rdb != nil {
		health.Optional["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(requestLogger(log))

	router.RegisterRoutes(e, router.Deps{
		Auth:    handler.NewAuthHandler(auth, social, handler.Cookies{Secure: isProd(cfg.Env)}),
		Signup:  handler.NewSignupHandler(signup),
		Users:   handler.NewUserHandler(users, sessions),
		Roles:   handler.NewRoleHandler(roles, grants),
		Health:  health,
		Guard:   auth,
		Service: middleware.ServiceAuth(signer, cfg.AllowedServices, cfg.ServiceTokenMaxAge, log),
		Limit:   middleware.NewTokenBucket(limitCfg, rdb, log),
	})

	addr := ":" + cfg.Port
	log.Info("listening", "addr", addr, "env", cfg.Env, "storage", cfg.StorageDriver)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err.Error())
	}
}

func isProd(env string) bool {
	return strings.EqualFold(env, "prod") || strings.EqualFold(env, "production")
}
