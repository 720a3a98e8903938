package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"uk.co.dudmesh.gatehouse/internal/boot"
	"uk.co.dudmesh.gatehouse/internal/docstore"
	"uk.co.dudmesh.gatehouse/internal/events"
	"uk.co.dudmesh.gatehouse/internal/handlers"
	"uk.co.dudmesh.gatehouse/internal/metrics"
	"uk.co.dudmesh.gatehouse/internal/notify"
	"uk.co.dudmesh.gatehouse/internal/service/auth"
	"uk.co.dudmesh.gatehouse/internal/service/token"
	"uk.co.dudmesh.gatehouse/internal/service/user"
	"uk.co.dudmesh.gatehouse/internal/siteconfig"
)

type TokenPurger interface {
	PurgeExpired() (int, error)
}

type app struct {
	*boot.Config
	docs     docstore.Store
	settings *siteconfig.Settings
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	keys     handlers.KeySet
	tokens   TokenPurger
	auth     handlers.AuthService
	closers  []io.Closer
}

func newApp(config *boot.Config) *app {
	docs, err := docstore.Open(config.Store, config.DataDirectory())
	if err != nil {
		log.Fatalf("opening document store: %+v", err)
	}

	a := &app{
		Config:   config,
		docs:     docs,
		settings: siteconfig.New(docs),
		metrics:  metrics.New(prometheus.DefaultRegisterer),
	}

	// settings are cached only while hand edits on disk can be seen
	if fs, ok := docs.(*docstore.Filesystem); ok {
		watcher, err := a.settings.Watch(fs)
		if err != nil {
			log.Warnf("site settings will be read uncached: %+v", err)
		} else {
			a.closers = append(a.closers, watcher)
		}
	}

	notifyOpts := []notify.Option{
		notify.WithTimeout(config.Notify.Timeout),
		notify.WithMetrics(a.metrics),
	}
	if config.Notify.KeyPassphrase != "" {
		signer, err := notify.LoadSigner(docs, config.Notify.KeyPassphrase)
		if err != nil {
			log.Fatalf("loading signing key: %+v", err)
		}
		log.Infof("signing webhook deliveries with key %s", signer.KeyID())
		notifyOpts = append(notifyOpts, notify.WithSigner(signer))
		a.keys = signer
	}
	a.notifier = notify.New(a.settings, notifyOpts...)

	dispatcher := events.NewDispatcher()
	a.notifier.Subscribe(dispatcher)

	tokenService := token.New(docs,
		token.WithTTL(config.Auth.TokenTTL),
		token.WithLockboxPolicy(config.LockboxPolicy()),
	)
	userService := user.New(docs, tokenService, user.WithLoginCooldown(config.Auth.LoginCooldown))
	authService, err := auth.New(userService, tokenService, a.settings,
		auth.WithEvents(dispatcher),
		auth.WithMetrics(a.metrics),
	)
	if err != nil {
		log.Fatalf("creating auth service: %+v", err)
	}
	a.tokens = tokenService
	a.auth = authService
	return a
}

func (a *app) purgeTokens(ctx context.Context) {
	if a.Auth.PurgeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.Auth.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.tokens.PurgeExpired()
			if err != nil {
				log.Errorf("purging tokens: %+v", err)
				continue
			}
			a.metrics.TokensPurged(n)
			if n > 0 {
				log.Infoj(log.JSON{"event": "tokens_purged", "count": n})
			}
		}
	}
}

func (a *app) close() {
	a.notifier.Wait()
	for _, c := range a.closers {
		c.Close()
	}
	if err := a.docs.Close(); err != nil {
		log.Errorf("closing document store: %+v", err)
	}
}

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}
	level, _ := config.Level()
	log.SetLevel(level)

	a := newApp(config)

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.BodyLimit(config.Server.BodyLimit))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("gatehouse"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(level)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.ServerOrigins(),
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	cookies := handlers.CookieConfig{
		Secure: config.Auth.SecureCookies,
		TTL:    config.Auth.TokenTTL,
	}

	server.GET("/healthz", handlers.Health())
	server.GET("/.well-known/jwks.json", handlers.JWKS(a.keys))

	authGroup := server.Group("/auth", middleware.RateLimiter(
		middleware.NewRateLimiterMemoryStore(rate.Limit(config.Server.RateLimit)),
	))
	authGroup.POST("/login", handlers.Login(a.auth, cookies))
	authGroup.POST("/register", handlers.Register(a.auth))
	authGroup.POST("/logout", handlers.Logout(a.auth, cookies))

	session := authGroup.Group("", handlers.Session(a.auth))
	session.GET("/me", handlers.Me())
	session.POST("/logout-all", handlers.LogoutAll(a.auth, cookies))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go a.purgeTokens(ctx)

	metricsServer := echo.New()
	metricsServer.HideBanner = true
	metricsServer.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metricsServer.Start(":" + config.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(":" + config.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutting down server: %+v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutting down metrics server: %+v", err)
	}
	a.close()
}
