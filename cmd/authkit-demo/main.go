// Command authkit-demo runs a small web app that signs users in with GitHub,
// email links or a login and password, and exposes the account flows
// (registration, verification, password reset) under /account.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/flows"
	authgrpc "github.com/panyam/authkit/grpc"
	"github.com/panyam/authkit/oauth2"
	"github.com/panyam/authkit/password"
	_ "github.com/panyam/authkit/password/argon2"
	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/stores/fs"
	gormstore "github.com/panyam/authkit/stores/gorm"
	"github.com/panyam/authkit/stores/memory"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// openStore builds the adapter named by the store setting.
func openStore(store string, logger *slog.Logger) (authkit.Adapter, error) {
	kind, path, _ := strings.Cut(store, ":")
	switch kind {
	case "memory":
		return memory.New(), nil
	case "fs":
		return fs.Open(path, fs.WithLogger(logger))
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			TranslateError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return gormstore.New(db), nil
	}
	return nil, fmt.Errorf("unknown store %q", store)
}

func newLimiter(cfg *Config) ratelimit.Limiter {
	rl := ratelimit.Cooldown(cfg.ResendCooldown)
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(rl)
	}
	return ratelimit.NewRedisLimiter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), rl)
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	adapter, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	hash := password.Options{Algorithm: password.Argon2id}

	authorize, err := authkit.PasswordAuthorizer(adapter, authkit.PasswordAuthorizerOptions{
		Hash:   hash,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	sender := &flows.LogEmailSender{Logger: logger}

	providers := []authkit.Provider{
		&authkit.CredentialsProvider{
			ID:        "credentials",
			Name:      "Password",
			Fields:    []string{"login", "password"},
			Authorize: authorize,
		},
		&authkit.EmailProvider{
			ID:   "email",
			Name: "Email",
			Send: func(ctx context.Context, identifier, url string) error {
				return sender.SendVerificationEmail(ctx, identifier, url)
			},
		},
	}
	if cfg.GitHubID != "" {
		providers = append(providers, oauth2.GitHub(oauth2.Options{
			ClientID:     cfg.GitHubID,
			ClientSecret: cfg.GitHubSecret,
		}))
	}

	auth, err := authkit.New(authkit.Config{
		Secret:    cfg.Secret,
		BaseURL:   cfg.BaseURL,
		Providers: providers,
		Adapter:   adapter,
		Session:   authkit.SessionConfig{Strategy: authkit.SessionStrategy(cfg.Sessions)},
		Debug:     cfg.Debug,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	accounts, err := flows.New(flows.Config{
		Adapter:  adapter,
		Sender:   sender,
		BaseURL:  cfg.BaseURL,
		BasePath: "/account",
		Hash:     hash,
		Limiter:  newLimiter(cfg),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	router.PathPrefix(auth.BasePath()).Handler(auth)
	router.PathPrefix("/account").Handler(accounts.Handler())
	router.HandleFunc("/me", handleMe).Methods(http.MethodGet)
	router.HandleFunc("/", handleHome).Methods(http.MethodGet)

	handler := authkit.Sequence(
		auth.Middleware(),
		auth.Protect(authkit.ProtectConfig{ProtectedRoutes: []string{"/me"}}),
	)(router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.Addr, "store", cfg.Store, "sessions", cfg.Sessions)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCAddr != "" {
		gs, err = startGRPC(cfg.GRPCAddr, auth, logger, errc)
		if err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	return srv.Shutdown(shutdownCtx)
}

// startGRPC serves the health service behind the session interceptors.
// Check is public, Watch needs a session.
func startGRPC(addr string, auth *authkit.Auth, logger *slog.Logger, errc chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	icfg := authgrpc.NewPublicMethodsConfig(healthpb.Health_Check_FullMethodName)
	icfg.Logger = logger
	gs := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(auth, icfg)),
		grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(auth, icfg)),
	)
	healthpb.RegisterHealthServer(gs, health.NewServer())

	go func() {
		logger.Info("grpc listening", "addr", addr)
		if err := gs.Serve(lis); err != nil {
			errc <- err
		}
	}()
	return gs, nil
}

func handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s := authkit.SessionFromContext(r.Context())
	if s == nil || s.User == nil {
		fmt.Fprint(w, `<p>Not signed in. <a href="/auth/signin">Sign in</a></p>`)
		return
	}
	fmt.Fprintf(w, `<p>Signed in as %s. <a href="/me">Profile</a> <a href="/auth/signout">Sign out</a></p>`,
		html.EscapeString(firstNonEmpty(s.User.Name, s.User.Email, s.User.ID)))
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authkit.SessionFromContext(r.Context()))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
