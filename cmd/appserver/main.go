package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	app "github.com/lattice-run/core/internal/app"
	"github.com/lattice-run/core/internal/app/auth"
	"github.com/lattice-run/core/internal/app/httpapi"
	"github.com/lattice-run/core/internal/app/storage/memory"
	"github.com/lattice-run/core/internal/app/storage/postgres"
	"github.com/lattice-run/core/internal/platform/database"
	"github.com/lattice-run/core/internal/platform/migrations"
	"github.com/lattice-run/core/pkg/config"
	"github.com/lattice-run/core/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		cfg, err = loadConfigFile(trimmed)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	stores := app.Stores{}

	var db *sqlx.DB
	if dsnVal != "" {
		sqlDB, err := database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(sqlDB, cfg)
		db = sqlx.NewDb(sqlDB, "postgres")

		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(rootCtx, sqlDB); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}

		store := postgres.New(db)
		stores = app.Stores{
			Users:    store,
			Accounts: store,
			Agents:   store,
			Jobs:     store,
			Risk:     store,
			Audit:    store,
		}
		lg.Info("connected to postgres storage")
	} else {
		store := memory.New()
		stores = app.Stores{
			Users:    store,
			Accounts: store,
			Agents:   store,
			Jobs:     store,
			Risk:     store,
			Audit:    store,
		}
		lg.Warn("no DSN configured; using in-memory storage")
	}
	if db != nil {
		defer db.Close()
	}

	application := app.New(cfg, lg, stores)

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, cfg.Auth.AdminRoles)
	if jwtManager == nil {
		lg.Warn("AUTH_JWT_SECRET not set; control-plane endpoints will reject every request")
	}

	router := httpapi.NewRouter(application, httpapi.Options{
		JWTManager: jwtManager,
		CORS:       httpapi.CORSConfig{AllowedOrigins: []string{"*"}},
	})

	listenAddr := determineAddr(*addr, cfg)
	server := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		lg.WithField("addr", listenAddr).Info("lattice-core listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	host := strings.TrimSpace(cfg.Server.Host)
	port := cfg.Server.Port
	if port != 0 {
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, port)
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func loadConfigFile(path string) (*config.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.LoadFile(path)
	case ".json":
		return config.LoadConfig(path)
	default:
		if cfg, err := config.LoadFile(path); err == nil {
			return cfg, nil
		}
		return config.LoadConfig(path)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}
