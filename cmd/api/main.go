package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nebulalend/api/internal/config"
	"github.com/nebulalend/api/internal/models"
	"github.com/nebulalend/api/internal/price"
	"github.com/nebulalend/api/internal/token"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Token catalogue
	db, err := openDatabase(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	if err := db.AutoMigrate(&models.Token{}); err != nil {
		logrus.WithError(err).Fatal("Failed to migrate database")
	}
	tokenService := token.NewService(token.NewTokenRepository(db))
	if err := tokenService.Seed(token.DefaultTokens()); err != nil {
		logrus.WithError(err).Fatal("Failed to seed token catalogue")
	}
	listed, err := tokenService.GetActiveTokens()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load token catalogue")
	}

	// Price feed
	simulator, err := price.NewSimulator(price.SimulatorConfig{
		BasePrices:       token.BasePrices(listed),
		MaxTickVariation: cfg.MaxTickVariation,
		Interval:         cfg.PriceTickInterval,
		FetchLatency:     cfg.PriceFetchLatency,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create price simulator")
	}
	symbols := simulator.Symbols()

	rdb := connectRedis(ctx, cfg)
	if rdb != nil {
		stopMirror, err := price.NewRedisMirror(rdb, 5*cfg.PriceTickInterval).Mirror(simulator, symbols)
		if err != nil {
			logrus.WithError(err).Warn("Failed to mirror prices to Redis")
		} else {
			defer stopMirror()
		}
	}

	a, err := newApp(cfg, tokenService, simulator, symbols)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialise services")
	}
	a.start()
	simulator.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":    cfg.Port,
			"symbols": symbols,
			"db":      cfg.DBDriver,
		}).Info("Starting NebulaLend API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	cancel()
	a.close()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	if rdb != nil {
		rdb.Close()
	}

	logrus.Info("Server exited")
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBDriver == "postgres" {
		return gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{})
	}
	// "sqlite" is the pure-Go driver registered by modernc.org/sqlite
	return gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: cfg.DBPath}, &gorm.Config{})
}

// connectRedis returns nil when Redis is not configured or unreachable;
// the quote mirror is optional
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		logrus.Info("REDIS_ADDR not set, price mirror disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logrus.WithError(err).Warn("Failed to connect to Redis, price mirror disabled")
		rdb.Close()
		return nil
	}
	return rdb
}
