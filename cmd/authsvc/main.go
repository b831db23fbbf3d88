package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/levipshemish/jewgo-app-sub003/internal/app"
	"github.com/levipshemish/jewgo-app-sub003/internal/config"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
)

func main() {
	// .env opcional; en deploy real las vars vienen del entorno.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: os.Getenv("LOG_LEVEL")})
	defer logger.Sync()

	if !secretbox.Ready() {
		logger.L().Fatal("SECRETBOX_MASTER_KEY ausente o inválida; sin ella no se puede abrir el material de firma")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.L().Fatal("wiring", logger.Err(err))
	}

	logger.L().Info("authsvc arrancando",
		logger.String("addr", cfg.Server.Addr),
		logger.String("env", cfg.App.Env),
		logger.String("storage", cfg.Storage.Driver),
	)
	if err := a.Run(ctx); err != nil {
		logger.L().Fatal("server", logger.Err(err))
	}
	logger.L().Info("authsvc detenido")
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG"); path != "" {
		return config.Load(path)
	}
	if fileExists("configs/config.yaml") {
		return config.Load("configs/config.yaml")
	}
	return config.LoadFromEnv()
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
