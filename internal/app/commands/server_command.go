package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"emotion-relay/internal/app"
)

// GetServerCommand возвращает команду запуска сервера
func GetServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Start the relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "./config/config.yaml",
				Usage: "Path to configuration file",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP port (overrides config)",
			},
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "Emotion backend API URL (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug mode",
			},
		},
		Action: runServer,
	}
}

// runServer запускает сервер и ждет сигнала завершения
func runServer(c *cli.Context) error {
	cmdCtx, err := NewCommandContext(c)
	if err != nil {
		return err
	}
	defer cmdCtx.Logger.Sync()

	application := app.NewApplication(cmdCtx.Config, cmdCtx.Logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := application.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		cmdCtx.Logger.Info("Shutdown signal received")
	case err := <-errChan:
		cmdCtx.Logger.Error("Server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		cmdCtx.Logger.Error("Shutdown error", zap.Error(err))
		return err
	}

	cmdCtx.Logger.Info("Server stopped gracefully")
	return nil
}
