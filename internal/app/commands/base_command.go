package commands

import (
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"emotion-relay/internal/config"
)

// CommandContext содержит общий контекст для всех команд
type CommandContext struct {
	Logger *zap.Logger
	Config *config.Config
}

// NewCommandContext создает новый контекст команды
func NewCommandContext(c *cli.Context) (*CommandContext, error) {
	logger := createLogger(c.String("log-level"), c.Bool("debug"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		logger.Warn("Failed to load config, using defaults",
			zap.String("path", c.String("config")), zap.Error(err))
		cfg = config.GetDefaultConfig()
	}

	// Флаги командной строки перекрывают файл
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("backend-url") {
		cfg.Backend.APIURL = c.String("backend-url")
	}
	if c.Bool("debug") {
		cfg.Logging.Level = "debug"
	}

	return &CommandContext{
		Logger: logger,
		Config: cfg,
	}, nil
}

// createLogger создает логгер
func createLogger(level string, debug bool) *zap.Logger {
	if debug {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	var logLevel zapcore.Level
	switch level {
	case "debug":
		logLevel = zap.DebugLevel
	case "warn":
		logLevel = zap.WarnLevel
	case "error":
		logLevel = zap.ErrorLevel
	default:
		logLevel = zap.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	logger, _ := zapConfig.Build()
	return logger
}
