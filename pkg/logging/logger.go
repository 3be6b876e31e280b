package logging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the log output format
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatConsole LogFormat = "console"
)

// Config represents logging configuration
type Config struct {
	Level  LogLevel  `yaml:"level" json:"level" mapstructure:"level"`
	Format LogFormat `yaml:"format" json:"format" mapstructure:"format"`

	OutputPaths      []string `yaml:"output_paths" json:"output_paths" mapstructure:"output_paths"`
	ErrorOutputPaths []string `yaml:"error_output_paths" json:"error_output_paths" mapstructure:"error_output_paths"`

	ServiceName    string `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version" mapstructure:"service_version"`
	Environment    string `yaml:"environment" json:"environment" mapstructure:"environment"`

	EnableCaller     bool `yaml:"enable_caller" json:"enable_caller" mapstructure:"enable_caller"`
	EnableStacktrace bool `yaml:"enable_stacktrace" json:"enable_stacktrace" mapstructure:"enable_stacktrace"`
}

// Logger wraps zap with the fields carried by a reconciliation run
type Logger struct {
	*zap.Logger
	config *Config
	fields []zap.Field
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	format := config.Format
	if format == "" {
		format = FormatJSON
	}

	zapConfig := zap.Config{
		Level:       getZapLevel(config.Level),
		Development: config.Environment == "development",
		Encoding:    string(format),
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:       orDefault(config.OutputPaths, "stdout"),
		ErrorOutputPaths:  orDefault(config.ErrorOutputPaths, "stderr"),
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.EnableStacktrace,
	}

	baseLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	serviceFields := []zap.Field{
		zap.String("service", config.ServiceName),
		zap.String("version", config.ServiceVersion),
		zap.String("environment", config.Environment),
	}

	return &Logger{
		Logger: baseLogger.With(serviceFields...),
		config: config,
		fields: serviceFields,
	}, nil
}

// Wrap adapts an existing zap logger, typically a zaptest logger.
func Wrap(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{Logger: base, config: DefaultConfig()}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return Wrap(zap.NewNop())
}

func orDefault(paths []string, fallback string) []string {
	if len(paths) == 0 {
		return []string{fallback}
	}
	return paths
}

// getZapLevel converts LogLevel to zap.AtomicLevel
func getZapLevel(level LogLevel) zap.AtomicLevel {
	switch level {
	case LevelDebug:
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case LevelWarn:
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case LevelError:
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// WithContext creates a logger carrying the run id found in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if runID := GetRunID(ctx); runID != "" {
		return l.WithRunID(runID)
	}
	return l
}

// WithRunID tags every entry with the reconciliation run id
func (l *Logger) WithRunID(runID string) *Logger {
	if runID == "" {
		return l
	}
	return l.WithFields(zap.String("run_id", runID))
}

// WithOperation tags every entry with the sync operation name
func (l *Logger) WithOperation(operation string) *Logger {
	if operation == "" {
		return l
	}
	return l.WithFields(zap.String("operation", operation))
}

// WithFields creates a logger with additional fields
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		config: l.config,
		fields: append(append([]zap.Field{}, l.fields...), fields...),
	}
}

// LogError logs an error with full context
func (l *Logger) LogError(err error, message string, fields ...zap.Field) {
	errorFields := append([]zap.Field{zap.Error(err)}, fields...)
	l.Error(message, errorFields...)
}

// LogPerformance logs how long an operation took
func (l *Logger) LogPerformance(operation string, duration time.Duration, fields ...zap.Field) {
	perfFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.Duration("duration", duration),
		zap.String("event_type", "performance"),
	}, fields...)

	l.Info("Performance metric", perfFields...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// DefaultConfig returns a default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatJSON,

		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},

		ServiceName:    "sync-service",
		ServiceVersion: "unknown",
		Environment:    "development",

		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
