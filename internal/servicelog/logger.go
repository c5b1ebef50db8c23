// Package servicelog builds the process-wide zap.Logger: structured
// output, optional rotation via lumberjack, and optional forwarding of
// warnings and errors to the host OS service manager's log (event log
// on Windows, syslog on Linux) when running under kardianos/service.
package servicelog

import (
	"net/url"
	"sync"

	"github.com/kardianos/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var registerSinkOnce sync.Once

// Config controls log destination and verbosity.
type Config struct {
	Debug bool

	// LogFile, if non-empty, routes output through a rotating
	// lumberjack sink instead of stderr.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func (c Config) withDefaults() Config {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 28
	}
	return c
}

type lumberjackSink struct {
	*lumberjack.Logger
}

func (lumberjackSink) Sync() error { return nil }

func registerLumberjackSink(cfg Config) {
	registerSinkOnce.Do(func() {
		_ = zap.RegisterSink("lumberjack", func(u *url.URL) (zap.Sink, error) {
			return lumberjackSink{Logger: &lumberjack.Logger{
				Filename:   u.Path,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
			}}, nil
		})
	})
}

// New builds the logger. svc, when non-nil (the process is running
// under the service manager), also receives every Warn/Error/Fatal
// record so it surfaces in the platform's native service log even
// when file logging is disabled.
func New(cfg Config, svc service.Logger) (*zap.Logger, error) {
	cfg = cfg.withDefaults()

	var zcfg zap.Config
	if cfg.Debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	if cfg.LogFile != "" {
		registerLumberjackSink(cfg)
		zcfg.OutputPaths = []string{"lumberjack://" + cfg.LogFile}
		zcfg.ErrorOutputPaths = []string{"lumberjack://" + cfg.LogFile}
	}

	base, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return base, nil
	}

	svcCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()),
		serviceSink{svc: svc},
		zap.WarnLevel,
	)
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, svcCore)
	})), nil
}

// serviceSink adapts service.Logger to zapcore.WriteSyncer so warnings
// and errors can be tee'd into the OS service log.
type serviceSink struct {
	svc service.Logger
}

func (s serviceSink) Write(p []byte) (int, error) {
	if err := s.svc.Warning(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s serviceSink) Sync() error { return nil }
