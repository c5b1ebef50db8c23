package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
)

// program adapts run to the kardianos/service.Interface contract, so
// the same capture+dispatch pipeline installed via `mjpegd service
// install` can be started/stopped by the OS service manager.
type program struct {
	cfg    *Config
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	logger, err := s.Logger(nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- run(ctx, p.cfg, logger)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	return nil
}

func newServiceConfig() *service.Config {
	return &service.Config{
		Name:        "mjpegd",
		DisplayName: "mjpegd MJPEG streaming server",
		Description: "Captures JPEG frames and fans them out over HTTP as multipart/x-mixed-replace.",
	}
}

// runServiceCLI implements `mjpegd service install|start|stop|uninstall|run`.
func runServiceCLI(args []string) error {
	fs := flag.NewFlagSet("service", flag.ExitOnError)
	configPath := fs.String("config", "mjpegd.json", "path to the config file written by install and read by run")
	mode := fs.String("mode", "device", "capture mode to install: device, stdin, or tcp")
	tick := fs.Int("tick", 200, "polling period in milliseconds")
	port := fs.Int("port", 8080, "HTTP listen port")
	cam := fs.Int("camera", 0, "camera device index")
	addr := fs.String("addr", "localhost:8081", "remote MJPEG provider address (tcp mode)")
	externalCmd := fs.String("external-command", "", "optional companion process (tcp mode)")
	metricsAddr := fs.String("metrics-addr", ":9090", "Prometheus /metrics listen address")
	logFile := fs.String("logfile", "", "rotate structured logs to this file")
	if len(args) < 1 {
		return fmt.Errorf("service: expected a subcommand (install, start, stop, uninstall, run)")
	}
	action := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg := &Config{
		Mode:        *mode,
		TickMS:      *tick,
		Port:        *port,
		Camera:      *cam,
		Addr:        *addr,
		ExternalCmd: *externalCmd,
		MetricsAddr: *metricsAddr,
		LogFile:     *logFile,
	}

	switch action {
	case "install":
		if err := cfg.Check(); err != nil {
			return err
		}
		absConfig, err := filepath.Abs(*configPath)
		if err != nil {
			return err
		}
		if err := saveConfig(absConfig, cfg); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		svcConfig := newServiceConfig()
		svcConfig.Arguments = []string{"service", "run", "-config", absConfig}
		svc, err := service.New(&program{}, svcConfig)
		if err != nil {
			return err
		}
		return svc.Install()
	case "uninstall":
		svc, err := service.New(&program{}, newServiceConfig())
		if err != nil {
			return err
		}
		return svc.Uninstall()
	case "start", "stop":
		svc, err := service.New(&program{}, newServiceConfig())
		if err != nil {
			return err
		}
		if action == "start" {
			return svc.Start()
		}
		return svc.Stop()
	case "run":
		loaded, err := loadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		p := &program{cfg: loaded}
		svc, err := service.New(p, newServiceConfig())
		if err != nil {
			return err
		}
		return svc.Run()
	default:
		return fmt.Errorf("service: unknown action %q", action)
	}
}
