// Command mjpegd captures a sequence of JPEG frames from a camera, a
// raw byte stream on stdin, or a remote TCP feed, and serves them to
// any number of HTTP clients as multipart/x-mixed-replace.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warpcomdev/mjpegd/internal/camera"
	"github.com/warpcomdev/mjpegd/internal/metrics"
	"github.com/warpcomdev/mjpegd/internal/mjpeg"
	"github.com/warpcomdev/mjpegd/internal/poll"
	"github.com/warpcomdev/mjpegd/internal/servicelog"
	"github.com/warpcomdev/mjpegd/internal/stream"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "device":
		err = runCaptureCLI("device", os.Args[2:])
	case "stdin":
		err = runCaptureCLI("stdin", os.Args[2:])
	case "tcp":
		err = runCaptureCLI("tcp", os.Args[2:])
	case "service":
		err = runServiceCLI(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mjpegd:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  mjpegd device  [-tick ms] [-port n] [-camera i] [-metrics-addr addr] [-logfile path]
  mjpegd stdin   [-tick ms] [-port n] [-metrics-addr addr] [-logfile path]
  mjpegd tcp     [-tick ms] [-port n] [-addr host:port] [-external-command "cmd arg..."] [-metrics-addr addr] [-logfile path]
  mjpegd service install|start|stop|uninstall|run -config path`)
}

// runCaptureCLI parses the flags shared by the three direct
// subcommands and runs the pipeline in the foreground until the
// process receives SIGINT/SIGTERM.
func runCaptureCLI(mode string, args []string) error {
	cfg := &Config{Mode: mode}
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	fs.IntVar(&cfg.TickMS, "tick", 200, "polling period in milliseconds, clamped to [20,1000]")
	fs.IntVar(&cfg.Port, "port", 8080, "HTTP listen port")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address, empty disables")
	fs.StringVar(&cfg.LogFile, "logfile", "", "rotate structured logs to this file instead of stderr")
	fs.BoolVar(&cfg.Debug, "debug", false, "verbose (development-mode) logging")
	switch mode {
	case "device":
		fs.IntVar(&cfg.Camera, "camera", 0, "camera device index")
	case "tcp":
		fs.StringVar(&cfg.Addr, "addr", "localhost:8081", "remote MJPEG provider address")
		fs.StringVar(&cfg.ExternalCmd, "external-command", "", "optional companion process to spawn alongside the TCP connection")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Check(); err != nil {
		return err
	}
	return run(context.Background(), cfg, nil)
}

// run wires the frame source, fan-out core, and HTTP dispatcher for
// cfg and blocks until ctx is cancelled. svc, when non-nil, is the
// running service instance (so logs also reach the OS service log).
func run(ctx context.Context, cfg *Config, svc service.Logger) error {
	logger, err := servicelog.New(servicelog.Config{
		Debug:   cfg.Debug,
		LogFile: cfg.LogFile,
	}, svc)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	collector := metrics.New()

	src, closeSrc, err := buildSource(cfg, logger, collector)
	if err != nil {
		return fmt.Errorf("opening frame source: %w", err)
	}
	defer closeSrc()

	tick := poll.ClampTick(time.Duration(cfg.TickMS) * time.Millisecond)
	manager := poll.NewManager(ctx, src, tick, logger, collector)
	dispatcher := mjpeg.NewDispatcher(manager, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: dispatcher,
		// No WriteTimeout: the MJPEG response streams indefinitely by
		// design, so only the request side gets a deadline.
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("mjpeg dispatcher listening", zap.String("addr", streamSrv.Addr))
		if err := streamSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("mjpeg server: %w", err)
			return
		}
		errCh <- nil
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	if svc == nil {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info("shutdown requested")
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				cancel()
				return err
			}
		}
	} else {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = streamSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// buildSource constructs the stream.Source named by cfg.Mode and a
// cleanup function releasing any resources it holds.
func buildSource(cfg *Config, logger *zap.Logger, collector *metrics.Collector) (stream.Source, func(), error) {
	switch cfg.Mode {
	case "device":
		adapter, err := camera.New(camera.NewTestPatternCapturer(), cfg.Camera, true)
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() { _ = adapter.Close() }, nil
	case "stdin":
		return stream.NewReframer(os.Stdin), func() {}, nil
	case "tcp":
		src := stream.NewTCPSource(stream.TCPConfig{
			Addr:            cfg.Addr,
			ExternalCommand: cfg.ExternalCmd,
		}, logger, collector)
		return src, func() { _ = src.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}
