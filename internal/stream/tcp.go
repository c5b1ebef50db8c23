package stream

import (
	"context"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// connectTimeout bounds the initial TCP dial to the remote provider.
const connectTimeout = 60 * time.Second

// TCPConfig parametrizes a TCPSource.
type TCPConfig struct {
	Addr string // remote host:port of the MJPEG provider

	// ExternalCommand, if non-empty, is spawned (split on whitespace)
	// before the first connect attempt. If it exits while the source
	// is in use it is respawned at once, with no backoff between
	// restarts; when that respawn fails, the next Read spawns it again
	// and returns the error if this attempt fails too.
	ExternalCommand string
}

// ReconnectObserver is notified each time the TCPSource attempts to
// reconnect. A nil observer is valid.
type ReconnectObserver interface {
	IncTCPReconnect()
}

// TCPSource connects to a remote MJPEG provider and delegates framing
// to a Reframer over the resulting socket. The connection (and the
// optional companion process) is established lazily, on first Read.
type TCPSource struct {
	cfg     TCPConfig
	logger  *zap.Logger
	metrics ReconnectObserver

	conn     net.Conn
	reframer *Reframer
	cmd      *exec.Cmd
	cmdExit  chan error
}

// NewTCPSource builds a source for cfg. Nothing is dialed or spawned
// until the first Read. metrics may be nil.
func NewTCPSource(cfg TCPConfig, logger *zap.Logger, metrics ReconnectObserver) *TCPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPSource{cfg: cfg, logger: logger, metrics: metrics}
}

// NewBuffer implements Source.
func (s *TCPSource) NewBuffer() Buffer {
	return &ReframerBuffer{}
}

// Read implements Source, connecting (and spawning the companion
// process, if configured) on first use.
func (s *TCPSource) Read(ctx context.Context, buf Buffer) (int, error) {
	if s.cfg.ExternalCommand != "" && s.cmd == nil {
		if err := s.spawnExternal(); err != nil {
			return 0, err
		}
	}
	if s.reframer == nil {
		if err := s.connect(ctx); err != nil {
			return 0, err
		}
	}
	if s.cmd != nil {
		s.checkExternal()
	}
	return s.reframer.Read(ctx, buf)
}

func (s *TCPSource) connect(ctx context.Context) error {
	bo := connectBackoff()
	var lastErr error
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.metrics != nil {
			s.metrics.IncTCPReconnect()
		}
		conn, err := net.DialTimeout("tcp", s.cfg.Addr, connectTimeout)
		if err == nil {
			s.conn = conn
			s.reframer = NewReframer(conn)
			return nil
		}
		lastErr = err
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Error("tcp source: giving up connecting", zap.String("addr", s.cfg.Addr), zap.Error(err))
			return lastErr
		}
		s.logger.Warn("tcp source: connect failed, retrying", zap.String("addr", s.cfg.Addr), zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectBackoff bounds reconnect attempts: a handful of retries over
// a couple of minutes before the caller treats the source as fatally
// lost (spec's "connect exceeds 60s" startup-fatal policy, extended
// with a short retry window rather than failing on the first hiccup).
func connectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	bo.Reset()
	return bo
}

func (s *TCPSource) spawnExternal() error {
	fields := strings.Fields(s.cfg.ExternalCommand)
	if len(fields) == 0 {
		return nil
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.cmdExit = make(chan error, 1)
	go func() {
		s.cmdExit <- cmd.Wait()
	}()
	return nil
}

// checkExternal notices if the companion process has died and
// respawns it immediately, with no backoff, rather than aborting the
// stream; a failed respawn is only logged here. The stream itself
// keeps delivering whatever the still-open socket has buffered until
// the remote side also goes away.
func (s *TCPSource) checkExternal() {
	select {
	case err := <-s.cmdExit:
		s.logger.Warn("tcp source: external command exited", zap.Error(err))
		s.cmd = nil
		if respawnErr := s.spawnExternal(); respawnErr != nil {
			s.logger.Error("tcp source: failed to restart external command", zap.Error(respawnErr))
		}
	default:
	}
}

// Close releases the underlying connection and companion process, if
// any. Safe to call even if Read was never called.
func (s *TCPSource) Close() error {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
