// Package mjpeg implements the HTTP Dispatcher and Per-Client Writer:
// it accepts connections, writes the multipart preamble, and drives
// one writer goroutine per client against the poll.Manager fan-out
// core.
package mjpeg

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warpcomdev/mjpegd/internal/poll"
)

// Dispatcher is an http.Handler that enrolls every accepted connection
// as a subscriber of a poll.Manager (spec §4.G).
type Dispatcher struct {
	manager *poll.Manager
	logger  *zap.Logger
}

// NewDispatcher builds a Dispatcher around manager.
func NewDispatcher(manager *poll.Manager, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{manager: manager, logger: logger}
}

// ServeHTTP implements http.Handler. It hijacks nothing: the preamble
// and every part are written through the standard ResponseWriter, so
// the handler works unmodified behind any net/http server, including
// one with TLS or other middleware layered in front of it (neither of
// which this package needs to know about).
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	log := d.logger.With(zap.String("conn", connID), zap.String("remote", r.RemoteAddr))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := poll.NewSubscriber()
	defer sub.Close()

	log.Debug("client connected")
	d.manager.Enroll(sub)

	writer := &clientWriter{w: w, flusher: flusher, logger: log}
	writer.run(r.Context(), sub)

	log.Debug("client disconnected")
}
