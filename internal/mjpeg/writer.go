package mjpeg

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/warpcomdev/mjpegd/internal/poll"
)

var crlf = []byte("\r\n")

// clientWriter is the Per-Client Writer: it drains envelopes from one
// subscriber and serialises them onto a single socket, exiting on the
// first write error (spec §4.H). http.Flusher reports no errors, so a
// failed flush surfaces as a later write error.
type clientWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
}

// run drains sub until the connection's context is cancelled or a
// write fails. Either way, the caller is responsible for sub.Close(),
// which is how the Polling Task learns this subscriber is gone
// (invariant I4).
func (c *clientWriter) run(ctx context.Context, sub *poll.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Envelopes():
			if !ok {
				return
			}
			if !c.writeEnvelope(env) {
				return
			}
		}
	}
}

// writeEnvelope writes one part in full — header, then the frame body
// under the shared buffer's read lock, then the trailing CRLF —
// before any byte of the next envelope may be written (spec P5).
func (c *clientWriter) writeEnvelope(env poll.Envelope) bool {
	if _, err := c.w.Write(env.Header); err != nil {
		c.logger.Debug("write failed on part header", zap.Error(err))
		return false
	}

	if err := env.Shared.WithView(func(body []byte) error {
		_, err := c.w.Write(body)
		return err
	}); err != nil {
		c.logger.Debug("write failed on frame body", zap.Error(err))
		return false
	}

	if _, err := c.w.Write(crlf); err != nil {
		c.logger.Debug("write failed on trailing CRLF", zap.Error(err))
		return false
	}
	c.flusher.Flush()
	return true
}
