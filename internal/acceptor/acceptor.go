// Package acceptor runs the TCP accept loop: bind a listener, admit
// connections at a bounded rate, and hand each one to conn.Handle on its own
// goroutine.
package acceptor

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"emberdb/internal/conn"
	"emberdb/internal/runner"
)

// Logger is the narrow logging surface the acceptor depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

const (
	maxConsecutiveErrors = 5
	maxBackoff           = 5 * time.Second
)

// Acceptor owns one listener and admits connections onto it at a bounded
// rate: burst lets a cold start or a reconnect storm through immediately,
// the steady-state rate throttles sustained abuse.
type Acceptor struct {
	ln      net.Listener
	run     *runner.Runner
	log     Logger
	limiter *rate.Limiter
}

// New wraps an already-bound listener. connPerSec <= 0 disables the limiter
// (every Accept is admitted immediately).
func New(ln net.Listener, run *runner.Runner, connPerSec float64, burst int, log Logger) *Acceptor {
	var limiter *rate.Limiter
	if connPerSec > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(connPerSec), burst)
	}
	return &Acceptor{ln: ln, run: run, log: log, limiter: limiter}
}

// Listen binds addr and returns a ready-to-run Acceptor.
func Listen(ctx context.Context, addr string, run *runner.Runner, connPerSec float64, burst int, log Logger) (*Acceptor, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(ln, run, connPerSec, burst, log), nil
}

// Addr returns the bound local address.
func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Run accepts connections until ctx is cancelled or the listener is closed.
// Each accepted connection is rate-limited, then handed to conn.Handle on
// its own goroutine; Run returns once the listener's Accept loop exits.
func (a *Acceptor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.ln.Close()
	}()

	consecutiveErrors := 0
	for {
		c, err := a.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.log.Info("acceptor: shutdown complete")
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					a.log.Info("acceptor: listener closed, stopping")
					return nil
				}
				consecutiveErrors++
				a.log.Error("acceptor: accept failed: %v (consecutive=%d)", err, consecutiveErrors)
				if consecutiveErrors > maxConsecutiveErrors {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > maxBackoff {
						delay = maxBackoff
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0

		if a.limiter != nil && !a.limiter.Allow() {
			a.log.Debug("acceptor: rejecting connection from %s, rate limit exceeded", c.RemoteAddr())
			c.Close()
			continue
		}

		a.log.Debug("acceptor: accepted connection from %s", c.RemoteAddr())
		go conn.Handle(c, a.run, a.log)
	}
}

// Close closes the underlying listener directly, for callers that never
// started Run (e.g. tests probing Addr before wiring the loop).
func (a *Acceptor) Close() error {
	return a.ln.Close()
}
