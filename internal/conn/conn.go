// Package conn implements the per-connection lifecycle: read a frame, run
// it, write the reply, close.
package conn

import (
	"errors"
	"io"
	"net"
	"time"

	"emberdb/internal/frame"
	"emberdb/internal/runner"
)

// Logger is the narrow logging surface the handler depends on.
type Logger interface {
	Debug(format string, args ...any)
}

const initialBufSize = 4096

// Handle runs the full lifecycle for one accepted connection: read exactly
// one frame, dispatch it through run, write the reply, and close. It never
// panics on malformed input; every error path is converted to either a
// SimpleError reply or a silent close.
func Handle(c net.Conn, run *runner.Runner, log Logger) {
	defer c.Close()

	buf := make([]byte, 0, initialBufSize)
	chunk := make([]byte, initialBufSize)

	var f frame.Frame
	for {
		parsed, consumed, err := frame.CheckAndParse(buf)
		if err == nil {
			f = parsed
			buf = buf[consumed:]
			break
		}
		if !errors.Is(err, frame.ErrIncomplete) {
			log.Debug("conn %s: malformed frame: %v", c.RemoteAddr(), err)
			writeReply(c, frame.SimpleError(protocolErrorMsg(err)), log)
			return
		}

		n, rerr := c.Read(chunk)
		if n == 0 {
			if len(buf) == 0 {
				return // peer closed cleanly before sending anything
			}
			log.Debug("conn %s: connection reset mid-frame", c.RemoteAddr())
			writeReply(c, frame.SimpleError("Connection reset"), log)
			return
		}
		buf = append(buf, chunk[:n]...)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			log.Debug("conn %s: read error: %v", c.RemoteAddr(), rerr)
			return
		}
	}

	reply, runErr := run.Run(f)
	if runErr != nil {
		reply = replyForRunnerError(runErr)
	}
	writeReply(c, reply, log)
}

func replyForRunnerError(err error) frame.Frame {
	rerr, ok := err.(*runner.Error)
	if !ok {
		return frame.SimpleError(err.Error())
	}
	switch rerr.Kind {
	case runner.Incomplete:
		return frame.SimpleError("Protocol Error: Incorrect usage of command")
	case runner.Unsupported:
		return frame.SimpleError("Protocol Error: Unsupported usage of command or values")
	default:
		return frame.SimpleError(rerr.Msg)
	}
}

func protocolErrorMsg(err error) string {
	var merr *frame.MalformedError
	if errors.As(err, &merr) {
		return "Protocol Error: " + merr.Reason
	}
	return "Protocol Error: Invalid input"
}

func writeReply(c net.Conn, f frame.Frame, log Logger) {
	_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := frame.Serialize(c, f); err != nil {
		log.Debug("conn %s: write error: %v", c.RemoteAddr(), err)
		return
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}
