package listener

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/sigil-systems/ingestord/internal/model"
)

// inactivityTimeout bounds how long an idle TCP connection is held
// open, per §4.1's "≥60s" inactivity window.
const inactivityTimeout = 60 * time.Second

// maxTCPRecordSize is the largest single record §6 requires TCP to
// accept. A line exceeding it is dropped and counted; the connection
// is resynced to the next newline and kept open.
const maxTCPRecordSize = 1 << 20

// tcpReadBufferSize is the chunk size handleConn's reader fills at a
// time; a line spanning more than one chunk without finding '\n' keeps
// accumulating until maxTCPRecordSize is exceeded.
const tcpReadBufferSize = 64 * 1024

// errLineTooLong marks a line that exceeded maxTCPRecordSize. The
// connection has already been resynced to the next '\n' by the time
// this is returned.
var errLineTooLong = errors.New("tcp: record exceeds maximum size")

// tcpEndpoint owns one TCP listener shared by every source bound to
// its port. Each accepted connection is bound to a source at accept
// time by peer IP and kept for the connection's life.
type tcpEndpoint struct {
	port     int
	listener *net.TCPListener
	enqueuer Enqueuer
	logger   *logging.Logger

	routing               atomic.Pointer[map[string]routingEntry]
	droppedUnknownPeer    atomic.Uint64
	droppedOversizeRecord atomic.Uint64

	wg   sync.WaitGroup
	done chan struct{}
}

func newTCPEndpoint(port int, routing map[string]routingEntry, enqueuer Enqueuer, logger *logging.Logger) (*tcpEndpoint, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	ep := &tcpEndpoint{
		port:     port,
		listener: ln,
		enqueuer: enqueuer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	ep.routing.Store(&routing)
	return ep, nil
}

func (e *tcpEndpoint) setRouting(routing map[string]routingEntry) {
	e.routing.Store(&routing)
}

func (e *tcpEndpoint) run(ctx context.Context) {
	defer close(e.done)

	go func() {
		<-ctx.Done()
		e.listener.Close()
	}()

	for {
		conn, err := e.listener.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				e.wg.Wait()
				return
			}
			e.logger.WarnWithFields("tcp accept error",
				logging.Field("port", e.port),
				logging.Field("error", err.Error()),
			)
			continue
		}

		routing := *e.routing.Load()
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			conn.Close()
			continue
		}
		entry, ok := routing[host]
		if !ok {
			e.droppedUnknownPeer.Add(1)
			conn.Close()
			continue
		}

		e.wg.Add(1)
		go e.handleConn(conn, entry)
	}
}

// handleConn reads LF-terminated lines (CRLF tolerated — a trailing \r
// is trimmed), enqueuing one record per line, until the peer closes the
// connection or it sits idle past inactivityTimeout. A line longer than
// maxTCPRecordSize is dropped and counted rather than closing the
// connection: readLine resyncs to the next '\n' before returning.
func (e *tcpEndpoint) handleConn(conn *net.TCPConn, entry routingEntry) {
	defer e.wg.Done()
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, tcpReadBufferSize)
	for {
		conn.SetReadDeadline(time.Now().Add(inactivityTimeout))
		line, err := readLine(reader, maxTCPRecordSize)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				e.droppedOversizeRecord.Add(1)
				e.logger.WarnWithFields("tcp record exceeded maximum size, dropped",
					logging.Field("port", e.port),
					logging.Field("max_bytes", maxTCPRecordSize),
				)
				continue
			}
			return
		}
		if line == "" {
			continue
		}
		record := model.CanonicalLog{
			Time:   time.Now().Unix(),
			Event:  model.ParseEvent(line),
			Source: entry.Name,
		}
		e.enqueuer.Enqueue(entry.ID, record)
	}
}

// readLine reads one '\n'-terminated line from r, trimming a trailing
// '\r'. If the line exceeds maxLen before a newline is found, it
// discards input up to the next newline and returns errLineTooLong so
// the caller can drop just that record and keep reading the
// connection. Any other error (EOF, deadline exceeded, closed
// connection) is returned unwrapped to end the connection.
func readLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if err == nil {
			line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
			if len(line) > maxLen {
				// The line terminated in this chunk, but the record
				// itself is longer than maxLen.
				return "", errLineTooLong
			}
			return line, nil
		}
		if len(buf) > maxLen {
			if err == bufio.ErrBufferFull {
				if resyncErr := discardUntilNewline(r); resyncErr != nil {
					return "", resyncErr
				}
				return "", errLineTooLong
			}
			return "", err
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return "", err
	}
}

// discardUntilNewline reads and drops bytes until a '\n' is found,
// resynchronizing the stream after an oversize line.
func discardUntilNewline(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

func (e *tcpEndpoint) close() {
	e.listener.Close()
	<-e.done
}
