package listener

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/sigil-systems/ingestord/internal/model"
)

const udpReadBufferSize = 64 * 1024

// udpEndpoint owns one UDP socket shared by every source bound to its
// port.
type udpEndpoint struct {
	port     int
	conn     *net.UDPConn
	enqueuer Enqueuer
	logger   *logging.Logger

	routing            atomic.Pointer[map[string]routingEntry]
	droppedUnknownPeer atomic.Uint64

	done chan struct{}
}

func newUDPEndpoint(port int, routing map[string]routingEntry, enqueuer Enqueuer, logger *logging.Logger) (*udpEndpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	ep := &udpEndpoint{
		port:     port,
		conn:     conn,
		enqueuer: enqueuer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	ep.routing.Store(&routing)
	return ep, nil
}

func (e *udpEndpoint) setRouting(routing map[string]routingEntry) {
	e.routing.Store(&routing)
}

// run reads datagrams until ctx is done or the socket is closed.
// Unknown peers are dropped silently but counted, per §4.1.
func (e *udpEndpoint) run(ctx context.Context) {
	defer close(e.done)
	buf := make([]byte, udpReadBufferSize)

	for {
		e.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			e.logger.WarnWithFields("udp read error",
				logging.Field("port", e.port),
				logging.Field("error", err.Error()),
			)
			continue
		}

		routing := *e.routing.Load()
		entry, ok := routing[addr.IP.String()]
		if !ok {
			e.droppedUnknownPeer.Add(1)
			continue
		}

		payload := string(buf[:n])
		record := model.CanonicalLog{
			Time:   time.Now().Unix(),
			Event:  model.ParseEvent(payload),
			Source: entry.Name,
		}
		e.enqueuer.Enqueue(entry.ID, record)
	}
}

func (e *udpEndpoint) close() {
	e.conn.Close()
	<-e.done
}
