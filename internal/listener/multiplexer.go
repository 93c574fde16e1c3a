// Package listener implements the Listener Multiplexer: one listening
// endpoint per distinct (protocol, port) pair, demultiplexing inbound
// datagrams/connections to a source queue by peer IP.
package listener

import (
	"context"
	"sync"

	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/sigil-systems/ingestord/internal/model"
)

// routingEntry resolves a peer IP to the source it belongs to: ID for
// queue routing, Name for the CanonicalLog.Source field.
type routingEntry struct {
	ID   string
	Name string
}

// Enqueuer is the narrow capability a Multiplexer needs from the rest
// of the pipeline: hand one record to the named source's queue.
// Message passing through this interface, rather than a shared
// reference to the full Control Plane, keeps listener and processor
// lifecycles independent.
type Enqueuer interface {
	Enqueue(sourceID string, record model.CanonicalLog) bool
}

// Multiplexer owns every UDP and TCP endpoint currently required by
// the configured source set.
type Multiplexer struct {
	enqueuer Enqueuer
	logger   *logging.Logger

	mu           sync.Mutex
	ctx          context.Context
	udpEndpoints map[int]*udpEndpoint
	tcpEndpoints map[int]*tcpEndpoint
}

// NewMultiplexer builds a Multiplexer that hands accepted records to
// enqueuer.
func NewMultiplexer(enqueuer Enqueuer) *Multiplexer {
	return &Multiplexer{
		enqueuer:     enqueuer,
		logger:       logging.GetLogger("listener.multiplexer"),
		udpEndpoints: make(map[int]*udpEndpoint),
		tcpEndpoints: make(map[int]*tcpEndpoint),
	}
}

// Start records ctx for use by endpoints opened via Reload. No
// endpoints are opened until the first Reload call.
func (m *Multiplexer) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	return nil
}

// Stop closes every open endpoint, finishing in-flight reads.
func (m *Multiplexer) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for port, ep := range m.udpEndpoints {
		ep.close()
		delete(m.udpEndpoints, port)
	}
	for port, ep := range m.tcpEndpoints {
		ep.close()
		delete(m.tcpEndpoints, port)
	}
	return nil
}

// Name identifies this component for lifecycle orchestration.
func (m *Multiplexer) Name() string {
	return "listener.multiplexer"
}

// Reload is the single point that diffs the desired endpoint set
// (derived from sources) against what's currently open: it closes
// endpoints no longer needed, opens new ones, and atomically swaps the
// peer-IP routing table on endpoints that survive. A bind failure on a
// new endpoint is logged and that endpoint is skipped; every other
// endpoint continues unaffected.
func (m *Multiplexer) Reload(sources []model.Source) {
	desiredUDP := make(map[int]map[string]routingEntry)
	desiredTCP := make(map[int]map[string]routingEntry)

	for _, s := range sources {
		var bucket map[int]map[string]routingEntry
		switch s.Protocol {
		case model.ProtocolUDP:
			bucket = desiredUDP
		case model.ProtocolTCP:
			bucket = desiredTCP
		default:
			continue
		}
		routing, ok := bucket[s.Port]
		if !ok {
			routing = make(map[string]routingEntry)
			bucket[s.Port] = routing
		}
		for _, ip := range s.SourceIPs {
			routing[ip] = routingEntry{ID: s.ID, Name: s.Name}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for port, ep := range m.udpEndpoints {
		if _, ok := desiredUDP[port]; !ok {
			ep.close()
			delete(m.udpEndpoints, port)
		}
	}
	for port, ep := range m.tcpEndpoints {
		if _, ok := desiredTCP[port]; !ok {
			ep.close()
			delete(m.tcpEndpoints, port)
		}
	}

	for port, routing := range desiredUDP {
		if ep, ok := m.udpEndpoints[port]; ok {
			ep.setRouting(routing)
			continue
		}
		ep, err := newUDPEndpoint(port, routing, m.enqueuer, m.logger)
		if err != nil {
			m.logger.ErrorWithFields("udp bind failed",
				logging.Field("port", port),
				logging.Field("error", err.Error()),
			)
			continue
		}
		m.udpEndpoints[port] = ep
		go ep.run(m.ctx)
	}

	for port, routing := range desiredTCP {
		if ep, ok := m.tcpEndpoints[port]; ok {
			ep.setRouting(routing)
			continue
		}
		ep, err := newTCPEndpoint(port, routing, m.enqueuer, m.logger)
		if err != nil {
			m.logger.ErrorWithFields("tcp bind failed",
				logging.Field("port", port),
				logging.Field("error", err.Error()),
			)
			continue
		}
		m.tcpEndpoints[port] = ep
		go ep.run(m.ctx)
	}
}

// DroppedUnknownPeer sums the unknown-peer drop counters across every
// open endpoint.
func (m *Multiplexer) DroppedUnknownPeer() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, ep := range m.udpEndpoints {
		total += ep.droppedUnknownPeer.Load()
	}
	for _, ep := range m.tcpEndpoints {
		total += ep.droppedUnknownPeer.Load()
	}
	return total
}

// DroppedOversizeRecord sums the oversize-record drop counters across
// every open TCP endpoint (UDP datagrams are already bounded by the
// transport and never hit this path).
func (m *Multiplexer) DroppedOversizeRecord() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, ep := range m.tcpEndpoints {
		total += ep.droppedOversizeRecord.Load()
	}
	return total
}
