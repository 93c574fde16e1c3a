// Package model holds the data types shared by every pipeline
// component: the configured Source and its target sink, the learned
// per-source LogTemplate, AggregationPolicy and FilterRule, and the
// CanonicalLog record produced before delivery.
package model

import (
	"fmt"
	"net"
)

// Protocol is the transport a Source listens on.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
)

// TargetType names which sink variant a Source delivers to.
type TargetType string

const (
	TargetFolder TargetType = "folder"
	TargetHEC    TargetType = "hec"
)

// Compression names a Folder sink's optional compression.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

// FolderTarget delivers batches as newline-delimited JSON files under Path.
type FolderTarget struct {
	Path string `json:"path" yaml:"path"`
	// BatchSize bounds how many records a worker accumulates before
	// closing a batch; must be >= 1.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// Compression selects none or gzip.
	Compression Compression `json:"compression" yaml:"compression"`
	// GzipLevel is used only when Compression is gzip, 1-9.
	GzipLevel int `json:"gzip_level,omitempty" yaml:"gzip_level,omitempty"`
}

// HECTarget delivers batches via HTTP POST to an HTTP Event Collector.
type HECTarget struct {
	URL       string `json:"url" yaml:"url"`
	Token     string `json:"token" yaml:"token"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
	VerifyTLS bool   `json:"verify_tls" yaml:"verify_tls"`
}

// Source is a configured ingest endpoint: where it listens, which peers
// it accepts, and where it delivers. It is immutable once created —
// edits replace the whole record atomically in the Configuration Store.
type Source struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	SourceIPs []string `json:"source_ips" yaml:"source_ips"`
	Port      int      `json:"port" yaml:"port"`
	Protocol  Protocol `json:"protocol" yaml:"protocol"`

	TargetType TargetType    `json:"target_type" yaml:"target_type"`
	Folder     *FolderTarget `json:"folder,omitempty" yaml:"folder,omitempty"`
	HEC        *HECTarget    `json:"hec,omitempty" yaml:"hec,omitempty"`

	// QueueLimit is both the scale-up threshold and, at 4x, the queue
	// capacity. Default 10000.
	QueueLimit int `json:"queue_limit" yaml:"queue_limit"`
	// MaxWorkers bounds the processor pool for this source. Default 8.
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
}

// DefaultQueueLimit and DefaultMaxWorkers stand in for a Source's
// QueueLimit and MaxWorkers when those are zero. They are applied where
// the values are used (QueueCapacity and the processor pool), not
// written into the Source record.
const (
	DefaultQueueLimit = 10_000
	DefaultMaxWorkers = 8
)

// QueueCapacity is the bounded channel size enforced by the Listener
// Multiplexer and Processor Pool: 4x the scale-up threshold.
func (s Source) QueueCapacity() int {
	limit := s.QueueLimit
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return limit * 4
}

// Validate checks the structural invariants on a single Source: a
// non-empty ID/Name, a valid port, a non-empty source_ips set of parsed
// IP literals, and a target matching target_type. It does not check the
// cross-source (port, protocol, source_ip) uniqueness invariant — use
// ValidateUnique for that over a full source set.
func (s Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source: id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("source %s: name is required", s.ID)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("source %s: port %d out of range 1-65535", s.ID, s.Port)
	}
	if s.Protocol != ProtocolUDP && s.Protocol != ProtocolTCP {
		return fmt.Errorf("source %s: protocol must be udp or tcp, got %q", s.ID, s.Protocol)
	}
	if len(s.SourceIPs) == 0 {
		return fmt.Errorf("source %s: source_ips must be non-empty", s.ID)
	}
	for _, ip := range s.SourceIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("source %s: %q is not a valid IP literal", s.ID, ip)
		}
	}

	switch s.TargetType {
	case TargetFolder:
		if s.Folder == nil {
			return fmt.Errorf("source %s: target_type folder requires a folder target", s.ID)
		}
		if s.Folder.Path == "" {
			return fmt.Errorf("source %s: folder path is required", s.ID)
		}
		if s.Folder.BatchSize < 1 {
			return fmt.Errorf("source %s: folder batch_size must be >= 1", s.ID)
		}
		if s.Folder.Compression == CompressionGzip && (s.Folder.GzipLevel < 1 || s.Folder.GzipLevel > 9) {
			return fmt.Errorf("source %s: gzip level must be 1-9", s.ID)
		}
	case TargetHEC:
		if s.HEC == nil {
			return fmt.Errorf("source %s: target_type hec requires an hec target", s.ID)
		}
		if s.HEC.URL == "" {
			return fmt.Errorf("source %s: hec url is required", s.ID)
		}
		if s.HEC.BatchSize < 1 {
			return fmt.Errorf("source %s: hec batch_size must be >= 1", s.ID)
		}
	default:
		return fmt.Errorf("source %s: target_type must be folder or hec, got %q", s.ID, s.TargetType)
	}

	return nil
}

// endpointKey identifies one (protocol, port) listening endpoint.
type endpointKey struct {
	Protocol Protocol
	Port     int
}

// ValidateUnique checks the (port, protocol, source_ip) invariant
// across a full source set: no two sources may claim the same peer
// address on the same listening endpoint. Returns the first violation
// found.
func ValidateUnique(sources []Source) error {
	claims := make(map[endpointKey]map[string]string) // endpoint -> ip -> owning source id

	for _, s := range sources {
		key := endpointKey{Protocol: s.Protocol, Port: s.Port}
		owners, ok := claims[key]
		if !ok {
			owners = make(map[string]string)
			claims[key] = owners
		}
		for _, ip := range s.SourceIPs {
			if owner, exists := owners[ip]; exists && owner != s.ID {
				return fmt.Errorf("source %s: (port=%d, protocol=%s, ip=%s) already claimed by source %s",
					s.ID, s.Port, s.Protocol, ip, owner)
			}
			owners[ip] = s.ID
		}
	}
	return nil
}
