// Package sink implements the Sink Adapters: delivering a batch of
// CanonicalLog records to a Folder (newline-delimited JSON files,
// optional gzip) or an HTTP Event Collector endpoint.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/sigil-systems/ingestord/internal/model"
)

// ErrPermanent marks a delivery failure that retrying will not fix
// (e.g. HEC 401/403/404, an unwritable path). Callers should log, drop
// the batch, and surface the error as last_error without retrying.
var ErrPermanent = errors.New("sink: permanent delivery failure")

// ErrTransient marks a delivery failure worth retrying with backoff
// (e.g. HEC 5xx, network error, disk ENOSPC).
var ErrTransient = errors.New("sink: transient delivery failure")

// Sink delivers one batch of records. Implementations return an error
// wrapping ErrPermanent or ErrTransient so callers can apply §7's retry
// policy without inspecting sink-specific error types.
type Sink interface {
	// Deliver sends batch. It returns nil only once the batch is fully
	// and durably handed off (file renamed into place, or the sink
	// returned 2xx).
	Deliver(ctx context.Context, batch []model.CanonicalLog) error
	// Close releases resources held by the sink (connections, file
	// handles). Safe to call once, after all Deliver calls finish.
	Close() error
}

// Permanent wraps err as a non-retryable sink failure.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Transient wraps err as a retryable sink failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// New builds the sink adapter for source's configured target.
func New(source model.Source) (Sink, error) {
	switch source.TargetType {
	case model.TargetFolder:
		if source.Folder == nil {
			return nil, fmt.Errorf("sink: source %s has target_type folder but no folder target", source.ID)
		}
		return NewFolderSink(source.Name, *source.Folder), nil
	case model.TargetHEC:
		if source.HEC == nil {
			return nil, fmt.Errorf("sink: source %s has target_type hec but no hec target", source.ID)
		}
		return NewHECSink(*source.HEC), nil
	default:
		return nil, fmt.Errorf("sink: source %s has unknown target_type %q", source.ID, source.TargetType)
	}
}
