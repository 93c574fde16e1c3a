package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/sigil-systems/ingestord/internal/model"
)

const (
	retryInitialBackoff = 1 * time.Second
	retryBackoffFactor  = 2
	retryBackoffCap     = 60 * time.Second
	retryMaxAttempts    = 5
	retryBufferCap      = 1000
)

// RetryingSink wraps a Sink with the delivery retry policy: on a
// transient error, retry with exponential backoff (initial 1s, factor
// 2, cap 60s, up to 5 attempts); once exhausted, park the batch in a
// bounded retry buffer instead of blocking the caller. A permanent
// error drops the batch immediately.
type RetryingSink struct {
	inner  Sink
	logger *logging.Logger
	source string

	mu       sync.Mutex
	buffer   [][]model.CanonicalLog
	dropped  uint64
	draining bool
	drainCh  chan struct{}
}

// ErrParked marks a batch RetryingSink could not deliver after
// exhausting every retry attempt and instead buffered in its in-memory
// park buffer for a later drain attempt. It is distinct from
// ErrPermanent and ErrTransient: the batch was handed off, not failed
// outright, but it was NOT delivered — callers must not count it
// toward delivered events/bytes.
var ErrParked = errors.New("sink: batch parked for retry")

// NewRetryingSink wraps inner with the retry policy for sourceName,
// used in log output and the parked retry buffer's identity.
func NewRetryingSink(inner Sink, sourceName string) *RetryingSink {
	return &RetryingSink{
		inner:   inner,
		logger:  logging.GetLogger("sink.retry"),
		source:  sourceName,
		drainCh: make(chan struct{}, 1),
	}
}

// Deliver attempts delivery with backoff. If every attempt fails
// transiently, the batch is parked in the retry buffer instead of
// blocking the caller, per §7's park-don't-block policy — Deliver
// returns an error wrapping ErrParked, not nil, since the batch was not
// actually delivered. A permanent error returns immediately without
// retrying.
func (r *RetryingSink) Deliver(ctx context.Context, batch []model.CanonicalLog) error {
	backoff := retryInitialBackoff
	var lastErr error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err := r.inner.Deliver(ctx, batch)
		if err == nil {
			r.drainBuffer(ctx)
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			r.logger.WarnWithFields("sink delivery permanently failed",
				logging.Field("source", r.source),
				logging.Field("error", err.Error()),
			)
			return err
		}
		lastErr = err
		if attempt == retryMaxAttempts {
			break
		}
		r.logger.WarnWithFields("sink delivery failed, retrying",
			logging.Field("source", r.source),
			logging.Field("attempt", attempt),
			logging.Field("backoff", backoff.String()),
			logging.Field("error", err.Error()),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= retryBackoffFactor
		if backoff > retryBackoffCap {
			backoff = retryBackoffCap
		}
	}

	r.park(batch)
	r.logger.ErrorWithFields("sink delivery exhausted retries, batch parked",
		logging.Field("source", r.source),
		logging.Field("error", lastErr.Error()),
	)
	return fmt.Errorf("%w: %w", ErrParked, lastErr)
}

// park appends batch to the retry buffer, discarding the oldest parked
// batch once the buffer reaches its 1,000-batch cap.
func (r *RetryingSink) park(batch []model.CanonicalLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) >= retryBufferCap {
		r.buffer = r.buffer[1:]
		r.dropped++
	}
	r.buffer = append(r.buffer, batch)
}

// drainBuffer attempts to flush parked batches after a successful
// delivery, oldest first, stopping at the first renewed failure.
func (r *RetryingSink) drainBuffer(ctx context.Context) {
	r.mu.Lock()
	if r.draining || len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	r.draining = true
	pending := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.draining = false
		r.mu.Unlock()
	}()

	for i, batch := range pending {
		if err := r.inner.Deliver(ctx, batch); err != nil {
			r.mu.Lock()
			r.buffer = append(pending[i:], r.buffer...)
			r.mu.Unlock()
			return
		}
	}
}

// Dropped returns the count of parked batches discarded because the
// retry buffer was full.
func (r *RetryingSink) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close closes the wrapped sink.
func (r *RetryingSink) Close() error {
	return r.inner.Close()
}
