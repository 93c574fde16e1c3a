// Package processor implements the Processor Pool: per source, one
// supervisor plus a dynamic set of worker tasks that drain the source
// queue, form batches, run the Filter then Aggregation Engines, and
// hand the result to a Sink Adapter.
package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigil-systems/ingestord/internal/aggregation"
	"github.com/sigil-systems/ingestord/internal/filter"
	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/sigil-systems/ingestord/internal/model"
	"github.com/sigil-systems/ingestord/internal/queue"
	"github.com/sigil-systems/ingestord/internal/sink"
)

const (
	defaultMaxBatchLatency  = 1 * time.Second
	defaultDrainDeadline    = 10 * time.Second
	scaleDownConsecutiveLow = 30
	supervisorTick          = 1 * time.Second
)

// Stats is a point-in-time snapshot of one source's pipeline health,
// returned by the Control Plane's metrics() call.
type Stats struct {
	QueueDepth              int
	WorkersActive           int
	EventsIn                uint64
	EventsDroppedQueueFull  uint64
	EventsDroppedFilter     uint64
	EventsDroppedSinkBuffer uint64
	EventsDelivered         uint64
	BytesDelivered          uint64
	LastError               string
}

// Pool runs the supervisor and worker tasks for one source.
type Pool struct {
	source model.Source
	queue  *queue.Queue
	sink   sink.Sink
	logger *logging.Logger

	maxBatchLatency time.Duration
	drainDeadline   time.Duration

	aggPolicy      atomic.Pointer[model.AggregationPolicy]
	filterRules    atomic.Pointer[[]model.FilterRule]
	recordObserver atomic.Pointer[func(model.CanonicalLog)]

	eventsDroppedFilter atomic.Uint64
	eventsDelivered     atomic.Uint64
	bytesDelivered      atomic.Uint64
	lastErr             atomic.Pointer[string]

	mu          sync.Mutex
	workerStops []chan struct{}
	wg          sync.WaitGroup
	belowTicks  int
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds a Pool for source, delivering batches via s and reading
// from q. The pool starts with one worker once Start is called.
func New(source model.Source, q *queue.Queue, s sink.Sink) *Pool {
	p := &Pool{
		source:          source,
		queue:           q,
		sink:            s,
		logger:          logging.GetLogger("processor.pool").WithField("source", source.Name),
		maxBatchLatency: defaultMaxBatchLatency,
		drainDeadline:   defaultDrainDeadline,
		done:            make(chan struct{}),
	}
	emptyRules := []model.FilterRule{}
	p.filterRules.Store(&emptyRules)
	return p
}

// SetAggregationPolicy hot-swaps the aggregation policy applied to
// future batches.
func (p *Pool) SetAggregationPolicy(policy model.AggregationPolicy) {
	p.aggPolicy.Store(&policy)
}

// SetFilterRules hot-swaps the filter rule set applied to future
// batches, without restarting any worker.
func (p *Pool) SetFilterRules(rules []model.FilterRule) {
	cloned := append([]model.FilterRule(nil), rules...)
	p.filterRules.Store(&cloned)
}

// SetRecordObserver registers a callback invoked with every record
// that survives filtering, before aggregation collapses it. Used by
// the Template Store to learn a source's field schema from its early
// logs and by the pattern miner; observation never affects delivery.
func (p *Pool) SetRecordObserver(observer func(model.CanonicalLog)) {
	p.recordObserver.Store(&observer)
}

// Start launches the supervisor and the first worker.
func (p *Pool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.spawnWorker(ctx)
	go p.runSupervisor(ctx)
	return nil
}

// Stop signals every worker and the supervisor to stop, waits up to
// the drain deadline for in-flight batches to finish, then reports any
// records left in the queue as lost.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	waitCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(p.drainDeadline):
		p.logger.WarnWithFields("drain deadline exceeded, workers still running")
	}

	lost := p.queue.Drain()
	if len(lost) > 0 {
		p.logger.WarnWithFields("records lost at shutdown",
			logging.Field("count", len(lost)),
		)
	}
	return nil
}

// Name identifies this component for lifecycle orchestration.
func (p *Pool) Name() string {
	return "processor.pool." + p.source.ID
}

// Stats returns a snapshot of this source's pipeline counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := len(p.workerStops)
	p.mu.Unlock()

	lastErr := ""
	if e := p.lastErr.Load(); e != nil {
		lastErr = *e
	}

	return Stats{
		QueueDepth:             p.queue.Depth(),
		WorkersActive:          workers,
		EventsIn:               p.queue.Accepted(),
		EventsDroppedQueueFull: p.queue.Dropped(),
		EventsDroppedFilter:    p.eventsDroppedFilter.Load(),
		EventsDelivered:        p.eventsDelivered.Load(),
		BytesDelivered:         p.bytesDelivered.Load(),
		LastError:              lastErr,
	}
}

func (p *Pool) spawnWorker(ctx context.Context) {
	stop := make(chan struct{})
	p.mu.Lock()
	p.workerStops = append(p.workerStops, stop)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runWorker(ctx, stop)
}

// retireWorker signals the most recently spawned worker to stop once
// it finishes its current batch.
func (p *Pool) retireWorker() {
	p.mu.Lock()
	if len(p.workerStops) <= 1 {
		p.mu.Unlock()
		return
	}
	stop := p.workerStops[len(p.workerStops)-1]
	p.workerStops = p.workerStops[:len(p.workerStops)-1]
	p.mu.Unlock()
	close(stop)
}

func (p *Pool) workerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workerStops)
}

// runSupervisor ticks at 1 Hz, scaling workers up when queue depth
// exceeds queue_limit and down after 30 consecutive low-depth ticks.
func (p *Pool) runSupervisor(ctx context.Context) {
	ticker := time.NewTicker(supervisorTick)
	defer ticker.Stop()

	queueLimit := p.source.QueueLimit
	if queueLimit <= 0 {
		queueLimit = model.DefaultQueueLimit
	}
	maxWorkers := p.source.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = model.DefaultMaxWorkers
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth := p.queue.Depth()
			workers := p.workerCount()

			switch {
			case depth > queueLimit && workers < maxWorkers:
				p.spawnWorker(ctx)
				p.belowTicks = 0
			case depth < queueLimit/4:
				p.belowTicks++
				if p.belowTicks >= scaleDownConsecutiveLow && workers > 1 {
					p.retireWorker()
					p.belowTicks = 0
				}
			default:
				p.belowTicks = 0
			}
		}
	}
}

// runWorker accumulates records until batch_size or max_batch_latency
// elapses, then runs the filter, aggregation, and sink stages in
// order. It exits once stop is closed and any in-flight batch has been
// closed, or once ctx is done.
func (p *Pool) runWorker(ctx context.Context, stop chan struct{}) {
	defer p.wg.Done()

	ch := p.queue.C()
	batchSize := p.batchSize()

	var batch []model.CanonicalLog
	var timer *time.Timer

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}

	for {
		if len(batch) == 0 {
			select {
			case record := <-ch:
				batch = append(batch, record)
				timer = time.NewTimer(p.maxBatchLatency)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case record := <-ch:
			batch = append(batch, record)
			if len(batch) >= batchSize {
				stopTimer()
				p.closeBatch(context.Background(), batch)
				batch = nil
			}
		case <-timer.C:
			timer = nil
			p.closeBatch(context.Background(), batch)
			batch = nil
		case <-stop:
			stopTimer()
			p.closeBatch(context.Background(), batch)
			return
		case <-ctx.Done():
			stopTimer()
			p.closeBatch(context.Background(), batch)
			return
		}
	}
}

func (p *Pool) batchSize() int {
	switch p.source.TargetType {
	case model.TargetFolder:
		if p.source.Folder != nil && p.source.Folder.BatchSize > 0 {
			return p.source.Folder.BatchSize
		}
	case model.TargetHEC:
		if p.source.HEC != nil && p.source.HEC.BatchSize > 0 {
			return p.source.HEC.BatchSize
		}
	}
	return 1
}

// closeBatch runs filter (first, per §4.3 ordering), then aggregation,
// then delivery.
func (p *Pool) closeBatch(ctx context.Context, batch []model.CanonicalLog) {
	if len(batch) == 0 {
		return
	}

	rules := *p.filterRules.Load()
	filtered := filter.Apply(batch, rules)
	p.eventsDroppedFilter.Add(uint64(len(batch) - len(filtered)))

	if len(filtered) == 0 {
		return
	}

	if obs := p.recordObserver.Load(); obs != nil {
		for _, record := range filtered {
			(*obs)(record)
		}
	}

	final := filtered
	if policy := p.aggPolicy.Load(); policy != nil {
		final = aggregation.Aggregate(filtered, *policy)
	}

	err := p.sink.Deliver(ctx, final)
	switch {
	case err == nil:
		var represented uint64
		for _, record := range final {
			represented += uint64(aggregation.RepresentedCount(record))
		}
		p.eventsDelivered.Add(represented)
		size, marshalErr := model.MarshalNDJSON(final)
		if marshalErr == nil {
			p.bytesDelivered.Add(uint64(len(size)))
		}
	case errors.Is(err, sink.ErrParked):
		// Parked, not delivered: the batch sits in the sink's retry
		// buffer for a later drain attempt. Neither eventsDelivered nor
		// bytesDelivered advance until that drain succeeds.
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.logger.WarnWithFields("batch parked after exhausting retries",
			logging.Field("records", len(final)),
			logging.Field("error", msg),
		)
	default:
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.logger.ErrorWithFields("batch delivery failed",
			logging.Field("records", len(final)),
			logging.Field("error", msg),
		)
	}
}
