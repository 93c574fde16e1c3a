// Package control implements the Control Plane: the single
// reconciliation point between the Configuration Store's desired state
// and the running listeners, processor pools, and sinks. It exposes
// start/stop/reload/metrics and the add_source/update_source/
// delete_source operations used by the external CLI collaborator.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sigil-systems/ingestord/internal/config"
	"github.com/sigil-systems/ingestord/internal/extract"
	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/sigil-systems/ingestord/internal/metrics"
	"github.com/sigil-systems/ingestord/internal/model"
	"github.com/sigil-systems/ingestord/internal/processor"
	"github.com/sigil-systems/ingestord/internal/queue"
	"github.com/sigil-systems/ingestord/internal/sink"
	"github.com/sigil-systems/ingestord/internal/template"
)

// metricsSyncInterval is how often the Control Plane syncs each
// source's processor.Stats into its Prometheus collectors, independent
// of when /metrics happens to be scraped.
const metricsSyncInterval = 2 * time.Second

// sourceRuntime bundles the live components backing one configured
// Source.
type sourceRuntime struct {
	source          model.Source
	queue           *queue.Queue
	pool            *processor.Pool
	sink            sink.Sink
	metrics         *metrics.SourceMetrics
	templateLearned atomic.Bool
}

// Plane is the Control Plane. It owns a Multiplexer-shaped dependency
// through the narrow Enqueuer/Reloader capability interfaces so it
// never holds a cyclic reference back from the listener package.
type Plane struct {
	logger       *logging.Logger
	mux          Reloader
	registerer   prometheus.Registerer
	policiesDir  string
	templatesDir string

	miner      *template.Miner
	persister  *template.Persister
	rebalancer *template.Rebalancer

	mu          sync.Mutex
	path        string
	sources     map[string]*sourceRuntime
	watcher     *config.SourcesWatcher
	started     bool
	metricsStop chan struct{}
	metricsDone chan struct{}
}

// Reloader is the narrow capability the Plane needs from the Listener
// Multiplexer: hand it the desired source set so it can diff its own
// endpoints. Message passing through this interface avoids a cyclic
// control<->listener dependency.
type Reloader interface {
	Reload(sources []model.Source)
}

// New builds a Plane. mux receives the desired source set on every
// reload; registerer is the Prometheus registry backing per-source
// metrics; policiesDir holds the aggregation/filter policy files
// loaded on each reload; templatesDir holds the Template Store's
// learned per-source field schemas. The process-wide CPU/mem/fd
// collectors are registered here too, so metrics() exposes a system
// snapshot alongside every source's pipeline stats, without a source
// of its own.
func New(mux Reloader, registerer prometheus.Registerer, policiesDir, templatesDir string) *Plane {
	if registerer != nil {
		registerer.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registerer.MustRegister(collectors.NewGoCollector())
	}

	p := &Plane{
		logger:       logging.GetLogger("control.plane"),
		mux:          mux,
		registerer:   registerer,
		policiesDir:  policiesDir,
		templatesDir: templatesDir,
		sources:      make(map[string]*sourceRuntime),
	}

	if templatesDir != "" {
		p.miner = template.NewMiner(template.DefaultDrainConfig())
		p.persister = template.NewPersister(p.miner, filepath.Join(templatesDir, ".patterns-snapshot.json"), 30*time.Second)
		p.rebalancer = template.NewRebalancer(p.miner, template.DefaultRebalanceConfig())
	}

	return p
}

// Enqueue implements listener.Enqueuer: route a record to sourceID's
// queue. Returns false if the source is unknown (e.g. removed mid-
// flight by a concurrent reload).
func (p *Plane) Enqueue(sourceID string, record model.CanonicalLog) bool {
	p.mu.Lock()
	rt, ok := p.sources[sourceID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return rt.queue.Enqueue(record)
}

// Start loads sourcesPath, applies the initial reconcile, and begins
// watching it for hot-reload.
func (p *Plane) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	watcher, err := config.NewSourcesWatcher(config.SourcesWatcherConfig{
		FilePath: p.sourcesPath(),
	}, func(sf *config.SourcesFile) error {
		return p.Reload(ctx, sf.Sources)
	})
	if err != nil {
		return fmt.Errorf("control plane: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("control plane: %w", err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.metricsStop = make(chan struct{})
	p.metricsDone = make(chan struct{})
	p.mu.Unlock()

	if p.persister != nil {
		go func() {
			if err := p.persister.Run(ctx); err != nil {
				p.logger.WarnWithFields("template pattern persister stopped", logging.Field("error", err.Error()))
			}
		}()
		go func() {
			if err := p.rebalancer.Run(ctx); err != nil {
				p.logger.WarnWithFields("template pattern rebalancer stopped", logging.Field("error", err.Error()))
			}
		}()
	}

	go p.runMetricsSync()
	return nil
}

// runMetricsSync periodically syncs every source's processor.Stats
// into its Prometheus collectors, so /metrics reflects current values
// even between control-plane operations that would otherwise trigger
// a sync.
func (p *Plane) runMetricsSync() {
	defer close(p.metricsDone)
	ticker := time.NewTicker(metricsSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Metrics()
		case <-p.metricsStop:
			return
		}
	}
}

// sourcesPath is overridden in tests; production wiring sets it via
// SetSourcesPath before Start.
func (p *Plane) sourcesPath() string {
	return p.path
}

// SetSourcesPath configures the sources file Start watches.
func (p *Plane) SetSourcesPath(path string) {
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
}

// SetMultiplexer wires the Listener Multiplexer after construction,
// breaking the Plane<->Multiplexer construction cycle (the Multiplexer
// needs the Plane as its Enqueuer at construction time).
func (p *Plane) SetMultiplexer(mux Reloader) {
	p.mu.Lock()
	p.mux = mux
	p.mu.Unlock()
}

// Stop drains and stops every source's processor pool, in no
// particular order — pools are independent per §4.2.
func (p *Plane) Stop(ctx context.Context) error {
	p.mu.Lock()
	watcher := p.watcher
	metricsStop := p.metricsStop
	metricsDone := p.metricsDone
	runtimes := make([]*sourceRuntime, 0, len(p.sources))
	for _, rt := range p.sources {
		runtimes = append(runtimes, rt)
	}
	p.sources = make(map[string]*sourceRuntime)
	p.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	if metricsStop != nil {
		close(metricsStop)
		<-metricsDone
	}
	if p.persister != nil {
		p.persister.Stop()
		p.rebalancer.Stop()
	}

	for _, rt := range runtimes {
		p.stopRuntime(ctx, rt)
	}
	return nil
}

// Name identifies this component for lifecycle orchestration.
func (p *Plane) Name() string {
	return "control.plane"
}

// Reload is the single point that diffs the desired source set against
// the running one: it stops and removes runtimes for deleted sources,
// starts runtimes for new sources, and re-applies policy for sources
// that survive. It then hands the full desired set to the Multiplexer,
// which performs its own endpoint-level diff.
func (p *Plane) Reload(ctx context.Context, desired []model.Source) error {
	desiredByID := make(map[string]model.Source, len(desired))
	for _, s := range desired {
		desiredByID[s.ID] = s
	}

	p.mu.Lock()
	var toStop []*sourceRuntime
	for id, rt := range p.sources {
		if _, ok := desiredByID[id]; !ok {
			toStop = append(toStop, rt)
			delete(p.sources, id)
		}
	}
	p.mu.Unlock()

	for _, rt := range toStop {
		p.stopRuntime(ctx, rt)
	}

	for _, s := range desired {
		p.mu.Lock()
		_, exists := p.sources[s.ID]
		p.mu.Unlock()
		if exists {
			p.applyPolicy(s)
			continue
		}
		if err := p.startSource(ctx, s); err != nil {
			p.logger.ErrorWithFields("failed to start source",
				logging.Field("source", s.ID),
				logging.Field("error", err.Error()),
			)
		}
	}

	p.mux.Reload(desired)
	return nil
}

func (p *Plane) startSource(ctx context.Context, s model.Source) error {
	sk, err := sink.New(s)
	if err != nil {
		return err
	}
	retrying := sink.NewRetryingSink(sk, s.Name)

	q := queue.New(s.QueueCapacity())
	pool := processor.New(s, q, retrying)

	var sourceMetrics *metrics.SourceMetrics
	if p.registerer != nil {
		sourceMetrics = metrics.NewSourceMetrics(p.registerer, s.Name)
	}

	rt := &sourceRuntime{source: s, queue: q, pool: pool, sink: retrying, metrics: sourceMetrics}
	if p.templatesDir != "" {
		if existing, err := config.LoadTemplateFile(config.TemplatePath(p.templatesDir, s.ID)); err == nil && existing != nil {
			rt.templateLearned.Store(true)
		}
		pool.SetRecordObserver(p.observeRecord(s, rt))
	}

	if err := pool.Start(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.sources[s.ID] = rt
	p.mu.Unlock()

	p.applyPolicy(s)
	return nil
}

// observeRecord returns the per-source callback wired into the
// processor pool: it learns the Template Store's field schema from
// the first record that yields any extracted fields, and feeds every
// record's raw text into the diagnostic pattern miner.
func (p *Plane) observeRecord(s model.Source, rt *sourceRuntime) func(model.CanonicalLog) {
	return func(record model.CanonicalLog) {
		p.learnTemplate(s, rt, record)
		if p.miner != nil {
			p.miner.Observe(s.ID, eventText(record.Event))
		}
	}
}

func eventText(event interface{}) string {
	switch e := event.(type) {
	case string:
		return e
	default:
		encoded, err := json.Marshal(e)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// learnTemplate persists rt's Template Store record the first time a
// record yields at least one extracted field, matching "learned once
// from the first successfully parsed log after template creation."
func (p *Plane) learnTemplate(s model.Source, rt *sourceRuntime, record model.CanonicalLog) {
	if p.templatesDir == "" || !rt.templateLearned.CompareAndSwap(false, true) {
		return
	}

	fields := extract.FromEvent(record.Event)
	if len(fields) == 0 {
		rt.templateLearned.Store(false)
		return
	}

	tf := &config.TemplateFile{
		SourceID:  s.ID,
		Fields:    make([]model.TemplateField, len(fields)),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for i, f := range fields {
		tf.Fields[i] = model.TemplateField{Name: f.Name, Type: f.Type}
	}

	if err := config.WriteTemplateFile(config.TemplatePath(p.templatesDir, s.ID), tf); err != nil {
		p.logger.WarnWithFields("failed to persist learned template",
			logging.Field("source", s.ID),
			logging.Field("error", err.Error()),
		)
	}
}

func (p *Plane) applyPolicy(s model.Source) {
	if p.policiesDir == "" {
		return
	}
	pf, err := config.LoadPolicyFile(config.PolicyPath(p.policiesDir, s.ID))
	if err != nil {
		p.logger.WarnWithFields("failed to load policy file, keeping previous policy",
			logging.Field("source", s.ID),
			logging.Field("error", err.Error()),
		)
		return
	}

	p.mu.Lock()
	rt, ok := p.sources[s.ID]
	p.mu.Unlock()
	if !ok {
		return
	}
	rt.pool.SetAggregationPolicy(pf.Aggregation)
	rt.pool.SetFilterRules(pf.Filters)
}

func (p *Plane) stopRuntime(ctx context.Context, rt *sourceRuntime) {
	if err := rt.pool.Stop(ctx); err != nil {
		p.logger.WarnWithFields("error stopping processor pool",
			logging.Field("source", rt.source.ID),
			logging.Field("error", err.Error()),
		)
	}
	if err := rt.sink.Close(); err != nil {
		p.logger.WarnWithFields("error closing sink",
			logging.Field("source", rt.source.ID),
			logging.Field("error", err.Error()),
		)
	}
	if rt.metrics != nil {
		rt.metrics.Unregister()
	}
}

// Metrics returns a snapshot of every active source's pipeline stats,
// syncing each source's Prometheus collectors along the way.
func (p *Plane) Metrics() map[string]processor.Stats {
	p.mu.Lock()
	runtimes := make([]*sourceRuntime, 0, len(p.sources))
	for _, rt := range p.sources {
		runtimes = append(runtimes, rt)
	}
	p.mu.Unlock()

	out := make(map[string]processor.Stats, len(runtimes))
	for _, rt := range runtimes {
		stats := rt.pool.Stats()
		if retrying, ok := rt.sink.(*sink.RetryingSink); ok {
			stats.EventsDroppedSinkBuffer = retrying.Dropped()
		}
		out[rt.source.Name] = stats
		if rt.metrics != nil {
			rt.metrics.Sync(stats)
		}
		p.syncTemplatePattern(rt)
	}
	return out
}

// syncTemplatePattern writes the pattern miner's current dominant
// pattern into rt's persisted Template Store record, if it has
// changed. This is purely diagnostic (model.LogTemplate.Pattern) and
// never touches Fields or CreatedAt.
func (p *Plane) syncTemplatePattern(rt *sourceRuntime) {
	if p.miner == nil || p.templatesDir == "" {
		return
	}
	dominant, err := p.miner.Dominant(rt.source.ID)
	if err != nil {
		return
	}

	path := config.TemplatePath(p.templatesDir, rt.source.ID)
	tf, err := config.LoadTemplateFile(path)
	if err != nil || tf == nil || tf.Pattern == dominant.Text {
		return
	}
	tf.Pattern = dominant.Text
	if err := config.WriteTemplateFile(path, tf); err != nil {
		p.logger.WarnWithFields("failed to persist mined pattern",
			logging.Field("source", rt.source.ID),
			logging.Field("error", err.Error()),
		)
	}
}

// AddSource validates s against the current set, persists it via the
// Configuration Store, and lets the next reload (triggered by the
// Configuration Store's own file watch) reconcile it. A caller that
// omits ID gets one generated.
func (p *Plane) AddSource(s model.Source) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return p.mutateSources(func(sf *config.SourcesFile) error {
		for _, existing := range sf.Sources {
			if existing.ID == s.ID {
				return fmt.Errorf("source %s already exists", s.ID)
			}
		}
		sf.Sources = append(sf.Sources, s)
		return nil
	})
}

// UpdateSource replaces the source with s.ID's configuration in full
// (Sources are immutable once created; edits replace the whole
// record).
func (p *Plane) UpdateSource(s model.Source) error {
	return p.mutateSources(func(sf *config.SourcesFile) error {
		for i, existing := range sf.Sources {
			if existing.ID == s.ID {
				sf.Sources[i] = s
				return nil
			}
		}
		return fmt.Errorf("source %s not found", s.ID)
	})
}

// DeleteSource removes sourceID from the Configuration Store and its
// learned Template Store record, which is deleted explicitly rather
// than on any other lifecycle event.
func (p *Plane) DeleteSource(sourceID string) error {
	if err := p.mutateSources(func(sf *config.SourcesFile) error {
		for i, existing := range sf.Sources {
			if existing.ID == sourceID {
				sf.Sources = append(sf.Sources[:i], sf.Sources[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("source %s not found", sourceID)
	}); err != nil {
		return err
	}

	if p.templatesDir != "" {
		if err := config.DeleteTemplateFile(config.TemplatePath(p.templatesDir, sourceID)); err != nil {
			p.logger.WarnWithFields("failed to delete template file",
				logging.Field("source", sourceID),
				logging.Field("error", err.Error()),
			)
		}
	}
	return nil
}

// mutateSources loads the current sources file, applies mutate,
// validates the result against §3 invariants, and writes it back
// atomically. The fsnotify-based watcher picks up the write and drives
// Reload.
func (p *Plane) mutateSources(mutate func(sf *config.SourcesFile) error) error {
	path := p.sourcesPath()
	sf, err := config.LoadSourcesFile(path)
	if err != nil {
		return err
	}
	if err := mutate(sf); err != nil {
		return err
	}
	if err := sf.Validate(); err != nil {
		return err
	}
	return config.WriteSourcesFile(path, sf)
}
