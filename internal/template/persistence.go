package template

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sigil-systems/ingestord/internal/logging"
)

var persistLogger = logging.GetLogger("template.persistence")

// snapshot is the on-disk representation of a miner's state.
type snapshot struct {
	Version   int                  `json:"version"`
	Timestamp time.Time            `json:"timestamp"`
	Sources   map[string][]Pattern `json:"sources"`
}

// Persister periodically snapshots a Miner's state to disk using
// atomic temp-file-then-rename writes, and restores it on startup.
type Persister struct {
	miner    *Miner
	path     string
	interval time.Duration
	stopCh   chan struct{}
}

// NewPersister writes snapshots of miner to path every interval.
func NewPersister(miner *Miner, path string, interval time.Duration) *Persister {
	return &Persister{miner: miner, path: path, interval: interval, stopCh: make(chan struct{})}
}

// Run loads any existing snapshot, then blocks writing a fresh snapshot
// every interval until ctx is cancelled or Stop is called, at which
// point it performs one final snapshot before returning.
func (p *Persister) Run(ctx context.Context) error {
	if err := p.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("template: load snapshot: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Snapshot(); err != nil {
				persistLogger.ErrorWithErr("periodic snapshot failed", err)
			}
		case <-ctx.Done():
			if err := p.Snapshot(); err != nil {
				persistLogger.ErrorWithErr("final snapshot failed", err)
			}
			return nil
		case <-p.stopCh:
			if err := p.Snapshot(); err != nil {
				persistLogger.ErrorWithErr("final snapshot failed", err)
			}
			return nil
		}
	}
}

// Stop signals Run to perform a final snapshot and return.
func (p *Persister) Stop() {
	close(p.stopCh)
}

// Snapshot writes the miner's current state to disk.
func (p *Persister) Snapshot() error {
	p.miner.mu.RLock()
	data := snapshot{Version: 1, Timestamp: time.Now(), Sources: make(map[string][]Pattern)}
	for sourceID, sp := range p.miner.sources {
		sp.mu.RLock()
		patterns := make([]Pattern, 0, len(sp.patterns))
		for _, pat := range sp.patterns {
			patterns = append(patterns, *pat)
		}
		sp.mu.RUnlock()
		data.Sources[sourceID] = patterns
	}
	p.miner.mu.RUnlock()

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".template-snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load restores miner state from disk. A missing file is not an error;
// callers should treat os.IsNotExist(err) as "start empty".
func (p *Persister) Load() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	var data snapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if data.Version != 1 {
		return fmt.Errorf("unsupported snapshot version: %d", data.Version)
	}

	p.miner.mu.Lock()
	defer p.miner.mu.Unlock()
	for sourceID, patterns := range data.Sources {
		sp := &sourcePatterns{
			drain:    newDrainProcessor(p.miner.config),
			patterns: make(map[string]*Pattern, len(patterns)),
		}
		for i := range patterns {
			sp.patterns[patterns[i].ID] = &patterns[i]
		}
		p.miner.sources[sourceID] = sp
	}
	return nil
}
