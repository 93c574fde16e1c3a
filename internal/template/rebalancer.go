package template

import (
	"context"
	"time"

	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

var rebalanceLogger = logging.GetLogger("template.rebalancer")

// RebalanceConfig controls periodic pattern lifecycle management.
type RebalanceConfig struct {
	// PruneThreshold removes patterns with fewer occurrences than this.
	PruneThreshold int

	// MergeInterval is how often rebalancing runs.
	MergeInterval time.Duration

	// SimilarityThreshold is the normalized edit-distance similarity
	// above which two patterns are considered drift of one another and
	// merged.
	SimilarityThreshold float64
}

// DefaultRebalanceConfig returns conservative defaults: every five
// minutes, prune patterns seen fewer than ten times, then merge
// near-duplicates above 70% similarity.
func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		PruneThreshold:      10,
		MergeInterval:       5 * time.Minute,
		SimilarityThreshold: 0.7,
	}
}

// Rebalancer periodically prunes low-frequency patterns and merges
// near-duplicates produced by log format drift.
type Rebalancer struct {
	miner  *Miner
	config RebalanceConfig
	stopCh chan struct{}
}

func NewRebalancer(miner *Miner, config RebalanceConfig) *Rebalancer {
	return &Rebalancer{miner: miner, config: config, stopCh: make(chan struct{})}
}

// Run blocks, rebalancing every MergeInterval until ctx is cancelled or
// Stop is called.
func (r *Rebalancer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.MergeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RebalanceAll()
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		}
	}
}

func (r *Rebalancer) Stop() {
	close(r.stopCh)
}

// RebalanceAll runs RebalanceSource across every tracked source.
func (r *Rebalancer) RebalanceAll() {
	for _, sourceID := range r.miner.Sources() {
		r.RebalanceSource(sourceID)
	}
}

// RebalanceSource prunes low-count patterns below PruneThreshold, then
// merges remaining patterns whose masked text is similar enough to be
// the same underlying shape.
func (r *Rebalancer) RebalanceSource(sourceID string) {
	r.miner.mu.RLock()
	sp, ok := r.miner.sources[sourceID]
	r.miner.mu.RUnlock()
	if !ok {
		return
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	pruned := 0
	for id, p := range sp.patterns {
		if p.Count < r.config.PruneThreshold {
			delete(sp.patterns, id)
			pruned++
		}
	}
	if pruned > 0 {
		rebalanceLogger.InfoWithFields("pruned low-count patterns",
			logging.Field("source", sourceID), logging.Field("count", pruned))
	}

	remaining := make([]*Pattern, 0, len(sp.patterns))
	for _, p := range sp.patterns {
		remaining = append(remaining, p)
	}

	merged := 0
	for i := 0; i < len(remaining); i++ {
		for j := i + 1; j < len(remaining); j++ {
			if _, ok := sp.patterns[remaining[j].ID]; !ok {
				continue
			}
			if r.similar(remaining[i].Text, remaining[j].Text) {
				mergeInto(remaining[i], remaining[j])
				delete(sp.patterns, remaining[j].ID)
				merged++
			}
		}
	}
	if merged > 0 {
		rebalanceLogger.InfoWithFields("merged drifted patterns",
			logging.Field("source", sourceID), logging.Field("count", merged))
	}
}

func (r *Rebalancer) similar(a, b string) bool {
	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter == 0 {
		return false
	}
	similarity := 1.0 - float64(distance)/float64(shorter)
	return similarity > r.config.SimilarityThreshold
}

func mergeInto(target, source *Pattern) {
	target.Count += source.Count
	if source.FirstSeen.Before(target.FirstSeen) {
		target.FirstSeen = source.FirstSeen
	}
	if source.LastSeen.After(target.LastSeen) {
		target.LastSeen = source.LastSeen
	}
}
