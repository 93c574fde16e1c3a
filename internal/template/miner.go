package template

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrSourceNotFound is returned when a pattern lookup targets a source
// the miner has not seen yet.
var ErrSourceNotFound = errors.New("template: source not found")

// sourcePatterns holds per-source mining state: its own Drain instance
// plus the patterns it has produced so far.
type sourcePatterns struct {
	drain    *drainProcessor
	patterns map[string]*Pattern
	mu       sync.RWMutex
}

// Miner mines wildcard patterns per source, independent of the
// canonical field/type schema. A separate Drain instance is kept per
// source so that one noisy source cannot dilute another's clustering.
type Miner struct {
	sources map[string]*sourcePatterns
	config  DrainConfig
	mu      sync.RWMutex
}

// NewMiner creates a pattern miner using config for every source's
// Drain instance, created lazily on first log.
func NewMiner(config DrainConfig) *Miner {
	return &Miner{
		sources: make(map[string]*sourcePatterns),
		config:  config,
	}
}

// Observe feeds a raw log line for sourceID through Drain and returns
// the ID of the pattern it matched or created.
func (m *Miner) Observe(sourceID, rawLog string) string {
	sp := m.getOrCreateSource(sourceID)

	normalized := strings.TrimSpace(strings.ToLower(rawLog))
	cluster := sp.drain.train(normalized)
	masked := maskVariables(extractClusterPattern(cluster.String()))
	id := generatePatternID(sourceID, canonicalizeWildcards(masked))
	tokens := strings.Fields(masked)

	sp.mu.Lock()
	defer sp.mu.Unlock()

	if p, ok := sp.patterns[id]; ok {
		p.Count++
		p.LastSeen = time.Now()
		return id
	}
	now := time.Now()
	sp.patterns[id] = &Pattern{
		ID:        id,
		SourceID:  sourceID,
		Text:      masked,
		Tokens:    tokens,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	return id
}

// Dominant returns the highest-count pattern for a source, or
// ErrSourceNotFound if the source has not produced any logs yet.
func (m *Miner) Dominant(sourceID string) (Pattern, error) {
	m.mu.RLock()
	sp, ok := m.sources[sourceID]
	m.mu.RUnlock()
	if !ok {
		return Pattern{}, ErrSourceNotFound
	}

	sp.mu.RLock()
	defer sp.mu.RUnlock()
	if len(sp.patterns) == 0 {
		return Pattern{}, ErrSourceNotFound
	}

	list := make(PatternList, 0, len(sp.patterns))
	for _, p := range sp.patterns {
		list = append(list, *p)
	}
	list.SortByCount()
	return list[0], nil
}

// Sources returns every source ID the miner currently tracks.
func (m *Miner) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	return ids
}

func (m *Miner) getOrCreateSource(sourceID string) *sourcePatterns {
	m.mu.RLock()
	sp, ok := m.sources[sourceID]
	m.mu.RUnlock()
	if ok {
		return sp
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sp, ok := m.sources[sourceID]; ok {
		return sp
	}
	sp = &sourcePatterns{
		drain:    newDrainProcessor(m.config),
		patterns: make(map[string]*Pattern),
	}
	m.sources[sourceID] = sp
	return sp
}
