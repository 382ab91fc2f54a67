// Package paramstore provides an in-memory store for optimized strategy
// parameters keyed by strategy and symbol, with JSON persistence and pub/sub
// for SSE push.
package paramstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// Event is the wire format for SSE messages.
type Event struct {
	Type     string             `json:"type"`               // "snapshot", "set", "delete"
	Strategy string             `json:"strategy,omitempty"` // set/delete only
	Symbol   string             `json:"symbol,omitempty"`   // set/delete only
	Params   map[string]float64 `json:"params,omitempty"`   // set only
	// Data carries the full state on snapshot, keyed "strategy/symbol".
	Data map[string]map[string]float64 `json:"data,omitempty"`
}

// Store holds optimized parameters in memory with JSON persistence and pub/sub.
type Store struct {
	mu       sync.RWMutex
	params   map[string]map[string]float64 // "strategy/symbol" -> name -> value
	filePath string
	log      *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewStore creates a Store, loading persisted state from filePath.
func NewStore(filePath string, log *slog.Logger) *Store {
	s := &Store{
		params:   make(map[string]map[string]float64),
		filePath: filePath,
		log:      log,
		subs:     make(map[int]chan Event),
	}
	s.load()
	return s
}

func storeKey(strategy, symbol string) string {
	return strategy + "/" + symbol
}

// Snapshot returns a deep copy of all stored parameter sets.
func (s *Store) Snapshot() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deepCopy()
}

// Get returns the stored parameters for a strategy/symbol pair (nil-safe).
func (s *Store) Get(strategy, symbol string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.params[storeKey(strategy, symbol)]
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Set replaces the parameter set for a strategy/symbol pair, persists to
// disk, and broadcasts to subscribers.
func (s *Store) Set(strategy, symbol string, params map[string]float64) {
	stored := make(map[string]float64, len(params))
	for k, v := range params {
		stored[k] = v
	}

	s.mu.Lock()
	s.params[storeKey(strategy, symbol)] = stored
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "set", Strategy: strategy, Symbol: symbol, Params: stored})
}

// Delete removes a parameter set, persists to disk, and broadcasts to
// subscribers.
func (s *Store) Delete(strategy, symbol string) {
	s.mu.Lock()
	delete(s.params, storeKey(strategy, symbol))
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "delete", Strategy: strategy, Symbol: symbol})
}

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer, drop the event.
		}
	}
}

// load reads the JSON file into memory.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // No file yet, start empty.
	}
	var loaded map[string]map[string]float64
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("loading params file", "error", err)
		return
	}
	s.params = loaded
	s.log.Info("loaded optimized params", "entries", len(loaded))
}

// flush writes the in-memory state to disk. Must be called with mu held.
func (s *Store) flush() {
	data, err := json.Marshal(s.params)
	if err != nil {
		s.log.Error("marshalling params", "error", err)
		return
	}
	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		s.log.Error("writing params file", "error", err)
	}
}

// deepCopy returns a deep copy of params. Must be called with mu held (read or write).
func (s *Store) deepCopy() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(s.params))
	for key, m := range s.params {
		inner := make(map[string]float64, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[key] = inner
	}
	return out
}
