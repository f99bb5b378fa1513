package session

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/metrics"
)

type entry struct {
	owner    string
	session  *Session
	lastSeen time.Time
}

// Store keeps the gateway's sessions by id. Sessions are only visible to the owner that created
// them.
type Store struct {
	analyzer detection.Analyzer
	clock    clockwork.Clock
	idleTTL  time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	onCreate []func(*Session)
	onEvict  []func(*Session)
}

// NewStore creates a store whose sessions analyze through analyzer. Sessions unused for idleTTL
// are dropped by Sweep; a zero TTL disables eviction.
func NewStore(analyzer detection.Analyzer, clock clockwork.Clock, idleTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		analyzer: analyzer,
		clock:    clock,
		idleTTL:  idleTTL,
		logger:   logger.Named("session_store"),
		sessions: make(map[string]*entry),
	}
}

// OnCreate registers a hook run for every new session, before it is returned to the caller.
func (st *Store) OnCreate(hook func(*Session)) {
	st.mu.Lock()
	st.onCreate = append(st.onCreate, hook)
	st.mu.Unlock()
}

// OnEvict registers a hook run for every session Sweep drops, after its image is cleared.
func (st *Store) OnEvict(hook func(*Session)) {
	st.mu.Lock()
	st.onEvict = append(st.onEvict, hook)
	st.mu.Unlock()
}

// Create makes a new idle session for owner.
func (st *Store) Create(owner string) *Session {
	s := New(uuid.NewString(), st.analyzer, st.logger)

	st.mu.Lock()
	hooks := slices.Clone(st.onCreate)
	st.sessions[s.ID()] = &entry{owner: owner, session: s, lastSeen: st.clock.Now()}
	count := len(st.sessions)
	st.mu.Unlock()

	for _, hook := range hooks {
		hook(s)
	}
	metrics.SessionsActive.Set(float64(count))
	st.logger.Debug("session created", zap.String("session_id", s.ID()), zap.String("owner", owner))
	return s
}

// Get returns owner's session id and marks it as used.
func (st *Store) Get(owner, id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[id]
	if !ok || e.owner != owner {
		return nil, ErrNotFound
	}
	e.lastSeen = st.clock.Now()
	return e.session, nil
}

// Delete drops owner's session id.
func (st *Store) Delete(owner, id string) error {
	st.mu.Lock()
	e, ok := st.sessions[id]
	if !ok || e.owner != owner {
		st.mu.Unlock()
		return ErrNotFound
	}
	delete(st.sessions, id)
	count := len(st.sessions)
	st.mu.Unlock()

	e.session.Clear()
	metrics.SessionsActive.Set(float64(count))
	return nil
}

// Len returns the number of held sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep evicts sessions idle longer than the TTL. Sessions with an analysis outstanding are kept.
// It returns the number evicted.
func (st *Store) Sweep() int {
	if st.idleTTL <= 0 {
		return 0
	}
	cutoff := st.clock.Now().Add(-st.idleTTL)

	st.mu.Lock()
	var evicted []*Session
	for id, e := range st.sessions {
		if e.lastSeen.Before(cutoff) && e.session.State() != StateAnalyzing {
			delete(st.sessions, id)
			evicted = append(evicted, e.session)
		}
	}
	count := len(st.sessions)
	hooks := slices.Clone(st.onEvict)
	st.mu.Unlock()

	for _, s := range evicted {
		s.Clear()
		for _, hook := range hooks {
			hook(s)
		}
	}
	if len(evicted) > 0 {
		metrics.SessionsEvicted.Add(float64(len(evicted)))
		st.logger.Info("evicted idle sessions", zap.Int("count", len(evicted)))
	}
	metrics.SessionsActive.Set(float64(count))
	return len(evicted)
}
