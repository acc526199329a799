package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/types"
)

// EvictFunc receives a conversation as it leaves the store, for a final
// durable flush. It runs outside the store lock.
type EvictFunc func(conv *types.Conversation)

// Config holds store settings.
type Config struct {
	// IdleTTL is how long a conversation may sit without activity before the
	// reaper evicts it.
	IdleTTL time.Duration

	// ReapInterval is how often the reaper sweeps.
	ReapInterval time.Duration
}

// DefaultConfig returns the default store settings.
func DefaultConfig() Config {
	return Config{
		IdleTTL:      30 * time.Minute,
		ReapInterval: time.Minute,
	}
}

type entry struct {
	mu         sync.Mutex
	conv       *types.Conversation
	turnActive bool
}

// Store holds live conversations keyed by ID, with a secondary index from
// operator thread refs back to conversation IDs.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	byThreadRef map[string]string

	cfg     Config
	now     func() time.Time
	onEvict EvictFunc
	logger  *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStore creates a session store. now may be nil for the wall clock;
// onEvict may be nil.
func NewStore(cfg Config, now func() time.Time, onEvict EvictFunc, logger *zap.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	return &Store{
		entries:     make(map[string]*entry),
		byThreadRef: make(map[string]string),
		cfg:         cfg,
		now:         now,
		onEvict:     onEvict,
		logger:      logger.With(zap.String("component", "session_store")),
		stopCh:      make(chan struct{}),
	}
}

// GetOrCreate returns the live conversation, creating it when absent. The
// second return is true when this call created it.
func (s *Store) GetOrCreate(id string) (*types.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.conv, false
	}
	conv := types.NewConversation(id, s.now())
	s.entries[id] = &entry{conv: conv}
	return conv, true
}

// Get returns the live conversation, or nil when absent.
func (s *Store) Get(id string) *types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.conv
	}
	return nil
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// BeginTurn claims the conversation's turn lock. A turn already in flight
// fails fast with a retryable conflict rather than interleaving output.
func (s *Store) BeginTurn(id string) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return types.NewError(types.ErrStateInconsistency, "conversation not found: "+id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turnActive {
		return types.NewError(types.ErrConcurrencyConflict,
			"a turn is already in progress for this conversation").
			WithRetryable(true)
	}
	e.turnActive = true
	return nil
}

// EndTurn releases the turn lock. Safe to call after eviction.
func (s *Store) EndTurn(id string) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.turnActive = false
	e.mu.Unlock()
}

// Update runs fn with exclusive access to the conversation's data. Keep fn
// short; streaming work must happen outside it.
func (s *Store) Update(id string, fn func(conv *types.Conversation)) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return types.NewError(types.ErrStateInconsistency, "conversation not found: "+id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.conv)
	return nil
}

// IndexThreadRef maps an operator thread ref to a conversation so inbound
// operator messages can be routed back.
func (s *Store) IndexThreadRef(threadRef, conversationID string) {
	if threadRef == "" {
		return
	}
	s.mu.Lock()
	s.byThreadRef[threadRef] = conversationID
	s.mu.Unlock()
}

// ResolveThreadRef returns the conversation ID behind a thread ref, or "".
func (s *Store) ResolveThreadRef(threadRef string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byThreadRef[threadRef]
}

// End marks the conversation ended and evicts it immediately.
func (s *Store) End(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	s.dropThreadRefLocked(e.conv)
	s.mu.Unlock()

	e.mu.Lock()
	e.conv.Status = types.StatusEnded
	conv := e.conv
	e.mu.Unlock()

	if s.onEvict != nil {
		s.onEvict(conv)
	}
	s.logger.Info("conversation ended", zap.String("conversation_id", id))
}

func (s *Store) dropThreadRefLocked(conv *types.Conversation) {
	if ref := conv.Handoff.ThreadRef; ref != "" {
		delete(s.byThreadRef, ref)
	}
}

// Sweep evicts conversations idle past the TTL and returns how many were
// removed. Evicted conversations still active are marked abandoned.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.cfg.IdleTTL)

	s.mu.Lock()
	var evicted []*entry
	for id, e := range s.entries {
		e.mu.Lock()
		idle := e.conv.LastActivity.Before(cutoff) && !e.turnActive
		e.mu.Unlock()
		if idle {
			delete(s.entries, id)
			s.dropThreadRefLocked(e.conv)
			evicted = append(evicted, e)
		}
	}
	s.mu.Unlock()

	for _, e := range evicted {
		e.mu.Lock()
		if e.conv.Status == types.StatusActive {
			e.conv.Status = types.StatusAbandoned
		}
		conv := e.conv
		e.mu.Unlock()

		if s.onEvict != nil {
			s.onEvict(conv)
		}
		s.logger.Debug("conversation reaped",
			zap.String("conversation_id", conv.ID),
			zap.Time("last_activity", conv.LastActivity))
	}
	return len(evicted)
}

// Run drives the reaper until ctx is done or Stop is called.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("reaper sweep", zap.Int("evicted", n))
			}
		}
	}
}

// Stop halts the reaper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
