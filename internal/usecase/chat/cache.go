package chat

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionCache holds one engine per active conversation, bounded by a
// strict FIFO eviction policy: when full, the oldest session by insertion
// order is dropped regardless of recent use.
type SessionCache struct {
	mu       sync.Mutex
	engines  map[string]*Engine
	order    []string
	capacity int

	history HistoryRepo
	matcher Matcher
	llm     ChatLLM
	logger  *zap.Logger
}

// NewSessionCache creates a bounded session cache.
func NewSessionCache(capacity int, history HistoryRepo, matcher Matcher, llm ChatLLM, logger *zap.Logger) *SessionCache {
	if capacity <= 0 {
		capacity = 10
	}
	return &SessionCache{
		engines:  make(map[string]*Engine, capacity),
		capacity: capacity,
		history:  history,
		matcher:  matcher,
		llm:      llm,
		logger:   logger,
	}
}

// Get returns the engine for a conversation, creating one when needed. An
// empty id starts a new conversation. The second return value reports
// whether the engine was newly created.
func (c *SessionCache) Get(conversationID string) (*Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if e, ok := c.engines[conversationID]; ok {
		return e, false
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.engines, oldest)
		c.logger.Debug("Evicted oldest chat session", zap.String("conversation_id", oldest))
	}

	e := NewEngine(conversationID, c.history, c.matcher, c.llm, c.logger)
	c.engines[conversationID] = e
	c.order = append(c.order, conversationID)
	return e, true
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.engines)
}
