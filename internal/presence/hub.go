package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultBufferSize = 16

// Status is a user's live-connection state. Records are created on connect
// and only ever overwritten, never deleted.
type Status struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Handle is the delivery endpoint for one live connection. The transport
// layer drains Events and writes them to the wire.
type Handle struct {
	id     int64
	stream chan any
}

// Events exposes the outbound event stream for the connection.
func (h *Handle) Events() <-chan any {
	return h.stream
}

// HubConfig describes the presence hub dependencies.
type HubConfig struct {
	BufferSize int
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Hub tracks which users have a live connection and their online/offline
// timestamps. At most one connection is registered per user; a newer
// connection silently supersedes the old one.
type Hub struct {
	mu         sync.RWMutex
	handles    map[string]*Handle
	status     map[string]Status
	nextID     int64
	bufferSize int
	clock      func() time.Time
	logger     *zap.Logger
}

// NewHub constructs an empty presence hub.
func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		handles:    make(map[string]*Handle),
		status:     make(map[string]Status),
		bufferSize: bufferSize,
		clock:      clock,
		logger:     logger,
	}
}

// Connect registers a connection for the user, replacing any previous
// handle. The superseded connection is not closed here; that is the
// network layer's responsibility. The user transitions to online.
func (h *Hub) Connect(userID string) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	handle := &Handle{
		id:     h.nextID,
		stream: make(chan any, h.bufferSize),
	}
	h.handles[userID] = handle
	h.status[userID] = Status{Online: true, LastSeen: h.clock().UTC()}
	return handle
}

// Disconnect transitions the user offline only when the registered handle
// is the one disconnecting, guarding against a stale disconnect racing a
// newer connect.
func (h *Hub) Disconnect(userID string, handle *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	registered, ok := h.handles[userID]
	if !ok || handle == nil || registered.id != handle.id {
		return
	}
	delete(h.handles, userID)
	h.status[userID] = Status{Online: false, LastSeen: h.clock().UTC()}
}

// Deliver attempts a bounded, non-blocking send to the user's live
// connection. It reports whether a connection existed and accepted the
// event; a full buffer counts as a failed send and is swallowed. A failed
// send never flips presence, only an explicit disconnect does.
func (h *Hub) Deliver(userID string, event any) bool {
	h.mu.RLock()
	handle, ok := h.handles[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case handle.stream <- event:
		return true
	default:
		h.logger.Debug("realtime delivery dropped", zap.String("user_id", userID))
		return false
	}
}

// Touch refreshes the user's last-seen stamp on inbound activity.
func (h *Hub) Touch(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.status[userID]
	if !ok || !current.Online {
		return
	}
	current.LastSeen = h.clock().UTC()
	h.status[userID] = current
}

// GetStatus returns the user's presence record; unknown users are offline.
func (h *Hub) GetStatus(userID string) Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status[userID]
}
