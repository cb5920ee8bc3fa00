package chat

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotMatched indicates messaging was attempted without a match.
	ErrNotMatched = errors.New("chat: users are not matched")
	// ErrNotFound indicates the message does not exist, is already deleted,
	// or does not belong to the requester. The cases are deliberately
	// indistinguishable so sender identity is not leaked.
	ErrNotFound = errors.New("chat: message not found")

	errMissingMatcher = errors.New("chat: matcher is required")
)

// Matcher answers whether two users are matched. The relationship graph
// satisfies this.
type Matcher interface {
	IsMatched(a, b string) bool
}

// StoreConfig describes the dependencies of the chat store.
type StoreConfig struct {
	Matcher     Matcher
	Persistence Persistence
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Store owns the per-conversation message logs. Each conversation has its
// own lock so appends to different threads never contend; the outer mutex
// only guards the conversation map.
type Store struct {
	mu     sync.Mutex
	convos map[string]*conversation

	matcher     Matcher
	persistence Persistence
	clock       func() time.Time
	logger      *zap.Logger
}

type conversation struct {
	mu       sync.Mutex
	messages []*Message
}

// NewStore constructs an empty chat store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Matcher == nil {
		return nil, errMissingMatcher
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		convos:      make(map[string]*conversation),
		matcher:     cfg.Matcher,
		persistence: cfg.Persistence,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Load populates the store from persistence. Messages arrive ordered by
// conversation and sequence.
func (s *Store) Load() error {
	if s.persistence == nil {
		return nil
	}
	records, err := s.persistence.LoadMessages()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		message := record
		convo := s.convos[record.ConversationID]
		if convo == nil {
			convo = &conversation{}
			s.convos[record.ConversationID] = convo
		}
		convo.messages = append(convo.messages, &message)
	}
	return nil
}

func (s *Store) conversation(id string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	convo := s.convos[id]
	if convo == nil {
		convo = &conversation{}
		s.convos[id] = convo
	}
	return convo
}

// Append stores a new message. The sequence id is assigned under the
// conversation lock, so concurrent senders never collide: the last
// sequence plus one, starting at 1, never reused even across deletions.
func (s *Store) Append(senderID, receiverID, text, imageRef string) (Message, error) {
	if !s.matcher.IsMatched(senderID, receiverID) {
		return Message{}, ErrNotMatched
	}

	conversationID := ConversationID(senderID, receiverID)
	convo := s.conversation(conversationID)

	convo.mu.Lock()
	defer convo.mu.Unlock()

	var lastSeq int64
	if len(convo.messages) > 0 {
		lastSeq = convo.messages[len(convo.messages)-1].Seq
	}
	message := &Message{
		ConversationID: conversationID,
		Seq:            lastSeq + 1,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Text:           text,
		ImageRef:       imageRef,
		CreatedAt:      s.clock().UTC(),
	}
	convo.messages = append(convo.messages, message)
	s.persist(*message)
	return *message, nil
}

// ListActive returns the non-deleted messages of the conversation in
// append order. Side effect, kept deliberately explicit: every listed
// message addressed to the caller is marked read.
func (s *Store) ListActive(a, b, callerID string) []Message {
	convo := s.conversation(ConversationID(a, b))
	convo.mu.Lock()
	defer convo.mu.Unlock()

	active := make([]Message, 0, len(convo.messages))
	for _, message := range convo.messages {
		if message.IsDeleted {
			continue
		}
		if message.ReceiverID == callerID && !message.IsRead {
			message.IsRead = true
			s.persist(*message)
		}
		active = append(active, *message)
	}
	return active
}

// MarkRead marks every message addressed to the reader as read and
// reports whether anything changed.
func (s *Store) MarkRead(a, b, readerID string) bool {
	convo := s.conversation(ConversationID(a, b))
	convo.mu.Lock()
	defer convo.mu.Unlock()

	changed := false
	for _, message := range convo.messages {
		if message.ReceiverID == readerID && !message.IsRead {
			message.IsRead = true
			changed = true
			s.persist(*message)
		}
	}
	return changed
}

// SoftDelete clears the payload of the requester's own message. The
// sequence slot and metadata survive; the payload does not come back.
func (s *Store) SoftDelete(a, b string, seq int64, requesterID string) (Message, error) {
	convo := s.conversation(ConversationID(a, b))
	convo.mu.Lock()
	defer convo.mu.Unlock()

	for _, message := range convo.messages {
		if message.Seq != seq {
			continue
		}
		if message.IsDeleted || message.SenderID != requesterID {
			return Message{}, ErrNotFound
		}
		message.IsDeleted = true
		message.Text = ""
		message.ImageRef = ""
		s.persist(*message)
		return *message, nil
	}
	return Message{}, ErrNotFound
}

// UnreadCount counts active unread messages addressed to the user.
func (s *Store) UnreadCount(a, b, userID string) int {
	convo := s.conversation(ConversationID(a, b))
	convo.mu.Lock()
	defer convo.mu.Unlock()

	count := 0
	for _, message := range convo.messages {
		if !message.IsDeleted && !message.IsRead && message.ReceiverID == userID {
			count++
		}
	}
	return count
}

// LastMessage returns the most recent active message, if any.
func (s *Store) LastMessage(a, b string) (Message, bool) {
	convo := s.conversation(ConversationID(a, b))
	convo.mu.Lock()
	defer convo.mu.Unlock()

	for i := len(convo.messages) - 1; i >= 0; i-- {
		if !convo.messages[i].IsDeleted {
			return *convo.messages[i], true
		}
	}
	return Message{}, false
}

// Get fetches a single message by sequence id, deleted or not.
func (s *Store) Get(a, b string, seq int64) (Message, bool) {
	convo := s.conversation(ConversationID(a, b))
	convo.mu.Lock()
	defer convo.mu.Unlock()

	for _, message := range convo.messages {
		if message.Seq == seq {
			return *message, true
		}
	}
	return Message{}, false
}

// persist writes through to persistence; failures are logged and never
// roll back the in-memory change.
func (s *Store) persist(message Message) {
	if s.persistence == nil {
		return
	}
	if err := s.persistence.SaveMessage(message); err != nil {
		s.logger.Error("message persist failed",
			zap.String("conversation_id", message.ConversationID),
			zap.Int64("seq", message.Seq),
			zap.Error(err))
	}
}
