package server

import (
	"github.com/MarcoPoloResearchLab/ember/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/relationship"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/users"
	"go.uber.org/zap"
)

// EventRouter is the single entry point for client actions. It reads and
// writes the relationship graph and chat store, then asks the presence hub
// to deliver the resulting events to affected connections. Deliveries are
// best-effort: a failed push never rolls back the state mutation that
// triggered it.
type EventRouter struct {
	graph     *relationship.Graph
	chats     *chat.Store
	hub       *presence.Hub
	directory *users.Service
	logger    *zap.Logger
}

// NewEventRouter wires the router over the shared core state.
func NewEventRouter(graph *relationship.Graph, chats *chat.Store, hub *presence.Hub, directory *users.Service, logger *zap.Logger) *EventRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventRouter{
		graph:     graph,
		chats:     chats,
		hub:       hub,
		directory: directory,
		logger:    logger,
	}
}

// HandleLike records the like and, on a fresh match, pushes a new_match
// event to the other party only; the liker learns the outcome from the
// returned result.
func (r *EventRouter) HandleLike(likerID, targetID string) (relationship.MatchResult, error) {
	result, err := r.graph.RecordLike(likerID, targetID)
	if err != nil {
		return relationship.MatchResult{}, err
	}
	if result.NewMatch {
		if summary, ok := r.directory.PublicSummary(likerID); ok {
			r.hub.Deliver(targetID, matchEvent{Type: EventNewMatch, User: summary})
		}
	}
	return result, nil
}

// HandleMessage appends the message and echoes it to both parties. A block
// in either direction suppresses the send entirely; the rejection is
// indistinguishable from a missing match.
func (r *EventRouter) HandleMessage(senderID, receiverID, text, imageRef string) (chat.Message, error) {
	if r.graph.BlockedEitherDirection(senderID, receiverID) {
		return chat.Message{}, chat.ErrNotMatched
	}
	message, err := r.chats.Append(senderID, receiverID, text, imageRef)
	if err != nil {
		return chat.Message{}, err
	}
	r.hub.Deliver(receiverID, messageEvent{Type: EventNewMessage, Message: message})
	r.hub.Deliver(senderID, messageEvent{Type: EventMessageSent, Message: message})
	return message, nil
}

// HandleTyping forwards the ephemeral typing indicator to the receiver.
// Nothing is stored.
func (r *EventRouter) HandleTyping(senderID, receiverID string, isTyping bool) {
	if !r.directory.Exists(receiverID) || r.graph.BlockedEitherDirection(senderID, receiverID) {
		return
	}
	r.hub.Deliver(receiverID, typingEvent{Type: EventTyping, UserID: senderID, IsTyping: isTyping})
}

// HandleRead marks everything addressed to the reader in the conversation
// as read and notifies the original sender.
func (r *EventRouter) HandleRead(readerID, senderID string) {
	r.chats.MarkRead(readerID, senderID, readerID)
	if r.graph.BlockedEitherDirection(readerID, senderID) {
		return
	}
	r.hub.Deliver(senderID, messagesReadEvent{Type: EventMessagesRead, ReaderID: readerID})
}

// HandleFetch lists the active messages of the conversation for the
// caller. Fetching as the receiver marks messages read; when that happens
// the partner gets a read receipt.
func (r *EventRouter) HandleFetch(callerID, partnerID string) []chat.Message {
	hadUnread := r.chats.UnreadCount(callerID, partnerID, callerID) > 0
	messages := r.chats.ListActive(callerID, partnerID, callerID)
	if hadUnread && !r.graph.BlockedEitherDirection(callerID, partnerID) {
		r.hub.Deliver(partnerID, messagesReadEvent{Type: EventMessagesRead, ReaderID: callerID})
	}
	return messages
}

// HandleDelete soft-deletes the requester's own message and notifies both
// parties.
func (r *EventRouter) HandleDelete(requesterID, partnerID string, messageID int64) (chat.Message, error) {
	message, err := r.chats.SoftDelete(requesterID, partnerID, messageID, requesterID)
	if err != nil {
		return chat.Message{}, err
	}
	deleted := messageDeletedEvent{
		Type:           EventMessageDeleted,
		MessageID:      message.Seq,
		ConversationID: message.ConversationID,
	}
	if !r.graph.BlockedEitherDirection(requesterID, partnerID) {
		r.hub.Deliver(partnerID, deleted)
	}
	r.hub.Deliver(requesterID, deleted)
	return message, nil
}

// HandleConnect registers the live connection and broadcasts the online
// transition to the user's current matches, blocked peers excluded.
func (r *EventRouter) HandleConnect(userID string) *presence.Handle {
	handle := r.hub.Connect(userID)
	r.broadcastStatus(userID)
	return handle
}

// HandleDisconnect unregisters the connection. The offline broadcast is
// skipped when a newer connection already superseded this one.
func (r *EventRouter) HandleDisconnect(userID string, handle *presence.Handle) {
	r.hub.Disconnect(userID, handle)
	if r.hub.GetStatus(userID).Online {
		return
	}
	r.broadcastStatus(userID)
}

// Touch refreshes the user's last-seen stamp on inbound activity.
func (r *EventRouter) Touch(userID string) {
	r.hub.Touch(userID)
}

func (r *EventRouter) broadcastStatus(userID string) {
	status := r.hub.GetStatus(userID)
	event := userStatusEvent{Type: EventUserStatus, UserID: userID, Online: status.Online}
	if !status.Online && !status.LastSeen.IsZero() {
		lastSeen := status.LastSeen
		event.LastSeen = &lastSeen
	}
	for _, peerID := range r.graph.DeliverableMatches(userID) {
		r.hub.Deliver(peerID, event)
	}
}
