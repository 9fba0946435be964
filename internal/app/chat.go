package app

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"campusfound/pkg/domain"
)

// StartChat opens (or returns) the single negotiation thread between the
// caller and an item's reporter. Repeated calls for the same pair are
// idempotent: the canonical pair key in the store guarantees at most one
// chat per (item, pair) even under concurrent initiation.
//
// relatedItemID optionally links the caller's own counterpart report as
// proof of their claim; it must exist, belong to the caller, and be of the
// opposite type.
func (a *App) StartChat(caller domain.User, itemID, relatedItemID string) (domain.Chat, error) {
	item, ok, err := a.store.GetItem(itemID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load item: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrItemNotFound
	}
	if item.ReporterID == caller.ID {
		return domain.Chat{}, ErrSelfContact
	}

	relatedItemID = strings.TrimSpace(relatedItemID)
	if relatedItemID != "" {
		related, ok, err := a.store.GetItem(relatedItemID)
		if err != nil {
			return domain.Chat{}, fmt.Errorf("load related item: %w", err)
		}
		if !ok {
			return domain.Chat{}, ErrItemNotFound
		}
		if related.ReporterID != caller.ID {
			return domain.Chat{}, ErrRelatedNotOwned
		}
		if related.Type == item.Type {
			return domain.Chat{}, ErrSameTypeLink
		}
	}

	userA, userB := domain.CanonicalPair(caller.ID, item.ReporterID)
	now := a.now()
	chat, _, err := a.store.CreateChat(domain.Chat{
		ID:            uuid.NewString(),
		ItemID:        itemID,
		RelatedItemID: relatedItemID,
		UserA:         userA,
		UserB:         userB,
		Status:        domain.ChatOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// ListMyChats returns the caller's negotiation threads, newest first.
func (a *App) ListMyChats(caller domain.User) ([]domain.Chat, error) {
	chats, err := a.store.ListChatsByUser(caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// MessageInput carries one outgoing chat message.
type MessageInput struct {
	Content  string
	MediaURL string
	Type     domain.MessageType
}

// SendMessage appends a message to a chat the caller participates in.
func (a *App) SendMessage(caller domain.User, chatID string, input MessageInput) (domain.Message, error) {
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.Message{}, ErrChatNotFound
	}
	if !chat.HasParticipant(caller.ID) {
		return domain.Message{}, ErrNotParticipant
	}
	if chat.Status == domain.ChatClosed {
		return domain.Message{}, ErrChatClosed
	}

	content := strings.TrimSpace(input.Content)
	mediaURL := strings.TrimSpace(input.MediaURL)
	if content == "" && mediaURL == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	messageType := input.Type
	if messageType == "" {
		if mediaURL != "" {
			messageType = domain.MessageImage
		} else {
			messageType = domain.MessageText
		}
	}
	switch messageType {
	case domain.MessageText, domain.MessageImage, domain.MessageFile:
	default:
		return domain.Message{}, validationf("unknown message type %q", messageType)
	}

	message := domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  caller.ID,
		Content:   content,
		Type:      messageType,
		MediaURL:  mediaURL,
		CreatedAt: a.now(),
	}
	if err := a.store.AppendMessage(message); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return message, nil
}

// ChatThread is a chat's message history together with the handshake state
// a client needs to render the close flow.
type ChatThread struct {
	Messages           []domain.Message  `json:"messages"`
	ChatStatus         domain.ChatStatus `json:"chatStatus"`
	ClosureRequestedBy string            `json:"closureRequestedBy,omitempty"`
}

// ListMessages returns a chat's messages for one of its participants.
func (a *App) ListMessages(caller domain.User, chatID string, limit int) (ChatThread, error) {
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return ChatThread{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return ChatThread{}, ErrChatNotFound
	}
	if !chat.HasParticipant(caller.ID) {
		return ChatThread{}, ErrNotParticipant
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	messages, err := a.store.ListMessages(chatID, limit)
	if err != nil {
		return ChatThread{}, fmt.Errorf("list messages: %w", err)
	}
	return ChatThread{
		Messages:           messages,
		ChatStatus:         chat.Status,
		ClosureRequestedBy: chat.ClosureRequestedBy,
	}, nil
}
