package store

import (
	"errors"
	"time"

	"campusfound/pkg/domain"
)

// ErrDuplicateChat is returned by CreateChat when a chat for the same
// (item, user pair) already exists and the existing row could not be
// fetched instead.
var ErrDuplicateChat = errors.New("chat already exists for item and pair")

// Store defines persistence operations for users, items, chats, messages,
// and the karma ledger. Mutations that guard a state invariant take the
// expected prior state as part of the query and report via their bool
// return whether the write actually happened, so racing callers can tell
// winner from loser without a second read.
type Store interface {
	// users
	UpsertUser(u domain.User) (domain.User, error)
	GetUser(id string) (domain.User, bool, error)

	// karma ledger; applied=false means this source was already awarded
	AddKarma(entry domain.KarmaEntry) (applied bool, err error)

	// items
	CreateItem(item domain.Item) error
	GetItem(id string) (domain.Item, bool, error)
	ListOpenItems(limit int) ([]domain.Item, error)
	ListItemsByReporter(reporterID string) ([]domain.Item, error)
	FindRecentDuplicate(reporterID string, t domain.ItemType, description string, since time.Time) (domain.Item, bool, error)
	FindMatches(source domain.Item, limit int) ([]domain.Item, error)
	ResolveItemIfOpen(id string) (resolved bool, err error)
	DeleteItemCascade(id string) error

	// chats; CreateChat is insert-or-fetch on the canonical pair key
	CreateChat(c domain.Chat) (domain.Chat, bool, error)
	GetChat(id string) (domain.Chat, bool, error)
	FindChatByPair(itemID, userA, userB string) (domain.Chat, bool, error)
	ListChatsByUser(userID string) ([]domain.Chat, error)
	MarkChatPending(id, requestedBy string) (bool, error)
	CloseChat(id, confirmer string) (bool, error)

	// messages
	AppendMessage(m domain.Message) error
	ListMessages(chatID string, limit int) ([]domain.Message, error)
}
