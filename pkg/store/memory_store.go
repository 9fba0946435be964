package store

import (
	"sort"
	"sync"
	"time"

	"campusfound/pkg/domain"
)

// MemoryStore keeps everything in-process. It exists for tests and mirrors
// the conditional-update semantics of GormStore under its single mutex.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	items    map[string]domain.Item
	chats    map[string]domain.Chat
	pairs    map[string]string // item|userA|userB -> chat ID
	messages map[string][]domain.Message
	karma    map[string]domain.KarmaEntry // sourceKind|sourceID
	seq      int
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		items:    make(map[string]domain.Item),
		chats:    make(map[string]domain.Chat),
		pairs:    make(map[string]string),
		messages: make(map[string][]domain.Message),
		karma:    make(map[string]domain.KarmaEntry),
	}
}

func pairKey(itemID, userA, userB string) string {
	userA, userB = domain.CanonicalPair(userA, userB)
	return itemID + "|" + userA + "|" + userB
}

// UpsertUser creates or refreshes a profile; role and karma survive.
func (m *MemoryStore) UpsertUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		existing.Email = u.Email
		existing.DisplayName = u.DisplayName
		existing.AvatarURL = u.AvatarURL
		existing.UpdatedAt = u.UpdatedAt
		m.users[u.ID] = existing
		return existing, nil
	}
	m.users[u.ID] = u
	return u, nil
}

// GetUser returns a user by ID.
func (m *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// AddKarma applies a ledger entry at most once per source.
func (m *MemoryStore) AddKarma(entry domain.KarmaEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entry.SourceKind + "|" + entry.SourceID
	if _, ok := m.karma[key]; ok {
		return false, nil
	}
	m.karma[key] = entry
	user := m.users[entry.UserID]
	user.KarmaPoints += entry.Amount
	m.users[entry.UserID] = user
	return true, nil
}

// KarmaEntries returns ledger rows for a user; test helper.
func (m *MemoryStore) KarmaEntries(userID string) []domain.KarmaEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.KarmaEntry
	for _, e := range m.karma {
		if e.UserID == userID {
			res = append(res, e)
		}
	}
	return res
}

// CreateItem inserts a report. A monotonic sequence breaks creation-time
// ties so newest-first ordering is stable in tests.
func (m *MemoryStore) CreateItem(item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.CreatedAt = item.CreatedAt.Add(time.Duration(m.seq) * time.Nanosecond)
	m.items[item.ID] = item
	return nil
}

// GetItem retrieves an item.
func (m *MemoryStore) GetItem(id string) (domain.Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	return it, ok, nil
}

// ListOpenItems returns open reports, newest first.
func (m *MemoryStore) ListOpenItems(limit int) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterItems(limit, func(i domain.Item) bool {
		return i.Status == domain.ItemOpen
	}), nil
}

// ListItemsByReporter returns one user's reports, newest first.
func (m *MemoryStore) ListItemsByReporter(reporterID string) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterItems(0, func(i domain.Item) bool {
		return i.ReporterID == reporterID
	}), nil
}

func (m *MemoryStore) filterItems(limit int, keep func(domain.Item) bool) []domain.Item {
	res := make([]domain.Item, 0)
	for _, it := range m.items {
		if keep(it) {
			res = append(res, it)
		}
	}
	sort.Slice(res, func(a, b int) bool {
		return res[a].CreatedAt.After(res[b].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

// FindRecentDuplicate finds a prior identical submission at or after the cutoff.
func (m *MemoryStore) FindRecentDuplicate(reporterID string, t domain.ItemType, description string, since time.Time) (domain.Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates := m.filterItems(0, func(i domain.Item) bool {
		return i.ReporterID == reporterID && i.Type == t && i.Description == description && !i.CreatedAt.Before(since)
	})
	if len(candidates) == 0 {
		return domain.Item{}, false, nil
	}
	return candidates[0], true, nil
}

// FindMatches returns open opposite-type same-category reports by others.
func (m *MemoryStore) FindMatches(source domain.Item, limit int) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opposite := source.Type.Opposite()
	return m.filterItems(limit, func(i domain.Item) bool {
		return i.Status == domain.ItemOpen &&
			i.Type == opposite &&
			i.Category == source.Category &&
			i.ReporterID != source.ReporterID
	}), nil
}

// ResolveItemIfOpen resolves the item only if currently open.
func (m *MemoryStore) ResolveItemIfOpen(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Status != domain.ItemOpen {
		return false, nil
	}
	item.Status = domain.ItemResolved
	item.UpdatedAt = time.Now().UTC()
	m.items[id] = item
	return true, nil
}

// DeleteItemCascade removes the item, its chats and their messages.
func (m *MemoryStore) DeleteItemCascade(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chatID, chat := range m.chats {
		if chat.ItemID == id {
			delete(m.chats, chatID)
			delete(m.pairs, pairKey(chat.ItemID, chat.UserA, chat.UserB))
			delete(m.messages, chatID)
			continue
		}
		if chat.RelatedItemID == id {
			chat.RelatedItemID = ""
			m.chats[chatID] = chat
		}
	}
	delete(m.items, id)
	return nil
}

// CreateChat inserts the chat, or returns the existing row for the pair.
func (m *MemoryStore) CreateChat(c domain.Chat) (domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(c.ItemID, c.UserA, c.UserB)
	if existingID, ok := m.pairs[key]; ok {
		return m.chats[existingID], false, nil
	}
	m.pairs[key] = c.ID
	m.chats[c.ID] = c
	return c, true, nil
}

// GetChat retrieves a chat by ID.
func (m *MemoryStore) GetChat(id string) (domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	return c, ok, nil
}

// FindChatByPair looks up the chat for an item and user pair.
func (m *MemoryStore) FindChatByPair(itemID, userA, userB string) (domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pairs[pairKey(itemID, userA, userB)]
	if !ok {
		return domain.Chat{}, false, nil
	}
	return m.chats[id], true, nil
}

// ListChatsByUser returns chats the user participates in, newest first.
func (m *MemoryStore) ListChatsByUser(userID string) ([]domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Chat, 0)
	for _, c := range m.chats {
		if c.HasParticipant(userID) {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(a, b int) bool {
		return res[a].CreatedAt.After(res[b].CreatedAt)
	})
	return res, nil
}

// MarkChatPending transitions open -> pending_closure if still open.
func (m *MemoryStore) MarkChatPending(id, requestedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[id]
	if !ok || chat.Status != domain.ChatOpen {
		return false, nil
	}
	chat.Status = domain.ChatPendingClosure
	chat.ClosureRequestedBy = requestedBy
	chat.UpdatedAt = time.Now().UTC()
	m.chats[id] = chat
	return true, nil
}

// CloseChat transitions pending_closure -> closed when the confirmer is not
// the requester.
func (m *MemoryStore) CloseChat(id, confirmer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[id]
	if !ok || chat.Status != domain.ChatPendingClosure || chat.ClosureRequestedBy == confirmer {
		return false, nil
	}
	chat.Status = domain.ChatClosed
	chat.UpdatedAt = time.Now().UTC()
	m.chats[id] = chat
	return true, nil
}

// AppendMessage records a message.
func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], msg)
	return nil
}

// ListMessages returns a chat's messages in append order.
func (m *MemoryStore) ListMessages(chatID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}
