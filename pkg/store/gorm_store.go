package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campusfound/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ItemModel{}, &ChatModel{}, &MessageModel{}, &KarmaEntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// UpsertUser creates the user on first sign-in or refreshes profile fields.
// Karma and role are never touched by the upsert.
func (s *GormStore) UpsertUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "avatar_url", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.User{}, err
	}
	// Reload so the caller sees the authoritative role and karma counter.
	var current UserModel
	if err := s.db.First(&current, "id = ?", u.ID).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(current), nil
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// AddKarma appends a ledger row and bumps the user's counter in one
// transaction. The counter update is a column-level increment, not
// read-modify-write, so concurrent awards to the same user cannot lose
// updates. A ledger conflict on (source_kind, source_id) means this event
// was already awarded; the whole call then reports applied=false.
func (s *GormStore) AddKarma(entry domain.KarmaEntry) (bool, error) {
	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model := KarmaEntryModel{
			ID:         entry.ID,
			UserID:     entry.UserID,
			Amount:     entry.Amount,
			Reason:     entry.Reason,
			SourceKind: entry.SourceKind,
			SourceID:   entry.SourceID,
			CreatedAt:  entry.CreatedAt,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_kind"}, {Name: "source_id"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&UserModel{}).
			Where("id = ?", entry.UserID).
			UpdateColumn("karma_points", gorm.Expr("karma_points + ?", entry.Amount)).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// CreateItem inserts a new report.
func (s *GormStore) CreateItem(item domain.Item) error {
	model, err := itemToModel(item)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetItem retrieves an item.
func (s *GormStore) GetItem(id string) (domain.Item, bool, error) {
	var model ItemModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Item{}, false, nil
		}
		return domain.Item{}, false, err
	}
	return itemFromModel(model), true, nil
}

// ListOpenItems returns open reports, newest first.
func (s *GormStore) ListOpenItems(limit int) ([]domain.Item, error) {
	return s.listItems(limit, "status = ?", string(domain.ItemOpen))
}

// ListItemsByReporter returns all reports by one user, newest first.
func (s *GormStore) ListItemsByReporter(reporterID string) ([]domain.Item, error) {
	return s.listItems(0, "reporter_id = ?", reporterID)
}

func (s *GormStore) listItems(limit int, conds ...any) ([]domain.Item, error) {
	var models []ItemModel
	tx := s.db.Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Item, 0, len(models))
	for _, m := range models {
		res = append(res, itemFromModel(m))
	}
	return res, nil
}

// FindRecentDuplicate looks for a prior identical submission by the same
// reporter created at or after the cutoff.
func (s *GormStore) FindRecentDuplicate(reporterID string, t domain.ItemType, description string, since time.Time) (domain.Item, bool, error) {
	var model ItemModel
	err := s.db.Where("reporter_id = ? AND type = ? AND description = ? AND created_at >= ?",
		reporterID, string(t), description, since).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Item{}, false, nil
		}
		return domain.Item{}, false, err
	}
	return itemFromModel(model), true, nil
}

// FindMatches returns open counterpart reports: opposite type, exact same
// category, excluding the source reporter's own items, newest first.
func (s *GormStore) FindMatches(source domain.Item, limit int) ([]domain.Item, error) {
	return s.listItems(limit,
		"type = ? AND category = ? AND status = ? AND reporter_id <> ?",
		string(source.Type.Opposite()), string(source.Category), string(domain.ItemOpen), source.ReporterID)
}

// ResolveItemIfOpen flips an item to resolved only if it is currently open.
// Returns false when the item was already resolved or does not exist.
func (s *GormStore) ResolveItemIfOpen(id string) (bool, error) {
	res := s.db.Model(&ItemModel{}).
		Where("id = ? AND status = ?", id, string(domain.ItemOpen)).
		Updates(map[string]any{
			"status":     string(domain.ItemResolved),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteItemCascade removes an item together with its chats and their
// messages, and clears dangling related-item references.
func (s *GormStore) DeleteItemCascade(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var chatIDs []string
		if err := tx.Model(&ChatModel{}).Where("item_id = ?", id).Pluck("id", &chatIDs).Error; err != nil {
			return err
		}
		if len(chatIDs) > 0 {
			if err := tx.Delete(&MessageModel{}, "chat_id IN ?", chatIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&ChatModel{}, "id IN ?", chatIDs).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&ChatModel{}).
			Where("related_item_id = ?", id).
			UpdateColumn("related_item_id", "").Error; err != nil {
			return err
		}
		return tx.Delete(&ItemModel{}, "id = ?", id).Error
	})
}

// CreateChat inserts the chat or, when the (item, pair) row already exists,
// fetches and returns the existing one. The unique index closes the
// check-then-act window between two simultaneous initiators.
func (s *GormStore) CreateChat(c domain.Chat) (domain.Chat, bool, error) {
	model := chatToModel(c)
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}, {Name: "user_a"}, {Name: "user_b"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Chat{}, false, res.Error
	}
	if res.RowsAffected > 0 {
		return chatFromModel(model), true, nil
	}
	existing, ok, err := s.FindChatByPair(c.ItemID, c.UserA, c.UserB)
	if err != nil {
		return domain.Chat{}, false, err
	}
	if !ok {
		return domain.Chat{}, false, ErrDuplicateChat
	}
	return existing, false, nil
}

// GetChat retrieves a chat by ID.
func (s *GormStore) GetChat(id string) (domain.Chat, bool, error) {
	var model ChatModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// FindChatByPair looks up the single chat for an item and canonical user pair.
func (s *GormStore) FindChatByPair(itemID, userA, userB string) (domain.Chat, bool, error) {
	userA, userB = domain.CanonicalPair(userA, userB)
	var model ChatModel
	err := s.db.Where("item_id = ? AND user_a = ? AND user_b = ?", itemID, userA, userB).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// ListChatsByUser returns chats the user participates in, newest first.
func (s *GormStore) ListChatsByUser(userID string) ([]domain.Chat, error) {
	var models []ChatModel
	err := s.db.Where("user_a = ? OR user_b = ?", userID, userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		res = append(res, chatFromModel(m))
	}
	return res, nil
}

// MarkChatPending moves an open chat to pending_closure and records the
// requester. The prior state is part of the predicate so only one of two
// racing requesters wins.
func (s *GormStore) MarkChatPending(id, requestedBy string) (bool, error) {
	res := s.db.Model(&ChatModel{}).
		Where("id = ? AND status = ?", id, string(domain.ChatOpen)).
		Updates(map[string]any{
			"status":               string(domain.ChatPendingClosure),
			"closure_requested_by": requestedBy,
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CloseChat confirms a pending closure. The predicate requires the current
// status to still be pending_closure and the confirmer to differ from the
// requester, so a racing second confirm (or a self-confirm) changes nothing.
func (s *GormStore) CloseChat(id, confirmer string) (bool, error) {
	res := s.db.Model(&ChatModel{}).
		Where("id = ? AND status = ? AND closure_requested_by <> ?", id, string(domain.ChatPendingClosure), confirmer).
		Updates(map[string]any{
			"status":     string(domain.ChatClosed),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(m domain.Message) error {
	model := MessageModel{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      string(m.Type),
		MediaURL:  m.MediaURL,
		CreatedAt: m.CreatedAt,
	}
	return s.db.Create(&model).Error
}

// ListMessages returns a chat's messages in chronological order.
func (s *GormStore) ListMessages(chatID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	tx := s.db.Where("chat_id = ?", chatID).Order("created_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Message{
			ID:        m.ID,
			ChatID:    m.ChatID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			Type:      domain.MessageType(m.Type),
			MediaURL:  m.MediaURL,
			CreatedAt: m.CreatedAt,
		})
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        string(u.Role),
		KarmaPoints: u.KarmaPoints,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:          m.ID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		Role:        domain.UserRole(m.Role),
		KarmaPoints: m.KarmaPoints,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func itemToModel(i domain.Item) (ItemModel, error) {
	model := ItemModel{
		ID:           i.ID,
		ReporterID:   i.ReporterID,
		Type:         string(i.Type),
		Title:        i.Title,
		Description:  i.Description,
		Category:     string(i.Category),
		LocationZone: string(i.LocationZone),
		DateReported: i.DateReported,
		ImageURL:     i.ImageURL,
		Status:       string(i.Status),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
	if len(i.Labels) > 0 {
		raw, err := json.Marshal(i.Labels)
		if err != nil {
			return ItemModel{}, fmt.Errorf("marshal labels: %w", err)
		}
		model.Labels = raw
	}
	return model, nil
}

func itemFromModel(m ItemModel) domain.Item {
	item := domain.Item{
		ID:           m.ID,
		ReporterID:   m.ReporterID,
		Type:         domain.ItemType(m.Type),
		Title:        m.Title,
		Description:  m.Description,
		Category:     domain.Category(m.Category),
		LocationZone: domain.Zone(m.LocationZone),
		DateReported: m.DateReported,
		ImageURL:     m.ImageURL,
		Status:       domain.ItemStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.Labels) > 0 {
		_ = json.Unmarshal(m.Labels, &item.Labels)
	}
	return item
}

func chatToModel(c domain.Chat) ChatModel {
	return ChatModel{
		ID:                 c.ID,
		ItemID:             c.ItemID,
		RelatedItemID:      c.RelatedItemID,
		UserA:              c.UserA,
		UserB:              c.UserB,
		Status:             string(c.Status),
		ClosureRequestedBy: c.ClosureRequestedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:                 m.ID,
		ItemID:             m.ItemID,
		RelatedItemID:      m.RelatedItemID,
		UserA:              m.UserA,
		UserB:              m.UserB,
		Status:             domain.ChatStatus(m.Status),
		ClosureRequestedBy: m.ClosureRequestedBy,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
