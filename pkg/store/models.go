package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID          string `gorm:"primaryKey"`
	Email       string `gorm:"uniqueIndex;not null"`
	DisplayName string
	AvatarURL   string
	Role        string    `gorm:"not null"`
	KarmaPoints int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type ItemModel struct {
	ID           string `gorm:"primaryKey"`
	ReporterID   string `gorm:"not null;index"`
	Type         string `gorm:"not null;index:idx_items_match"`
	Title        string `gorm:"not null"`
	Description  string `gorm:"type:text;not null"`
	Category     string `gorm:"not null;index:idx_items_match"`
	LocationZone string `gorm:"not null"`
	DateReported time.Time
	ImageURL     string
	Labels       datatypes.JSON `gorm:"type:jsonb"`
	Status       string         `gorm:"not null;index:idx_items_match"`
	CreatedAt    time.Time      `gorm:"not null;index"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

// ChatModel keeps the user pair canonical (user_a < user_b); the composite
// unique index is what makes chat creation race-free.
type ChatModel struct {
	ID                 string `gorm:"primaryKey"`
	ItemID             string `gorm:"not null;uniqueIndex:idx_chats_item_pair"`
	RelatedItemID      string
	UserA              string    `gorm:"not null;uniqueIndex:idx_chats_item_pair;index"`
	UserB              string    `gorm:"not null;uniqueIndex:idx_chats_item_pair;index"`
	Status             string    `gorm:"not null"`
	ClosureRequestedBy string
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	ChatID    string    `gorm:"not null;index"`
	SenderID  string    `gorm:"not null"`
	Content   string    `gorm:"type:text"`
	Type      string    `gorm:"not null"`
	MediaURL  string
	CreatedAt time.Time `gorm:"not null;index"`
}

// KarmaEntryModel is one append-only row of the reputation ledger. The
// composite unique index on the source keeps any awarding event from being
// applied twice.
type KarmaEntryModel struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"not null;index"`
	Amount     int    `gorm:"not null"`
	Reason     string
	SourceKind string    `gorm:"not null;uniqueIndex:idx_karma_source"`
	SourceID   string    `gorm:"not null;uniqueIndex:idx_karma_source"`
	CreatedAt  time.Time `gorm:"not null"`
}
