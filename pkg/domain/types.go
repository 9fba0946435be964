package domain

import "time"

type ItemType string

const (
	TypeLost  ItemType = "lost"
	TypeFound ItemType = "found"
)

// Opposite returns the counterpart report type: a lost report matches
// found reports and vice versa.
func (t ItemType) Opposite() ItemType {
	if t == TypeLost {
		return TypeFound
	}
	return TypeLost
}

type ItemStatus string

const (
	ItemOpen     ItemStatus = "open"
	ItemResolved ItemStatus = "resolved"
)

type ChatStatus string

const (
	ChatOpen           ChatStatus = "open"
	ChatPendingClosure ChatStatus = "pending_closure"
	ChatClosed         ChatStatus = "closed"
)

type UserRole string

const (
	RoleUser      UserRole = "user"
	RoleModerator UserRole = "moderator"
	RoleAdmin     UserRole = "admin"
)

// CanModerate reports whether the role may act on items it does not own.
func (r UserRole) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

type Category string

const (
	CategoryElectronics Category = "electronics"
	CategoryDocuments   Category = "documents"
	CategoryAccessories Category = "accessories"
	CategoryClothing    Category = "clothing"
	CategoryBooks       Category = "books"
	CategoryKeys        Category = "keys"
	CategoryOther       Category = "other"
)

// Categories lists every accepted category, in display order.
var Categories = []Category{
	CategoryElectronics,
	CategoryDocuments,
	CategoryAccessories,
	CategoryClothing,
	CategoryBooks,
	CategoryKeys,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Zone string

const (
	ZoneLibrary   Zone = "library"
	ZoneCafeteria Zone = "cafeteria"
	ZoneLectures  Zone = "lecture_halls"
	ZoneDorms     Zone = "dorms"
	ZoneSports    Zone = "sports_complex"
	ZoneParking   Zone = "parking"
	ZoneOther     Zone = "other"
)

var Zones = []Zone{
	ZoneLibrary,
	ZoneCafeteria,
	ZoneLectures,
	ZoneDorms,
	ZoneSports,
	ZoneParking,
	ZoneOther,
}

func (z Zone) Valid() bool {
	for _, known := range Zones {
		if z == known {
			return true
		}
	}
	return false
}

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Role        UserRole  `json:"role"`
	KarmaPoints int       `json:"karmaPoints"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Item struct {
	ID           string            `json:"id"`
	ReporterID   string            `json:"reporterId"`
	Type         ItemType          `json:"type"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Category     Category          `json:"category"`
	LocationZone Zone              `json:"locationZone"`
	DateReported time.Time         `json:"dateReported"`
	ImageURL     string            `json:"imageUrl,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Status       ItemStatus        `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Chat is the negotiation thread between two users about one primary item.
// UserA/UserB are stored canonically (UserA < UserB) so the unordered pair
// has a single representation and the per-item uniqueness constraint holds.
type Chat struct {
	ID                 string     `json:"id"`
	ItemID             string     `json:"itemId"`
	RelatedItemID      string     `json:"relatedItemId,omitempty"`
	UserA              string     `json:"userA"`
	UserB              string     `json:"userB"`
	Status             ChatStatus `json:"status"`
	ClosureRequestedBy string     `json:"closureRequestedBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// HasParticipant reports whether the user is one of the chat's two parties.
func (c Chat) HasParticipant(userID string) bool {
	return userID != "" && (c.UserA == userID || c.UserB == userID)
}

// OtherParticipant returns the counterpart of the given participant.
func (c Chat) OtherParticipant(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"type"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// KarmaEntry is one append-only ledger row behind a user's karma counter.
// SourceKind+SourceID identify the awarding event and are unique together,
// which is what makes every award exactly-once.
type KarmaEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Amount     int       `json:"amount"`
	Reason     string    `json:"reason"`
	SourceKind string    `json:"sourceKind"`
	SourceID   string    `json:"sourceId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CanonicalPair orders two user ids so (a,b) and (b,a) map to one key.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
