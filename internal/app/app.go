package app

import (
	"fmt"
	"time"

	"campusfound/internal/ratelimit"
	"campusfound/internal/suggest"
	"campusfound/pkg/cache"
	"campusfound/pkg/domain"
	"campusfound/pkg/store"
)

const (
	defaultMatchLimit      = 50
	defaultListingLimit    = 200
	defaultDuplicateWindow = 60 * time.Second
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL     string
	Store           store.Store
	Suggester       *suggest.Client
	Listing         *cache.Listing
	Limiter         *ratelimit.FixedWindowLimiter
	MatchLimit      int
	ListingLimit    int
	DuplicateWindow time.Duration
}

// App is the core application service wiring the lost-and-found state
// machines to storage and the optional collaborators. Suggester, listing
// cache, and limiter may each be nil; the corresponding feature then
// degrades gracefully instead of failing requests.
type App struct {
	store           store.Store
	suggester       *suggest.Client
	listing         *cache.Listing
	limiter         *ratelimit.FixedWindowLimiter
	matchLimit      int
	listingLimit    int
	duplicateWindow time.Duration
	now             func() time.Time
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	matchLimit := cfg.MatchLimit
	if matchLimit <= 0 {
		matchLimit = defaultMatchLimit
	}
	listingLimit := cfg.ListingLimit
	if listingLimit <= 0 {
		listingLimit = defaultListingLimit
	}
	duplicateWindow := cfg.DuplicateWindow
	if duplicateWindow <= 0 {
		duplicateWindow = defaultDuplicateWindow
	}

	return &App{
		store:           dataStore,
		suggester:       cfg.Suggester,
		listing:         cfg.Listing,
		limiter:         cfg.Limiter,
		matchLimit:      matchLimit,
		listingLimit:    listingLimit,
		duplicateWindow: duplicateWindow,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// SyncUser upserts the caller's user row from verified identity claims.
// First sign-in creates the row with the default role; later sign-ins only
// refresh profile fields. The returned user carries the authoritative role
// and karma counter.
func (a *App) SyncUser(id, email, name, picture string) (domain.User, error) {
	if id == "" {
		return domain.User{}, validationf("user id required")
	}
	now := a.now()
	user, err := a.store.UpsertUser(domain.User{
		ID:          id,
		Email:       email,
		DisplayName: name,
		AvatarURL:   picture,
		Role:        domain.RoleUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("sync user: %w", err)
	}
	return user, nil
}

// GetUser returns a user's profile including the karma counter.
func (a *App) GetUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUser(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}
