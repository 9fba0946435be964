package app

import (
	"context"
	"fmt"

	"campusfound/pkg/domain"
)

// FindMatches returns candidate counterpart reports for an item: still-open
// reports of the opposite type in exactly the same category, excluding the
// reporter's own items, newest first.
func (a *App) FindMatches(itemID string) ([]domain.Item, error) {
	item, ok, err := a.store.GetItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if !ok {
		return nil, ErrItemNotFound
	}
	matches, err := a.store.FindMatches(item, a.matchLimit)
	if err != nil {
		return nil, fmt.Errorf("find matches: %w", err)
	}
	return matches, nil
}

// ListOpenItems returns the open-item listing, served from the cache when
// one is configured.
func (a *App) ListOpenItems(ctx context.Context) ([]domain.Item, error) {
	return a.listing.Get(ctx, func() ([]domain.Item, error) {
		return a.store.ListOpenItems(a.listingLimit)
	})
}

// GetItem returns a single report.
func (a *App) GetItem(itemID string) (domain.Item, error) {
	item, ok, err := a.store.GetItem(itemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("load item: %w", err)
	}
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}
	return item, nil
}

// ListMyItems returns the caller's own reports, newest first.
func (a *App) ListMyItems(caller domain.User) ([]domain.Item, error) {
	items, err := a.store.ListItemsByReporter(caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// DeleteItem removes a report and everything hanging off it. Only the
// reporter or a moderator may delete.
func (a *App) DeleteItem(ctx context.Context, caller domain.User, itemID string) error {
	item, ok, err := a.store.GetItem(itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if !ok {
		return ErrItemNotFound
	}
	if item.ReporterID != caller.ID && !caller.Role.CanModerate() {
		return ErrNotOwner
	}
	if err := a.store.DeleteItemCascade(itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	a.listing.Invalidate(ctx)
	return nil
}
