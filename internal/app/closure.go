package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"campusfound/internal/util"
	"campusfound/pkg/domain"
)

const (
	karmaClosureAward = 10
	karmaDirectAward  = 50

	// One karma source kind covers both resolution paths: the ledger's
	// uniqueness on (kind, item) is what keeps chat-closure and direct
	// resolve from ever both rewarding the same item.
	karmaSourceResolve = "item_resolve"
)

// CloseOutcome reports what a RequestClose call did.
type CloseOutcome struct {
	Status        domain.ChatStatus `json:"status"`
	AlreadyClosed bool              `json:"alreadyClosed,omitempty"`
	AwaitingOther bool              `json:"awaitingOther,omitempty"`
}

// RequestClose drives the two-phase close handshake. The first participant's
// call moves an open chat to pending_closure; the other participant's call
// confirms and runs the resolution sequence. A requester calling again gets
// a waiting outcome, and any call on a closed chat is a no-op.
//
// Every transition is a conditional update keyed on the expected prior
// state, so two racing calls cannot both confirm: the loser's update matches
// zero rows and it re-reads to report the state the winner left behind.
func (a *App) RequestClose(ctx context.Context, caller domain.User, chatID string) (CloseOutcome, error) {
	for {
		chat, ok, err := a.store.GetChat(chatID)
		if err != nil {
			return CloseOutcome{}, fmt.Errorf("load chat: %w", err)
		}
		if !ok {
			return CloseOutcome{}, ErrChatNotFound
		}
		if !chat.HasParticipant(caller.ID) {
			return CloseOutcome{}, ErrNotParticipant
		}

		switch chat.Status {
		case domain.ChatClosed:
			return CloseOutcome{Status: domain.ChatClosed, AlreadyClosed: true}, nil

		case domain.ChatOpen:
			moved, err := a.store.MarkChatPending(chatID, caller.ID)
			if err != nil {
				return CloseOutcome{}, fmt.Errorf("request closure: %w", err)
			}
			if !moved {
				// Lost the race to another transition; re-read and re-decide.
				continue
			}
			return CloseOutcome{Status: domain.ChatPendingClosure}, nil

		case domain.ChatPendingClosure:
			if chat.ClosureRequestedBy == caller.ID {
				return CloseOutcome{Status: domain.ChatPendingClosure, AwaitingOther: true}, nil
			}
			outcome, done, err := a.confirmClose(ctx, caller, chat)
			if err != nil {
				return CloseOutcome{}, err
			}
			if !done {
				continue
			}
			return outcome, nil

		default:
			return CloseOutcome{}, fmt.Errorf("chat %s in unknown state %q", chatID, chat.Status)
		}
	}
}

// confirmClose runs the resolution sequence. The item is resolved before the
// chat is closed: a crash between the two leaves the item resolved and the
// chat still pending, which a retry completes idempotently. The reverse
// order could strand a closed chat over an open item.
func (a *App) confirmClose(ctx context.Context, caller domain.User, chat domain.Chat) (CloseOutcome, bool, error) {
	// Step 1: resolve the primary item if it is still open. A missing or
	// already-resolved item is fine; only a store failure aborts, so we
	// never report a closed chat while the item may still be open.
	if _, err := a.store.ResolveItemIfOpen(chat.ItemID); err != nil {
		return CloseOutcome{}, false, fmt.Errorf("resolve item: %w", err)
	}

	// Step 2: close the chat, conditional on it still being pending and the
	// caller not being the requester.
	closed, err := a.store.CloseChat(chat.ID, caller.ID)
	if err != nil {
		return CloseOutcome{}, false, fmt.Errorf("close chat: %w", err)
	}
	if !closed {
		return CloseOutcome{}, false, nil
	}

	a.listing.Invalidate(ctx)

	// Step 3: award the finder. Best-effort; the resolution stands even when
	// the reward bookkeeping fails.
	a.awardClosureKarma(ctx, chat)

	return CloseOutcome{Status: domain.ChatClosed}, true, nil
}

// awardClosureKarma credits the inferred finder once per resolved item.
func (a *App) awardClosureKarma(ctx context.Context, chat domain.Chat) {
	logger := util.LoggerFromContext(ctx)

	item, ok, err := a.store.GetItem(chat.ItemID)
	if err != nil || !ok {
		logger.Warn("karma skipped: primary item unavailable", "chat_id", chat.ID, "item_id", chat.ItemID, "err", err)
		return
	}

	finder := inferFinder(item, chat)
	if finder == "" {
		logger.Warn("karma skipped: no finder inferred", "chat_id", chat.ID, "item_id", item.ID)
		return
	}

	applied, err := a.store.AddKarma(domain.KarmaEntry{
		ID:         uuid.NewString(),
		UserID:     finder,
		Amount:     karmaClosureAward,
		Reason:     "item returned via chat closure",
		SourceKind: karmaSourceResolve,
		SourceID:   item.ID,
		CreatedAt:  a.now(),
	})
	if err != nil {
		logger.Warn("karma award failed", "chat_id", chat.ID, "item_id", item.ID, "user_id", finder, "err", err)
		return
	}
	if !applied {
		logger.Debug("karma already awarded for item", "item_id", item.ID)
	}
}

// inferFinder names the party credited with physically recovering the item.
// For a found report the reporter is the finder; for a lost report it is the
// chat counterpart of the reporter.
func inferFinder(item domain.Item, chat domain.Chat) string {
	if item.Type == domain.TypeFound {
		return item.ReporterID
	}
	if !chat.HasParticipant(item.ReporterID) {
		return ""
	}
	return chat.OtherParticipant(item.ReporterID)
}

// ResolveItemDirect lets a reporter mark their own open item resolved
// without a chat handshake. A found report resolved this way earns the
// reporter the larger self-reported-return award.
func (a *App) ResolveItemDirect(ctx context.Context, caller domain.User, itemID string) error {
	item, ok, err := a.store.GetItem(itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if !ok {
		return ErrItemNotFound
	}
	if item.ReporterID != caller.ID {
		return ErrNotOwner
	}

	resolved, err := a.store.ResolveItemIfOpen(itemID)
	if err != nil {
		return fmt.Errorf("resolve item: %w", err)
	}
	if !resolved {
		return ErrAlreadyResolved
	}

	a.listing.Invalidate(ctx)

	if item.Type == domain.TypeFound {
		applied, err := a.store.AddKarma(domain.KarmaEntry{
			ID:         uuid.NewString(),
			UserID:     caller.ID,
			Amount:     karmaDirectAward,
			Reason:     "self-reported successful return",
			SourceKind: karmaSourceResolve,
			SourceID:   itemID,
			CreatedAt:  a.now(),
		})
		logger := util.LoggerFromContext(ctx)
		if err != nil {
			logger.Warn("karma award failed", "item_id", itemID, "user_id", caller.ID, "err", err)
		} else if !applied {
			logger.Debug("karma already awarded for item", "item_id", itemID)
		}
	}
	return nil
}
