// ledger.go: durable idempotency ledger for notification dispatch
package datastore

import (
	"context"
	"time"

	"github.com/tphakala/birdtag/internal/errors"
	"gorm.io/gorm"
)

// ClaimNotification attempts to take the pending claim for a dedupe key with
// compare-and-set semantics. Exactly one concurrent caller wins a fresh key;
// an already-dispatched key is never claimable again. A pending claim older
// than staleAge belongs to a crashed or stuck attempt and may be taken over,
// again by at most one caller.
//
// The winner must call ConfirmNotification after the delivery collaborator
// acknowledges, or ReleaseNotification when delivery is abandoned.
func (ds *DataStore) ClaimNotification(ctx context.Context, entry *NotificationLedger, staleAge time.Duration) (ClaimResult, error) {
	if entry.DedupeKey == "" {
		return ClaimHeldElsewhere, validationError("dedupe key must not be empty", "dedupe_key", "")
	}

	entry.Status = LedgerStatusPending
	entry.ClaimedAt = time.Now()
	entry.DispatchedAt = nil

	err := ds.DB.WithContext(ctx).Create(entry).Error
	if err == nil {
		return ClaimAcquired, nil
	}
	if !isConstraintViolation(err) {
		return ClaimHeldElsewhere, dbError(err, "claim_notification", "", "dedupe_key", entry.DedupeKey)
	}

	// A row exists for this key; decide between dispatched, fresh pending and
	// stale pending.
	var existing NotificationLedger
	err = ds.DB.WithContext(ctx).First(&existing, "dedupe_key = ?", entry.DedupeKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The competing claim was released between our insert and read; treat
		// it as held, the triggering event will be retried or deduplicated
		// upstream
		return ClaimHeldElsewhere, nil
	}
	if err != nil {
		return ClaimHeldElsewhere, dbError(err, "claim_notification", "", "dedupe_key", entry.DedupeKey)
	}

	if existing.Status == LedgerStatusDispatched {
		return ClaimAlreadyDispatched, nil
	}
	if time.Since(existing.ClaimedAt) < staleAge {
		return ClaimHeldElsewhere, nil
	}

	// Stale pending claim: take it over. The claimed_at guard makes the
	// takeover itself a compare-and-set, only one caller can win.
	result := ds.DB.WithContext(ctx).Model(&NotificationLedger{}).
		Where("dedupe_key = ? AND status = ? AND claimed_at = ?",
			entry.DedupeKey, LedgerStatusPending, existing.ClaimedAt).
		Updates(map[string]any{
			"claimed_at":         entry.ClaimedAt,
			"subscription_id":    entry.SubscriptionID,
			"media_id":           entry.MediaID,
			"matched_tag":        entry.MatchedTag,
			"matched_confidence": entry.MatchedConfidence,
		})
	if result.Error != nil {
		return ClaimHeldElsewhere, dbError(result.Error, "claim_notification", "", "dedupe_key", entry.DedupeKey)
	}
	if result.RowsAffected == 0 {
		return ClaimHeldElsewhere, nil
	}
	return ClaimAcquired, nil
}

// ConfirmNotification marks a pending claim as dispatched. Called only after
// the delivery collaborator acknowledged the event; from then on the key is
// permanently suppressed, surviving restarts.
func (ds *DataStore) ConfirmNotification(ctx context.Context, dedupeKey string) error {
	now := time.Now()
	result := ds.DB.WithContext(ctx).Model(&NotificationLedger{}).
		Where("dedupe_key = ? AND status = ?", dedupeKey, LedgerStatusPending).
		Updates(map[string]any{
			"status":        LedgerStatusDispatched,
			"dispatched_at": now,
		})
	if result.Error != nil {
		return dbError(result.Error, "confirm_notification", "", "dedupe_key", dedupeKey)
	}
	if result.RowsAffected == 0 {
		return stateError(errClaimLost, "confirm_notification", "ledger", "dedupe_key", dedupeKey)
	}
	return nil
}

// ReleaseNotification drops a pending claim after delivery was abandoned so
// a later detection update can attempt the key again. Releasing a missing or
// already-dispatched key is a no-op.
func (ds *DataStore) ReleaseNotification(ctx context.Context, dedupeKey string) error {
	err := ds.DB.WithContext(ctx).
		Where("dedupe_key = ? AND status = ?", dedupeKey, LedgerStatusPending).
		Delete(&NotificationLedger{}).Error
	if err != nil {
		return dbError(err, "release_notification", "", "dedupe_key", dedupeKey)
	}
	return nil
}

// WasDispatched reports whether a dedupe key has an acknowledged dispatch.
func (ds *DataStore) WasDispatched(ctx context.Context, dedupeKey string) (bool, error) {
	var entry NotificationLedger
	err := ds.DB.WithContext(ctx).
		Select("status").
		First(&entry, "dedupe_key = ?", dedupeKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err, "was_dispatched", "", "dedupe_key", dedupeKey)
	}
	return entry.Status == LedgerStatusDispatched, nil
}

// errClaimLost signals a confirm on a claim that is no longer pending.
var errClaimLost = errors.NewStd("pending claim no longer held")
