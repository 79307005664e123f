// subscriptions.go: durable storage for standing user subscriptions
package datastore

import (
	"context"

	"github.com/tphakala/birdtag/internal/errors"
	"gorm.io/gorm"
)

// SaveSubscription persists a new subscription. Subscriptions are immutable
// after creation; duplicates for the same owner, tag and threshold are
// allowed and deduplicated at matching time by dedupe key.
func (ds *DataStore) SaveSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		return validationError("subscription id must not be empty", "id", "")
	}
	if sub.OwnerID == "" {
		return validationError("owner id must not be empty", "owner_id", "")
	}
	if sub.TagName == "" {
		return validationError("tag name must not be empty", "tag_name", "")
	}
	if sub.MinConfidence < 0 || sub.MinConfidence > 1 {
		return validationError("confidence must be within [0,1]", "min_confidence", sub.MinConfidence)
	}

	if err := ds.DB.WithContext(ctx).Create(sub).Error; err != nil {
		return dbError(err, "save_subscription", "",
			"subscription_id", sub.ID,
			"tag_name", sub.TagName)
	}
	return nil
}

// GetSubscription retrieves a subscription by its id.
func (ds *DataStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	err := ds.DB.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("subscription", id)
	}
	if err != nil {
		return nil, dbError(err, "get_subscription", "", "subscription_id", id)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription. Idempotent: deleting an unknown
// id is a no-op success.
func (ds *DataStore) DeleteSubscription(ctx context.Context, id string) error {
	if err := ds.DB.WithContext(ctx).Delete(&Subscription{}, "id = ?", id).Error; err != nil {
		return dbError(err, "delete_subscription", "", "subscription_id", id)
	}
	return nil
}

// SubscriptionsByTag returns all subscriptions for a tag name. This is the
// dispatcher's fan-out path and runs against the tag name index, never a
// full table scan.
func (ds *DataStore) SubscriptionsByTag(ctx context.Context, tagName string) ([]Subscription, error) {
	var subs []Subscription
	err := ds.DB.WithContext(ctx).
		Where("tag_name = ?", NormalizeTag(tagName)).
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, dbError(err, "subscriptions_by_tag", "", "tag_name", tagName)
	}
	return subs, nil
}

// SubscriptionsByOwner returns all subscriptions owned by a user.
func (ds *DataStore) SubscriptionsByOwner(ctx context.Context, ownerID string) ([]Subscription, error) {
	var subs []Subscription
	err := ds.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, dbError(err, "subscriptions_by_owner", "", "owner_id", ownerID)
	}
	return subs, nil
}
