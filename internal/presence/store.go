// Package presence tracks the durable coarse online status of users.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"huddle/internal/cache"
	"huddle/internal/models"
	"huddle/internal/observability"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const lastSeenTTL = 24 * time.Hour

// Snapshot is the stored presence of a single user.
type Snapshot struct {
	Status     models.PresenceStatus `json:"status"`
	LastSeenAt time.Time             `json:"last_seen_at"`
}

// Store is the durable presence state machine. It owns the onlineStatus and
// lastSeenAt columns and mirrors last-seen into Redis for cheap reads. It
// does no fan-out; announcing transitions to connected clients is the
// gateway's job.
//
// There is no idle timer: a user stays online until they disconnect or set
// a status themselves.
type Store struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewStore creates a Store. The Redis client may be nil; the mirror is then skipped.
func NewStore(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{db: db, rdb: rdb}
}

func lastSeenKey(userID uint) string {
	return fmt.Sprintf("presence:last_seen:%d", userID)
}

// SetStatus transitions a user to the given status and stamps lastSeenAt.
// The returned time is the stamp written. Transitions are not coalesced:
// setting the same status twice writes twice.
func (s *Store) SetStatus(ctx context.Context, userID uint, status models.PresenceStatus) (time.Time, error) {
	if !models.ValidPresenceStatus(status) {
		return time.Time{}, models.NewValidationError(fmt.Sprintf("invalid presence status %q", status))
	}

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"online_status": status,
			"last_seen_at":  now,
		}).Error
	if err != nil {
		return time.Time{}, models.NewInternalError(err)
	}

	observability.PresenceTransitions.WithLabelValues(string(status)).Inc()
	cache.Invalidate(ctx, cache.UserKey(userID))

	if s.rdb != nil {
		// Best-effort mirror; the DB row is the source of truth.
		if err := s.rdb.Set(ctx, lastSeenKey(userID), now.Format(time.RFC3339Nano), lastSeenTTL).Err(); err != nil {
			observability.Logger.WarnContext(ctx, "presence: redis mirror write failed",
				"user_id", userID, "error", err)
		}
	}

	return now, nil
}

// MarkOnline is the connect / activity transition.
func (s *Store) MarkOnline(ctx context.Context, userID uint) (time.Time, error) {
	return s.SetStatus(ctx, userID, models.StatusOnline)
}

// MarkOffline is the disconnect / logout transition.
func (s *Store) MarkOffline(ctx context.Context, userID uint) (time.Time, error) {
	return s.SetStatus(ctx, userID, models.StatusOffline)
}

// Get reads a user's stored presence.
func (s *Store) Get(ctx context.Context, userID uint) (*Snapshot, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("online_status", "last_seen_at").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", userID)
		}
		return nil, models.NewInternalError(err)
	}

	snap := &Snapshot{Status: user.OnlineStatus}
	if user.LastSeenAt != nil {
		snap.LastSeenAt = *user.LastSeenAt
	}
	return snap, nil
}

// LastSeen reads the Redis mirror, falling back to the DB row on miss.
func (s *Store) LastSeen(ctx context.Context, userID uint) (time.Time, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, lastSeenKey(userID)).Result()
		if err == nil {
			if ts, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
				return ts, nil
			}
		}
	}

	snap, err := s.Get(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return snap.LastSeenAt, nil
}
