package persist

import (
	"context"
	"fmt"
	"math"

	"gorm.io/gorm"

	"governanceagg/store"
)

// speedGrowthFactor/speedShrinkFactor are the multipliers for the adaptive batch-size rule: grow 20%
// on a successful window, halve on a failed one, clamped to the governor's
// configured [min_refresh_speed, max_refresh_speed].
const (
	speedGrowthFactor = 1.2
	speedShrinkFactor = 0.5
)

// AdvanceWindow commits a successful window: the cursor moves to the
// adapter-suggested value and the refresh speed grows. The GREATEST guard
// keeps the stored cursor monotone even if a replayed window suggests a
// value behind what a later window already committed.
func (s *Store) AdvanceWindow(ctx context.Context, governorID string, nextCursor int64) error {
	var governor store.Governor
	if err := s.DB.WithContext(ctx).First(&governor, "id = ?", governorID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrGovernorNotFound
		}
		return fmt.Errorf("persist: load governor: %w", err)
	}

	newSpeed := growSpeed(governor.Speed, governor.MaxSpeed)

	return s.DB.WithContext(ctx).Model(&store.Governor{}).
		Where("id = ?", governorID).
		Updates(map[string]interface{}{
			"cursor": gorm.Expr("GREATEST(cursor, ?)", nextCursor),
			"speed":  newSpeed,
		}).Error
}

// RetreatSpeed commits a failed window: the cursor is left untouched and the
// refresh speed shrinks, so the next attempt covers a smaller block range.
// UpdateColumn leaves updated_at alone, so it only advances on success.
func (s *Store) RetreatSpeed(ctx context.Context, governorID string) error {
	var governor store.Governor
	if err := s.DB.WithContext(ctx).First(&governor, "id = ?", governorID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrGovernorNotFound
		}
		return fmt.Errorf("persist: load governor: %w", err)
	}

	newSpeed := shrinkSpeed(governor.Speed, governor.MinSpeed)

	return s.DB.WithContext(ctx).Model(&store.Governor{}).
		Where("id = ?", governorID).
		UpdateColumn("speed", newSpeed).Error
}

// growSpeed computes the next window speed after a successful fetch:
// new_speed = min(max_speed, ceil(speed * 1.2)).
func growSpeed(current, max uint64) uint64 {
	scaled := uint64(math.Ceil(float64(current) * speedGrowthFactor))
	if scaled < 1 {
		scaled = 1
	}
	if max > 0 && scaled > max {
		scaled = max
	}
	return scaled
}

// shrinkSpeed computes the next window speed after a failed fetch:
// new_speed = max(min_speed, floor(speed * 0.5)).
func shrinkSpeed(current, min uint64) uint64 {
	scaled := uint64(math.Floor(float64(current) * speedShrinkFactor))
	if scaled < min {
		scaled = min
	}
	return scaled
}
