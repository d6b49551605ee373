package pricing

import (
	"time"

	"marketmaker/internal/models"
)

// IsStale - стакан устарел, если с момента обновления прошло строго больше threshold
func IsStale(ob *models.ExternalOrderbook, now time.Time, threshold time.Duration) bool {
	return now.Sub(ob.LastUpdatedTime) > threshold
}
