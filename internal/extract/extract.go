// Package extract turns a free-text message into partial preferences.
package extract

import (
	"context"

	"eventpulse/internal/domain"
)

// Extractor never fails: an implementation that cannot understand the
// message returns an empty PartialPreferences.
type Extractor interface {
	Extract(ctx context.Context, message string) domain.PartialPreferences
}
