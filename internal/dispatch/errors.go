package dispatch

import (
	"errors"
	"fmt"
)

// ErrInvalidSettings is returned (wrapped) when Settings cannot drive a run.
var ErrInvalidSettings = errors.New("invalid dispatch settings")

// Validate rejects settings instead of clamping them.
func (s Settings) Validate() error {
	switch {
	case s.RateLimitPerWindow <= 0:
		return fmt.Errorf("%w: rate limit must be > 0 (got %d)", ErrInvalidSettings, s.RateLimitPerWindow)
	case s.DelayMin < 0:
		return fmt.Errorf("%w: delay min must be >= 0 (got %s)", ErrInvalidSettings, s.DelayMin)
	case s.DelayMax < 0:
		return fmt.Errorf("%w: delay max must be >= 0 (got %s)", ErrInvalidSettings, s.DelayMax)
	case s.DelayMin > s.DelayMax:
		return fmt.Errorf("%w: delay min %s exceeds delay max %s", ErrInvalidSettings, s.DelayMin, s.DelayMax)
	}
	return nil
}
