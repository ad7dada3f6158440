// Package encode turns structured entity commands into CAN frames: the
// inverse of decode, restricted to bindings whose PGN the catalog marks as
// controllable.
package encode

import (
	"fmt"
	"math"

	"github.com/rvlink-network/rvlink/pkg/util"
)

// Command kinds.
const (
	KindSet            = "set"
	KindToggle         = "toggle"
	KindBrightnessUp   = "brightness_up"
	KindBrightnessDown = "brightness_down"
	KindLock           = "lock"
	KindUnlock         = "unlock"
)

// BrightnessStep is the increment applied by brightness_up/brightness_down.
const BrightnessStep = 10

// Command is a structured entity command as received from the control
// surfaces. State and Brightness apply to kind "set" only.
type Command struct {
	Kind       string   `json:"command"`
	State      *bool    `json:"state,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
}

// Validate checks the command's shape before any entity lookup.
func (c Command) Validate() error {
	switch c.Kind {
	case KindSet:
		if c.State == nil && c.Brightness == nil {
			return fmt.Errorf("set requires state or brightness: %w", util.ErrInvalidParameter)
		}
		if c.Brightness != nil {
			b := *c.Brightness
			if math.IsNaN(b) || math.IsInf(b, 0) {
				return fmt.Errorf("brightness must be finite: %w", util.ErrInvalidParameter)
			}
		}
	case KindToggle, KindBrightnessUp, KindBrightnessDown, KindLock, KindUnlock:
		if c.State != nil || c.Brightness != nil {
			return fmt.Errorf("%s takes no parameters: %w", c.Kind, util.ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("unknown command %q: %w", c.Kind, util.ErrInvalidParameter)
	}
	return nil
}

// Current is the entity state snapshot the encoder reads for toggle and the
// brightness step commands. Produced by the entity store under its
// serialization point; never mutated here.
type Current struct {
	Available  bool
	On         bool
	Brightness float64 // user scale 0..100, meaningful when HasBrightness
	Locked     bool

	HasBrightness bool
}
