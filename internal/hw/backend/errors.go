package backend

import (
	"errors"
	"fmt"
)

// wrapHardware keeps existing ErrHardware chains intact.
func wrapHardware(op string, err error) error {
	if errors.Is(err, ErrHardware) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrHardware, op, err)
}
