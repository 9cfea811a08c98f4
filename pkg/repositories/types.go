package repositories

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no result is recorded for a battle.
type ErrNotFound struct {
	BattleID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no result recorded for battle %s", e.BattleID)
}

func IsNotFound(err error) bool {
	target := &ErrNotFound{}
	return errors.As(err, &target)
}
