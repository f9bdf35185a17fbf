package domain

import (
	"errors"

	workerdomain "github.com/wisepythagoras/matilda/internal/worker/domain"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// ValidRunStatus reports whether status is one the run journal records
func ValidRunStatus(status string) bool {
	switch status {
	case workerdomain.RunStatusRunning,
		workerdomain.RunStatusCompleted,
		workerdomain.RunStatusFailed,
		workerdomain.RunStatusCanceled:
		return true
	}
	return false
}
