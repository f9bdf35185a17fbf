package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/wisepythagoras/matilda/internal/api/domain"
	"github.com/wisepythagoras/matilda/internal/api/storage"
)

func DecodeRunCursor(cursorStr string) (*storage.RunCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCursor, err)
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("%w: want <started_at>|<run_id>", domain.ErrInvalidCursor)
	}

	var startedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &startedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: started_at: %w", domain.ErrInvalidCursor, err)
	}

	return &storage.RunCursor{
		StartedAt: time.Unix(0, startedAt).UTC(),
		RunID:     decodedParts[1],
	}, nil
}

func EncodeRunCursor(cursor *storage.RunCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.StartedAt.UnixNano(), cursor.RunID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
