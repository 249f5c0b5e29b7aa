package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/specto/internal/models"
)

// QueryDirection orders log query results.
type QueryDirection string

const (
	DirectionForward  QueryDirection = "forward"
	DirectionBackward QueryDirection = "backward"
)

// LogQuery describes one poll against the external log source.
type LogQuery struct {
	SourceIDs []string
	Start     time.Time
	End       time.Time
	Limit     int
	Direction QueryDirection
}

// LogBatch is the result of a single log source query.
type LogBatch struct {
	Events  []models.LogEvent
	HasMore bool
}

// LogSource is the external, rate-limited log API the relay polls.
type LogSource interface {
	// Query fetches entries for the given sources and window.
	Query(ctx context.Context, q LogQuery) (*LogBatch, error)
}
