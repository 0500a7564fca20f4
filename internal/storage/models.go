package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// FeedbackExample is one answered question together with any feedback the
// user later submitted for it. There is exactly one row per trace ID.
//
// Question, Context, and ModelAnswer are immutable once written: they record
// what was actually shown to the user, not an editable field. Score is nil
// until the user rates the answer (1 = thumbs up, 0 = thumbs down).
type FeedbackExample struct {
	TraceID     string    `json:"trace_id"`
	Question    string    `json:"question"`
	Context     []string  `json:"context"`
	ModelAnswer string    `json:"model_answer"`
	Score       *int      `json:"score"`
	Reason      string    `json:"reason,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OptimizerRun is one completed optimization run. The table is append-only;
// the latest run time is the max created_at over all rows.
type OptimizerRun struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastFeedbackAt time.Time `json:"last_feedback_at"`
}
