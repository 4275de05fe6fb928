// Package reminder schedules, cancels and delivers maintenance reminders.
// Requests are keyed; scheduling a key that is already pending replaces it.
package reminder

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRequest = errors.New("invalid reminder request")

// Context identifies what a reminder is about.
type Context struct {
	VehicleID string `json:"vehicleId"`
	ItemID    string `json:"itemId"`
}

// Request is one scheduling request. A zero FireAt, or FireNow, means deliver
// on the next worker poll.
type Request struct {
	Key      string    `json:"key"`
	FireAt   time.Time `json:"fireAt"`
	FireNow  bool      `json:"fireNow"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Context  Context   `json:"context"`
	Attempts int       `json:"attempts,omitempty"`

	// Revision is the key's revision when the request was claimed. Every
	// Schedule and Cancel of the key moves it on.
	Revision int64 `json:"-"`
}

// DueAt resolves the fire time against now.
func (r Request) DueAt(now time.Time) time.Time {
	if r.FireNow || r.FireAt.IsZero() {
		return now
	}
	return r.FireAt
}

func (r Request) Validate() error {
	if r.Key == "" {
		return ErrInvalidRequest
	}
	return nil
}

// Dispatcher is the scheduling boundary. Cancel of an unknown key succeeds.
type Dispatcher interface {
	Schedule(ctx context.Context, req Request) error
	Cancel(ctx context.Context, key string) error
}

// Queue is a Dispatcher whose pending requests can be claimed when due.
type Queue interface {
	Dispatcher
	Due(ctx context.Context, now time.Time, limit int) ([]Request, error)
	// Requeue puts a claimed request back unless its key was scheduled or
	// cancelled after the claim. It reports whether the request was stored.
	Requeue(ctx context.Context, req Request) (bool, error)
}

// Sender delivers a fired reminder to the user.
type Sender interface {
	Send(ctx context.Context, req Request) error
}
