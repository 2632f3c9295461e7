// Package countdown computes the time left until a fixed instant and
// publishes it once per second to observers.
package countdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickInterval is the refresh period of a watched countdown.
const TickInterval = time.Second

const (
	msPerSecond = int64(1000)
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

// localLayout is the zone-less form used by the event pages, e.g. 2026-02-23T10:00:00.
const localLayout = "2006-01-02T15:04:05"

var ErrZeroTarget = errors.New("countdown: target instant is not set")

// TimeRemaining is the days/hours/minutes/seconds breakdown of the time left.
// It never holds negative values.
type TimeRemaining struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// IsZero reports whether the target has been reached.
func (r TimeRemaining) IsZero() bool {
	return r == TimeRemaining{}
}

// TotalSeconds folds the breakdown back into whole seconds.
func (r TimeRemaining) TotalSeconds() int64 {
	return int64(r.Days)*86400 + int64(r.Hours)*3600 + int64(r.Minutes)*60 + int64(r.Seconds)
}

func (r TimeRemaining) String() string {
	return fmt.Sprintf("%dd %02dh %02dm %02ds", r.Days, r.Hours, r.Minutes, r.Seconds)
}

// Compute returns the time left from now until target, at millisecond
// resolution. A target at or before now yields the zero value.
func Compute(target, now time.Time) TimeRemaining {
	delta := target.UnixMilli() - now.UnixMilli()
	if delta <= 0 {
		return TimeRemaining{}
	}
	return TimeRemaining{
		Days:    int(delta / msPerDay),
		Hours:   int((delta % msPerDay) / msPerHour),
		Minutes: int((delta % msPerHour) / msPerMinute),
		Seconds: int((delta % msPerMinute) / msPerSecond),
	}
}

// ParseTarget accepts RFC 3339 or a zone-less local timestamp, the latter
// interpreted in loc (UTC when loc is nil).
func ParseTarget(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrZeroTarget
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(localLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("countdown: invalid target %q: %w", value, err)
	}
	return t, nil
}

// Engine tracks a single target instant for its whole lifetime.
type Engine struct {
	target time.Time
	clock  clockwork.Clock
}

// NewEngine returns an engine for target. A nil clock means the real clock.
func NewEngine(target time.Time, clock clockwork.Clock) (*Engine, error) {
	if target.IsZero() {
		return nil, ErrZeroTarget
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{target: target, clock: clock}, nil
}

func (e *Engine) Target() time.Time { return e.target }

// Remaining computes the breakdown against the engine's clock.
func (e *Engine) Remaining() TimeRemaining {
	return Compute(e.target, e.clock.Now())
}

func (e *Engine) Expired() bool {
	return e.Remaining().IsZero()
}

// Watch emits the current value immediately and then once per tick until ctx
// is done, at which point the ticker is stopped and the channel closed.
//
// The channel holds at most one value. A consumer that falls behind receives
// the latest breakdown, not a backlog of stale ones.
func (e *Engine) Watch(ctx context.Context) <-chan TimeRemaining {
	out := make(chan TimeRemaining, 1)
	out <- e.Remaining()

	go func() {
		defer close(out)

		ticker := e.clock.NewTicker(TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				publishLatest(out, e.Remaining())
			}
		}
	}()

	return out
}

// publishLatest replaces any unread value so the send never blocks.
// Safe only with a single sender.
func publishLatest(out chan TimeRemaining, v TimeRemaining) {
	select {
	case out <- v:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	out <- v
}
