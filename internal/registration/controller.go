// Package registration drives the two-step profile/OTP handshake against the
// remote registration backend for a single form instance.
package registration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultResetDelay is how long a completed form stays completed before it
// clears itself.
const DefaultResetDelay = 3 * time.Second

// PhaseObserver is called after every phase transition, outside the lock.
type PhaseObserver func(from, to Phase)

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithResetDelay(d time.Duration) Option {
	return func(c *Controller) { c.resetDelay = d }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithObserver(observer PhaseObserver) Option {
	return func(c *Controller) { c.observer = observer }
}

// Controller holds the state of one registration form. It is safe for
// concurrent use; at most one submission is in flight at a time.
type Controller struct {
	backend    Backend
	notifier   Notifier
	clock      clockwork.Clock
	resetDelay time.Duration
	logger     logrus.FieldLogger
	observer   PhaseObserver

	mu         sync.Mutex
	state      State
	busy       bool
	closed     bool
	resetTimer clockwork.Timer
}

// NewController returns a controller in PhaseCollectingProfile with empty fields.
func NewController(backend Backend, notifier Notifier, opts ...Option) *Controller {
	c := &Controller{
		backend:    backend,
		notifier:   notifier,
		clock:      clockwork.NewRealClock(),
		resetDelay: DefaultResetDelay,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(Notification) {})
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase
}

// Busy reports whether a submission is waiting on the backend.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Controller) VisibleFields() []Field {
	return VisibleFields(c.Phase())
}

// SetField updates exactly one field. Profile fields are editable only while
// collecting the profile and the OTP only while awaiting it.
func (c *Controller) SetField(field Field, value string) error {
	return c.SetFields(map[Field]string{field: value})
}

// SetFields updates several fields at once. Either every field is written or,
// when any of them is refused, none is.
func (c *Controller) SetFields(values map[Field]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	for field := range values {
		if err := c.editableLocked(field); err != nil {
			return err
		}
	}

	for field, value := range values {
		switch field {
		case FieldName:
			c.state.Name = value
		case FieldRollNumber:
			c.state.RollNumber = value
		case FieldPhoneNumber:
			c.state.PhoneNumber = value
		case FieldOTP:
			c.state.OTP = value
		}
	}
	return nil
}

func (c *Controller) editableLocked(field Field) error {
	switch field {
	case FieldName, FieldRollNumber, FieldPhoneNumber:
		if c.state.Phase != PhaseCollectingProfile {
			return ErrFieldLocked
		}
	case FieldOTP:
		if c.state.Phase != PhaseAwaitingOTP {
			return ErrFieldLocked
		}
	default:
		return ErrUnknownField
	}
	return nil
}

// SubmitProfile sends the profile to the backend. On success the form moves
// to PhaseAwaitingOTP; on any backend failure it stays where it was and a
// single retry notification is emitted. The returned error is non-nil only
// when the call was not allowed at all.
func (c *Controller) SubmitProfile(ctx context.Context, p Profile) (Outcome, error) {
	p = p.normalized()

	c.mu.Lock()
	if err := c.beginLocked(PhaseCollectingProfile); err != nil {
		phase := c.state.Phase
		c.mu.Unlock()
		return Outcome{Phase: phase}, err
	}
	if err := p.Validate(); err != nil {
		c.busy = false
		c.mu.Unlock()
		return Outcome{Phase: PhaseCollectingProfile}, err
	}
	c.state.Name = p.Name
	c.state.RollNumber = p.RollNumber
	c.state.PhoneNumber = p.PhoneNumber
	c.mu.Unlock()

	log := c.logger.WithField("roll_number", p.RollNumber)
	err := c.backend.Register(ctx, p)

	c.mu.Lock()
	c.busy = false
	if c.closed {
		c.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		log.WithError(err).Warn("Profile submission failed")
		return c.fail(PhaseCollectingProfile), nil
	}
	c.state.Phase = PhaseAwaitingOTP
	c.state.OTP = ""
	c.mu.Unlock()

	log.Info("Profile registered, awaiting OTP")
	return c.succeed(PhaseCollectingProfile, PhaseAwaitingOTP, MessageOTPSent), nil
}

// SubmitOTP verifies otp for the roll number entered in the first phase. On
// success the form completes and clears itself after the reset delay.
func (c *Controller) SubmitOTP(ctx context.Context, otp string) (Outcome, error) {
	otp = strings.TrimSpace(otp)

	c.mu.Lock()
	if err := c.beginLocked(PhaseAwaitingOTP); err != nil {
		phase := c.state.Phase
		c.mu.Unlock()
		return Outcome{Phase: phase}, err
	}
	if otp == "" {
		c.busy = false
		c.mu.Unlock()
		return Outcome{Phase: PhaseAwaitingOTP}, ErrMissingOTP
	}
	c.state.OTP = otp
	rollNumber := c.state.RollNumber
	c.mu.Unlock()

	log := c.logger.WithField("roll_number", rollNumber)
	err := c.backend.VerifyOTP(ctx, rollNumber, otp)

	c.mu.Lock()
	c.busy = false
	if c.closed {
		c.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		log.WithError(err).Warn("OTP verification failed")
		return c.fail(PhaseAwaitingOTP), nil
	}
	c.state.Phase = PhaseCompleted
	c.resetTimer = c.clock.AfterFunc(c.resetDelay, c.reset)
	c.mu.Unlock()

	log.Info("Registration completed")
	return c.succeed(PhaseAwaitingOTP, PhaseCompleted, MessageCompleted), nil
}

// Close cancels a pending reset. Later calls on the controller fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

func (c *Controller) beginLocked(want Phase) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.busy:
		return ErrBusy
	case c.state.Phase != want:
		return ErrWrongPhase
	}
	c.busy = true
	return nil
}

func (c *Controller) reset() {
	c.mu.Lock()
	if c.closed || c.state.Phase != PhaseCompleted {
		c.mu.Unlock()
		return
	}
	c.state = State{}
	c.resetTimer = nil
	c.mu.Unlock()

	c.logger.Debug("Registration form reset")
	c.observe(PhaseCompleted, PhaseCollectingProfile)
}

func (c *Controller) succeed(from, to Phase, message string) Outcome {
	n := Notification{Level: LevelSuccess, Message: message}
	c.notifier.Notify(n)
	c.observe(from, to)
	return Outcome{Succeeded: true, Phase: to, Notification: n}
}

func (c *Controller) fail(phase Phase) Outcome {
	n := Notification{Level: LevelError, Message: MessageRetry}
	c.notifier.Notify(n)
	return Outcome{Succeeded: false, Phase: phase, Notification: n}
}

func (c *Controller) observe(from, to Phase) {
	if c.observer != nil {
		c.observer(from, to)
	}
}
