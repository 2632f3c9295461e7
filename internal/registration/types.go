package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Phase is the step of the two-part registration handshake.
type Phase int

const (
	PhaseCollectingProfile Phase = iota
	PhaseAwaitingOTP
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseCollectingProfile:
		return "COLLECTING_PROFILE"
	case PhaseAwaitingOTP:
		return "AWAITING_OTP"
	case PhaseCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "COLLECTING_PROFILE":
		*p = PhaseCollectingProfile
	case "AWAITING_OTP":
		*p = PhaseAwaitingOTP
	case "COMPLETED":
		*p = PhaseCompleted
	default:
		return fmt.Errorf("unknown registration phase %q", text)
	}
	return nil
}

// Field names a single form input. The values match the backend's JSON keys.
type Field string

const (
	FieldName        Field = "name"
	FieldRollNumber  Field = "roll_number"
	FieldPhoneNumber Field = "phone_number"
	FieldOTP         Field = "otp"
)

var (
	profileFields = []Field{FieldName, FieldRollNumber, FieldPhoneNumber}
	otpFields     = []Field{FieldOTP}
)

func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldName, FieldRollNumber, FieldPhoneNumber, FieldOTP:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
}

// VisibleFields lists the inputs a form shows in phase p.
func VisibleFields(p Phase) []Field {
	switch p {
	case PhaseCollectingProfile:
		return append([]Field(nil), profileFields...)
	case PhaseAwaitingOTP:
		return append([]Field(nil), otpFields...)
	default:
		return nil
	}
}

var (
	ErrBusy           = errors.New("registration: a submission is already in flight")
	ErrWrongPhase     = errors.New("registration: operation not allowed in current phase")
	ErrFieldLocked    = errors.New("registration: field cannot be edited in current phase")
	ErrUnknownField   = errors.New("registration: unknown field")
	ErrInvalidProfile = errors.New("registration: invalid profile")
	ErrMissingOTP     = errors.New("registration: otp is required")
	ErrClosed         = errors.New("registration: controller closed")
)

// Profile is what the first phase submits.
type Profile struct {
	Name        string `json:"name"`
	RollNumber  string `json:"roll_number"`
	PhoneNumber string `json:"phone_number"`
}

func (p Profile) normalized() Profile {
	return Profile{
		Name:        strings.TrimSpace(p.Name),
		RollNumber:  strings.TrimSpace(p.RollNumber),
		PhoneNumber: strings.TrimSpace(p.PhoneNumber),
	}
}

// Validate checks that every profile field is present.
func (p Profile) Validate() error {
	n := p.normalized()
	var missing []string
	if n.Name == "" {
		missing = append(missing, string(FieldName))
	}
	if n.RollNumber == "" {
		missing = append(missing, string(FieldRollNumber))
	}
	if n.PhoneNumber == "" {
		missing = append(missing, string(FieldPhoneNumber))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	return nil
}

// State is a snapshot of one form instance.
type State struct {
	Name        string `json:"name"`
	RollNumber  string `json:"roll_number"`
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp,omitempty"`
	Phase       Phase  `json:"phase"`
}

func (s State) Profile() Profile {
	return Profile{Name: s.Name, RollNumber: s.RollNumber, PhoneNumber: s.PhoneNumber}
}

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is the transient toast shown for one outcome.
type Notification struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

const (
	MessageOTPSent   = "Registered successfully. Enter the OTP sent to your official mail."
	MessageCompleted = "Successfully completed registration."
	MessageRetry     = "Error. Please try again..."
)

// Notifier receives one notification per submission outcome.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Backend is the remote registration API. Any returned error counts as a
// failed step.
type Backend interface {
	Register(ctx context.Context, p Profile) error
	VerifyOTP(ctx context.Context, rollNumber, otp string) error
}

// Outcome describes how a submission ended.
type Outcome struct {
	Succeeded    bool         `json:"succeeded"`
	Phase        Phase        `json:"phase"`
	Notification Notification `json:"notification"`
}
