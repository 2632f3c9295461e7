package registration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	registerErr error
	verifyErr   error
	registered  []Profile
	verified    [][2]string

	// When set, Register signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBackend) Register(ctx context.Context, p Profile) error {
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = append(b.registered, p)
	return b.registerErr
}

func (b *fakeBackend) VerifyOTP(ctx context.Context, rollNumber, otp string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verified = append(b.verified, [2]string{rollNumber, otp})
	return b.verifyErr
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *recordingNotifier) Notify(item Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.items...)
}

var sampleProfile = Profile{Name: "A", RollNumber: "21CS01", PhoneNumber: "9999999999"}

func newTestController(t *testing.T, backend Backend, opts ...Option) (*Controller, *recordingNotifier, *clockwork.FakeClock) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	clock := clockwork.NewFakeClock()
	notifier := &recordingNotifier{}
	opts = append([]Option{WithClock(clock), WithLogger(logger)}, opts...)
	c := NewController(backend, notifier, opts...)
	t.Cleanup(c.Close)
	return c, notifier, clock
}

func TestNewController_StartsEmpty(t *testing.T) {
	c, _, _ := newTestController(t, &fakeBackend{})

	assert.Equal(t, State{Phase: PhaseCollectingProfile}, c.State())
	assert.False(t, c.Busy())
	assert.Equal(t, []Field{FieldName, FieldRollNumber, FieldPhoneNumber}, c.VisibleFields())
}

func TestSubmitProfile_Success(t *testing.T) {
	backend := &fakeBackend{}
	c, notifier, _ := newTestController(t, backend)

	out, err := c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)

	assert.True(t, out.Succeeded)
	assert.Equal(t, PhaseAwaitingOTP, out.Phase)
	assert.Equal(t, PhaseAwaitingOTP, c.Phase())
	assert.Empty(t, c.State().OTP)
	assert.Equal(t, []Profile{sampleProfile}, backend.registered)

	require.Len(t, notifier.all(), 1)
	assert.Equal(t, LevelSuccess, notifier.all()[0].Level)
	assert.Contains(t, notifier.all()[0].Message, "OTP")
	assert.Equal(t, []Field{FieldOTP}, c.VisibleFields())
}

func TestSubmitProfile_TrimsInput(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestController(t, backend)

	_, err := c.SubmitProfile(context.Background(), Profile{Name: " A ", RollNumber: "21CS01\n", PhoneNumber: " 9999999999"})
	require.NoError(t, err)

	assert.Equal(t, sampleProfile, backend.registered[0])
	assert.Equal(t, sampleProfile, c.State().Profile())
}

func TestSubmitProfile_BackendFailureStaysCollecting(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"business rejection", errors.New("success=false")},
		{"network error", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, notifier, _ := newTestController(t, &fakeBackend{registerErr: tt.err})

			out, err := c.SubmitProfile(context.Background(), sampleProfile)
			require.NoError(t, err)

			assert.False(t, out.Succeeded)
			assert.Equal(t, PhaseCollectingProfile, c.Phase())
			assert.False(t, c.Busy())
			assert.Equal(t, sampleProfile, c.State().Profile(), "typed input is kept")

			notes := notifier.all()
			require.Len(t, notes, 1)
			assert.Equal(t, Notification{Level: LevelError, Message: MessageRetry}, notes[0])
		})
	}
}

func TestSubmitProfile_InvalidProfile(t *testing.T) {
	backend := &fakeBackend{}
	c, notifier, _ := newTestController(t, backend)

	_, err := c.SubmitProfile(context.Background(), Profile{Name: "A", RollNumber: "  "})
	require.ErrorIs(t, err, ErrInvalidProfile)
	assert.Contains(t, err.Error(), "roll_number, phone_number")

	assert.Empty(t, backend.registered)
	assert.Empty(t, notifier.all())
	assert.False(t, c.Busy())
	assert.Equal(t, PhaseCollectingProfile, c.Phase())
}

func TestSubmitProfile_WrongPhase(t *testing.T) {
	c, _, _ := newTestController(t, &fakeBackend{})
	_, err := c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)

	out, err := c.SubmitProfile(context.Background(), sampleProfile)
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.Equal(t, PhaseAwaitingOTP, out.Phase)
}

func TestSubmitProfile_RejectsConcurrentSubmission(t *testing.T) {
	backend := &fakeBackend{entered: make(chan struct{}), release: make(chan struct{})}
	c, notifier, _ := newTestController(t, backend)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := c.SubmitProfile(context.Background(), sampleProfile)
		done <- out
	}()

	<-backend.entered
	assert.True(t, c.Busy())

	_, err := c.SubmitProfile(context.Background(), sampleProfile)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.SetField(FieldName, "B"), ErrBusy)

	close(backend.release)
	out := <-done

	assert.True(t, out.Succeeded)
	assert.False(t, c.Busy())
	assert.Len(t, backend.registered, 1)
	assert.Len(t, notifier.all(), 1)
}

func TestSubmitOTP_SuccessThenReset(t *testing.T) {
	backend := &fakeBackend{}
	var transitions [][2]Phase
	var mu sync.Mutex
	observer := func(from, to Phase) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, [2]Phase{from, to})
	}
	c, notifier, clock := newTestController(t, backend, WithObserver(observer))

	_, err := c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)
	require.NoError(t, c.SetField(FieldOTP, "123456"))

	out, err := c.SubmitOTP(context.Background(), "123456")
	require.NoError(t, err)

	assert.True(t, out.Succeeded)
	assert.Equal(t, PhaseCompleted, c.Phase())
	assert.Equal(t, [][2]string{{"21CS01", "123456"}}, backend.verified)
	assert.Empty(t, c.VisibleFields())

	notes := notifier.all()
	require.Len(t, notes, 2)
	assert.Equal(t, Notification{Level: LevelSuccess, Message: MessageCompleted}, notes[1])

	clock.Advance(DefaultResetDelay - time.Millisecond)
	assert.Equal(t, PhaseCompleted, c.Phase())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		return c.State() == State{Phase: PhaseCollectingProfile}
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][2]Phase{
		{PhaseCollectingProfile, PhaseAwaitingOTP},
		{PhaseAwaitingOTP, PhaseCompleted},
		{PhaseCompleted, PhaseCollectingProfile},
	}, transitions)
}

func TestSubmitOTP_CustomResetDelay(t *testing.T) {
	c, _, clock := newTestController(t, &fakeBackend{}, WithResetDelay(10*time.Second))

	_, err := c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)
	_, err = c.SubmitOTP(context.Background(), "42")
	require.NoError(t, err)

	clock.Advance(DefaultResetDelay)
	assert.Equal(t, PhaseCompleted, c.Phase())

	clock.Advance(7 * time.Second)
	require.Eventually(t, func() bool { return c.Phase() == PhaseCollectingProfile }, time.Second, 5*time.Millisecond)
}

func TestSubmitOTP_FailureAllowsResubmit(t *testing.T) {
	backend := &fakeBackend{verifyErr: errors.New("bad otp")}
	c, notifier, _ := newTestController(t, backend)

	_, err := c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)

	out, err := c.SubmitOTP(context.Background(), "000000")
	require.NoError(t, err)
	assert.False(t, out.Succeeded)
	assert.Equal(t, PhaseAwaitingOTP, c.Phase())
	assert.Equal(t, Notification{Level: LevelError, Message: MessageRetry}, notifier.all()[1])

	backend.mu.Lock()
	backend.verifyErr = nil
	backend.mu.Unlock()

	out, err = c.SubmitOTP(context.Background(), "123456")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Len(t, backend.verified, 2)
	assert.Len(t, notifier.all(), 3)
}

func TestSubmitOTP_Guards(t *testing.T) {
	c, _, _ := newTestController(t, &fakeBackend{})

	_, err := c.SubmitOTP(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrWrongPhase)

	_, err = c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)

	_, err = c.SubmitOTP(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrMissingOTP)
	assert.False(t, c.Busy())
}

func TestSetField_RespectsPhase(t *testing.T) {
	c, _, _ := newTestController(t, &fakeBackend{})

	require.NoError(t, c.SetField(FieldName, "A"))
	require.NoError(t, c.SetField(FieldRollNumber, "21CS01"))
	assert.ErrorIs(t, c.SetField(FieldOTP, "1"), ErrFieldLocked)
	assert.ErrorIs(t, c.SetField(Field("email"), "x"), ErrUnknownField)

	assert.Equal(t, State{Name: "A", RollNumber: "21CS01", Phase: PhaseCollectingProfile}, c.State())

	_, err := c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetField(FieldRollNumber, "22CS99"), ErrFieldLocked)
	require.NoError(t, c.SetField(FieldOTP, "654321"))

	st := c.State()
	assert.Equal(t, "21CS01", st.RollNumber)
	assert.Equal(t, "654321", st.OTP)
	assert.Equal(t, PhaseAwaitingOTP, st.Phase)

	_, err = c.SubmitOTP(context.Background(), st.OTP)
	require.NoError(t, err)
	assert.ErrorIs(t, c.SetField(FieldOTP, "1"), ErrFieldLocked)
	assert.ErrorIs(t, c.SetField(FieldName, "B"), ErrFieldLocked)
}

func TestSetFields_AllOrNothing(t *testing.T) {
	c, _, _ := newTestController(t, &fakeBackend{})

	err := c.SetFields(map[Field]string{FieldName: "Mallory", FieldOTP: "123456"})
	assert.ErrorIs(t, err, ErrFieldLocked)
	assert.Equal(t, State{Phase: PhaseCollectingProfile}, c.State())

	err = c.SetFields(map[Field]string{FieldName: "Mallory", Field("email"): "x"})
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Equal(t, State{Phase: PhaseCollectingProfile}, c.State())

	require.NoError(t, c.SetFields(map[Field]string{FieldName: "Asha", FieldRollNumber: "21CS01", FieldPhoneNumber: "9876543210"}))
	assert.Equal(t, State{Name: "Asha", RollNumber: "21CS01", PhoneNumber: "9876543210", Phase: PhaseCollectingProfile}, c.State())

	c.Close()
	assert.ErrorIs(t, c.SetFields(map[Field]string{FieldName: "B"}), ErrClosed)
	assert.Equal(t, "Asha", c.State().Name)
}

func TestClose_CancelsReset(t *testing.T) {
	c, _, clock := newTestController(t, &fakeBackend{})

	_, err := c.SubmitProfile(context.Background(), sampleProfile)
	require.NoError(t, err)
	_, err = c.SubmitOTP(context.Background(), "123456")
	require.NoError(t, err)

	c.Close()
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return c.Phase() != PhaseCompleted }, 50*time.Millisecond, 5*time.Millisecond)
	_, err = c.SubmitProfile(context.Background(), sampleProfile)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.SetField(FieldName, "A"), ErrClosed)
}

func TestPhase_JSON(t *testing.T) {
	b, err := json.Marshal(State{Name: "A", Phase: PhaseAwaitingOTP})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"A","roll_number":"","phone_number":"","phase":"AWAITING_OTP"}`, string(b))

	var st State
	require.NoError(t, json.Unmarshal([]byte(`{"phase":"COMPLETED"}`), &st))
	assert.Equal(t, PhaseCompleted, st.Phase)

	assert.Error(t, json.Unmarshal([]byte(`{"phase":"DONE"}`), &st))
	assert.Equal(t, "Phase(7)", Phase(7).String())
}

func TestParseField(t *testing.T) {
	f, err := ParseField("phone_number")
	require.NoError(t, err)
	assert.Equal(t, FieldPhoneNumber, f)

	_, err = ParseField("email")
	assert.ErrorIs(t, err, ErrUnknownField)
}
