package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiran-symposium/gateway-api/internal/countdown"
	"github.com/thiran-symposium/gateway-api/internal/registration"
)

type scriptedBackend struct {
	registerErrs []error
	verifyErrs   []error
	otps         []string
}

func (b *scriptedBackend) Register(context.Context, registration.Profile) error {
	if len(b.registerErrs) == 0 {
		return nil
	}
	err := b.registerErrs[0]
	b.registerErrs = b.registerErrs[1:]
	return err
}

func (b *scriptedBackend) VerifyOTP(_ context.Context, roll, otp string) error {
	b.otps = append(b.otps, roll+":"+otp)
	if len(b.verifyErrs) == 0 {
		return nil
	}
	err := b.verifyErrs[0]
	b.verifyErrs = b.verifyErrs[1:]
	return err
}

func newTestTerminal(t *testing.T, backend registration.Backend, input string) (*terminal, *bytes.Buffer) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC))
	engine, err := countdown.NewEngine(clock.Now().Add(24*time.Hour), clock)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	controller := registration.NewController(backend, printNotification(out), registration.WithClock(clock))
	t.Cleanup(controller.Close)

	return newTerminal(controller, engine, strings.NewReader(input), out), out
}

func TestTerminal_CompletesRegistration(t *testing.T) {
	backend := &scriptedBackend{}
	term, out := newTestTerminal(t, backend, "Asha\n21CS001\n9876543210\n4321\n")

	require.NoError(t, term.Run(context.Background()))

	assert.Equal(t, registration.PhaseCompleted, term.controller.Phase())
	assert.Equal(t, []string{"21CS001:4321"}, backend.otps)
	assert.Contains(t, out.String(), "== Symposium starts in 1d 00h 00m 00s ==")
	assert.Contains(t, out.String(), "[success] "+registration.MessageOTPSent)
	assert.Contains(t, out.String(), "[success] "+registration.MessageCompleted)
}

func TestTerminal_RetriesAfterFailures(t *testing.T) {
	backend := &scriptedBackend{
		registerErrs: []error{errors.New("down")},
		verifyErrs:   []error{errors.New("wrong otp")},
	}
	input := strings.Join([]string{
		"Asha", "21CS001", "9876543210", // rejected
		"Asha", "21CS001", "9876543210",
		"0000", // rejected
		"4321",
	}, "\n") + "\n"
	term, out := newTestTerminal(t, backend, input)

	require.NoError(t, term.Run(context.Background()))

	assert.Equal(t, 2, strings.Count(out.String(), "[error] "+registration.MessageRetry))
	assert.Equal(t, []string{"21CS001:0000", "21CS001:4321"}, backend.otps)
}

func TestTerminal_InvalidInputIsReprompted(t *testing.T) {
	term, out := newTestTerminal(t, &scriptedBackend{}, "\n\n\n")

	err := term.Run(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, out.String(), "[error] registration: invalid profile")
	assert.Equal(t, registration.PhaseCollectingProfile, term.controller.Phase())
}

func TestWatchCountdown_StopsAtTarget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	engine, err := countdown.NewEngine(clock.Now().Add(-time.Second), clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &bytes.Buffer{}
	watchCountdown(ctx, engine, out)
	assert.Contains(t, out.String(), "The symposium has started.")
}
