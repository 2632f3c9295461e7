package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/thiran-symposium/gateway-api/internal/countdown"
	"github.com/thiran-symposium/gateway-api/internal/registration"
)

var fieldPrompts = map[registration.Field]string{
	registration.FieldName:        "Name",
	registration.FieldRollNumber:  "Roll number",
	registration.FieldPhoneNumber: "Phone number",
	registration.FieldOTP:         "OTP",
}

// terminal drives one registration form from line-based input.
type terminal struct {
	controller *registration.Controller
	engine     *countdown.Engine
	in         *bufio.Scanner
	out        io.Writer
}

func newTerminal(controller *registration.Controller, engine *countdown.Engine, in io.Reader, out io.Writer) *terminal {
	return &terminal{
		controller: controller,
		engine:     engine,
		in:         bufio.NewScanner(in),
		out:        out,
	}
}

// printNotification is the Notifier for the terminal.
func printNotification(out io.Writer) registration.NotifierFunc {
	return func(n registration.Notification) {
		fmt.Fprintf(out, "[%s] %s\n", n.Level, n.Message)
	}
}

func (t *terminal) header() {
	remaining := t.engine.Remaining()
	if remaining.IsZero() {
		fmt.Fprintln(t.out, "== The symposium has started ==")
		return
	}
	fmt.Fprintf(t.out, "== Symposium starts in %s ==\n", remaining)
}

// Run prompts for the visible fields of each phase until the form completes,
// ctx ends, or input runs out.
func (t *terminal) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		phase := t.controller.Phase()
		if phase == registration.PhaseCompleted {
			return nil
		}

		t.header()
		for _, field := range t.controller.VisibleFields() {
			value, err := t.prompt(fieldPrompts[field])
			if err != nil {
				return err
			}
			if err := t.controller.SetField(field, value); err != nil {
				return fmt.Errorf("set %s: %w", field, err)
			}
		}

		state := t.controller.State()
		var err error
		switch phase {
		case registration.PhaseCollectingProfile:
			_, err = t.controller.SubmitProfile(ctx, state.Profile())
		case registration.PhaseAwaitingOTP:
			_, err = t.controller.SubmitOTP(ctx, state.OTP)
		}

		switch {
		case errors.Is(err, registration.ErrInvalidProfile), errors.Is(err, registration.ErrMissingOTP):
			fmt.Fprintf(t.out, "[error] %v\n", err)
		case err != nil:
			return err
		}
	}
}

func (t *terminal) prompt(label string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", label)
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(t.in.Text()), nil
}

// watchCountdown redraws the countdown on one line until ctx ends or the
// target passes.
func watchCountdown(ctx context.Context, engine *countdown.Engine, out io.Writer) {
	for remaining := range engine.Watch(ctx) {
		fmt.Fprintf(out, "\rSymposium starts in %s ", remaining)
		if remaining.IsZero() {
			fmt.Fprintln(out, "\nThe symposium has started.")
			return
		}
	}
	fmt.Fprintln(out)
}
