// Command register fills in the symposium registration form from a terminal,
// talking to the same registration backend as the gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/thiran-symposium/gateway-api/internal/clients"
	"github.com/thiran-symposium/gateway-api/internal/config"
	"github.com/thiran-symposium/gateway-api/internal/countdown"
	"github.com/thiran-symposium/gateway-api/internal/logging"
	"github.com/thiran-symposium/gateway-api/internal/registration"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file read before the environment")
	countdownOnly := flag.Bool("countdown", false, "only show the live countdown")
	flag.Parse()

	if err := run(*envFile, *countdownOnly); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string, countdownOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if countdownOnly {
		countdownCfg, err := config.LoadCountdown(envFile)
		if err != nil {
			return err
		}
		engine, err := newEngine(countdownCfg)
		if err != nil {
			return err
		}
		watchCountdown(ctx, engine, os.Stdout)
		return ctx.Err()
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	// Keep structured logs off the prompt
	logger := logging.NewWithOutput(cfg, os.Stderr)

	engine, err := newEngine(&cfg.Countdown)
	if err != nil {
		return err
	}

	backend := clients.NewRegistrationClient(&cfg.Registration, logger)
	controller := registration.NewController(backend, printNotification(os.Stdout),
		registration.WithLogger(logger),
		registration.WithResetDelay(cfg.Registration.ResetDelay),
	)
	defer controller.Close()

	err = newTerminal(controller, engine, os.Stdin, os.Stdout).Run(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func newEngine(cfg *config.CountdownConfig) (*countdown.Engine, error) {
	target, err := cfg.TargetInstant()
	if err != nil {
		return nil, err
	}
	return countdown.NewEngine(target, nil)
}
