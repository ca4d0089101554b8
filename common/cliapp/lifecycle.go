package cliapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// Lifecycle is a long running service started by a CLI command.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stopped() bool
}

type LifecycleAction func(ctx *cli.Context) (Lifecycle, error)

var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// LifecycleCmd turns a LifecycleAction into a command action that runs the
// service until it is interrupted, then stops it within shutdownTimeout.
func LifecycleCmd(fn LifecycleAction, shutdownTimeout time.Duration) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		appCtx, cancel := signal.NotifyContext(ctx.Context, interruptSignals...)
		defer cancel()
		ctx.Context = appCtx

		appLifecycle, err := fn(ctx)
		if err != nil {
			return fmt.Errorf("failed to setup: %w", err)
		}
		if err := appLifecycle.Start(appCtx); err != nil {
			return errors.Join(fmt.Errorf("failed to start: %w", err), stop(appLifecycle, shutdownTimeout))
		}

		<-appCtx.Done()
		log.Info("received stop signal, shutting down")
		return stop(appLifecycle, shutdownTimeout)
	}
}

func stop(l Lifecycle, timeout time.Duration) error {
	if l.Stopped() {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := l.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	return nil
}
