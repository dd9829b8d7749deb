package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/inventory"
	"github.com/c360/sensorsim/simulation"
)

const confirmPrompt = "Are you ready to start the simulation? (y/n): "

// app executes one CLI command against its collaborators
type app struct {
	cli        *CLIConfig
	logger     *slog.Logger
	inventory  *inventory.Client
	supervisor *simulation.Supervisor
	in         *bufio.Reader
	out        io.Writer
}

func (a *app) execute(ctx context.Context) error {
	cmd := a.cli.command()
	a.logger.Debug("Executing command", "command", cmd.String())

	switch cmd {
	case cmdSingle:
		return a.sendSingle(ctx)
	case cmdCreate:
		return a.createSensors(ctx)
	case cmdStart:
		return a.supervisor.Run(ctx)
	case cmdDelete:
		return a.deleteSensors(ctx)
	default:
		return a.runFull(ctx)
	}
}

// runFull asks for confirmation, then replaces the fleet and starts it.
func (a *app) runFull(ctx context.Context) error {
	if !a.cli.Yes {
		ok, err := a.confirm()
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(a.out, "Exiting...")
			return nil
		}
	}

	if err := a.deleteSensors(ctx); err != nil {
		return err
	}
	if err := a.createSensors(ctx); err != nil {
		return err
	}
	return a.supervisor.Run(ctx)
}

func (a *app) confirm() (bool, error) {
	_, _ = fmt.Fprint(a.out, confirmPrompt)
	answer, err := a.in.ReadString('\n')
	if err != nil && !stderrors.Is(err, io.EOF) {
		return false, errors.Wrap(err, "cli", "confirm", "read answer")
	}
	return strings.EqualFold(strings.TrimSpace(answer), "y"), nil
}

func (a *app) createSensors(ctx context.Context) error {
	_, _ = fmt.Fprintln(a.out, "Creating sensors...")
	fleet := inventory.DefaultFleet()
	if err := a.inventory.CreateFleet(ctx, fleet); err != nil {
		return err
	}
	a.logger.Info("Sensors created", "count", len(fleet))
	return nil
}

func (a *app) deleteSensors(ctx context.Context) error {
	_, _ = fmt.Fprintln(a.out, "Deleting remaining sensors...")
	return a.inventory.DeleteAllSensors(ctx)
}

func (a *app) sendSingle(ctx context.Context) error {
	id, value, err := parseSingle(a.cli.Single)
	if err != nil {
		return err
	}

	err = a.supervisor.SendSingleByID(ctx, id, value)
	if stderrors.Is(err, errors.ErrSensorNotFound) {
		_, _ = fmt.Fprintf(a.out, "Sensor %s not found.\n", id)
	}
	return err
}
