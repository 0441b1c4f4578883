package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/bytedance/sonic"

	"github.com/vk/opforge/internal/app"
	"github.com/vk/opforge/internal/cli"
	"github.com/vk/opforge/internal/engineerr"
)

// main is the entrypoint for the opforge command.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(report(os.Stderr, err))
	}
}

// run parses args and executes one command. Documents go to outW, logs and
// usage to errW.
func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	cfg, shouldExit, err := cli.Parse(args, errW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	a, err := app.NewApp(ctx, outW, errW, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// errorReport is the JSON shape of failures that are not engine errors.
type errorReport struct {
	Message string `json:"message"`
}

// report writes err to w and returns the process exit code. Engine errors
// are written as JSON.
func report(w io.Writer, err error) int {
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(w, exitErr.Message)
		return exitErr.Code
	}

	var data []byte
	var engErr *engineerr.Error
	if errors.As(err, &engErr) {
		data, err = sonic.Marshal(engErr)
	} else {
		data, err = sonic.Marshal(errorReport{Message: err.Error()})
	}
	if err != nil {
		fmt.Fprintln(w, err)
		return 1
	}
	fmt.Fprintln(w, string(data))
	return 1
}
