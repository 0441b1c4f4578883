package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/opforge/internal/app"
	"github.com/vk/opforge/internal/codec"
)

// ExitError is an error that carries a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

const usage = `
opforge - compiles operations, presets and components into runnable form.

Usage:
  opforge compile [options] FILE
  opforge validate [options] FILE
  opforge schema [options] [operation|component|compiled]

Run 'opforge COMMAND -h' for the options of a command.
`

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating the program should exit cleanly, or an *ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	if len(args) == 0 {
		fmt.Fprint(output, usage)
		return nil, true, nil
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		fmt.Fprint(output, usage)
		return nil, true, nil
	}

	cfg := app.Config{Command: app.Command(args[0])}
	flagSet := flag.NewFlagSet("opforge "+args[0], flag.ContinueOnError)
	flagSet.SetOutput(output)

	var (
		presets, params stringList
		outputFlag      string
	)
	flagSet.StringVar(&cfg.LogFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	flagSet.StringVar(&cfg.LogLevel, "log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flagSet.StringVar(&outputFlag, "output", "json", "Output format. Options: 'json' or 'yaml'.")
	flagSet.StringVar(&outputFlag, "o", "json", "Output format (shorthand).")

	switch cfg.Command {
	case app.CommandCompile:
		flagSet.StringVar(&cfg.RegistryDir, "registry", "", "Directory of registry components and presets.")
		flagSet.Var(&presets, "preset", "Preset name or file applied after the operation's presets. Repeatable.")
		flagSet.Var(&params, "param", "Param override as name=value, parsed against the declared type. Repeatable.")
		flagSet.StringVar(&cfg.ContextPath, "context", "", "YAML or JSON file with the evaluation namespace.")
		flagSet.BoolVar(&cfg.Strict, "strict", false, "Fail on references and placeholders that cannot be resolved.")
		flagSet.BoolVar(&cfg.Expand, "expand", false, "Expand the matrix into one compiled operation per trial.")
	case app.CommandValidate:
		flagSet.StringVar(&cfg.RegistryDir, "registry", "", "Directory of registry components and presets.")
	case app.CommandSchema:
	default:
		fmt.Fprint(output, usage)
		return nil, false, usageError("unknown command %q", args[0])
	}
	flagSet.Usage = func() {
		fmt.Fprintf(output, "\nUsage of %s:\n", flagSet.Name())
		flagSet.PrintDefaults()
	}

	positional, err := parseInterspersed(flagSet, args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("Arguments parsed successfully.", "positional", positional)
	if len(positional) > 1 {
		return nil, false, usageError("expected at most one argument, got %d", len(positional))
	}
	if len(positional) == 1 {
		if cfg.Command == app.CommandSchema {
			cfg.SchemaTarget = positional[0]
		} else {
			cfg.OperationPath = positional[0]
		}
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if cfg.Output, err = codec.ParseFormat(outputFlag); err != nil {
		return nil, false, usageError("invalid output: %v", err)
	}
	cfg.Presets = presets
	cfg.Params = params

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("CLI parser finished successfully.", "command", config.Command)
	return config, false, nil
}

// parseInterspersed parses flags that may appear before or after the
// positional arguments, which flag.FlagSet alone stops at.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
