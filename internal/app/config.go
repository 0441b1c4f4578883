package app

import (
	"errors"
	"fmt"

	"github.com/vk/opforge/internal/codec"
)

// Command is the action an App performs.
type Command string

const (
	CommandCompile  Command = "compile"
	CommandValidate Command = "validate"
	CommandSchema   Command = "schema"
)

// Config holds everything an App needs for one invocation.
type Config struct {
	Command Command

	OperationPath string   // operation, preset or component document
	RegistryDir   string   // components and presets, optional
	Presets       []string // registry names or preset files, applied in order
	Params        []string // name=value, parsed against the declared input type
	ContextPath   string   // namespace document, optional
	Strict        bool
	Expand        bool
	SchemaTarget  string

	Output    codec.Format
	LogFormat string
	LogLevel  string
}

// SchemaTargets lists the documents `schema` can describe.
var SchemaTargets = []string{"operation", "component", "compiled"}

// NewConfig validates cfg and fills its defaults.
func NewConfig(cfg Config) (*Config, error) {
	switch cfg.Command {
	case CommandCompile, CommandValidate:
		if cfg.OperationPath == "" {
			return nil, errors.New("an operation file is required")
		}
	case CommandSchema:
		if cfg.SchemaTarget == "" {
			cfg.SchemaTarget = "operation"
		}
		if !contains(SchemaTargets, cfg.SchemaTarget) {
			return nil, fmt.Errorf("unknown schema %q: must be one of %v", cfg.SchemaTarget, SchemaTargets)
		}
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}
	if cfg.Expand && cfg.Command != CommandCompile {
		return nil, errors.New("expand only applies to compile")
	}
	if cfg.Output == "" {
		cfg.Output = codec.JSON
	}
	return &cfg, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
