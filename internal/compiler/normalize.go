package compiler

import (
	"strings"

	"dario.cat/mergo"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/join"
	"github.com/vk/opforge/internal/matrix"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/params"
	"github.com/vk/opforge/internal/ref"
)

// normalizer checks one decoration of a compiled operation and fills its
// defaults in place.
type normalizer struct {
	field string
	fn    func(n *normalization) error
}

// normalizers run in this order; the first failure aborts compilation.
var normalizers = []normalizer{
	{"schedule", normalizeSchedule},
	{"events", normalizeEvents},
	{"joins", normalizeJoins},
	{"termination", normalizeTermination},
	{"plugins", normalizePlugins},
	{"cache", normalizeCache},
	{"hooks", normalizeHooks},
	{"build", normalizeBuild},
	{"trigger", normalizeTrigger},
	{"dependencies", normalizeDependencies},
	{"matrix", normalizeMatrix},
}

type normalization struct {
	op       *model.CompiledOperation
	opts     *Options
	warn     engineerr.Sink
	declared []string
	joins    []*join.Descriptor
}

func (n *normalization) run() error {
	for _, nz := range normalizers {
		if err := nz.fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (n *normalization) checkConnection(path, name string) error {
	if name == "" || n.opts.Connections == nil || params.Deferred(name) {
		return nil
	}
	if !n.opts.Connections.HasConnection(name) {
		return engineerr.New(engineerr.InvalidConnection, path, "unknown connection %q", name)
	}
	return nil
}

var eventKinds = map[string]bool{
	"run_status_created":         true,
	"run_status_resuming":        true,
	"run_status_on_schedule":     true,
	"run_status_compiled":        true,
	"run_status_queued":          true,
	"run_status_scheduled":       true,
	"run_status_starting":        true,
	"run_status_initializing":    true,
	"run_status_running":         true,
	"run_status_processing":      true,
	"run_status_stopping":        true,
	"run_status_failed":          true,
	"run_status_stopped":         true,
	"run_status_succeeded":       true,
	"run_status_skipped":         true,
	"run_status_warning":         true,
	"run_status_unschedulable":   true,
	"run_status_upstream_failed": true,
	"run_status_retrying":        true,
	"run_status_unknown":         true,
	"run_status_done":            true,
}

func normalizeEvents(n *normalization) error {
	for i, e := range n.op.Events {
		path := engineerr.Pointer("events", engineerr.Index(i))
		if e == nil {
			return engineerr.New(engineerr.InvalidField, path, "event trigger is null")
		}
		if len(e.Kinds) == 0 {
			return engineerr.New(engineerr.InvalidField, engineerr.Join(path, "kinds"), "event trigger needs at least one kind")
		}
		for j, k := range e.Kinds {
			k = strings.ToLower(strings.TrimSpace(k))
			if !eventKinds[k] {
				return engineerr.New(engineerr.InvalidField, engineerr.Join(path, "kinds", engineerr.Index(j)), "unknown event kind %q", e.Kinds[j])
			}
			e.Kinds[j] = k
		}
		r, err := ref.Parse(e.Ref)
		if err != nil {
			return engineerr.Under(engineerr.Join(path, "ref"), err)
		}
		if !r.IsEntity() {
			return engineerr.New(engineerr.BadReference, engineerr.Join(path, "ref"), "event ref must be ops.<name> or runs.<uuid>, got %q", e.Ref)
		}
		e.Ref = r.String()
	}
	return nil
}

// normalizeJoins writes back the canonical form of every join compiled
// during preparation.
func normalizeJoins(n *normalization) error {
	for i, d := range n.joins {
		n.op.Joins[i] = d.Join()
	}
	return nil
}

func normalizeTermination(n *normalization) error {
	t := n.op.Termination
	if t == nil {
		return nil
	}
	for _, f := range []struct {
		name  string
		value *int
	}{{"maxRetries", t.MaxRetries}, {"ttl", t.TTL}, {"timeout", t.Timeout}} {
		if f.value != nil && *f.value < 0 {
			return engineerr.New(engineerr.InvalidField, engineerr.Pointer("termination", f.name), "%s cannot be negative, got %d", f.name, *f.value)
		}
	}
	return nil
}

var logLevels = map[string]bool{"debug": true, "info": true, "warning": true, "error": true, "critical": true}

func pluginDefaults() *model.Plugins {
	return &model.Plugins{
		Auth:                model.Ptr(true),
		Docker:              model.Ptr(false),
		Shm:                 model.Ptr(true),
		MountArtifactsStore: model.Ptr(false),
		CollectArtifacts:    model.Ptr(true),
		CollectLogs:         model.Ptr(true),
		CollectResources:    model.Ptr(true),
		SyncStatuses:        model.Ptr(true),
		AutoResume:          model.Ptr(true),
		ExternalHost:        model.Ptr(false),
	}
}

func normalizePlugins(n *normalization) error {
	p := n.op.Plugins
	if p == nil {
		return nil
	}
	if err := mergo.Merge(p, pluginDefaults()); err != nil {
		return engineerr.Wrap(engineerr.InvalidField, "/plugins", err, "cannot fill plugin defaults")
	}
	if p.LogLevel != nil {
		level := strings.ToLower(strings.TrimSpace(*p.LogLevel))
		if !logLevels[level] {
			return engineerr.New(engineerr.InvalidField, "/plugins/logLevel", "unknown log level %q", *p.LogLevel)
		}
		p.LogLevel = &level
	}
	for i, note := range p.Notifications {
		path := engineerr.Pointer("plugins", "notifications", engineerr.Index(i))
		if note == nil || len(note.Connections) == 0 {
			return engineerr.New(engineerr.InvalidField, engineerr.Join(path, "connections"), "notification needs at least one connection")
		}
		for j, conn := range note.Connections {
			if err := n.checkConnection(engineerr.Join(path, "connections", engineerr.Index(j)), conn); err != nil {
				return err
			}
		}
		if note.Trigger != "" {
			trigger, err := hookTrigger(note.Trigger, engineerr.Join(path, "trigger"))
			if err != nil {
				return err
			}
			note.Trigger = trigger
		}
	}
	return nil
}

func normalizeCache(n *normalization) error {
	c := n.op.Cache
	if c == nil {
		return nil
	}
	if err := mergo.Merge(c, &model.Cache{Disable: model.Ptr(false)}); err != nil {
		return engineerr.Wrap(engineerr.InvalidField, "/cache", err, "cannot fill cache defaults")
	}
	if c.TTL != nil && *c.TTL < 0 {
		return engineerr.New(engineerr.InvalidField, "/cache/ttl", "ttl cannot be negative, got %d", *c.TTL)
	}
	for i, name := range c.IO {
		_, isInput := n.op.Component.Input(name)
		_, isOutput := n.op.Component.Output(name)
		if !isInput && !isOutput {
			return engineerr.New(engineerr.InvalidField, engineerr.Pointer("cache", "io", engineerr.Index(i)), "cache io %q is not a declared input or output", name)
		}
	}
	return nil
}

var hookTriggers = map[string]bool{
	model.TriggerSucceeded: true,
	model.TriggerFailed:    true,
	model.TriggerStopped:   true,
	model.TriggerDone:      true,
}

func hookTrigger(raw, path string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if !hookTriggers[t] {
		return "", engineerr.New(engineerr.InvalidField, path, "trigger must be one of succeeded, failed, stopped or done, got %q", raw)
	}
	return t, nil
}

func normalizeHooks(n *normalization) error {
	for i, h := range n.op.Hooks {
		path := engineerr.Pointer("hooks", engineerr.Index(i))
		if h == nil {
			return engineerr.New(engineerr.InvalidField, path, "hook is null")
		}
		trigger, err := hookTrigger(h.Trigger, engineerr.Join(path, "trigger"))
		if err != nil {
			return err
		}
		h.Trigger = trigger
		if h.HubRef == "" && h.Connection == "" {
			return engineerr.New(engineerr.InvalidField, path, "hook needs a hubRef or a connection")
		}
		if err := n.checkConnection(engineerr.Join(path, "connection"), h.Connection); err != nil {
			return err
		}
		if err := checkParams(h.Params, engineerr.Join(path, "params")); err != nil {
			return err
		}
	}
	return nil
}

func normalizeBuild(n *normalization) error {
	b := n.op.Build
	if b == nil {
		return nil
	}
	if strings.TrimSpace(b.HubRef) == "" {
		return engineerr.New(engineerr.InvalidField, "/build/hubRef", "build needs a hubRef")
	}
	if err := n.checkConnection("/build/connection", b.Connection); err != nil {
		return err
	}
	return checkParams(b.Params, "/build/params")
}

// checkParams rejects nested params that set both a value and a ref.
func checkParams(ps map[string]*model.Param, path string) error {
	for name, p := range ps {
		if p != nil && p.Value != nil && p.Ref != "" {
			return engineerr.New(engineerr.AmbiguousParam, engineerr.Join(path, name), "param sets both a value and a ref (%q)", p.Ref)
		}
	}
	return nil
}

var triggers = map[string]bool{
	"all_succeeded": true,
	"all_failed":    true,
	"all_done":      true,
	"one_succeeded": true,
	"one_failed":    true,
	"one_done":      true,
}

func normalizeTrigger(n *normalization) error {
	if n.op.Trigger == nil {
		return nil
	}
	raw := *n.op.Trigger
	t := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	if !triggers[t] {
		return engineerr.New(engineerr.InvalidField, "/trigger", "unknown trigger %q", raw)
	}
	if t != raw {
		n.warn(engineerr.Warning{Path: "/trigger", Message: "trigger " + raw + " is a deprecated spelling of " + t})
	}
	n.op.Trigger = &t
	return nil
}

func normalizeDependencies(n *normalization) error {
	for i, d := range n.op.Dependencies {
		if strings.TrimSpace(d) == "" {
			return engineerr.New(engineerr.InvalidField, engineerr.Pointer("dependencies", engineerr.Index(i)), "dependency name is empty")
		}
	}
	return nil
}

func normalizeMatrix(n *normalization) error {
	m := n.op.Matrix
	if m == nil {
		return nil
	}
	if err := matrix.Validate(m, n.declared); err != nil {
		return err
	}
	if m.Concurrency == nil {
		m.Concurrency = model.Ptr(1)
	}
	return nil
}
