// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file holds the lifecycle decorations an operation can carry besides
// params: cache, termination, plugins, build and hooks.
package model

// Cache controls result reuse for an operation.
type Cache struct {
	Disable  *bool    `json:"disable,omitempty"`
	TTL      *int     `json:"ttl,omitempty"`
	IO       []string `json:"io,omitempty"`
	Sections []string `json:"sections,omitempty"`
}

// Termination bounds retries and lifetime.
type Termination struct {
	MaxRetries *int `json:"maxRetries,omitempty"`
	TTL        *int `json:"ttl,omitempty"`
	Timeout    *int `json:"timeout,omitempty"`
}

// Notification sends run status changes to connections.
type Notification struct {
	Connections []string `json:"connections"`
	Trigger     string   `json:"trigger,omitempty"`
}

// Plugins toggles the auxiliary services attached to a run.
type Plugins struct {
	Auth                *bool           `json:"auth,omitempty"`
	Docker              *bool           `json:"docker,omitempty"`
	Shm                 *bool           `json:"shm,omitempty"`
	MountArtifactsStore *bool           `json:"mountArtifactsStore,omitempty"`
	CollectArtifacts    *bool           `json:"collectArtifacts,omitempty"`
	CollectLogs         *bool           `json:"collectLogs,omitempty"`
	CollectResources    *bool           `json:"collectResources,omitempty"`
	SyncStatuses        *bool           `json:"syncStatuses,omitempty"`
	AutoResume          *bool           `json:"autoResume,omitempty"`
	ExternalHost        *bool           `json:"externalHost,omitempty"`
	LogLevel            *string         `json:"logLevel,omitempty"`
	Notifications       []*Notification `json:"notifications,omitempty"`
}

// Build describes an image build that must run before the operation.
type Build struct {
	HubRef     string            `json:"hubRef,omitempty"`
	Connection string            `json:"connection,omitempty"`
	Queue      *string           `json:"queue,omitempty"`
	Presets    []string          `json:"presets,omitempty"`
	Params     map[string]*Param `json:"params,omitempty"`
	RunPatch   map[string]any    `json:"runPatch,omitempty"`
	Cache      *Cache            `json:"cache,omitempty"`
}

// Hook triggers a follow-up operation when the run reaches a final status.
type Hook struct {
	HubRef     string            `json:"hubRef,omitempty"`
	Connection string            `json:"connection,omitempty"`
	Trigger    string            `json:"trigger,omitempty"`
	Conditions string            `json:"conditions,omitempty"`
	Params     map[string]*Param `json:"params,omitempty"`
	Queue      string            `json:"queue,omitempty"`
	Presets    []string          `json:"presets,omitempty"`
	Disable    bool              `json:"disable,omitempty"`
}

// Hook and notification triggers.
const (
	TriggerSucceeded = "succeeded"
	TriggerFailed    = "failed"
	TriggerStopped   = "stopped"
	TriggerDone      = "done"
)
