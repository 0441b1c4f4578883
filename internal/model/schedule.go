// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

// ScheduleKind discriminates the Schedule variants.
type ScheduleKind string

const (
	ScheduleCron       ScheduleKind = "cron"
	ScheduleInterval   ScheduleKind = "interval"
	ScheduleDatetime   ScheduleKind = "datetime"
	ScheduleRepeatable ScheduleKind = "repeatable"
)

// Schedule is a tagged union on Kind:
//   - cron: Cron is required.
//   - interval: Frequency (seconds or a duration string) is required.
//   - datetime: StartAt is required.
//   - repeatable: Limit is the number of repetitions.
//
// StartAt, EndAt, DependsOnPast and MaxRuns are shared by all variants.
type Schedule struct {
	Kind          ScheduleKind `json:"kind"`
	Cron          string       `json:"cron,omitempty"`
	Frequency     any          `json:"frequency,omitempty"`
	Limit         *int         `json:"limit,omitempty"`
	StartAt       string       `json:"startAt,omitempty"`
	EndAt         string       `json:"endAt,omitempty"`
	DependsOnPast *bool        `json:"dependsOnPast,omitempty"`
	MaxRuns       *int         `json:"maxRuns,omitempty"`
}

// EventTrigger starts the operation when the referenced entity emits one of
// the listed event kinds.
type EventTrigger struct {
	Kinds []string `json:"kinds"`
	Ref   string   `json:"ref"`
}
