// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SupportedMajorVersion is the highest document major version understood.
const SupportedMajorVersion = 1

// Version is the document schema version. It is written as a number (`1.1`)
// or a string (`"1.1"`) and kept in its textual form.
type Version string

// Major returns the major component of the version.
func (v Version) Major() (int, error) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return 0, fmt.Errorf("empty version")
	}
	head, _, _ := strings.Cut(s, ".")
	major, err := strconv.Atoi(head)
	if err != nil || major < 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return major, nil
}

// Check fails for versions with a major component newer than supported.
func (v Version) Check() error {
	major, err := v.Major()
	if err != nil {
		return err
	}
	if major > SupportedMajorVersion {
		return fmt.Errorf("unsupported version %s: highest supported major version is %d", v, SupportedMajorVersion)
	}
	return nil
}

// MarshalJSON writes numeric versions as JSON numbers.
func (v Version) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(v), 64); err == nil {
		return []byte(v), nil
	}
	return []byte(strconv.Quote(string(v))), nil
}

// UnmarshalJSON accepts a JSON number or string.
func (v *Version) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid version %s", s)
		}
		*v = Version(unq)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("invalid version %s", s)
	}
	*v = Version(s)
	return nil
}
