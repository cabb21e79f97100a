// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers that flow into URLs, storage keys and
// log attributes.
//
// Node names appear in HTTP paths (/v1/pipeline/nodes/:name) and session ids
// appear in journal keys, so both are restricted to a conservative alphabet.
package validation

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidNodeName is returned by ValidateNodeName.
	ErrInvalidNodeName = errors.New("invalid node name")

	// ErrInvalidSessionID is returned by ValidateSessionID.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// nodeNamePattern allows letters, digits, underscore, dot and hyphen,
// starting with a letter or underscore. Max length: 64.
var nodeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]{0,63}$`)

// sessionIDPattern covers UUIDs and short caller-chosen ids. Max length: 128.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]{0,127}$`)

// ValidateNodeName validates a pipeline node name.
//
// Valid names:
//   - 1-64 characters
//   - Letters, digits, underscore, dot, hyphen
//   - First character is a letter or underscore
//
// Example:
//
//	if err := validation.ValidateNodeName(n.Name); err != nil {
//	    return fmt.Errorf("node %d: %w", i, err)
//	}
func ValidateNodeName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidNodeName)
	}
	if !nodeNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (want 1-64 letters, digits, '_', '.' or '-', starting with a letter or '_')", ErrInvalidNodeName, name)
	}
	return nil
}

// ValidateNodeNames validates several names and reports every invalid one.
func ValidateNodeNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateNodeName(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidNodeName, invalid)
	}
	return nil
}

// ValidateSessionID validates an execution session id.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}
