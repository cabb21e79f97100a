// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_PlainForBuffers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.True(t, p.Plain())
	assert.False(t, IsTerminal(&buf))
}

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("pipeline")
	p.Status(IconSuccess, "source", "executed")
	p.Status(IconError, "sink", "")
	p.KeyValues("nodes", "3", "session", "abc")
	p.Table([]string{"NODE", "OUTCOME"}, [][]string{{"grad", "skipped"}})
	p.Box("error", "boom")

	want := "# pipeline\n" +
		"OK\tsource\texecuted\n" +
		"ERROR\tsink\t\n" +
		"nodes\t3\n" +
		"session\tabc\n" +
		"NODE\tOUTCOME\n" +
		"grad\tskipped\n" +
		"error: boom\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinter_StyledContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf}

	p.Status(IconWarning, "grad", "aborted")
	p.KeyValues("k", "v", "longer", "w")
	p.Table([]string{"A", "B"}, [][]string{{"1", "22"}})

	out := buf.String()
	for _, want := range []string{"grad", "aborted", "longer", "22"} {
		assert.Contains(t, out, want)
	}
}
