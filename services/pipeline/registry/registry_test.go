// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/vizpipe/services/pipeline/dataobject"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
)

type widthParams struct {
	Width int `yaml:"width"`
}

func tableFactory(params Decoder) (executive.Algorithm, error) {
	p := widthParams{Width: 1}
	if err := params.Decode(&p); err != nil {
		return nil, err
	}
	if p.Width <= 0 {
		return nil, errors.New("width must be positive")
	}
	return &executive.FuncAlgorithm{
		Outputs: []executive.OutputPort{{Name: "out", Produces: dataobject.KindTable, SameAsInput: executive.NoSameAsInput}},
	}, nil
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("table", "a table", tableFactory))
	assert.True(t, r.Has("table"))

	err := r.Register("table", "again", tableFactory)
	assert.ErrorIs(t, err, ErrDuplicateType)

	r.Freeze()
	assert.True(t, r.Frozen())
	err = r.Register("other", "late", tableFactory)
	assert.ErrorIs(t, err, ErrFrozen)

	alg, err := r.New("table", nil)
	require.NoError(t, err)
	assert.Len(t, alg.OutputPorts(), 1)

	_, err = r.New("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register("Bad Name", "", tableFactory), ErrInvalidType)
	assert.ErrorIs(t, r.Register("ok", "", nil), ErrInvalidType)
	assert.Empty(t, r.Types())
}

func TestRegistry_DecodesYAMLParams(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("table", "a table", tableFactory))

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("width: 0\n"), &node))
	_, err := r.New("table", node.Content[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating table")

	var good yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("width: 3\n"), &good))
	_, err = r.New("table", good.Content[0])
	assert.NoError(t, err)
}

func TestRegistry_TypesSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("zeta", "z", tableFactory))
	require.NoError(t, r.Register("alpha", "a", tableFactory))
	assert.Equal(t, []TypeInfo{{"alpha", "a"}, {"zeta", "z"}}, r.Types())
}
