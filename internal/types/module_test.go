package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceMapLookup(t *testing.T) {
	sm := &SourceMap{
		Sources: []string{"app.ts"},
		Segments: []MapSegment{
			{GenLine: 0, GenCol: 0, SrcLine: 0, SrcCol: 0},
			{GenLine: 0, GenCol: 10, SrcLine: 0, SrcCol: 6},
			{GenLine: 2, GenCol: 0, SrcLine: 1, SrcCol: 0},
		},
	}

	seg, ok := sm.Lookup(0, 12)
	require.True(t, ok)
	assert.Equal(t, 6, seg.SrcCol)

	seg, ok = sm.Lookup(2, 0)
	require.True(t, ok)
	assert.Equal(t, 1, seg.SrcLine)

	_, ok = sm.Lookup(5, 0)
	assert.False(t, ok)
}

func TestComposeChainsPositions(t *testing.T) {
	// original -> intermediate: line 0 shifted down one line
	first := &SourceMap{
		Sources: []string{"app.ts"},
		Segments: []MapSegment{
			{GenLine: 1, GenCol: 0, SrcLine: 0, SrcCol: 0},
		},
	}
	// intermediate -> final: line 1 shifted down another line
	second := &SourceMap{
		Segments: []MapSegment{
			{GenLine: 2, GenCol: 0, SrcLine: 1, SrcCol: 0},
		},
	}

	composed := Compose(first, second)
	require.NotNil(t, composed)
	require.Len(t, composed.Segments, 1)

	// Final line 2 must map all the way back to original line 0.
	assert.Equal(t, 2, composed.Segments[0].GenLine)
	assert.Equal(t, 0, composed.Segments[0].SrcLine)
	assert.Equal(t, []string{"app.ts"}, composed.Sources)
}

func TestComposeNilSides(t *testing.T) {
	sm := &SourceMap{Sources: []string{"a.ts"}}

	assert.Equal(t, sm, Compose(nil, sm))
	assert.Equal(t, sm, Compose(sm, nil))
	assert.Nil(t, Compose(nil, nil))
}

func TestToDataURI(t *testing.T) {
	sm := &SourceMap{Sources: []string{"app.ts"}}
	uri := sm.ToDataURI()
	assert.True(t, strings.HasPrefix(uri, "data:application/json;base64,"))

	var nilMap *SourceMap
	assert.Empty(t, nilMap.ToDataURI())
}
