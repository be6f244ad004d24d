// Package types provides common type definitions used throughout the module
// server. This package contains shared types to avoid circular dependencies
// between packages.
package types

import (
	"encoding/base64"
	"encoding/json"
	"sort"
)

// TransformResult is the immutable output of a module transform: the
// runtime-loadable code plus an optional position map back to the original
// source. A fresh transform always replaces rather than mutates a cached
// result.
type TransformResult struct {
	// Code is the transformed, runtime-loadable module body
	Code string
	// Map maps positions in Code back to the original source, composed
	// across every transform hop; nil when no hook produced one
	Map *SourceMap
}

// SourceMap maps transformed-code coordinates back to original-source
// coordinates. Segments are kept sorted by generated position.
type SourceMap struct {
	// File is the generated file the map describes
	File string `json:"file,omitempty"`
	// Sources lists the original source files
	Sources []string `json:"sources"`
	// Segments are individual position mappings, generated -> original
	Segments []MapSegment `json:"segments"`
}

// MapSegment maps one generated position to one original position.
// Lines and columns are zero-based.
type MapSegment struct {
	GenLine int `json:"genLine"`
	GenCol  int `json:"genCol"`
	SrcLine int `json:"srcLine"`
	SrcCol  int `json:"srcCol"`
}

// Lookup returns the original position for a generated position: the nearest
// segment at or before (line, col) on the same generated line. The second
// return is false when the line has no mapping.
func (sm *SourceMap) Lookup(line, col int) (MapSegment, bool) {
	if sm == nil {
		return MapSegment{}, false
	}

	best := -1
	for i, seg := range sm.Segments {
		if seg.GenLine != line || seg.GenCol > col {
			continue
		}
		if best == -1 || sm.Segments[i].GenCol > sm.Segments[best].GenCol {
			best = i
		}
	}
	if best == -1 {
		return MapSegment{}, false
	}
	return sm.Segments[best], true
}

// Compose chains two maps: prev maps intermediate -> original, next maps
// final -> intermediate. The result maps final -> original, so positions
// survive every rewrite in a transform chain. Either side may be nil, in
// which case the other is returned unchanged.
func Compose(prev, next *SourceMap) *SourceMap {
	if prev == nil {
		return next
	}
	if next == nil {
		return prev
	}

	composed := &SourceMap{
		File:    next.File,
		Sources: prev.Sources,
	}

	for _, seg := range next.Segments {
		orig, ok := prev.Lookup(seg.SrcLine, seg.SrcCol)
		if !ok {
			continue
		}
		composed.Segments = append(composed.Segments, MapSegment{
			GenLine: seg.GenLine,
			GenCol:  seg.GenCol,
			SrcLine: orig.SrcLine,
			SrcCol:  orig.SrcCol,
		})
	}

	sort.Slice(composed.Segments, func(i, j int) bool {
		a, b := composed.Segments[i], composed.Segments[j]
		if a.GenLine != b.GenLine {
			return a.GenLine < b.GenLine
		}
		return a.GenCol < b.GenCol
	})

	return composed
}

// ToDataURI encodes the map as an inline base64 JSON data URI suitable for a
// trailing sourceMappingURL comment.
func (sm *SourceMap) ToDataURI() string {
	if sm == nil {
		return ""
	}
	data, err := json.Marshal(sm)
	if err != nil {
		return ""
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(data)
}
