package hls

import (
	"encoding/json"
	"fmt"
	"io"
)

// FilterGraphSpec declares the fixed image-destination filter graph from
// spec.md §4.5: movie=<mask>,scale -> mask; [in]crop,scale -> fg;
// [fg][mask]overlay=0:0 -> out. It is data, not a DSL string, so callers
// can drive any real filter-graph implementation off it.
type FilterGraphSpec struct {
	MaskPath  string `json:"mask_path"`
	ScaleW    int    `json:"scale_w"`
	ScaleH    int    `json:"scale_h"`
	CropW     int    `json:"crop_w"`
	CropH     int    `json:"crop_h"`
	CropX     int    `json:"crop_x"`
	CropY     int    `json:"crop_y"`
	OverlayX  int    `json:"overlay_x"`
	OverlayY  int    `json:"overlay_y"`
}

// Graph renders the declarative spec into the textual filtergraph
// expression a real encoder front-end (e.g. an ffmpeg filter_complex
// argument) would accept.
func (s FilterGraphSpec) Graph() string {
	return fmt.Sprintf(
		"movie=%s,scale=%d:%d[mask];[in]crop=%d:%d:%d:%d,scale=%d:%d[fg];[fg][mask]overlay=%d:%d",
		s.MaskPath, s.ScaleW, s.ScaleH,
		s.CropW, s.CropH, s.CropX, s.CropY, s.ScaleW, s.ScaleH,
		s.OverlayX, s.OverlayY,
	)
}

// MaskIndex resolves a mask pattern name to its file path via a JSON index
// file listed in config, per spec.md §4.5.
type MaskIndex map[string]string

// LoadMaskIndex decodes the JSON index file mapping pattern names to mask
// file paths.
func LoadMaskIndex(r io.Reader) (MaskIndex, error) {
	var idx MaskIndex
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("hls: decode mask index: %w", err)
	}
	return idx, nil
}

// Resolve looks up a mask path by pattern name, building a FilterGraphSpec
// with that mask wired in.
func (idx MaskIndex) Resolve(pattern string, base FilterGraphSpec) (FilterGraphSpec, error) {
	path, ok := idx[pattern]
	if !ok {
		return FilterGraphSpec{}, fmt.Errorf("hls: mask pattern %q not found in index", pattern)
	}
	base.MaskPath = path
	return base, nil
}
