package hypercube

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

type axisJSON struct {
	Included []uint64 `json:"in,omitempty"`
	Excluded []uint64 `json:"ex,omitempty"`
}

// MarshalJSON encodes the cube as {"axis": {"in": [...], "ex": [...]}}.
func (c *Cube) MarshalJSON() ([]byte, error) {
	out := make(map[string]axisJSON, len(c.axes))
	for id, ax := range c.axes {
		var a axisJSON
		if ax.Included != nil {
			a.Included = ax.Included.ToArray()
		}
		if ax.Excluded != nil {
			a.Excluded = ax.Excluded.ToArray()
		}
		out[string(id)] = a
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (c *Cube) UnmarshalJSON(data []byte) error {
	var in map[string]axisJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decoding hypercube: %w", err)
	}
	c.axes = nil
	for id, a := range in {
		ax := c.axis(model.AttrID(id))
		if a.Included != nil {
			ax.Included = roaring64.BitmapOf(a.Included...)
		}
		if len(a.Excluded) > 0 {
			ax.Excluded = roaring64.BitmapOf(a.Excluded...)
		}
	}
	return nil
}
