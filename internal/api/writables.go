package api

import (
	"net/http"

	"github.com/nerrad567/km200-bridge/internal/km200"
)

// WritableView is the JSON form of a cached write constraint. Bounds are
// pointers so a zero minimum is still rendered.
type WritableView struct {
	ID      string          `json:"id"`
	Type    km200.ValueType `json:"type"`
	Min     *float64        `json:"min,omitempty"`
	Max     *float64        `json:"max,omitempty"`
	Allowed []string        `json:"allowed,omitempty"`
}

func newWritableView(spec km200.WritableSpec) WritableView {
	v := WritableView{ID: spec.ID, Type: spec.ValueType, Allowed: spec.Allowed}
	if spec.ValueType == km200.Numeric {
		minV, maxV := spec.Min, spec.Max
		v.Min, v.Max = &minV, &maxV
	}
	return v
}

// handleListWritables returns every writable endpoint seen since startup.
func (s *Server) handleListWritables(w http.ResponseWriter, _ *http.Request) {
	views := []WritableView{}
	if s.writables != nil {
		for _, spec := range s.writables.Writables() {
			views = append(views, newWritableView(spec))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"writables": views,
		"count":     len(views),
	})
}
