package postprocess

import (
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

// Stage reshapes a fully preprocessed subject timeline before rendering.
// Like preprocessing stages, Apply must not mutate its input.
type Stage interface {
	Name() string
	Apply(tl timeline.Timeline) (timeline.Timeline, error)
}
