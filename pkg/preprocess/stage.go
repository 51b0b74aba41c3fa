package preprocess

import (
	"errors"

	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

// ErrNotFitted is returned when a stage that learns corpus state is
// applied before Fit completed or a snapshot was restored.
var ErrNotFitted = errors.New("preprocess: stage applied before fit")

// Stage transforms one subject timeline. Apply must not mutate its input
// or any shared state; implementations return a rebuilt sequence, so a
// fitted stage is safe to call from many goroutines.
type Stage interface {
	Name() string
	Apply(tl timeline.Timeline) (timeline.Timeline, error)
}

// Fitter is implemented by stages that learn state from a pass over the
// training corpus. ObserveSubject is called once per subject timeline
// during the fit pass; Finalize freezes the learned state.
type Fitter interface {
	Stage
	ObserveSubject(tl timeline.Timeline)
	Finalize() error
	Fitted() bool
}

// Snapshotter is implemented by stages whose learned state can be
// exported and restored, so apply-only workers can skip the fit pass.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(state []byte) error
}
