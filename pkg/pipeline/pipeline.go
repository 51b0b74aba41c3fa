package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/postprocess"
	"github.com/sequelae-ai/tokenize/pkg/preprocess"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
	"github.com/sequelae-ai/tokenize/pkg/tokenizer"
)

// Pipeline is a built stage chain plus tokenizer. Fit (or Restore)
// must complete before Transform or EncodeSubject may run; afterwards
// the pipeline is read-only and safe for concurrent subjects.
type Pipeline struct {
	pre       []preprocess.Stage
	post      []postprocess.Stage
	tokenizer *tokenizer.WordLevel
}

func (p *Pipeline) Tokenizer() *tokenizer.WordLevel {
	return p.tokenizer
}

// Fitted reports whether every learning stage and the tokenizer carry
// their corpus state.
func (p *Pipeline) Fitted() bool {
	for _, s := range p.pre {
		if f, ok := s.(preprocess.Fitter); ok && !f.Fitted() {
			return false
		}
	}
	return p.tokenizer.Built()
}

// Fit learns all corpus state from the training source in two passes:
// every fitting stage observes the raw subjects first, then the
// tokenizer counts tokens over fully transformed subjects. A subject
// that fails to transform is logged and skipped.
func (p *Pipeline) Fit(ctx context.Context, src Source) error {
	var fitters []preprocess.Fitter
	for _, s := range p.pre {
		if f, ok := s.(preprocess.Fitter); ok {
			fitters = append(fitters, f)
		}
	}

	if len(fitters) > 0 {
		err := src.Subjects(ctx, func(tl timeline.Timeline) error {
			for _, f := range fitters {
				f.ObserveSubject(tl)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("fit pass: %w", err)
		}
		for _, f := range fitters {
			if err := f.Finalize(); err != nil {
				return fmt.Errorf("finalizing stage %s: %w", f.Name(), err)
			}
		}
	}

	err := src.Subjects(ctx, func(tl timeline.Timeline) error {
		out, err := p.Transform(tl)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{
				"subject_id": tl.SubjectID(),
				"error":      err.Error(),
			}).Warn("Skipping subject during vocabulary pass")
			metrics.RecordSubjectFailure()
			return nil
		}
		return p.tokenizer.Observe(out)
	})
	if err != nil {
		return fmt.Errorf("vocabulary pass: %w", err)
	}
	if err := p.tokenizer.Build(); err != nil {
		return err
	}
	metrics.ObserveVocabSize(p.tokenizer.Len())
	return nil
}

// Transform runs one subject timeline through every preprocessing and
// postprocessing stage in spec order.
func (p *Pipeline) Transform(tl timeline.Timeline) (timeline.Timeline, error) {
	out := tl
	var err error
	for _, s := range p.pre {
		if out, err = s.Apply(out); err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
	}
	for _, s := range p.post {
		if out, err = s.Apply(out); err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
	}
	return out, nil
}

// EncodeSubject transforms and tokenizes one subject. Tokens the
// vocabulary cap excluded encode as <unknown>.
func (p *Pipeline) EncodeSubject(tl timeline.Timeline) ([]int, []float64, error) {
	out, err := p.Transform(tl)
	if err != nil {
		return nil, nil, err
	}
	return p.tokenizer.Encode(out, true)
}

// Snapshot captures all learned state: one JSON blob per fitted stage,
// keyed by position and name, plus the vocabulary.
type Snapshot struct {
	Stages map[string]json.RawMessage `json:"stages"`
	Vocab  []tokenizer.VocabEntry     `json:"vocab"`
}

func stageKey(i int, name string) string {
	return fmt.Sprintf("%02d_%s", i, name)
}

func (p *Pipeline) Snapshot() (*Snapshot, error) {
	if !p.Fitted() {
		return nil, preprocess.ErrNotFitted
	}
	snap := &Snapshot{Stages: make(map[string]json.RawMessage)}
	for i, s := range p.pre {
		sn, ok := s.(preprocess.Snapshotter)
		if !ok {
			continue
		}
		state, err := sn.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshotting stage %s: %w", s.Name(), err)
		}
		snap.Stages[stageKey(i, s.Name())] = state
	}
	snap.Vocab = p.tokenizer.Vocab()
	return snap, nil
}

// Restore loads a snapshot into a freshly built pipeline with the same
// spec, satisfying the fit barrier without a training pass.
func (p *Pipeline) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil pipeline snapshot")
	}
	for i, s := range p.pre {
		sn, ok := s.(preprocess.Snapshotter)
		if !ok {
			continue
		}
		key := stageKey(i, s.Name())
		state, found := snap.Stages[key]
		if !found {
			return fmt.Errorf("snapshot missing state for stage %s", key)
		}
		if err := sn.Restore(state); err != nil {
			return fmt.Errorf("restoring stage %s: %w", key, err)
		}
	}
	if err := p.tokenizer.RestoreVocab(snap.Vocab); err != nil {
		return err
	}
	if !p.Fitted() {
		return fmt.Errorf("snapshot did not cover every fitted stage")
	}
	return nil
}
