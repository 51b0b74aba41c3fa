package preprocess

import (
	"encoding/json"
	"fmt"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/match"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/quantile"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type QuantileBinConfig struct {
	match.Config `yaml:",inline"`
	K            int    `yaml:"k"`
	ValueColumn  string `yaml:"value_column"`
}

// QuantileBin replaces matching observations with equal-population bin
// labels. Boundaries are learned per full code over the training corpus;
// a matching code never seen during fit passes through unchanged.
type QuantileBin struct {
	sel         match.Selector
	k           int
	valueColumn string

	collectors map[string]*quantile.Collector
	bins       map[string]quantile.Bins
	fitted     bool
}

func NewQuantileBin(cfg QuantileBinConfig) (*QuantileBin, error) {
	sel, err := cfg.Selector()
	if err != nil {
		return nil, err
	}
	if cfg.K < 2 {
		return nil, fmt.Errorf("quantile bin count must be at least 2, got %d", cfg.K)
	}
	column, err := parseValueColumn(cfg.ValueColumn)
	if err != nil {
		return nil, err
	}

	return &QuantileBin{
		sel:         sel,
		k:           cfg.K,
		valueColumn: column,
		collectors:  make(map[string]*quantile.Collector),
	}, nil
}

func (s *QuantileBin) Name() string { return "quantile_bin" }

func (s *QuantileBin) ObserveSubject(tl timeline.Timeline) {
	for _, e := range tl {
		if !s.sel.Matches(e.Code) {
			continue
		}
		v, ok := eventValue(e, s.valueColumn)
		if !ok {
			continue
		}
		c := s.collectors[*e.Code]
		if c == nil {
			c = quantile.NewCollector()
			s.collectors[*e.Code] = c
		}
		c.Observe(v)
	}
}

func (s *QuantileBin) Finalize() error {
	s.bins = make(map[string]quantile.Bins, len(s.collectors))
	for code, c := range s.collectors {
		bins, err := c.Fit(s.k)
		if err != nil {
			return fmt.Errorf("fit boundaries for %s: %w", code, err)
		}
		s.bins[code] = bins
	}
	s.collectors = nil
	s.fitted = true

	logger.WithComponent("quantile_bin").WithField("codes", len(s.bins)).Debug("Fitted bin boundaries")
	return nil
}

func (s *QuantileBin) Fitted() bool { return s.fitted }

func (s *QuantileBin) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}

	out := make(timeline.Timeline, 0, len(tl))
	for _, e := range tl {
		if !s.sel.Matches(e.Code) {
			out = append(out, e)
			continue
		}
		v, ok := eventValue(e, s.valueColumn)
		if !ok {
			out = append(out, e)
			continue
		}
		bins, ok := s.bins[*e.Code]
		if !ok {
			metrics.RecordUnseenCode()
			out = append(out, e)
			continue
		}
		e.TextValue = models.String(bins.Label(v))
		e.NumericValue = nil
		out = append(out, e)
	}
	return out, nil
}

type quantileBinState struct {
	K    int                  `json:"k"`
	Cuts map[string][]float64 `json:"cuts"`
}

func (s *QuantileBin) Snapshot() ([]byte, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}
	state := quantileBinState{K: s.k, Cuts: make(map[string][]float64, len(s.bins))}
	for code, b := range s.bins {
		state.Cuts[code] = b.Cuts()
	}
	return json.Marshal(state)
}

func (s *QuantileBin) Restore(data []byte) error {
	var state quantileBinState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("restore quantile bins: %w", err)
	}
	s.bins = make(map[string]quantile.Bins, len(state.Cuts))
	for code, cuts := range state.Cuts {
		s.bins[code] = quantile.NewBins(cuts)
	}
	s.fitted = true
	return nil
}
