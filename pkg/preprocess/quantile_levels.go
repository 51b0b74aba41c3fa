package preprocess

import (
	"encoding/json"
	"fmt"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/match"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/quantile"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type QuantileLevelsConfig struct {
	match.Config `yaml:",inline"`
	ValueColumn  string `yaml:"value_column"`
}

type levelCuts struct {
	Q1 float64 `json:"q1"`
	Q2 float64 `json:"q2"`
	Q3 float64 `json:"q3"`
}

// QuantileLevels maps matching observations to low, normal or high
// relative to the per-code interquartile range: below Q1 is low, above
// Q3 is high, everything between (inclusive) is normal.
type QuantileLevels struct {
	sel         match.Selector
	valueColumn string

	collectors map[string]*quantile.Collector
	levels     map[string]levelCuts
	fitted     bool
}

func NewQuantileLevels(cfg QuantileLevelsConfig) (*QuantileLevels, error) {
	sel, err := cfg.Selector()
	if err != nil {
		return nil, err
	}
	column, err := parseValueColumn(cfg.ValueColumn)
	if err != nil {
		return nil, err
	}

	return &QuantileLevels{
		sel:         sel,
		valueColumn: column,
		collectors:  make(map[string]*quantile.Collector),
	}, nil
}

func (s *QuantileLevels) Name() string { return "quantile_bin_3level" }

func (s *QuantileLevels) ObserveSubject(tl timeline.Timeline) {
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

func (s *QuantileLevels) Finalize() error {
	s.levels = make(map[string]levelCuts, len(s.collectors))
	for code, c := range s.collectors {
		qs, err := c.Quantiles(0.25, 0.5, 0.75)
		if err != nil {
			return fmt.Errorf("fit levels for %s: %w", code, err)
		}
		s.levels[code] = levelCuts{Q1: qs[0], Q2: qs[1], Q3: qs[2]}
	}
	s.collectors = nil
	s.fitted = true
	return nil
}

func (s *QuantileLevels) Fitted() bool { return s.fitted }

func (s *QuantileLevels) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
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
		cuts, ok := s.levels[*e.Code]
		if !ok {
			metrics.RecordUnseenCode()
			out = append(out, e)
			continue
		}

		level := "high"
		if v < cuts.Q1 {
			level = "low"
		} else if v <= cuts.Q3 {
			level = "normal"
		}
		e.TextValue = models.String(level)
		e.NumericValue = nil
		out = append(out, e)
	}
	return out, nil
}

func (s *QuantileLevels) Snapshot() ([]byte, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}
	return json.Marshal(s.levels)
}

func (s *QuantileLevels) Restore(data []byte) error {
	var levels map[string]levelCuts
	if err := json.Unmarshal(data, &levels); err != nil {
		return fmt.Errorf("restore quantile levels: %w", err)
	}
	s.levels = levels
	s.fitted = true
	return nil
}
