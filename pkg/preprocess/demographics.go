package preprocess

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/match"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/quantile"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type MeasurementConfig struct {
	TokenPattern   string   `yaml:"token_pattern"`
	ValueColumn    string   `yaml:"value_column"`
	Aggregation    string   `yaml:"aggregation"`
	NumBins        int      `yaml:"num_bins"`
	TokenPrefix    string   `yaml:"token_prefix"`
	InsertCode     *bool    `yaml:"insert_code"`
	RemoveOriginal bool     `yaml:"remove_original_tokens"`
	BinLabels      []string `yaml:"bin_labels"`
}

type DemographicsConfig struct {
	Measurements []MeasurementConfig `yaml:"measurements"`
}

type measurement struct {
	sel         match.Selector
	pattern     string
	valueColumn string
	aggregation string
	numBins     int
	tokenPrefix string
	insertCode  bool
	removeOrig  bool
	binLabels   []string

	collector *quantile.Collector
	bins      *quantile.Bins
}

// Demographics reduces each subject's matching measurements to a single
// aggregate, bins it against population quantiles learned during fit, and
// injects one summary event per measurement at the head of the timeline.
type Demographics struct {
	measurements []*measurement
	fitted       bool
}

func NewDemographics(cfg DemographicsConfig) (*Demographics, error) {
	if len(cfg.Measurements) == 0 {
		return nil, fmt.Errorf("demographic aggregation requires at least one measurement")
	}

	ms := make([]*measurement, 0, len(cfg.Measurements))
	for _, mc := range cfg.Measurements {
		if mc.TokenPattern == "" {
			return nil, fmt.Errorf("measurement token pattern is required")
		}
		sel, err := match.New(match.StartsWith, mc.TokenPattern)
		if err != nil {
			return nil, err
		}
		column, err := parseValueColumn(mc.ValueColumn)
		if err != nil {
			return nil, err
		}
		switch mc.Aggregation {
		case "mean", "min", "max", "median":
		default:
			return nil, fmt.Errorf("invalid aggregation: %q", mc.Aggregation)
		}
		if mc.NumBins < 2 {
			return nil, fmt.Errorf("num_bins must be at least 2, got %d", mc.NumBins)
		}
		if len(mc.BinLabels) > 0 && len(mc.BinLabels) != mc.NumBins {
			return nil, fmt.Errorf("bin_labels for %s must have %d entries, got %d", mc.TokenPattern, mc.NumBins, len(mc.BinLabels))
		}

		insert := true
		if mc.InsertCode != nil {
			insert = *mc.InsertCode
		}
		ms = append(ms, &measurement{
			sel:         sel,
			pattern:     mc.TokenPattern,
			valueColumn: column,
			aggregation: mc.Aggregation,
			numBins:     mc.NumBins,
			tokenPrefix: mc.TokenPrefix,
			insertCode:  insert,
			removeOrig:  mc.RemoveOriginal,
			binLabels:   mc.BinLabels,
			collector:   quantile.NewCollector(),
		})
	}
	return &Demographics{measurements: ms}, nil
}

func (s *Demographics) Name() string { return "demographic_aggregation" }

func (s *Demographics) ObserveSubject(tl timeline.Timeline) {
	for _, m := range s.measurements {
		if agg, ok := m.subjectAggregate(tl); ok {
			m.collector.Observe(agg)
		}
	}
}

func (s *Demographics) Finalize() error {
	for _, m := range s.measurements {
		if m.collector.Len() == 0 {
			logger.WithComponent("demographic_aggregation").WithField("pattern", m.pattern).Warn("No values observed for measurement")
			continue
		}
		bins, err := m.collector.Fit(m.numBins)
		if err != nil {
			return fmt.Errorf("fit boundaries for %s: %w", m.pattern, err)
		}
		m.bins = &bins
	}
	s.fitted = true
	return nil
}

func (s *Demographics) Fitted() bool { return s.fitted }

func (s *Demographics) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}
	subject := tl.SubjectID()

	var injected timeline.Timeline
	out := tl
	for _, m := range s.measurements {
		agg, ok := m.subjectAggregate(out)
		if !ok {
			continue
		}
		if m.bins == nil {
			metrics.RecordUnfittedSkip()
			continue
		}

		idx := m.bins.Index(agg)
		label := "Q" + strconv.Itoa(idx)
		if len(m.binLabels) > 0 {
			label = m.binLabels[idx]
		}

		e := models.Event{
			SubjectID: subject,
			TextValue: models.String(m.tokenPrefix + label),
		}
		if m.insertCode {
			e.Code = models.String(m.codeToken())
		}
		injected = append(injected, e)

		if m.removeOrig {
			out = removeMatching(out, m.sel)
		}
	}

	if len(injected) == 0 {
		return out, nil
	}
	return append(injected, out...), nil
}

func (m *measurement) subjectAggregate(tl timeline.Timeline) (float64, bool) {
	var values []float64
	for _, e := range tl {
		if !m.sel.Matches(e.Code) {
			continue
		}
		if v, ok := eventValue(e, m.valueColumn); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	return aggregate(values, m.aggregation), true
}

func (m *measurement) codeToken() string {
	code := strings.TrimSuffix(m.tokenPrefix, "//")
	if code == "" {
		return "DEMOGRAPHIC"
	}
	return code
}

func aggregate(values []float64, how string) float64 {
	switch how {
	case "min":
		out := values[0]
		for _, v := range values[1:] {
			if v < out {
				out = v
			}
		}
		return out
	case "max":
		out := values[0]
		for _, v := range values[1:] {
			if v > out {
				out = v
			}
		}
		return out
	case "median":
		med, _ := quantile.Of(values, 0.5)
		return med
	default: // mean
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}

func removeMatching(tl timeline.Timeline, sel match.Selector) timeline.Timeline {
	out := make(timeline.Timeline, 0, len(tl))
	for _, e := range tl {
		if sel.Matches(e.Code) {
			continue
		}
		out = append(out, e)
	}
	return out
}

type measurementState struct {
	Pattern string    `json:"pattern"`
	Cuts    []float64 `json:"cuts,omitempty"`
	Fitted  bool      `json:"fitted"`
}

func (s *Demographics) Snapshot() ([]byte, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}
	states := make([]measurementState, 0, len(s.measurements))
	for _, m := range s.measurements {
		st := measurementState{Pattern: m.pattern}
		if m.bins != nil {
			st.Cuts = m.bins.Cuts()
			st.Fitted = true
		}
		states = append(states, st)
	}
	return json.Marshal(states)
}

func (s *Demographics) Restore(data []byte) error {
	var states []measurementState
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("restore demographic boundaries: %w", err)
	}
	if len(states) != len(s.measurements) {
		return fmt.Errorf("snapshot has %d measurements, config has %d", len(states), len(s.measurements))
	}
	for i, st := range states {
		m := s.measurements[i]
		if st.Pattern != m.pattern {
			return fmt.Errorf("snapshot measurement %q does not match configured %q", st.Pattern, m.pattern)
		}
		if st.Fitted {
			bins := quantile.NewBins(st.Cuts)
			m.bins = &bins
		}
	}
	s.fitted = true
	return nil
}
