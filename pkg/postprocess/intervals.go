package postprocess

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

const defaultBirthCode = "MEDS_BIRTH"

// IntervalRange is a half-open gap range in minutes. A nil Max means
// open-ended.
type IntervalRange struct {
	Name string
	Min  float64
	Max  *float64
}

// IntervalList preserves the configuration order of its ranges, which
// decides precedence when a gap falls into more than one.
type IntervalList []IntervalRange

func (l *IntervalList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		out := make(IntervalList, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			r, err := decodeBounds(value.Content[i+1], value.Content[i].Value)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		*l = out
		return nil
	case yaml.SequenceNode:
		var entries []struct {
			Name string   `yaml:"name"`
			Min  *float64 `yaml:"min"`
			Max  *float64 `yaml:"max"`
		}
		if err := value.Decode(&entries); err != nil {
			return err
		}
		out := make(IntervalList, 0, len(entries))
		for _, e := range entries {
			if e.Min == nil {
				return fmt.Errorf("interval %q requires a min bound", e.Name)
			}
			out = append(out, IntervalRange{Name: e.Name, Min: *e.Min, Max: e.Max})
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("interval_tokens must be a mapping or a sequence")
	}
}

func decodeBounds(node *yaml.Node, name string) (IntervalRange, error) {
	switch node.Kind {
	case yaml.MappingNode:
		var bounds struct {
			Min *float64 `yaml:"min"`
			Max *float64 `yaml:"max"`
		}
		if err := node.Decode(&bounds); err != nil {
			return IntervalRange{}, err
		}
		if bounds.Min == nil {
			return IntervalRange{}, fmt.Errorf("interval %q requires a min bound", name)
		}
		return IntervalRange{Name: name, Min: *bounds.Min, Max: bounds.Max}, nil
	case yaml.SequenceNode:
		var vals []float64
		if err := node.Decode(&vals); err != nil {
			return IntervalRange{}, err
		}
		switch len(vals) {
		case 1:
			return IntervalRange{Name: name, Min: vals[0]}, nil
		case 2:
			max := vals[1]
			return IntervalRange{Name: name, Min: vals[0], Max: &max}, nil
		default:
			return IntervalRange{}, fmt.Errorf("interval %q bounds must be [min] or [min, max]", name)
		}
	default:
		return IntervalRange{}, fmt.Errorf("interval %q bounds must be a mapping or a sequence", name)
	}
}

type TimeIntervalsConfig struct {
	Intervals IntervalList `yaml:"interval_tokens"`
	BirthCode string       `yaml:"birth_code"`
}

// TimeIntervals inserts a gap marker immediately before any timed event
// whose distance to the previous anchor falls into a configured range.
// Birth events never anchor a gap; events without a timestamp are left
// alone and never produce markers.
type TimeIntervals struct {
	intervals []IntervalRange
	birthCode string
}

func NewTimeIntervals(cfg TimeIntervalsConfig) (*TimeIntervals, error) {
	if len(cfg.Intervals) == 0 {
		return nil, fmt.Errorf("time interval stage requires at least one interval")
	}
	for _, r := range cfg.Intervals {
		if r.Name == "" {
			return nil, fmt.Errorf("interval name is required")
		}
		if r.Min < 0 {
			return nil, fmt.Errorf("interval %q min must not be negative", r.Name)
		}
		if r.Max != nil && *r.Max <= r.Min {
			return nil, fmt.Errorf("interval %q max must exceed min", r.Name)
		}
	}

	birthCode := cfg.BirthCode
	if birthCode == "" {
		birthCode = defaultBirthCode
	}
	return &TimeIntervals{intervals: cfg.Intervals, birthCode: birthCode}, nil
}

func (s *TimeIntervals) Name() string { return "time_interval" }

func (s *TimeIntervals) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	out := make(timeline.Timeline, 0, len(tl))
	for _, e := range tl {
		if e.Time == nil {
			out = append(out, e)
			continue
		}
		if anchor := lastAnchor(out, s.birthCode); anchor != nil {
			gap := e.Time.Sub(*anchor).Minutes()
			if name, ok := s.matchInterval(gap); ok {
				out = append(out, models.Event{
					SubjectID: e.SubjectID,
					Code:      models.String("<time_interval_" + name + ">"),
					Time:      e.Time,
				})
				metrics.RecordIntervalInserted()
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// lastAnchor scans backward for the most recent timed non-birth event.
func lastAnchor(out timeline.Timeline, birthCode string) *time.Time {
	for i := len(out) - 1; i >= 0; i-- {
		e := out[i]
		if e.Time != nil && e.CodeString() != birthCode {
			return e.Time
		}
	}
	return nil
}

// matchInterval returns the first configured range containing gap.
func (s *TimeIntervals) matchInterval(gap float64) (string, bool) {
	for _, r := range s.intervals {
		if gap < r.Min {
			continue
		}
		if r.Max == nil || gap < *r.Max {
			return r.Name, true
		}
	}
	return "", false
}
