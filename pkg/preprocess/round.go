package preprocess

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/match"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type RoundNumericConfig struct {
	match.Config `yaml:",inline"`
	Decimals     *int   `yaml:"decimals"`
	ValueColumn  string `yaml:"value_column"`
}

// RoundNumeric rounds matching observations to a fixed number of decimals.
type RoundNumeric struct {
	sel         match.Selector
	decimals    int
	valueColumn string
}

func NewRoundNumeric(cfg RoundNumericConfig) (*RoundNumeric, error) {
	sel, err := cfg.Selector()
	if err != nil {
		return nil, err
	}
	column, err := parseValueColumn(cfg.ValueColumn)
	if err != nil {
		return nil, err
	}
	decimals := 1
	if cfg.Decimals != nil {
		decimals = *cfg.Decimals
	}
	if decimals < 0 {
		return nil, fmt.Errorf("decimals must not be negative, got %d", decimals)
	}

	return &RoundNumeric{sel: sel, decimals: decimals, valueColumn: column}, nil
}

func (s *RoundNumeric) Name() string { return "round_numeric" }

func (s *RoundNumeric) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	pow := math.Pow(10, float64(s.decimals))

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
		rounded := math.Round(v*pow) / pow
		if s.valueColumn == ColumnText {
			e.TextValue = models.String(strconv.FormatFloat(rounded, 'f', s.decimals, 64))
			e.NumericValue = nil
		} else {
			e.NumericValue = models.Float(rounded)
			e.TextValue = nil
		}
		out = append(out, e)
	}
	return out, nil
}
