package postprocess

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

var numericToken = regexp.MustCompile(`^-?\d+\.?\d*$`)

// RemoveNumeric drops every event that carries a purely numeric value,
// in either value column. If binning covered all measurements this
// removes nothing; it catches values the preprocessing stages missed.
type RemoveNumeric struct{}

func NewRemoveNumeric() *RemoveNumeric {
	return &RemoveNumeric{}
}

func (s *RemoveNumeric) Name() string { return "remove_numeric" }

func (s *RemoveNumeric) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	out := make(timeline.Timeline, 0, len(tl))
	for _, e := range tl {
		if hasNumericValue(e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func hasNumericValue(e models.Event) bool {
	if e.NumericValue != nil && numericToken.MatchString(strconv.FormatFloat(*e.NumericValue, 'f', -1, 64)) {
		return true
	}
	if e.TextValue != nil && numericToken.MatchString(strings.TrimSpace(*e.TextValue)) {
		return true
	}
	return false
}
