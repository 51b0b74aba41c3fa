package preprocess

import (
	"fmt"
	"strings"
	"time"

	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

const defaultBirthCode = "MEDS_BIRTH"

// Codes that carry context rather than clinical contact; they never count
// as the first real event when anchoring an age.
var ageExcludePrefixes = []string{"DEMOGRAPHICS//", "RACE//", "MARITAL_STATUS//"}

func secondsPerUnit(unit string) (float64, error) {
	switch unit {
	case "", "years":
		return 365.25 * 24 * 3600, nil
	case "days":
		return 24 * 3600, nil
	case "hours":
		return 3600, nil
	default:
		return 0, fmt.Errorf("invalid time unit: %q", unit)
	}
}

// subjectAge measures the gap between the birth event and the first real
// clinical event, in the given unit. Reports false when either anchor is
// missing or unusable; a negative gap clamps to zero.
func subjectAge(tl timeline.Timeline, birthCode string, unitSeconds float64) (float64, bool) {
	var birthTime *time.Time
	for i := range tl {
		if tl[i].Time != nil && tl[i].CodeString() == birthCode {
			birthTime = tl[i].Time
			break
		}
	}
	if birthTime == nil {
		return 0, false
	}

	var eventTime *time.Time
	for i := range tl {
		e := tl[i]
		if e.Time == nil || e.Code == nil {
			continue
		}
		code := *e.Code
		if code == birthCode || hasAnyPrefix(code, ageExcludePrefixes) {
			continue
		}
		eventTime = e.Time
		break
	}
	if eventTime == nil {
		return 0, false
	}

	delta := eventTime.Sub(*birthTime).Seconds() / unitSeconds
	if delta < 0 {
		delta = 0
	}
	return delta, true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func removeBirth(tl timeline.Timeline, birthCode string) timeline.Timeline {
	out := make(timeline.Timeline, 0, len(tl))
	for _, e := range tl {
		if e.CodeString() == birthCode {
			continue
		}
		out = append(out, e)
	}
	return out
}
