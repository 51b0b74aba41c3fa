package timeline

import (
	"sort"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
)

// Timeline is one subject's ordered event sequence. Static events (nil
// time) precede all timed events; timed events are ordered by timestamp.
type Timeline []models.Event

func (t Timeline) Clone() Timeline {
	return append(Timeline(nil), t...)
}

// Sorted returns a stably ordered copy: statics first in their original
// order, then timed events by timestamp. Ties keep their input order.
func (t Timeline) Sorted() Timeline {
	out := t.Clone()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Time == nil || b.Time == nil {
			return a.Time == nil && b.Time != nil
		}
		return a.Time.Before(*b.Time)
	})
	return out
}

// Split partitions into the static prefix and the timed suffix. The
// receiver must already be ordered. The prefix is capped so appending to
// it never overwrites the suffix.
func (t Timeline) Split() (static, timed Timeline) {
	i := 0
	for i < len(t) && t[i].Time == nil {
		i++
	}
	return t[:i:i], t[i:]
}

func (t Timeline) SubjectID() string {
	if len(t) == 0 {
		return ""
	}
	return t[0].SubjectID
}

func (t Timeline) FirstTimed() (models.Event, bool) {
	for _, e := range t {
		if e.Time != nil {
			return e, true
		}
	}
	return models.Event{}, false
}
