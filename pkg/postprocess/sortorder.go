package postprocess

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type SortOrderConfig struct {
	Patterns []string `yaml:"token_patterns"`
}

// SortOrder rearranges the static prefix into a canonical order: events
// are ranked by the first pattern their text (or code) starts with, with
// unmatched statics last. Timed events keep their order untouched.
type SortOrder struct {
	patterns []string
}

func NewSortOrder(cfg SortOrderConfig) (*SortOrder, error) {
	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("demographic sort order requires at least one pattern")
	}
	for _, p := range cfg.Patterns {
		if p == "" {
			return nil, fmt.Errorf("sort order patterns must not be empty")
		}
	}
	return &SortOrder{patterns: cfg.Patterns}, nil
}

func (s *SortOrder) Name() string { return "demographic_sort_order" }

func (s *SortOrder) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	var static, timed timeline.Timeline
	for _, e := range tl {
		if e.Time == nil {
			static = append(static, e)
		} else {
			timed = append(timed, e)
		}
	}

	sort.SliceStable(static, func(i, j int) bool {
		a, b := static[i], static[j]
		pa, pb := s.priority(a), s.priority(b)
		if pa != pb {
			return pa < pb
		}
		ta, tb := textOf(a), textOf(b)
		if ta != tb {
			return ta < tb
		}
		return a.CodeString() < b.CodeString()
	})

	return append(static, timed...), nil
}

func (s *SortOrder) priority(e models.Event) int {
	for i, p := range s.patterns {
		if e.TextValue != nil && strings.HasPrefix(*e.TextValue, p) {
			return i
		}
		if e.Code != nil && strings.HasPrefix(*e.Code, p) {
			return i
		}
	}
	return len(s.patterns)
}

func textOf(e models.Event) string {
	if e.TextValue == nil {
		return ""
	}
	return *e.TextValue
}
