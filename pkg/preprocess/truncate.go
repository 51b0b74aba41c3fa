package preprocess

import (
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/match"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type CodeTruncationConfig struct {
	match.Config `yaml:",inline"`
}

// CodeTruncation keeps only the first two segments of matching structured
// codes, e.g. LAB//GLUCOSE//mg/dL becomes LAB//GLUCOSE. Codes without a
// separator pass through unchanged.
type CodeTruncation struct {
	sel match.Selector
}

func NewCodeTruncation(cfg CodeTruncationConfig) (*CodeTruncation, error) {
	sel, err := cfg.Selector()
	if err != nil {
		return nil, err
	}
	return &CodeTruncation{sel: sel}, nil
}

func (s *CodeTruncation) Name() string { return "code_truncation" }

func (s *CodeTruncation) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	out := make(timeline.Timeline, 0, len(tl))
	for _, e := range tl {
		if !s.sel.Matches(e.Code) {
			out = append(out, e)
			continue
		}
		parts := strings.SplitN(*e.Code, "//", 3)
		if len(parts) > 2 {
			e.Code = models.String(parts[0] + "//" + parts[1])
		}
		out = append(out, e)
	}
	return out, nil
}
