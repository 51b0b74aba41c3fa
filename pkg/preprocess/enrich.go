package preprocess

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/lookup"
	"github.com/sequelae-ai/tokenize/pkg/match"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type EnrichmentConfig struct {
	match.Config      `yaml:",inline"`
	LookupFile        string            `yaml:"lookup_file"`
	Template          string            `yaml:"template"`
	CodeColumn        string            `yaml:"code_column"`
	AdditionalFilters map[string]string `yaml:"additional_filters"`
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Enrichment rewrites matching event codes using a template rendered from
// lookup-table columns. The full cache is rendered once at construction
// and never written afterwards; codes with no row pass through unchanged.
type Enrichment struct {
	sel   match.Selector
	cache map[string]string
}

func NewEnrichment(cfg EnrichmentConfig, table *lookup.Table) (*Enrichment, error) {
	sel, err := cfg.Selector()
	if err != nil {
		return nil, err
	}
	if cfg.Template == "" {
		return nil, fmt.Errorf("enrichment template is required")
	}
	if cfg.CodeColumn == "" {
		return nil, fmt.Errorf("enrichment code column is required")
	}

	placeholders := placeholderPattern.FindAllStringSubmatch(cfg.Template, -1)
	if len(placeholders) == 0 {
		return nil, fmt.Errorf("enrichment template %q has no placeholders", cfg.Template)
	}
	for _, m := range placeholders {
		if !table.HasColumn(m[1]) {
			return nil, fmt.Errorf("template placeholder %q not found in lookup table", m[1])
		}
	}

	for column, value := range cfg.AdditionalFilters {
		table, err = table.Filter(column, value)
		if err != nil {
			return nil, err
		}
	}

	cache := make(map[string]string, table.Len())
	table.Each(func(key string, row map[string]string) {
		cache[key] = renderTemplate(cfg.Template, row)
	})

	logger.WithComponent("code_enrichment").WithField("entries", len(cache)).Debug("Rendered enrichment cache")
	return &Enrichment{sel: sel, cache: cache}, nil
}

func (s *Enrichment) Name() string { return "code_enrichment" }

func (s *Enrichment) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	out := make(timeline.Timeline, 0, len(tl))
	for _, e := range tl {
		if !s.sel.Matches(e.Code) {
			out = append(out, e)
			continue
		}
		enriched, ok := s.cache[extractCodeID(*e.Code)]
		if !ok {
			metrics.RecordLookupMiss()
			logger.WithComponent("code_enrichment").WithField("code", *e.Code).Debug("No lookup row for code")
			out = append(out, e)
			continue
		}
		e.Code = models.String(enriched)
		out = append(out, e)
	}
	return out, nil
}

func renderTemplate(template string, row map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(ph string) string {
		return row[ph[1:len(ph)-1]]
	})
}

// extractCodeID pulls the lookup key out of a structured code. Plain
// codes are used whole; ICD diagnosis codes carry their id in the fourth
// segment, other structured codes in the second.
func extractCodeID(code string) string {
	if !strings.Contains(code, "//") {
		return code
	}
	parts := strings.Split(code, "//")
	if strings.HasPrefix(code, "DIAGNOSIS//ICD//") && len(parts) >= 4 {
		return parts[3]
	}
	return parts[1]
}
