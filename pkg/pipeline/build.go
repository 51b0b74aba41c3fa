package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sequelae-ai/tokenize/pkg/lookup"
	"github.com/sequelae-ai/tokenize/pkg/postprocess"
	"github.com/sequelae-ai/tokenize/pkg/preprocess"
	"github.com/sequelae-ai/tokenize/pkg/tokenizer"
)

var preprocessorTypes = map[string]struct{}{
	"quantile_bin":            {},
	"quantile_bin_3level":     {},
	"round_numeric":           {},
	"code_truncation":         {},
	"code_enrichment":         {},
	"load_static_data":        {},
	"ethos_quantile_age":      {},
	"simple_age":              {},
	"binned_age":              {},
	"decimal_age":             {},
	"demographic_aggregation": {},
}

var postprocessorTypes = map[string]struct{}{
	"time_interval":          {},
	"demographic_sort_order": {},
	"remove_numeric":         {},
}

// BuildOptions carries what a build needs beyond the spec itself:
// credentials and timeout for fetching remote lookup tables.
type BuildOptions struct {
	LookupAuth    lookup.Auth
	LookupTimeout time.Duration
}

// Build constructs an unfitted pipeline from a validated spec. Lookup
// tables referenced by enrichment and static-data stages are resolved
// here, so workers rebuild stages from the same spec the service ran.
func Build(ctx context.Context, cfg *Config, opts BuildOptions) (*Pipeline, error) {
	tok, err := tokenizer.NewWordLevel(cfg.Tokenization)
	if err != nil {
		return nil, ConfigError{reason: err}
	}

	p := &Pipeline{tokenizer: tok}
	for i := range cfg.Preprocessing {
		stage, err := buildPreprocessor(ctx, &cfg.Preprocessing[i], opts)
		if err != nil {
			return nil, err
		}
		p.pre = append(p.pre, stage)
	}
	for i := range cfg.Postprocessing {
		stage, err := buildPostprocessor(&cfg.Postprocessing[i])
		if err != nil {
			return nil, err
		}
		p.post = append(p.post, stage)
	}
	return p, nil
}

func buildPreprocessor(ctx context.Context, spec *StageSpec, opts BuildOptions) (preprocess.Stage, error) {
	switch spec.Type {
	case "quantile_bin":
		var c preprocess.QuantileBinConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewQuantileBin(c))
	case "quantile_bin_3level":
		var c preprocess.QuantileLevelsConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewQuantileLevels(c))
	case "round_numeric":
		var c preprocess.RoundNumericConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewRoundNumeric(c))
	case "code_truncation":
		var c preprocess.CodeTruncationConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewCodeTruncation(c))
	case "code_enrichment":
		var c preprocess.EnrichmentConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		if c.LookupFile == "" || c.CodeColumn == "" {
			return nil, configErrorf("code_enrichment requires lookup_file and code_column")
		}
		table, err := lookup.Resolve(ctx, c.LookupFile, c.CodeColumn, opts.LookupAuth, opts.LookupTimeout)
		if err != nil {
			return nil, fmt.Errorf("loading lookup table %s: %w", c.LookupFile, err)
		}
		return asStage(preprocess.NewEnrichment(c, table))
	case "load_static_data":
		var c preprocess.StaticDataConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		if c.CSVPath == "" || c.SubjectIDColumn == "" {
			return nil, configErrorf("load_static_data requires csv_filepath and subject_id_column")
		}
		table, err := lookup.Resolve(ctx, c.CSVPath, c.SubjectIDColumn, opts.LookupAuth, opts.LookupTimeout)
		if err != nil {
			return nil, fmt.Errorf("loading static table %s: %w", c.CSVPath, err)
		}
		return asStage(preprocess.NewStaticData(c, table))
	case "ethos_quantile_age":
		var c preprocess.EthosAgeConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewEthosAge(c))
	case "simple_age":
		var c preprocess.AgeVariantConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewSimpleAge(c))
	case "binned_age":
		var c preprocess.AgeVariantConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewBinnedAge(c))
	case "decimal_age":
		var c preprocess.AgeVariantConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewDecimalAge(c))
	case "demographic_aggregation":
		var c preprocess.DemographicsConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		return asStage(preprocess.NewDemographics(c))
	default:
		return nil, configErrorf("preprocessor %q not supported", spec.Type)
	}
}

func buildPostprocessor(spec *StageSpec) (postprocess.Stage, error) {
	switch spec.Type {
	case "time_interval":
		var c postprocess.TimeIntervalsConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		stage, err := postprocess.NewTimeIntervals(c)
		if err != nil {
			return nil, ConfigError{reason: err}
		}
		return stage, nil
	case "demographic_sort_order":
		var c postprocess.SortOrderConfig
		if err := spec.decode(&c); err != nil {
			return nil, ConfigError{reason: err}
		}
		stage, err := postprocess.NewSortOrder(c)
		if err != nil {
			return nil, ConfigError{reason: err}
		}
		return stage, nil
	case "remove_numeric":
		return postprocess.NewRemoveNumeric(), nil
	default:
		return nil, configErrorf("postprocessor %q not supported", spec.Type)
	}
}

// asStage wraps a constructor error as a ConfigError.
func asStage(stage preprocess.Stage, err error) (preprocess.Stage, error) {
	if err != nil {
		return nil, ConfigError{reason: err}
	}
	return stage, nil
}
