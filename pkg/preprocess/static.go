package preprocess

import (
	"fmt"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/lookup"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

const defaultInvalidValue = "UNKNOWN"

type StaticColumnConfig struct {
	Name          string            `yaml:"column_name"`
	CodeTemplate  string            `yaml:"code_template"`
	ValuePrefix   string            `yaml:"value_prefix"`
	InsertCode    *bool             `yaml:"insert_code"`
	Mappings      map[string]string `yaml:"mappings"`
	ValidValues   []string          `yaml:"valid_values"`
	MapInvalidsTo string            `yaml:"map_invalids_to"`
}

type StaticDataConfig struct {
	CSVPath         string               `yaml:"csv_filepath"`
	SubjectIDColumn string               `yaml:"subject_id_column"`
	Columns         []StaticColumnConfig `yaml:"columns"`
}

type staticColumn struct {
	name        string
	code        *string
	valuePrefix string
	mappings    map[string]string
	valid       map[string]bool
	defaultTo   string
}

// clean normalizes a raw cell: trim and uppercase, apply the mapping
// table, then fall back to the invalid default when the result is not an
// allowed value. Empty cells take the default directly.
func (c staticColumn) clean(raw string) string {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if v == "" {
		return c.defaultTo
	}
	if mapped, ok := c.mappings[v]; ok {
		v = mapped
	}
	if c.valid != nil && !c.valid[v] {
		return c.defaultTo
	}
	return v
}

// StaticData injects one event per configured column at the head of each
// timeline, in column order. Subjects absent from the table get the
// invalid default for every column rather than failing the subject.
type StaticData struct {
	columns  []staticColumn
	subjects map[string][]string
	defaults []string
}

func NewStaticData(cfg StaticDataConfig, table *lookup.Table) (*StaticData, error) {
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("static data requires at least one column")
	}

	columns := make([]staticColumn, 0, len(cfg.Columns))
	for _, c := range cfg.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("static column name is required")
		}
		if !table.HasColumn(c.Name) {
			return nil, fmt.Errorf("column %q not found in static data table", c.Name)
		}

		insert := true
		if c.InsertCode != nil {
			insert = *c.InsertCode
		}
		if insert && c.CodeTemplate == "" {
			return nil, fmt.Errorf("code template is required for column %q", c.Name)
		}

		col := staticColumn{
			name:        c.Name,
			valuePrefix: c.ValuePrefix,
			mappings:    c.Mappings,
			defaultTo:   c.MapInvalidsTo,
		}
		if col.defaultTo == "" {
			col.defaultTo = defaultInvalidValue
		}
		if insert {
			col.code = models.String(c.CodeTemplate)
		}
		if len(c.ValidValues) > 0 {
			col.valid = make(map[string]bool, len(c.ValidValues))
			for _, v := range c.ValidValues {
				col.valid[v] = true
			}
		}
		columns = append(columns, col)
	}

	s := &StaticData{
		columns:  columns,
		subjects: make(map[string][]string, table.Len()),
		defaults: make([]string, len(columns)),
	}
	for i, col := range columns {
		s.defaults[i] = col.defaultTo
	}
	table.Each(func(subject string, row map[string]string) {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = col.clean(row[col.name])
		}
		s.subjects[subject] = values
	})

	return s, nil
}

func (s *StaticData) Name() string { return "load_static_data" }

func (s *StaticData) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	if len(tl) == 0 {
		return tl, nil
	}
	subject := tl.SubjectID()

	values, ok := s.subjects[subject]
	if !ok {
		metrics.RecordStaticDefault()
		logger.WithComponent("load_static_data").WithField("subject_id", subject).Warn("Subject missing from static data, using defaults")
		values = s.defaults
	}

	events := make(timeline.Timeline, 0, len(s.columns)+len(tl))
	for i, col := range s.columns {
		events = append(events, models.Event{
			SubjectID: subject,
			Code:      col.code,
			TextValue: models.String(col.valuePrefix + values[i]),
		})
	}
	return append(events, tl...), nil
}
