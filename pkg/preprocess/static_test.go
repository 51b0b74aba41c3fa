package preprocess

import (
	"strings"
	"testing"

	"github.com/sequelae-ai/tokenize/pkg/lookup"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

const staticCSV = `subject_id,gender,marital_status
s1, female ,Married
s2,M,bogus
s3,,single
`

func staticTable(t *testing.T) *lookup.Table {
	t.Helper()
	table, err := lookup.Read(strings.NewReader(staticCSV), "subject_id")
	if err != nil {
		t.Fatalf("Read table failed: %v", err)
	}
	return table
}

func staticConfig() StaticDataConfig {
	return StaticDataConfig{
		SubjectIDColumn: "subject_id",
		Columns: []StaticColumnConfig{
			{
				Name:          "gender",
				CodeTemplate:  "DEMOGRAPHICS//GENDER",
				ValuePrefix:   "GENDER//",
				Mappings:      map[string]string{"M": "MALE", "F": "FEMALE"},
				ValidValues:   []string{"MALE", "FEMALE"},
				MapInvalidsTo: "OTHER",
			},
			{
				Name:         "marital_status",
				CodeTemplate: "DEMOGRAPHICS//MARITAL",
				ValuePrefix:  "MARITAL//",
				Mappings:     map[string]string{"MARRIED": "MARRIED", "SINGLE": "SINGLE"},
				ValidValues:  []string{"MARRIED", "SINGLE"},
			},
		},
	}
}

func TestStaticInjectionAtFront(t *testing.T) {
	stage, err := NewStaticData(staticConfig(), staticTable(t))
	if err != nil {
		t.Fatalf("NewStaticData failed: %v", err)
	}

	visit := labEvent("s1", "VISIT//OUTPATIENT", 1, 0)
	out, err := stage.Apply(timeline.Timeline{visit})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(out) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(out))
	}
	// Injected statics come first, in column order, then the original events.
	if out[0].CodeString() != "DEMOGRAPHICS//GENDER" || *out[0].TextValue != "GENDER//FEMALE" {
		t.Errorf("First event = %s/%v", out[0].CodeString(), *out[0].TextValue)
	}
	if out[1].CodeString() != "DEMOGRAPHICS//MARITAL" || *out[1].TextValue != "MARITAL//MARRIED" {
		t.Errorf("Second event = %s/%v", out[1].CodeString(), *out[1].TextValue)
	}
	if out[2].CodeString() != "VISIT//OUTPATIENT" {
		t.Errorf("Original event must follow the injected statics, got %s", out[2].CodeString())
	}
	if out[0].Time != nil {
		t.Error("Injected statics must have no timestamp")
	}
}

func TestStaticNormalizationAndMapping(t *testing.T) {
	stage, err := NewStaticData(staticConfig(), staticTable(t))
	if err != nil {
		t.Fatalf("NewStaticData failed: %v", err)
	}

	// s2: "M" maps to MALE, "bogus" fails the allow-list.
	out, err := stage.Apply(timeline.Timeline{labEvent("s2", "VISIT//ER", 1, 0)})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if *out[0].TextValue != "GENDER//MALE" {
		t.Errorf("Gender = %q, want GENDER//MALE", *out[0].TextValue)
	}
	if *out[1].TextValue != "MARITAL//UNKNOWN" {
		t.Errorf("Marital = %q, want MARITAL//UNKNOWN", *out[1].TextValue)
	}
}

func TestStaticEmptyCellUsesDefault(t *testing.T) {
	stage, err := NewStaticData(staticConfig(), staticTable(t))
	if err != nil {
		t.Fatalf("NewStaticData failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{labEvent("s3", "VISIT//ER", 1, 0)})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if *out[0].TextValue != "GENDER//OTHER" {
		t.Errorf("Empty gender cell = %q, want GENDER//OTHER", *out[0].TextValue)
	}
	if *out[1].TextValue != "MARITAL//SINGLE" {
		t.Errorf("Marital = %q, want MARITAL//SINGLE", *out[1].TextValue)
	}
}

func TestStaticMissingSubjectGetsDefaults(t *testing.T) {
	stage, err := NewStaticData(staticConfig(), staticTable(t))
	if err != nil {
		t.Fatalf("NewStaticData failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{labEvent("s999", "VISIT//ER", 1, 0)})
	if err != nil {
		t.Fatalf("Missing subject must not fail the timeline: %v", err)
	}

	if len(out) != 3 {
		t.Fatalf("Expected one event per column plus the original, got %d", len(out))
	}
	if *out[0].TextValue != "GENDER//OTHER" {
		t.Errorf("Gender default = %q, want GENDER//OTHER", *out[0].TextValue)
	}
	if *out[1].TextValue != "MARITAL//UNKNOWN" {
		t.Errorf("Marital default = %q, want MARITAL//UNKNOWN", *out[1].TextValue)
	}
}

func TestStaticInsertCodeFalse(t *testing.T) {
	cfg := staticConfig()
	insert := false
	cfg.Columns[0].InsertCode = &insert
	cfg.Columns[0].CodeTemplate = ""

	stage, err := NewStaticData(cfg, staticTable(t))
	if err != nil {
		t.Fatalf("NewStaticData failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{labEvent("s1", "VISIT//ER", 1, 0)})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out[0].Code != nil {
		t.Errorf("insert_code=false must leave the code null, got %q", *out[0].Code)
	}
	if *out[0].TextValue != "GENDER//FEMALE" {
		t.Errorf("Text = %q, want GENDER//FEMALE", *out[0].TextValue)
	}
}

func TestStaticEmptyTimelineNoOp(t *testing.T) {
	stage, err := NewStaticData(staticConfig(), staticTable(t))
	if err != nil {
		t.Fatalf("NewStaticData failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Empty timeline must stay empty, got %d events", len(out))
	}
}

func TestStaticConfigErrors(t *testing.T) {
	table := staticTable(t)

	cfg := staticConfig()
	cfg.Columns[0].Name = "eye_color"
	if _, err := NewStaticData(cfg, table); err == nil {
		t.Error("Expected error for column missing from the table")
	}

	cfg = staticConfig()
	cfg.Columns[1].CodeTemplate = ""
	if _, err := NewStaticData(cfg, table); err == nil {
		t.Error("Expected error for missing code template with insert_code")
	}

	if _, err := NewStaticData(StaticDataConfig{SubjectIDColumn: "subject_id"}, table); err == nil {
		t.Error("Expected error for empty column list")
	}
}
