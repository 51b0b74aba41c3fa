package preprocess

import (
	"strings"
	"testing"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/lookup"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

const enrichCSV = `concept_id,description,system
E11,Type 2 diabetes mellitus,ICD10
4548-4,Hemoglobin A1c,LOINC
I10,Essential hypertension,ICD10
`

func enrichTable(t *testing.T) *lookup.Table {
	t.Helper()
	table, err := lookup.Read(strings.NewReader(enrichCSV), "concept_id")
	if err != nil {
		t.Fatalf("Read table failed: %v", err)
	}
	return table
}

func TestEnrichmentReplacesCode(t *testing.T) {
	stage, err := NewEnrichment(EnrichmentConfig{
		Config:     prefixConfig("DIAGNOSIS//"),
		Template:   "{description} [{system}]",
		CodeColumn: "concept_id",
	}, enrichTable(t))
	if err != nil {
		t.Fatalf("NewEnrichment failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{
		{SubjectID: "s1", Code: models.String("DIAGNOSIS//ICD//10//E11"), Time: day(0)},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := out[0].CodeString(); got != "Type 2 diabetes mellitus [ICD10]" {
		t.Errorf("Enriched code = %q", got)
	}
}

func TestEnrichmentKeyExtraction(t *testing.T) {
	stage, err := NewEnrichment(EnrichmentConfig{
		Config:     prefixConfig("LAB//", "DIAGNOSIS//", "I10"),
		Template:   "{description}",
		CodeColumn: "concept_id",
	}, enrichTable(t))
	if err != nil {
		t.Fatalf("NewEnrichment failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{
		// Second segment carries the id for generic structured codes.
		{SubjectID: "s1", Code: models.String("LAB//4548-4//mg/dL"), Time: day(0)},
		// ICD diagnoses carry the id in the fourth segment.
		{SubjectID: "s1", Code: models.String("DIAGNOSIS//ICD//10//E11"), Time: day(1)},
		// A bare code is used whole.
		{SubjectID: "s1", Code: models.String("I10"), Time: day(2)},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := []string{"Hemoglobin A1c", "Type 2 diabetes mellitus", "Essential hypertension"}
	for i, w := range want {
		if got := out[i].CodeString(); got != w {
			t.Errorf("Event %d code = %q, want %q", i, got, w)
		}
	}
}

func TestEnrichmentMissLeavesEventUnchanged(t *testing.T) {
	stage, err := NewEnrichment(EnrichmentConfig{
		Config:     prefixConfig("DIAGNOSIS//"),
		Template:   "{description}",
		CodeColumn: "concept_id",
	}, enrichTable(t))
	if err != nil {
		t.Fatalf("NewEnrichment failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{
		{SubjectID: "s1", Code: models.String("DIAGNOSIS//ICD//10//Z99"), Time: day(0)},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := out[0].CodeString(); got != "DIAGNOSIS//ICD//10//Z99" {
		t.Errorf("Missed lookup must keep the original code, got %q", got)
	}
}

func TestEnrichmentAdditionalFilters(t *testing.T) {
	stage, err := NewEnrichment(EnrichmentConfig{
		Config:            prefixConfig("LAB//"),
		Template:          "{description}",
		CodeColumn:        "concept_id",
		AdditionalFilters: map[string]string{"system": "ICD10"},
	}, enrichTable(t))
	if err != nil {
		t.Fatalf("NewEnrichment failed: %v", err)
	}

	// The LOINC row is filtered out of the cache, so this lookup misses.
	out, err := stage.Apply(timeline.Timeline{
		{SubjectID: "s1", Code: models.String("LAB//4548-4"), Time: day(0)},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := out[0].CodeString(); got != "LAB//4548-4" {
		t.Errorf("Filtered-out row must behave as a miss, got %q", got)
	}
}

func TestEnrichmentConfigErrors(t *testing.T) {
	table := enrichTable(t)

	if _, err := NewEnrichment(EnrichmentConfig{
		Config:     prefixConfig("LAB//"),
		Template:   "{nonexistent_column}",
		CodeColumn: "concept_id",
	}, table); err == nil {
		t.Error("Expected error for unknown template placeholder")
	}

	if _, err := NewEnrichment(EnrichmentConfig{
		Config:     prefixConfig("LAB//"),
		CodeColumn: "concept_id",
	}, table); err == nil {
		t.Error("Expected error for missing template")
	}

	if _, err := NewEnrichment(EnrichmentConfig{
		Config:     prefixConfig("LAB//"),
		Template:   "no placeholders here",
		CodeColumn: "concept_id",
	}, table); err == nil {
		t.Error("Expected error for template without placeholders")
	}

	if _, err := NewEnrichment(EnrichmentConfig{
		Config:            prefixConfig("LAB//"),
		Template:          "{description}",
		CodeColumn:        "concept_id",
		AdditionalFilters: map[string]string{"bogus": "x"},
	}, table); err == nil {
		t.Error("Expected error for unknown filter column")
	}
}
