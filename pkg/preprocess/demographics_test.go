package preprocess

import (
	"testing"

	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

func weightConfig() DemographicsConfig {
	return DemographicsConfig{Measurements: []MeasurementConfig{
		{
			TokenPattern: "WEIGHT//",
			Aggregation:  "mean",
			NumBins:      2,
			TokenPrefix:  "WEIGHT//",
		},
	}}
}

func weightCorpus() []timeline.Timeline {
	return []timeline.Timeline{
		{labEvent("s1", "WEIGHT//KG", 50, 0), labEvent("s1", "WEIGHT//KG", 70, 1)}, // mean 60
		{labEvent("s2", "WEIGHT//KG", 70, 0)},
		{labEvent("s3", "WEIGHT//KG", 80, 0)},
		{labEvent("s4", "WEIGHT//KG", 90, 0)},
	}
}

func TestDemographicsBinsSubjectAggregate(t *testing.T) {
	stage, err := NewDemographics(weightConfig())
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	fitStage(t, stage, weightCorpus()...)

	out, err := stage.Apply(weightCorpus()[0])
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Expected summary plus originals, got %d events", len(out))
	}
	if out[0].CodeString() != "WEIGHT" || *out[0].TextValue != "WEIGHT//Q0" {
		t.Errorf("Summary = %s/%s, want WEIGHT/WEIGHT//Q0", out[0].CodeString(), *out[0].TextValue)
	}
	if out[0].Time != nil {
		t.Error("Summary event must be static")
	}

	high, err := stage.Apply(weightCorpus()[3])
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if *high[0].TextValue != "WEIGHT//Q1" {
		t.Errorf("Heavy subject label = %s, want WEIGHT//Q1", *high[0].TextValue)
	}
}

func TestDemographicsRemoveOriginalTokens(t *testing.T) {
	cfg := weightConfig()
	cfg.Measurements[0].RemoveOriginal = true

	stage, err := NewDemographics(cfg)
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	fitStage(t, stage, weightCorpus()...)

	input := timeline.Timeline{
		labEvent("s1", "WEIGHT//KG", 50, 0),
		labEvent("s1", "VISIT//ER", 1, 1),
		labEvent("s1", "WEIGHT//KG", 70, 2),
	}
	out, err := stage.Apply(input)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("Expected summary plus visit, got %v", codesOf(out))
	}
	if *out[0].TextValue != "WEIGHT//Q0" {
		t.Errorf("Summary = %s", *out[0].TextValue)
	}
	if out[1].CodeString() != "VISIT//ER" {
		t.Errorf("Non-matching event must survive removal, got %s", out[1].CodeString())
	}
}

func TestDemographicsNoMatchesSkips(t *testing.T) {
	stage, err := NewDemographics(weightConfig())
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	fitStage(t, stage, weightCorpus()...)

	input := timeline.Timeline{labEvent("s9", "VISIT//ER", 1, 0)}
	out, err := stage.Apply(input)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out) != 1 || out[0].CodeString() != "VISIT//ER" {
		t.Error("Subject without matching events must pass through unchanged")
	}
}

func TestDemographicsCustomBinLabels(t *testing.T) {
	cfg := weightConfig()
	cfg.Measurements[0].BinLabels = []string{"light", "heavy"}

	stage, err := NewDemographics(cfg)
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	fitStage(t, stage, weightCorpus()...)

	out, err := stage.Apply(weightCorpus()[3])
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if *out[0].TextValue != "WEIGHT//heavy" {
		t.Errorf("Label = %s, want WEIGHT//heavy", *out[0].TextValue)
	}
}

func TestDemographicsInsertCodeFalse(t *testing.T) {
	cfg := weightConfig()
	off := false
	cfg.Measurements[0].InsertCode = &off

	stage, err := NewDemographics(cfg)
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	fitStage(t, stage, weightCorpus()...)

	out, err := stage.Apply(weightCorpus()[0])
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out[0].Code != nil {
		t.Errorf("Summary code must be null when disabled, got %q", *out[0].Code)
	}
}

func TestDemographicsUnfittedMeasurementSkips(t *testing.T) {
	cfg := weightConfig()
	cfg.Measurements = append(cfg.Measurements, MeasurementConfig{
		TokenPattern: "HEIGHT//",
		Aggregation:  "max",
		NumBins:      2,
		TokenPrefix:  "HEIGHT//",
	})

	stage, err := NewDemographics(cfg)
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	// Corpus has weights only; the height measurement ends up unfitted.
	fitStage(t, stage, weightCorpus()...)

	input := timeline.Timeline{
		labEvent("s1", "WEIGHT//KG", 60, 0),
		labEvent("s1", "HEIGHT//CM", 180, 1),
	}
	out, err := stage.Apply(input)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	for _, e := range out {
		if e.TextValue != nil && *e.TextValue == "HEIGHT//Q0" {
			t.Error("Unfitted measurement must not emit a summary")
		}
	}
	if *out[0].TextValue != "WEIGHT//Q0" {
		t.Errorf("Fitted measurement must still emit, got %s", *out[0].TextValue)
	}
}

func TestDemographicsSnapshotRestore(t *testing.T) {
	stage, err := NewDemographics(weightConfig())
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	fitStage(t, stage, weightCorpus()...)

	state, err := stage.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	restored, err := NewDemographics(weightConfig())
	if err != nil {
		t.Fatalf("NewDemographics failed: %v", err)
	}
	if err := restored.Restore(state); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	out, err := restored.Apply(weightCorpus()[3])
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if *out[0].TextValue != "WEIGHT//Q1" {
		t.Errorf("Restored label = %s, want WEIGHT//Q1", *out[0].TextValue)
	}
}

func TestDemographicsConfigErrors(t *testing.T) {
	if _, err := NewDemographics(DemographicsConfig{}); err == nil {
		t.Error("Expected error for empty measurement list")
	}

	bad := weightConfig()
	bad.Measurements[0].Aggregation = "mode"
	if _, err := NewDemographics(bad); err == nil {
		t.Error("Expected error for unknown aggregation")
	}

	bad = weightConfig()
	bad.Measurements[0].NumBins = 1
	if _, err := NewDemographics(bad); err == nil {
		t.Error("Expected error for num_bins below 2")
	}

	bad = weightConfig()
	bad.Measurements[0].BinLabels = []string{"only-one"}
	if _, err := NewDemographics(bad); err == nil {
		t.Error("Expected error for bin_labels count mismatch")
	}
}
