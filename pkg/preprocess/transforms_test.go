package preprocess

import (
	"testing"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

func TestRoundNumeric(t *testing.T) {
	stage, err := NewRoundNumeric(RoundNumericConfig{Config: prefixConfig("LAB//")})
	if err != nil {
		t.Fatalf("NewRoundNumeric failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{
		labEvent("s1", "LAB//GLUCOSE", 5.26, 0),
		labEvent("s1", "RX//ASPIRIN", 81.49, 1),
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if *out[0].NumericValue != 5.3 {
		t.Errorf("Rounded value = %v, want 5.3", *out[0].NumericValue)
	}
	if out[0].TextValue != nil {
		t.Error("Rounding a numeric column must clear the text value")
	}
	if *out[1].NumericValue != 81.49 {
		t.Error("Non-matching event must keep its value")
	}
}

func TestRoundNumericTextColumn(t *testing.T) {
	two := 2
	stage, err := NewRoundNumeric(RoundNumericConfig{
		Config:      prefixConfig("VITAL//"),
		Decimals:    &two,
		ValueColumn: ColumnText,
	})
	if err != nil {
		t.Fatalf("NewRoundNumeric failed: %v", err)
	}

	in := models.Event{SubjectID: "s1", Code: models.String("VITAL//TEMP"), TextValue: models.String("36.6667"), Time: day(0)}
	out, err := stage.Apply(timeline.Timeline{in})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if *out[0].TextValue != "36.67" {
		t.Errorf("Rounded text = %q, want 36.67", *out[0].TextValue)
	}
	if out[0].NumericValue != nil {
		t.Error("Rounding a text column must clear the numeric value")
	}
}

func TestCodeTruncation(t *testing.T) {
	stage, err := NewCodeTruncation(CodeTruncationConfig{Config: prefixConfig("LAB//")})
	if err != nil {
		t.Fatalf("NewCodeTruncation failed: %v", err)
	}

	out, err := stage.Apply(timeline.Timeline{
		labEvent("s1", "LAB//GLUCOSE//mg/dL//serum", 5, 0),
		labEvent("s1", "LAB//SODIUM", 140, 1),
		labEvent("s1", "RX//ASPIRIN//81mg", 1, 2),
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := []string{"LAB//GLUCOSE", "LAB//SODIUM", "RX//ASPIRIN//81mg"}
	if got := codesOf(out); got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("Codes = %v, want %v", got, want)
	}
}
