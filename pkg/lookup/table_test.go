package lookup

import (
	"strings"
	"testing"
)

const sampleCSV = `code,description,system,active
LAB//GLUCOSE,Blood glucose,LOINC,true
LAB//HBA1C,Hemoglobin A1c,LOINC,true
RX//ASPIRIN,Aspirin 81mg,RXNORM,false
`

func TestReadAndLookup(t *testing.T) {
	table, err := Read(strings.NewReader(sampleCSV), "code")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if table.Len() != 3 {
		t.Errorf("Len = %d, want 3", table.Len())
	}

	row, ok := table.Lookup("LAB//HBA1C")
	if !ok {
		t.Fatal("Expected LAB//HBA1C to resolve")
	}
	if row["description"] != "Hemoglobin A1c" {
		t.Errorf("description = %q, want Hemoglobin A1c", row["description"])
	}
	if row["system"] != "LOINC" {
		t.Errorf("system = %q, want LOINC", row["system"])
	}

	if _, ok := table.Lookup("LAB//SODIUM"); ok {
		t.Error("Unknown key must not resolve")
	}
}

func TestMissingKeyColumn(t *testing.T) {
	if _, err := Read(strings.NewReader(sampleCSV), "concept_id"); err == nil {
		t.Error("Expected error for absent key column")
	}
}

func TestDuplicateKeysKeepFirst(t *testing.T) {
	csv := "code,description\nA,first\nA,second\n"
	table, err := Read(strings.NewReader(csv), "code")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
	if v, _ := table.Value("A", "description"); v != "first" {
		t.Errorf("Value = %q, want first", v)
	}
}

func TestFilter(t *testing.T) {
	table, err := Read(strings.NewReader(sampleCSV), "code")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	active, err := table.Filter("active", "true")
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if active.Len() != 2 {
		t.Errorf("Filtered Len = %d, want 2", active.Len())
	}
	if _, ok := active.Lookup("RX//ASPIRIN"); ok {
		t.Error("Inactive row must be filtered out")
	}

	if _, err := table.Filter("missing", "x"); err == nil {
		t.Error("Expected error for unknown filter column")
	}
}

func TestEachVisitsAllRows(t *testing.T) {
	table, err := Read(strings.NewReader(sampleCSV), "code")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	seen := map[string]bool{}
	table.Each(func(key string, row map[string]string) {
		seen[key] = true
	})
	if len(seen) != 3 {
		t.Errorf("Each visited %d rows, want 3", len(seen))
	}
}

func TestHasColumn(t *testing.T) {
	table, err := Read(strings.NewReader(sampleCSV), "code")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if !table.HasColumn("system") {
		t.Error("Expected system column to exist")
	}
	if table.HasColumn("concept_id") {
		t.Error("Did not expect concept_id column")
	}
}
