package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

func writeJSONL(t *testing.T, path string, events []models.Event) {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func collect(t *testing.T, src Source) []timeline.Timeline {
	t.Helper()
	var out []timeline.Timeline
	err := src.Subjects(context.Background(), func(tl timeline.Timeline) error {
		out = append(out, tl)
		return nil
	})
	if err != nil {
		t.Fatalf("Subjects failed: %v", err)
	}
	return out
}

func TestFileSourceGroupsSubjects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.jsonl")
	writeJSONL(t, path, []models.Event{
		labAt("s1", "LAB//A", 1, 2),
		{SubjectID: "s1", Code: models.String("GENDER//F")},
		labAt("s1", "LAB//A", 2, 0),
		labAt("s2", "LAB//A", 3, 0),
	})

	subjects := collect(t, NewFileSource(path))
	if len(subjects) != 2 {
		t.Fatalf("Expected 2 subjects, got %d", len(subjects))
	}

	s1 := subjects[0]
	if s1.SubjectID() != "s1" || len(s1) != 3 {
		t.Fatalf("First subject = %s with %d events", s1.SubjectID(), len(s1))
	}
	// Timelines come back normalized: statics first, then time order.
	if s1[0].Time != nil {
		t.Error("Static event must lead the timeline")
	}
	if !s1[1].Time.Before(*s1[2].Time) {
		t.Error("Timed events must be in chronological order")
	}
	if subjects[1].SubjectID() != "s2" {
		t.Errorf("Second subject = %s", subjects[1].SubjectID())
	}
}

func TestFileSourceSplitsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "0.jsonl")
	second := filepath.Join(dir, "1.jsonl")
	writeJSONL(t, first, []models.Event{labAt("s1", "LAB//A", 1, 0)})
	writeJSONL(t, second, []models.Event{labAt("s1", "LAB//A", 2, 1)})

	subjects := collect(t, NewFileSource(first, second))
	if len(subjects) != 2 {
		t.Fatalf("A subject spanning two files must yield two timelines, got %d", len(subjects))
	}
}

func TestFileSourceRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.jsonl")
	if err := os.WriteFile(path, []byte("{\"subject_id\": \"s1\"}\n{bad\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	err := NewFileSource(path).Subjects(context.Background(), func(tl timeline.Timeline) error {
		return nil
	})
	if err == nil {
		t.Fatal("Expected error for malformed line")
	}
}

func TestDiscoverDataset(t *testing.T) {
	root := t.TempDir()
	for _, split := range DatasetSplits {
		if err := os.MkdirAll(filepath.Join(root, split), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
	}
	writeJSONL(t, filepath.Join(root, "train", "b.jsonl"), []models.Event{labAt("s1", "LAB//A", 1, 0)})
	writeJSONL(t, filepath.Join(root, "train", "a.jsonl"), []models.Event{labAt("s2", "LAB//A", 2, 0)})
	writeJSONL(t, filepath.Join(root, "tuning", "0.jsonl"), []models.Event{labAt("s3", "LAB//A", 3, 0)})
	writeJSONL(t, filepath.Join(root, "held_out", "0.jsonl"), []models.Event{labAt("s4", "LAB//A", 4, 0)})
	if err := os.WriteFile(filepath.Join(root, "train", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ds, err := DiscoverDataset(root)
	if err != nil {
		t.Fatalf("DiscoverDataset failed: %v", err)
	}
	train := ds.Splits["train"]
	if len(train) != 2 {
		t.Fatalf("Expected 2 train files, got %d", len(train))
	}
	if filepath.Base(train[0]) != "a.jsonl" || filepath.Base(train[1]) != "b.jsonl" {
		t.Errorf("Train files must sort by name: %v", train)
	}

	subjects := collect(t, ds.Source("tuning"))
	if len(subjects) != 1 || subjects[0].SubjectID() != "s3" {
		t.Errorf("Tuning split subjects = %d", len(subjects))
	}
}

func TestDiscoverDatasetMissingSplit(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "train"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	writeJSONL(t, filepath.Join(root, "train", "0.jsonl"), []models.Event{labAt("s1", "LAB//A", 1, 0)})

	_, err := DiscoverDataset(root)
	if err == nil || !IsConfigError(err) {
		t.Errorf("Expected config error for missing split, got %v", err)
	}

	// A split directory with no data files is rejected too.
	for _, split := range DatasetSplits {
		if err := os.MkdirAll(filepath.Join(root, split), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
	}
	_, err = DiscoverDataset(root)
	if err == nil || !IsConfigError(err) {
		t.Errorf("Expected config error for empty split, got %v", err)
	}
}
