package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

// Source streams subject timelines. Fit reads its source twice, so
// Subjects must yield the same subjects on every call.
type Source interface {
	Subjects(ctx context.Context, fn func(tl timeline.Timeline) error) error
}

// DatasetSplits are the split directories every dataset root carries.
var DatasetSplits = []string{"train", "tuning", "held_out"}

const maxEventLineBytes = 16 * 1024 * 1024

// FileSource reads JSONL event files, one event object per line.
// Events of one subject must be contiguous; a subject split across two
// files yields two timelines, matching the per-file grouping of the
// dataset layout.
type FileSource struct {
	paths []string
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

func (s *FileSource) Subjects(ctx context.Context, fn func(tl timeline.Timeline) error) error {
	for _, path := range s.paths {
		if err := s.scanFile(ctx, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSource) scanFile(ctx context.Context, path string, fn func(tl timeline.Timeline) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	flush := func(tl timeline.Timeline) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(tl.Sorted())
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)

	var current timeline.Timeline
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e models.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if len(current) > 0 && current.SubjectID() != e.SubjectID {
			if err := flush(current); err != nil {
				return err
			}
			current = nil
		}
		current = append(current, e)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(current) > 0 {
		return flush(current)
	}
	return nil
}

// Dataset is a discovered on-disk dataset root with one file list per
// split.
type Dataset struct {
	Root   string
	Splits map[string][]string
}

// DiscoverDataset locates the split directories under root and their
// JSONL files, sorted by name. Every split must exist and hold at
// least one file.
func DiscoverDataset(root string) (*Dataset, error) {
	ds := &Dataset{Root: root, Splits: make(map[string][]string, len(DatasetSplits))}
	for _, split := range DatasetSplits {
		dir := filepath.Join(root, split)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, ConfigError{reason: fmt.Errorf("dataset split %s: %w", split, err)}
		}
		var files []string
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".jsonl") {
				continue
			}
			files = append(files, filepath.Join(dir, ent.Name()))
		}
		if len(files) == 0 {
			return nil, configErrorf("dataset split %s has no .jsonl files", split)
		}
		sort.Strings(files)
		ds.Splits[split] = files
	}
	return ds, nil
}

// Source returns a file source over one split's files.
func (d *Dataset) Source(split string) *FileSource {
	return NewFileSource(d.Splits[split]...)
}
