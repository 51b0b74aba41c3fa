package tokenizer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

const (
	UnknownToken = "<unknown>"
	UnknownID    = 0

	eventOpen    = "<event>"
	eventClose   = "</event>"
	numericOpen  = "<numeric>"
	numericClose = "</numeric>"
	textOpen     = "<text>"
	textClose    = "</text>"
)

// ErrNotBuilt is returned by Encode and Decode before the vocabulary has
// been built or restored.
var ErrNotBuilt = errors.New("tokenizer: vocabulary not built")

// Config mirrors the tokenization block of a pipeline spec. The insert
// flags default to true when omitted.
type Config struct {
	Tokenizer           string `yaml:"tokenizer"`
	VocabSize           int    `yaml:"vocab_size"`
	InsertEventTokens   *bool  `yaml:"insert_event_tokens"`
	InsertNumericTokens *bool  `yaml:"insert_numeric_tokens"`
	InsertTextTokens    *bool  `yaml:"insert_text_tokens"`
}

// VocabEntry is one row of the learned vocabulary.
type VocabEntry struct {
	ID    int    `json:"token"`
	Text  string `json:"str"`
	Count int64  `json:"count"`
}

// Rendered is a subject timeline flattened to word tokens, one relative
// timestamp per token in seconds since the subject's first timed event.
// Tokens from events without a timestamp carry 0.
type Rendered struct {
	Tokens     []string
	Timestamps []float64
}

// WordLevel splits every rendered event string on whitespace and learns
// a frequency-ranked vocabulary capped at vocab_size. Id 0 is always
// <unknown>; its count is the total mass of tokens the cap excluded.
type WordLevel struct {
	vocabSize     int
	insertEvent   bool
	insertNumeric bool
	insertText    bool

	counts map[string]int64
	vocab  []VocabEntry
	ids    map[string]int
}

func NewWordLevel(cfg Config) (*WordLevel, error) {
	if cfg.Tokenizer != "" && cfg.Tokenizer != "word_level" {
		return nil, fmt.Errorf("unsupported tokenizer %q", cfg.Tokenizer)
	}
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("tokenization requires a positive vocab_size")
	}
	return &WordLevel{
		vocabSize:     cfg.VocabSize,
		insertEvent:   boolOr(cfg.InsertEventTokens, true),
		insertNumeric: boolOr(cfg.InsertNumericTokens, true),
		insertText:    boolOr(cfg.InsertTextTokens, true),
		counts:        make(map[string]int64),
	}, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Render flattens a timeline into word tokens. Every token of an event
// carries that event's timestamp offset.
func (w *WordLevel) Render(tl timeline.Timeline) Rendered {
	first, anchored := tl.FirstTimed()

	var r Rendered
	for _, e := range tl {
		var offset float64
		if e.Time != nil && anchored {
			offset = e.Time.Sub(*first.Time).Seconds()
		}

		if w.insertEvent {
			r.Tokens = append(r.Tokens, eventOpen)
		}
		r.Tokens = append(r.Tokens, strings.Fields(e.CodeString())...)
		if e.NumericValue != nil {
			if w.insertNumeric {
				r.Tokens = append(r.Tokens, numericOpen, formatNumeric(*e.NumericValue), numericClose)
			} else {
				r.Tokens = append(r.Tokens, formatNumeric(*e.NumericValue))
			}
		}
		if e.TextValue != nil {
			if w.insertText {
				r.Tokens = append(r.Tokens, textOpen)
				r.Tokens = append(r.Tokens, strings.Fields(*e.TextValue)...)
				r.Tokens = append(r.Tokens, textClose)
			} else {
				r.Tokens = append(r.Tokens, strings.Fields(*e.TextValue)...)
			}
		}
		if w.insertEvent {
			r.Tokens = append(r.Tokens, eventClose)
		}

		for len(r.Timestamps) < len(r.Tokens) {
			r.Timestamps = append(r.Timestamps, offset)
		}
	}
	return r
}

// formatNumeric rounds to two decimals and renders the shortest form.
func formatNumeric(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// Observe accumulates token frequencies from one subject.
func (w *WordLevel) Observe(tl timeline.Timeline) error {
	if w.counts == nil {
		return fmt.Errorf("tokenizer: vocabulary already built")
	}
	for _, tok := range w.Render(tl).Tokens {
		w.counts[tok]++
	}
	return nil
}

// Build ranks observed tokens by descending count, ties broken by token
// text, and keeps the top vocab_size-1 after <unknown>. The excluded
// tail's total count becomes the <unknown> count.
func (w *WordLevel) Build() error {
	if w.counts == nil {
		return fmt.Errorf("tokenizer: vocabulary already built")
	}
	delete(w.counts, UnknownToken)

	type ranked struct {
		tok string
		n   int64
	}
	all := make([]ranked, 0, len(w.counts))
	for tok, n := range w.counts {
		all = append(all, ranked{tok, n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n != all[j].n {
			return all[i].n > all[j].n
		}
		return all[i].tok < all[j].tok
	})

	keep := w.vocabSize - 1
	if keep > len(all) {
		keep = len(all)
	}
	var excluded int64
	for _, r := range all[keep:] {
		excluded += r.n
	}

	w.vocab = make([]VocabEntry, 0, keep+1)
	w.vocab = append(w.vocab, VocabEntry{ID: UnknownID, Text: UnknownToken, Count: excluded})
	w.ids = map[string]int{UnknownToken: UnknownID}
	for i, r := range all[:keep] {
		id := i + 1
		w.vocab = append(w.vocab, VocabEntry{ID: id, Text: r.tok, Count: r.n})
		w.ids[r.tok] = id
	}
	w.counts = nil
	return nil
}

func (w *WordLevel) Built() bool { return w.ids != nil }

// Len reports the vocabulary size including <unknown>.
func (w *WordLevel) Len() int { return len(w.vocab) }

// Encode renders a timeline and maps each token to its id. Unknown
// tokens map to UnknownID when allowUnknown is set, otherwise encoding
// fails on the first one.
func (w *WordLevel) Encode(tl timeline.Timeline, allowUnknown bool) ([]int, []float64, error) {
	if !w.Built() {
		return nil, nil, ErrNotBuilt
	}
	r := w.Render(tl)
	ids := make([]int, len(r.Tokens))
	for i, tok := range r.Tokens {
		id, ok := w.ids[tok]
		if !ok {
			if !allowUnknown {
				return nil, nil, fmt.Errorf("token %q not in vocabulary", tok)
			}
			id = UnknownID
		}
		ids[i] = id
	}
	return ids, r.Timestamps, nil
}

// Decode maps ids back to token text joined by single spaces.
func (w *WordLevel) Decode(ids []int) (string, error) {
	if !w.Built() {
		return "", ErrNotBuilt
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(w.vocab) {
			return "", fmt.Errorf("token id %d outside vocabulary range 0..%d", id, len(w.vocab)-1)
		}
		parts[i] = w.vocab[id].Text
	}
	return strings.Join(parts, " "), nil
}

// Vocab returns a copy of the vocabulary ordered by id.
func (w *WordLevel) Vocab() []VocabEntry {
	out := make([]VocabEntry, len(w.vocab))
	copy(out, w.vocab)
	return out
}

// RestoreVocab replaces the vocabulary with a previously built one, as
// produced by Vocab. Entries must be dense and start at <unknown>.
func (w *WordLevel) RestoreVocab(entries []VocabEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("tokenizer: empty vocabulary")
	}
	if entries[0].ID != UnknownID || entries[0].Text != UnknownToken {
		return fmt.Errorf("tokenizer: vocabulary must start with %s at id %d", UnknownToken, UnknownID)
	}
	ids := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.ID != i {
			return fmt.Errorf("tokenizer: vocabulary ids must be dense, got %d at position %d", e.ID, i)
		}
		if _, dup := ids[e.Text]; dup {
			return fmt.Errorf("tokenizer: duplicate vocabulary token %q", e.Text)
		}
		ids[e.Text] = e.ID
	}
	w.vocab = make([]VocabEntry, len(entries))
	copy(w.vocab, entries)
	w.ids = ids
	w.counts = nil
	return nil
}

// WriteVocabCSV writes the vocabulary artifact with columns
// token,str,count.
func (w *WordLevel) WriteVocabCSV(out io.Writer) error {
	if !w.Built() {
		return ErrNotBuilt
	}
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"token", "str", "count"}); err != nil {
		return err
	}
	for _, e := range w.vocab {
		row := []string{strconv.Itoa(e.ID), e.Text, strconv.FormatInt(e.Count, 10)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
