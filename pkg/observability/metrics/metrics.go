package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	lookupMisses      atomic.Int64
	staticDefaults    atomic.Int64
	unseenCodes       atomic.Int64
	unfittedSkips     atomic.Int64
	intervalsInserted atomic.Int64
	subjectsTokenized atomic.Int64
	subjectFailures   atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	vocabSizeMetric   atomic.Int64
)

func Init() {}

// RecordLookupMiss counts an enrichment code that had no lookup row.
func RecordLookupMiss() {
	lookupMisses.Add(1)
}

// RecordStaticDefault counts a subject absent from the static data table.
func RecordStaticDefault() {
	staticDefaults.Add(1)
}

// RecordUnseenCode counts a matching code with no fitted bin boundaries.
func RecordUnseenCode() {
	unseenCodes.Add(1)
}

// RecordUnfittedSkip counts a demographic measurement skipped for lack of
// fitted boundaries.
func RecordUnfittedSkip() {
	unfittedSkips.Add(1)
}

func RecordIntervalInserted() {
	intervalsInserted.Add(1)
}

func RecordSubjectTokenized() {
	subjectsTokenized.Add(1)
}

func RecordSubjectFailure() {
	subjectFailures.Add(1)
}

func RecordRunCompleted() {
	runsCompleted.Add(1)
}

func RecordRunFailed() {
	runsFailed.Add(1)
}

func ObserveVocabSize(size int) {
	vocabSizeMetric.Store(int64(size))
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP tokenize_lookup_misses_total Number of enrichment lookups that found no row.\n")
	fmt.Fprintf(w, "# TYPE tokenize_lookup_misses_total counter\n")
	fmt.Fprintf(w, "tokenize_lookup_misses_total %d\n", lookupMisses.Load())

	fmt.Fprintf(w, "# HELP tokenize_static_defaults_total Number of subjects that received default static values.\n")
	fmt.Fprintf(w, "# TYPE tokenize_static_defaults_total counter\n")
	fmt.Fprintf(w, "tokenize_static_defaults_total %d\n", staticDefaults.Load())

	fmt.Fprintf(w, "# HELP tokenize_unseen_codes_total Number of matching codes with no fitted boundaries at apply time.\n")
	fmt.Fprintf(w, "# TYPE tokenize_unseen_codes_total counter\n")
	fmt.Fprintf(w, "tokenize_unseen_codes_total %d\n", unseenCodes.Load())

	fmt.Fprintf(w, "# HELP tokenize_unfitted_skips_total Number of demographic measurements skipped for lack of fitted boundaries.\n")
	fmt.Fprintf(w, "# TYPE tokenize_unfitted_skips_total counter\n")
	fmt.Fprintf(w, "tokenize_unfitted_skips_total %d\n", unfittedSkips.Load())

	fmt.Fprintf(w, "# HELP tokenize_interval_tokens_total Number of time-interval markers inserted.\n")
	fmt.Fprintf(w, "# TYPE tokenize_interval_tokens_total counter\n")
	fmt.Fprintf(w, "tokenize_interval_tokens_total %d\n", intervalsInserted.Load())

	fmt.Fprintf(w, "# HELP tokenize_subjects_tokenized_total Number of subject timelines encoded.\n")
	fmt.Fprintf(w, "# TYPE tokenize_subjects_tokenized_total counter\n")
	fmt.Fprintf(w, "tokenize_subjects_tokenized_total %d\n", subjectsTokenized.Load())

	fmt.Fprintf(w, "# HELP tokenize_subject_failures_total Number of subject timelines that failed processing.\n")
	fmt.Fprintf(w, "# TYPE tokenize_subject_failures_total counter\n")
	fmt.Fprintf(w, "tokenize_subject_failures_total %d\n", subjectFailures.Load())

	fmt.Fprintf(w, "# HELP tokenize_runs_completed_total Number of tokenization runs completed.\n")
	fmt.Fprintf(w, "# TYPE tokenize_runs_completed_total counter\n")
	fmt.Fprintf(w, "tokenize_runs_completed_total %d\n", runsCompleted.Load())

	fmt.Fprintf(w, "# HELP tokenize_runs_failed_total Number of tokenization runs failed.\n")
	fmt.Fprintf(w, "# TYPE tokenize_runs_failed_total counter\n")
	fmt.Fprintf(w, "tokenize_runs_failed_total %d\n", runsFailed.Load())

	fmt.Fprintf(w, "# HELP tokenize_vocab_size Number of entries in the most recently built vocabulary.\n")
	fmt.Fprintf(w, "# TYPE tokenize_vocab_size gauge\n")
	fmt.Fprintf(w, "tokenize_vocab_size %d\n", vocabSizeMetric.Load())
}
