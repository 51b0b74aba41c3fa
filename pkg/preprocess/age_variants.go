package preprocess

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type AgeVariantConfig struct {
	KeepBirth bool   `yaml:"keep_meds_birth"`
	BirthCode string `yaml:"birth_code"`
}

func (c AgeVariantConfig) birthCode() string {
	if c.BirthCode == "" {
		return defaultBirthCode
	}
	return c.BirthCode
}

const yearSeconds = 365.25 * 24 * 3600

// SimpleAge appends a single AGE event, rounded to one decimal, at the
// end of the static prefix.
type SimpleAge struct {
	keepBirth bool
	birthCode string
}

func NewSimpleAge(cfg AgeVariantConfig) (*SimpleAge, error) {
	return &SimpleAge{keepBirth: cfg.KeepBirth, birthCode: cfg.birthCode()}, nil
}

func (s *SimpleAge) Name() string { return "simple_age" }

func (s *SimpleAge) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	age, ok := subjectAge(tl, s.birthCode, yearSeconds)
	if !ok {
		return tl, nil
	}
	rounded := math.Round(age*10) / 10

	rest := tl
	if !s.keepBirth {
		rest = removeBirth(tl, s.birthCode)
	}
	static, timed := rest.Split()

	out := append(static, models.Event{
		SubjectID:    tl.SubjectID(),
		Code:         models.String("AGE"),
		NumericValue: models.Float(rounded),
		TextValue:    models.String(strconv.FormatFloat(rounded, 'f', 1, 64)),
	})
	return append(out, timed...), nil
}

// BinnedAge appends the subject's age as a five-year band code, e.g.
// "AGE: 45-49". Ages outside 20-99 emit nothing.
type BinnedAge struct {
	keepBirth bool
	birthCode string
}

func NewBinnedAge(cfg AgeVariantConfig) (*BinnedAge, error) {
	return &BinnedAge{keepBirth: cfg.KeepBirth, birthCode: cfg.birthCode()}, nil
}

func (s *BinnedAge) Name() string { return "binned_age" }

func (s *BinnedAge) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	age, ok := subjectAge(tl, s.birthCode, yearSeconds)
	if !ok {
		return tl, nil
	}

	rest := tl
	if !s.keepBirth {
		rest = removeBirth(tl, s.birthCode)
	}
	if age < 20 || age >= 100 {
		return rest, nil
	}

	lower := int(age) / 5 * 5
	static, timed := rest.Split()
	out := append(static, models.Event{
		SubjectID: tl.SubjectID(),
		Code:      models.String(fmt.Sprintf("AGE: %d-%d", lower, lower+4)),
	})
	return append(out, timed...), nil
}

// DecimalAge appends two digit events, one for the age decile and one for
// the unit, e.g. 47 years becomes AGE_decile Q4 and AGE_unit Q7.
type DecimalAge struct {
	keepBirth bool
	birthCode string
}

func NewDecimalAge(cfg AgeVariantConfig) (*DecimalAge, error) {
	return &DecimalAge{keepBirth: cfg.KeepBirth, birthCode: cfg.birthCode()}, nil
}

func (s *DecimalAge) Name() string { return "decimal_age" }

func (s *DecimalAge) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	age, ok := subjectAge(tl, s.birthCode, yearSeconds)
	if !ok {
		return tl, nil
	}
	years := int(math.Floor(age))

	rest := tl
	if !s.keepBirth {
		rest = removeBirth(tl, s.birthCode)
	}
	static, timed := rest.Split()

	subject := tl.SubjectID()
	out := append(static,
		models.Event{
			SubjectID: subject,
			Code:      models.String("AGE_decile"),
			TextValue: models.String("Q" + strconv.Itoa(years/10)),
		},
		models.Event{
			SubjectID: subject,
			Code:      models.String("AGE_unit"),
			TextValue: models.String("Q" + strconv.Itoa(years%10)),
		},
	)
	return append(out, timed...), nil
}
