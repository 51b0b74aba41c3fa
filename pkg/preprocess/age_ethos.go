package preprocess

import (
	"fmt"
	"math"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

type EthosAgeConfig struct {
	TimeUnit     string `yaml:"time_unit"`
	NumQuantiles int    `yaml:"num_quantiles"`
	Prefix       string `yaml:"prefix"`
	InsertT1Code *bool  `yaml:"insert_t1_code"`
	InsertT2Code *bool  `yaml:"insert_t2_code"`
	KeepBirth    bool   `yaml:"keep_meds_birth"`
	BirthCode    string `yaml:"birth_code"`
}

// EthosAge encodes the subject's age at first clinical contact as two
// base-q digit tokens placed at the head of the timeline. The birth event
// is consumed unless keep_meds_birth is set. Subjects with no birth event
// or no subsequent real event are left untouched.
type EthosAge struct {
	unitSeconds float64
	quantiles   int
	prefix      string
	insertT1    bool
	insertT2    bool
	keepBirth   bool
	birthCode   string
}

func NewEthosAge(cfg EthosAgeConfig) (*EthosAge, error) {
	unitSeconds, err := secondsPerUnit(cfg.TimeUnit)
	if err != nil {
		return nil, err
	}

	q := cfg.NumQuantiles
	if q == 0 {
		q = 10
	}
	if q < 2 {
		return nil, fmt.Errorf("num_quantiles must be at least 2, got %d", q)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "AGE_"
	}
	birthCode := cfg.BirthCode
	if birthCode == "" {
		birthCode = defaultBirthCode
	}

	insertT1, insertT2 := true, true
	if cfg.InsertT1Code != nil {
		insertT1 = *cfg.InsertT1Code
	}
	if cfg.InsertT2Code != nil {
		insertT2 = *cfg.InsertT2Code
	}

	return &EthosAge{
		unitSeconds: unitSeconds,
		quantiles:   q,
		prefix:      prefix,
		insertT1:    insertT1,
		insertT2:    insertT2,
		keepBirth:   cfg.KeepBirth,
		birthCode:   birthCode,
	}, nil
}

func (s *EthosAge) Name() string { return "ethos_quantile_age" }

func (s *EthosAge) Apply(tl timeline.Timeline) (timeline.Timeline, error) {
	age, ok := subjectAge(tl, s.birthCode, s.unitSeconds)
	if !ok {
		return tl, nil
	}
	t1, t2 := ageComponents(age, s.quantiles)

	subject := tl.SubjectID()
	events := timeline.Timeline{
		s.ageEvent(subject, "T1", t1, s.insertT1),
		s.ageEvent(subject, "T2", t2, s.insertT2),
	}

	rest := tl
	if !s.keepBirth {
		rest = removeBirth(tl, s.birthCode)
	}
	return append(events, rest...), nil
}

func (s *EthosAge) ageEvent(subject string, component string, digit int, insertCode bool) models.Event {
	e := models.Event{
		SubjectID: subject,
		TextValue: models.String(fmt.Sprintf("%s%s//Q%d", s.prefix, component, digit)),
	}
	if insertCode {
		e.Code = models.String(s.prefix + component)
	}
	return e
}

// ageComponents maps an age onto a q*q grid covering 0-100 units and
// splits the scaled value into two base-q digits, so 47 years with q=10
// yields (4, 7).
func ageComponents(age float64, q int) (int, int) {
	scaled := age * float64(q*q) / 100
	if limit := float64(q*q - 1); scaled > limit {
		scaled = limit
	}

	t1 := int(math.Floor(scaled / float64(q)))
	t2 := int(math.Round(math.Mod(scaled, float64(q))))
	if t2 == q {
		t1++
		t2 = 0
	}
	return t1, t2
}
