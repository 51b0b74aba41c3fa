package preprocess

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
)

const (
	ColumnNumeric = "numeric_value"
	ColumnText    = "text_value"
)

func parseValueColumn(s string) (string, error) {
	switch s {
	case "":
		return ColumnNumeric, nil
	case ColumnNumeric, ColumnText:
		return s, nil
	default:
		return "", fmt.Errorf("invalid value column: %q", s)
	}
}

// eventValue extracts a float from the configured column. Text values
// that do not parse as numbers report false.
func eventValue(e models.Event, column string) (float64, bool) {
	switch column {
	case ColumnText:
		if e.TextValue == nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(*e.TextValue), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	default:
		if e.NumericValue == nil {
			return 0, false
		}
		return *e.NumericValue, true
	}
}
