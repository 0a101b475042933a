package reportfields

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

// labels maps normalized report labels to filterable fields.
var labels = map[string]domain.Field{
	"location":            domain.FieldLocation,
	"site":                domain.FieldLocation,
	"trial location":      domain.FieldLocation,
	"product":             domain.FieldProduct,
	"product name":        domain.FieldProduct,
	"product used":        domain.FieldProduct,
	"crop":                domain.FieldCrop,
	"crop variety":        domain.FieldCrop,
	"season":              domain.FieldSeason,
	"applicant":           domain.FieldApplicant,
	"applied by":          domain.FieldApplicant,
	"cooperator":          domain.FieldCooperator,
	"farmer cooperator":   domain.FieldCooperator,
	"form type":           domain.FieldFormType,
	"report type":         domain.FieldFormType,
	"product category":    domain.FieldProductCategory,
	"category":            domain.FieldProductCategory,
	"application date":    domain.FieldApplicationDate,
	"date of application": domain.FieldApplicationDate,
	"planting date":       domain.FieldPlantingDate,
	"date of planting":    domain.FieldPlantingDate,
	"date planted":        domain.FieldPlantingDate,
}

var metricLabels = map[string]string{
	"improvement":          "improvement_percent",
	"improvement percent":  "improvement_percent",
	"yield improvement":    "improvement_percent",
	"data quality score":   "data_quality_score",
	"data quality":         "data_quality_score",
	"control yield":        "yield_control",
	"yield control":        "yield_control",
	"treated yield":        "yield_treated",
	"yield treated":        "yield_treated",
	"yield treatment":      "yield_treated",
	"treatment yield":      "yield_treated",
}

var (
	labelLine   = regexp.MustCompile(`^\s*(?:[-*]\s*)?\**([A-Za-z][A-Za-z ()%/_-]{1,40}?)\**\s*[:=]\s*\**\s*(.+?)\s*$`)
	tableRow    = regexp.MustCompile(`^\s*\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*$`)
	firstNumber = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)
	unitSuffix  = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02-Jan-2006",
}

// Parser reads "Label: value" lines and two-column markdown table rows.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(text string) domain.ReportFields {
	out := domain.ReportFields{
		Values:  make(map[domain.Field]string),
		Metrics: make(map[string]float64),
	}
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := splitLabel(line)
		if !ok {
			continue
		}
		key := normalizeLabel(label)
		if field, ok := labels[key]; ok {
			if _, seen := out.Values[field]; seen {
				continue
			}
			if field.Policy() == domain.MatchDate {
				value = NormalizeDate(value)
			}
			if field == domain.FieldSeason {
				value = strings.ToLower(value)
			}
			if value != "" {
				out.Values[field] = value
			}
			continue
		}
		if metric, ok := metricLabels[key]; ok {
			if _, seen := out.Metrics[metric]; seen {
				continue
			}
			if n, ok := parseNumber(value); ok {
				out.Metrics[metric] = n
			}
		}
	}
	if len(out.Metrics) == 0 {
		out.Metrics = nil
	}
	return out
}

func splitLabel(line string) (string, string, bool) {
	if m := tableRow.FindStringSubmatch(line); m != nil {
		if strings.Trim(m[1], "-: ") == "" {
			return "", "", false
		}
		return m[1], cleanValue(m[2]), true
	}
	if m := labelLine.FindStringSubmatch(line); m != nil {
		return m[1], cleanValue(m[2]), true
	}
	return "", "", false
}

func cleanValue(v string) string {
	return strings.TrimSpace(strings.Trim(v, "*_ "))
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = unitSuffix.ReplaceAllString(label, "")
	label = strings.NewReplacer("_", " ", "-", " ", "%", " percent").Replace(label)
	return strings.Join(strings.Fields(label), " ")
}

func parseNumber(v string) (float64, bool) {
	m := firstNumber.FindString(v)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeDate rewrites a recognised date to YYYY-MM-DD and returns the
// trimmed input unchanged otherwise.
func NormalizeDate(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, 'T'); i == len("2006-01-02") {
		v = v[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return v
}
