package usecase

import (
	"strings"
	"time"
)

var seasonDateLayouts = []string{"2006-01-02", "01/02/2006", "02/01/2006", "2006-01-02 15:04:05"}

// detectSeason maps a planting date onto the Philippine cropping calendar:
// June through November is wet, December through May is dry.
func detectSeason(plantingDate string) string {
	s := strings.TrimSpace(plantingDate)
	if s == "" {
		return ""
	}
	if i := strings.IndexByte(s, 'T'); i > 0 {
		s = s[:i]
	}
	for _, layout := range seasonDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if m := t.Month(); m >= time.June && m <= time.November {
			return "wet"
		}
		return "dry"
	}
	return ""
}
