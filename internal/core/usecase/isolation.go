package usecase

import (
	"errors"
	"strings"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

var cooperativeSuffixes = []string{" agri", " agriculture", " cooperative", " coop"}

// normalizeCooperative folds the common organisational suffixes off a
// cooperative name so "Leads Agri" and "LEADS" compare equal.
func normalizeCooperative(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range cooperativeSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
		}
	}
	return name
}

// cooperativeMatches reports whether a stored cooperative belongs to the
// caller's tenant. Containment runs both ways, so very short names can
// over-match.
func cooperativeMatches(callerNorm, stored string) bool {
	doc := normalizeCooperative(stored)
	if doc == "" || callerNorm == "" {
		return false
	}
	return callerNorm == doc || strings.Contains(doc, callerNorm) || strings.Contains(callerNorm, doc)
}

// IsolateByCooperative keeps only results whose stored cooperative matches
// the caller's, preserving order. A blank caller cooperative is an error.
func IsolateByCooperative(results []domain.SearchResult, cooperative string) ([]domain.SearchResult, int, error) {
	callerNorm := normalizeCooperative(cooperative)
	if callerNorm == "" {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "cooperative isolation", errors.New("cooperative is required"))
	}

	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if cooperativeMatches(callerNorm, r.Cooperative()) {
			out = append(out, r)
		}
	}
	return out, len(results) - len(out), nil
}

// IsolatePoints applies the same tenant rule to raw index points.
func IsolatePoints(points []domain.ScoredPoint, cooperative string) ([]domain.ScoredPoint, error) {
	callerNorm := normalizeCooperative(cooperative)
	if callerNorm == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "cooperative isolation", errors.New("cooperative is required"))
	}

	out := make([]domain.ScoredPoint, 0, len(points))
	for _, p := range points {
		if cooperativeMatches(callerNorm, domain.PayloadString(p.Payload, domain.PayloadCooperative)) {
			out = append(out, p)
		}
	}
	return out, nil
}
