// Package content owns the normalization boundary for the code-challenge
// content block. Every previously-persisted shape (legacy single-language,
// canonical multi-language, or editor scratch state) funnels through
// Normalize before the rest of the system touches it.
package content

import (
	"codelab-server/models"
)

const (
	// DefaultLanguage is used when a block carries no language at all.
	DefaultLanguage = "javascript"

	defaultTitle       = "Coding Challenge"
	defaultDescription = "Write a function that..."

	// EditingMarkerKey is a transient editor-only field that must never be
	// persisted. Normalize drops it along with any other unknown keys.
	EditingMarkerKey = "editingLanguage"
)

// Normalize reconciles any previously-persisted shape of a code block into
// the canonical multi-language form. It is pure and idempotent, and never
// fails: absent collections normalize to empty mappings, absent strings to
// empty strings, an absent language to DefaultLanguage.
//
// The legacy shape {starterCode, language, testCases} maps its single
// language to the sole key of both maps. Saving back always persists the
// canonical shape (one-way migration).
func Normalize(raw any) models.CodeContent {
	m, _ := raw.(map[string]any)

	cc := models.CodeContent{
		Title:                 stringOr(m["title"], defaultTitle),
		Description:           stringOr(m["description"], defaultDescription),
		StarterCodeByLanguage: map[string]string{},
		TestCasesByLanguage:   map[string][]models.TestCase{},
	}

	if m == nil {
		cc.DefaultLanguage = DefaultLanguage
		return cc
	}

	_, hasStarters := m["starterCodeByLanguage"]
	_, hasTests := m["testCasesByLanguage"]
	if hasStarters || hasTests {
		// Canonical shape, possibly partial.
		cc.DefaultLanguage = stringOr(m["defaultLanguage"], DefaultLanguage)
		if starters, ok := m["starterCodeByLanguage"].(map[string]any); ok {
			for lang, code := range starters {
				cc.StarterCodeByLanguage[lang] = stringOr(code, "")
			}
		}
		if tests, ok := m["testCasesByLanguage"].(map[string]any); ok {
			for lang, cases := range tests {
				cc.TestCasesByLanguage[lang] = parseTestCases(cases)
			}
		}
		return cc
	}

	// Legacy single-language shape.
	lang := stringOr(m["language"], DefaultLanguage)
	cc.DefaultLanguage = lang
	cc.StarterCodeByLanguage[lang] = stringOr(m["starterCode"], "")
	cc.TestCasesByLanguage[lang] = parseTestCases(m["testCases"])
	return cc
}

// ToMap renders the canonical form for persistence. The result contains
// only canonical keys; transient editor fields never survive Normalize.
func ToMap(cc models.CodeContent) map[string]any {
	starters := make(map[string]any, len(cc.StarterCodeByLanguage))
	for lang, code := range cc.StarterCodeByLanguage {
		starters[lang] = code
	}
	tests := make(map[string]any, len(cc.TestCasesByLanguage))
	for lang, cases := range cc.TestCasesByLanguage {
		out := make([]any, 0, len(cases))
		for _, tc := range cases {
			entry := map[string]any{
				"input":          tc.Input,
				"expectedOutput": tc.ExpectedOutput,
			}
			if tc.Hidden {
				entry["hidden"] = true
			}
			out = append(out, entry)
		}
		tests[lang] = out
	}
	return map[string]any{
		"title":                 cc.Title,
		"description":           cc.Description,
		"defaultLanguage":       cc.DefaultLanguage,
		"starterCodeByLanguage": starters,
		"testCasesByLanguage":   tests,
	}
}

func parseTestCases(raw any) []models.TestCase {
	cases := []models.TestCase{}
	items, ok := raw.([]any)
	if !ok {
		return cases
	}
	for _, item := range items {
		tc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		hidden, _ := tc["hidden"].(bool)
		cases = append(cases, models.TestCase{
			Input:          stringOr(tc["input"], ""),
			ExpectedOutput: stringOr(tc["expectedOutput"], ""),
			Hidden:         hidden,
		})
	}
	return cases
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
