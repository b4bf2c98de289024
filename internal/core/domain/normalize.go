package domain

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// genericInstitutions are placeholders the extraction service emits when it
// only knows that a credit exists. Keys are already normalized.
var genericInstitutions = map[string]struct{}{
	"el credito":           {},
	"credito":              {},
	"un credito":           {},
	"credito hipotecario":  {},
	"banco":                {},
	"el banco":             {},
	"un banco":             {},
	"institucion":          {},
	"la institucion":       {},
	"institucion bancaria": {},
	"entidad financiera":   {},
	"financiera":           {},
	"hipotecaria":          {},
	"acreedor":             {},
	"el acreedor":          {},
	"desconocido":          {},
	"no especificado":      {},
	"pendiente":            {},
	"n/a":                  {},
	"na":                   {},
	"null":                 {},
	"none":                 {},
	"unknown":              {},
	"bank":                 {},
	"lender":               {},
	"the bank":             {},
	"credit":               {},
}

// IsGenericInstitution reports whether name is empty or a placeholder
// rather than a real institution.
func IsGenericInstitution(name string) bool {
	n := NormalizeName(name)
	if n == "" {
		return true
	}
	_, generic := genericInstitutions[n]
	return generic
}

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeName lower-cases, strips accents and collapses whitespace.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(strings.TrimSpace(stripped))
	return spaceRun.ReplaceAllString(stripped, " ")
}

var (
	folioLabel = regexp.MustCompile(`^(?i)(folio(\s+real)?|no\.?|num\.?|número|numero)\s*[:#]?\s*`)
	folioJunk  = regexp.MustCompile(`[\s.,#]`)
)

// NormalizeFolio reduces a registry folio to its comparable form. Separators
// inside the number are dropped; a hyphenated alphanumeric suffix survives.
func NormalizeFolio(raw string) string {
	s := strings.TrimSpace(raw)
	s = folioLabel.ReplaceAllString(s, "")
	s = folioJunk.ReplaceAllString(s, "")
	s = strings.ToUpper(strings.Trim(s, "-"))
	return s
}

// NormalizeIdentifier is used for parcel numbers and other plain ids.
func NormalizeIdentifier(raw string) string {
	return strings.ToUpper(folioJunk.ReplaceAllString(strings.TrimSpace(raw), ""))
}
