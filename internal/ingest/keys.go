package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/store"
)

// NormalizeEmail lowercases and trims. Values without an @ are not addresses.
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if !models.Known(email) || !strings.Contains(email, "@") {
		return ""
	}
	return email
}

// NormalizePhone keeps digits and a leading plus.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(strings.TrimPrefix(out, "+")) < 5 {
		return ""
	}
	return out
}

// NormalizeText folds case, strips accents and punctuation and collapses spaces.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	result = cases.Fold().String(result)

	fields := strings.FieldsFunc(result, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// NameCompanyKey is empty unless both parts are known.
func NameCompanyKey(name, company string) string {
	if !models.Known(name) || !models.Known(company) {
		return ""
	}
	n, c := NormalizeText(name), NormalizeText(company)
	if n == "" || c == "" {
		return ""
	}
	return n + "|" + c
}

// Keys derives the dedup keys of a candidate.
func Keys(c *models.Candidate) store.CandidateQuery {
	return store.CandidateQuery{
		Email:          NormalizeEmail(c.Email),
		Phone:          NormalizePhone(c.Phone),
		NameCompanyKey: NameCompanyKey(c.FullName, c.Company),
	}
}
