// Package transformer turns raw decoded records into normalized products.
//
// Normalization never fails loudly: a record that cannot be used comes back
// as an Outcome carrying a Skip, and the caller decides whether to log it,
// count it, or write it to a skip log. Rules are applied in a fixed order so
// that the reported reason is deterministic:
//
//  1. missing code
//  2. missing product_name
//  3. missing countries_en
//  4. any field that cannot be coerced to its type
//  5. completeness below the configured threshold (a policy filter)
package transformer

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"catalogetl/internal/domain"
	"catalogetl/internal/records"
)

// DefaultMinCompleteness is the completeness score below which records are
// filtered out.
const DefaultMinCompleteness = 0.25

// Source field names.
const (
	FieldCode                   = "code"
	FieldURL                    = "url"
	FieldCreated                = "created_datetime"
	FieldLastModified           = "last_modified_datetime"
	FieldProductName            = "product_name"
	FieldBrands                 = "brands"
	FieldBrandsTags             = "brands_tags"
	FieldCountries              = "countries"
	FieldCountriesEN            = "countries_en"
	FieldCompleteness           = "completeness"
	FieldImageNutritionURL      = "image_nutrition_url"
	FieldImageNutritionSmallURL = "image_nutrition_small_url"
	FieldEnergyKcal100g         = "energy_kcal_100g"
	FieldEnergy100g             = "energy_100g"
	FieldFat100g                = "fat_100g"
	FieldSaturatedFat100g       = "saturated_fat_100g"
	FieldCarbohydrates100g      = "carbohydrates_100g"
	FieldSugars100g             = "sugars_100g"
	FieldFiber100g              = "fiber_100g"
	FieldProteins100g           = "proteins_100g"
)

// SkipReason classifies why a record produced no product.
type SkipReason string

const (
	ReasonMissingCode       SkipReason = "missing_code"
	ReasonMissingName       SkipReason = "missing_name"
	ReasonMissingCountries  SkipReason = "missing_countries"
	ReasonCoercion          SkipReason = "coercion"
	ReasonBelowCompleteness SkipReason = "below_completeness"
)

// Filtered reports whether the reason is a policy filter rather than a
// defect in the record.
func (r SkipReason) Filtered() bool { return r == ReasonBelowCompleteness }

// Skip describes a dropped record.
type Skip struct {
	Reason SkipReason
	Code   string // may be empty when the code itself was missing
	Field  string
	Detail string
}

func (s *Skip) String() string {
	var b strings.Builder
	b.WriteString(string(s.Reason))
	if s.Field != "" {
		b.WriteString(" field=")
		b.WriteString(s.Field)
	}
	if s.Detail != "" {
		b.WriteString(": ")
		b.WriteString(s.Detail)
	}
	return b.String()
}

// Outcome is the result of normalizing one record: exactly one of Product
// (when Skip is nil) or Skip is meaningful.
type Outcome struct {
	Product domain.Product
	Skip    *Skip
}

// OK reports whether the record produced a product.
func (o Outcome) OK() bool { return o.Skip == nil }

// Config tunes a Normalizer.
type Config struct {
	// MinCompleteness is the inclusive lower bound on the completeness
	// score. Zero means DefaultMinCompleteness.
	MinCompleteness float64
}

// Normalizer validates and normalizes records. It holds a stateful case
// mapper and is not safe for concurrent use.
type Normalizer struct {
	minCompleteness float64
	lower           cases.Caser
}

// NewNormalizer constructs a Normalizer from cfg.
func NewNormalizer(cfg Config) *Normalizer {
	minC := cfg.MinCompleteness
	if minC == 0 {
		minC = DefaultMinCompleteness
	}
	return &Normalizer{
		minCompleteness: minC,
		lower:           cases.Lower(language.Und),
	}
}

// Normalize applies the validation and transform rules to rec.
func (n *Normalizer) Normalize(rec records.Record) Outcome {
	code, ok := presentString(rec, FieldCode)
	if !ok {
		return skip(ReasonMissingCode, "", FieldCode, "")
	}
	name, ok := presentString(rec, FieldProductName)
	if !ok {
		return skip(ReasonMissingName, code, FieldProductName, "")
	}
	countriesEN, ok := presentString(rec, FieldCountriesEN)
	if !ok {
		return skip(ReasonMissingCountries, code, FieldCountriesEN, "")
	}

	c := coercer{rec: rec}
	p := domain.Product{
		Code:         code,
		URL:          c.requiredString(FieldURL),
		Created:      c.requiredTime(FieldCreated),
		LastModified: c.requiredTime(FieldLastModified),
		Completeness: c.requiredScore(FieldCompleteness),

		Brands:                 c.optionalString(FieldBrands),
		BrandsTags:             c.optionalString(FieldBrandsTags),
		Countries:              c.optionalString(FieldCountries),
		ImageNutritionURL:      c.optionalString(FieldImageNutritionURL),
		ImageNutritionSmallURL: c.optionalString(FieldImageNutritionSmallURL),

		EnergyKcal100g:    c.optionalFloat(FieldEnergyKcal100g),
		Energy100g:        c.optionalFloat(FieldEnergy100g),
		Fat100g:           c.optionalFloat(FieldFat100g),
		SaturatedFat100g:  c.optionalFloat(FieldSaturatedFat100g),
		Carbohydrates100g: c.optionalFloat(FieldCarbohydrates100g),
		Sugars100g:        c.optionalFloat(FieldSugars100g),
		Fiber100g:         c.optionalFloat(FieldFiber100g),
		Proteins100g:      c.optionalFloat(FieldProteins100g),
	}
	if c.err != nil {
		return skip(ReasonCoercion, code, c.errField, c.err.Error())
	}

	if p.Completeness < n.minCompleteness {
		return skip(ReasonBelowCompleteness, code, FieldCompleteness,
			fmt.Sprintf("%g < %g", p.Completeness, n.minCompleteness))
	}

	p.Name = n.fold(name)
	p.Brands = n.foldPtr(p.Brands)
	p.BrandsTags = n.foldPtr(p.BrandsTags)
	p.CountriesEN = countriesEN
	p.CountryNames = n.CountryNames(countriesEN)

	return Outcome{Product: p}
}

// CountryNames derives the cleaned country list from an English country
// field. The two marker rewrites target a specific upstream export format
// ("en-" tag prefixes leaking into the display field) and are heuristic.
func (n *Normalizer) CountryNames(countriesEN string) []string {
	s := n.fold(countriesEN)
	s = strings.ReplaceAll(s, "-en-", ",")
	s = strings.TrimPrefix(s, "en-")

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// fold lower-cases and trims s after NFC composition so visually identical
// names compare equal.
func (n *Normalizer) fold(s string) string {
	return strings.TrimSpace(n.lower.String(norm.NFC.String(s)))
}

func (n *Normalizer) foldPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := n.fold(*s)
	return &v
}

func skip(reason SkipReason, code, field, detail string) Outcome {
	return Outcome{Skip: &Skip{Reason: reason, Code: code, Field: field, Detail: detail}}
}

// presentString returns the trimmed string at key. Absent, null, empty and
// non-string values all count as missing for the three identity fields; a
// non-string code would otherwise surface as a coercion error with no code
// to report.
func presentString(rec records.Record, key string) (string, bool) {
	s, ok := rec[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
