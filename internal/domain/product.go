// Package domain contains the business objects persisted by the pipeline.
package domain

import "time"

// Product is a normalized catalog entry. Code is the immutable identity;
// pointer fields are nullable in the store.
type Product struct {
	Code         string
	URL          string
	Created      time.Time
	LastModified time.Time
	Name         string
	Brands       *string
	BrandsTags   *string
	Countries    *string // raw source value, persisted as product.countries
	CountriesEN  string
	// CountryNames is the cleaned country list derived from CountriesEN.
	CountryNames []string
	Completeness float64

	ImageNutritionURL      *string
	ImageNutritionSmallURL *string

	EnergyKcal100g    *float64
	Energy100g        *float64
	Fat100g           *float64
	SaturatedFat100g  *float64
	Carbohydrates100g *float64
	Sugars100g        *float64
	Fiber100g         *float64
	Proteins100g      *float64
}

// ProductTable and the other table names are fixed; there is no per-run
// table configuration.
const (
	ProductTable        = "product"
	CountryTable        = "country"
	ProductCountryTable = "product_country"
)

// ProductColumns is the persisted column order of the product table. Row
// returns values in exactly this order.
var ProductColumns = []string{
	"id",
	"url",
	"created",
	"last_modified",
	"name",
	"brands",
	"countries",
	"image_nutrition_url",
	"energy_kcal_100g",
	"energy_100g",
	"fat_100g",
	"saturated_fat_100g",
	"carbohydrates_100g",
	"sugars_100g",
	"fiber_100g",
	"proteins_100g",
}

// CountryColumns and ProductCountryColumns mirror ProductColumns for the two
// other relations.
var (
	CountryColumns        = []string{"id", "name"}
	ProductCountryColumns = []string{"product_id", "country_id"}
)

// TimeValue converts a timestamp into the driver value a backend stores.
// Backends without a native timestamp type store formatted text.
type TimeValue func(time.Time) any

// Row returns the product's column values aligned with ProductColumns.
// Fields are enumerated explicitly so a schema change breaks the build
// instead of silently skipping a column.
func (p *Product) Row(tv TimeValue) []any {
	if tv == nil {
		tv = func(t time.Time) any { return t }
	}
	return []any{
		p.Code,
		p.URL,
		tv(p.Created),
		tv(p.LastModified),
		p.Name,
		strOrNil(p.Brands),
		strOrNil(p.Countries),
		strOrNil(p.ImageNutritionURL),
		floatOrNil(p.EnergyKcal100g),
		floatOrNil(p.Energy100g),
		floatOrNil(p.Fat100g),
		floatOrNil(p.SaturatedFat100g),
		floatOrNil(p.Carbohydrates100g),
		floatOrNil(p.Sugars100g),
		floatOrNil(p.Fiber100g),
		floatOrNil(p.Proteins100g),
	}
}

// OverwriteFrom copies every field of src into p except the code, which is
// immutable once assigned.
func (p *Product) OverwriteFrom(src Product) {
	p.URL = src.URL
	p.Created = src.Created
	p.LastModified = src.LastModified
	p.Name = src.Name
	p.Brands = src.Brands
	p.BrandsTags = src.BrandsTags
	p.Countries = src.Countries
	p.CountriesEN = src.CountriesEN
	p.CountryNames = append([]string(nil), src.CountryNames...)
	p.Completeness = src.Completeness
	p.ImageNutritionURL = src.ImageNutritionURL
	p.ImageNutritionSmallURL = src.ImageNutritionSmallURL
	p.EnergyKcal100g = src.EnergyKcal100g
	p.Energy100g = src.Energy100g
	p.Fat100g = src.Fat100g
	p.SaturatedFat100g = src.SaturatedFat100g
	p.Carbohydrates100g = src.Carbohydrates100g
	p.Sugars100g = src.Sugars100g
	p.Fiber100g = src.Fiber100g
	p.Proteins100g = src.Proteins100g
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// Country is a persisted country row.
type Country struct {
	ID   int64
	Name string
}

// Association is one product_country pair.
type Association struct {
	ProductID string
	CountryID int64
}

// Row returns the association values aligned with ProductCountryColumns.
func (a Association) Row() []any { return []any{a.ProductID, a.CountryID} }
