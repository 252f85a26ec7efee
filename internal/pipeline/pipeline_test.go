package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"

	"catalogetl/internal/domain"
	"catalogetl/internal/metrics"
	jsonparser "catalogetl/internal/parser/json"
	"catalogetl/internal/skiplog"
	"catalogetl/internal/storage"
	"catalogetl/internal/storage/storagetest"
	"catalogetl/internal/upsert"
)

// item builds a valid record; overrides replace or (with nil) delete keys.
func item(code, name, countries string, overrides ...any) map[string]any {
	m := map[string]any{
		"code":                   code,
		"url":                    "http://world.example.org/product/" + code,
		"created_datetime":       "2020-01-01T00:00:00Z",
		"last_modified_datetime": "2021-02-03T04:05:06Z",
		"product_name":           name,
		"brands":                 "Acme",
		"countries":              countries,
		"countries_en":           countries,
		"completeness":           0.9,
		"energy-kcal_100g":       120,
		"sugars_100g":            "4.5",
	}
	for i := 0; i+1 < len(overrides); i += 2 {
		k := overrides[i].(string)
		if overrides[i+1] == nil {
			delete(m, k)
			continue
		}
		m[k] = overrides[i+1]
	}
	return m
}

func input(t *testing.T, items ...map[string]any) string {
	t.Helper()
	b, err := json.Marshal(items)
	require.NoError(t, err)
	return string(b)
}

func quiet() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func opts(mode upsert.Mode, size int) Options {
	o := DefaultOptions()
	o.Strategy = mode
	o.BatchSize = size
	o.Logger = quiet()
	return o
}

func TestRun_ExampleRecord(t *testing.T) {
	s := storagetest.NewSQLite(t)
	in := input(t, item("A", "Foo", "FR,DE"))

	res, err := Run(context.Background(), strings.NewReader(in), s, opts(upsert.ModeAuto, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, "generic", res.Strategy)
	assert.Equal(t, 1, res.Windows)

	snap := storagetest.Dump(t, s.DB())
	require.Len(t, snap.Products, 1)
	p := snap.Products[0]
	assert.Equal(t, "A", p.ID)
	assert.Equal(t, "foo", p.Name)
	assert.Equal(t, "FR,DE", p.Countries.String)
	assert.InDelta(t, 120, p.Nutrients[0].Float64, 1e-9, "aliased energy-kcal_100g")
	assert.Equal(t, []string{"fr", "de"}, snap.CountryNames())
	assert.Equal(t, []domain.Association{
		{ProductID: "A", CountryID: 1},
		{ProductID: "A", CountryID: 2},
	}, snap.Associations)
}

func TestRun_CountsAcceptedRecords(t *testing.T) {
	s := storagetest.NewSQLite(t)
	in := input(t,
		item("1", "one", "France"),
		item("2", "two", "France", "code", nil),
		item("3", "", "France"),
		item("4", "four", "France", "countries_en", nil),
		item("5", "five", "France", "url", nil),
		item("6", "six", "France", "completeness", 0.1),
		item("7", "seven", "France", "completeness", 0.25),
		item("8", "eight", ""),
	)
	var logged bytes.Buffer
	sl, err := skiplog.New(&logged)
	require.NoError(t, err)

	o := opts(upsert.ModeAuto, 2)
	o.SkipLog = sl
	res, err := Run(context.Background(), strings.NewReader(in), s, o)
	require.NoError(t, err)
	require.NoError(t, sl.Close())

	assert.Equal(t, 2, res.Accepted, "1 and 7 pass; 8 has an empty countries_en")
	assert.Equal(t, map[string]int{
		"missing_code":       1,
		"missing_name":       1,
		"missing_countries":  2,
		"coercion":           1,
		"below_completeness": 1,
	}, res.Skipped)
	assert.Equal(t, 6, res.Dropped())

	snap := storagetest.Dump(t, s.DB())
	require.Len(t, snap.Products, 2)
	assert.Equal(t, []string{"france"}, snap.CountryNames())
	assert.Len(t, snap.Associations, 2)

	assert.Equal(t, sl.Counts(), res.Skipped)
	assert.Contains(t, logged.String(), "below_completeness,5,6,completeness,")
}

func TestRun_SkippedCountriesLeaveNoRows(t *testing.T) {
	s := storagetest.NewSQLite(t)
	in := input(t, item("X", "x", "Spain", "countries_en", nil))

	res, err := Run(context.Background(), strings.NewReader(in), s, opts(upsert.ModeAuto, 0))
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)
	assert.Zero(t, res.Windows)

	snap := storagetest.Dump(t, s.DB())
	assert.Empty(t, snap.Products)
	assert.Empty(t, snap.Countries)
	assert.Empty(t, snap.Associations)
}

func TestRun_LowCompletenessWritesNothing(t *testing.T) {
	s := storagetest.NewSQLite(t)
	in := input(t, item("L", "low", "France", "completeness", 0.1))

	res, err := Run(context.Background(), strings.NewReader(in), s, opts(upsert.ModeAuto, 0))
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)
	assert.Equal(t, 1, res.Skipped["below_completeness"])
	assert.Empty(t, storagetest.Dump(t, s.DB()).Products)
}

func TestRun_LastWriteWins(t *testing.T) {
	for _, mode := range []upsert.Mode{upsert.ModeGeneric, upsert.ModeBulk} {
		for _, size := range []int{1, 64} {
			t.Run(fmt.Sprintf("%s/window=%d", mode, size), func(t *testing.T) {
				s := storagetest.NewSQLite(t)
				in := input(t,
					item("P", "First", "France", "brands", "Old"),
					item("Q", "other", "Italy"),
					item("P", "Second", "Germany", "brands", "New", "sugars_100g", nil),
				)
				_, err := Run(context.Background(), strings.NewReader(in), s, opts(mode, size))
				require.NoError(t, err)

				p, ok := storagetest.Dump(t, s.DB()).Product("P")
				require.True(t, ok)
				assert.Equal(t, "second", p.Name)
				assert.Equal(t, "new", p.Brands.String)
				assert.Equal(t, "Germany", p.Countries.String)
				assert.False(t, p.Nutrients[5].Valid)
			})
		}
	}
}

func TestRun_MixedCaseCountriesResolveOnce(t *testing.T) {
	s := storagetest.NewSQLite(t)
	in := input(t,
		item("1", "a", " France"),
		item("2", "b", "france"),
		item("3", "c", "FRANCE ,france "),
	)
	_, err := Run(context.Background(), strings.NewReader(in), s, opts(upsert.ModeAuto, 2))
	require.NoError(t, err)

	snap := storagetest.Dump(t, s.DB())
	assert.Equal(t, []string{"france"}, snap.CountryNames())
	assert.Len(t, snap.Associations, 3)
}

func TestRun_Idempotent(t *testing.T) {
	in := input(t,
		item("1", "a", "France,Germany"),
		item("2", "b", "Germany"),
		item("1", "a2", "Spain"),
	)
	for _, mode := range []upsert.Mode{upsert.ModeGeneric, upsert.ModeBulk} {
		t.Run(string(mode), func(t *testing.T) {
			s := storagetest.NewSQLite(t)
			_, err := Run(context.Background(), strings.NewReader(in), s, opts(mode, 2))
			require.NoError(t, err)
			first := storagetest.Dump(t, s.DB())

			_, err = Run(context.Background(), strings.NewReader(in), s, opts(mode, 2))
			require.NoError(t, err)
			assert.Equal(t, first, storagetest.Dump(t, s.DB()))
		})
	}
}

func TestRun_StrategiesProduceIdenticalTables(t *testing.T) {
	in := input(t,
		item("1", "Crème Brûlée", "France, Belgium"),
		item("2", "b", "Germany", "image_nutrition_url", "http://img/2.jpg"),
		item("3", "c", "Italy", "completeness", 0.2),
		item("1", "crème brûlée v2", "Spain-en-Portugal"),
		item("4", "d", "Germany,France", "fat_100g", ""),
	)

	generic := storagetest.NewSQLite(t)
	gres, err := Run(context.Background(), strings.NewReader(in), generic, opts(upsert.ModeGeneric, 2))
	require.NoError(t, err)

	bulk := storagetest.NewSQLite(t)
	bres, err := Run(context.Background(), strings.NewReader(in), bulk, opts(upsert.ModeBulk, 2))
	require.NoError(t, err)

	assert.Equal(t, "bulk", bres.Strategy)
	assert.Equal(t, gres.Accepted, bres.Accepted)
	assert.Equal(t, storagetest.Dump(t, generic.DB()), storagetest.Dump(t, bulk.DB()))
}

func TestRun_MalformedInputKeepsCommittedWindows(t *testing.T) {
	good := input(t, item("1", "a", "France"), item("2", "b", "Germany"))
	in := strings.TrimSuffix(good, "]") + `, 42]`

	for _, tc := range []struct {
		mode         upsert.Mode
		wantProducts int
		wantLinks    int
	}{
		{upsert.ModeGeneric, 2, 2},
		// Staged rows are dropped with the session; the committed countries
		// stay behind with nothing linked to them.
		{upsert.ModeBulk, 0, 0},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			s := storagetest.NewSQLite(t)
			res, err := Run(context.Background(), strings.NewReader(in), s, opts(tc.mode, 1))
			require.Error(t, err)

			var mie *jsonparser.MalformedInputError
			require.ErrorAs(t, err, &mie)
			assert.Equal(t, 2, mie.Element)
			assert.Equal(t, 2, res.Accepted)

			snap := storagetest.Dump(t, s.DB())
			assert.Len(t, snap.Products, tc.wantProducts)
			assert.Len(t, snap.Associations, tc.wantLinks)
			assert.Equal(t, []string{"france", "germany"}, snap.CountryNames(), "country rows commit per window")
		})
	}
}

func TestRun_RejectsNonArray(t *testing.T) {
	s := storagetest.NewSQLite(t)
	_, err := Run(context.Background(), strings.NewReader(`{"code":"1"}`), s, opts(upsert.ModeAuto, 0))
	var mie *jsonparser.MalformedInputError
	require.ErrorAs(t, err, &mie)
}

func TestRun_BulkUnsupported(t *testing.T) {
	s := storagetest.NewSQLite(t)
	_, err := Run(context.Background(), strings.NewReader(`[]`), genericOnly{s}, opts(upsert.ModeBulk, 0))
	require.ErrorIs(t, err, upsert.ErrBulkUnsupported)
}

// genericOnly hides the bulk session of a SQLite store.
type genericOnly struct{ storage.Store }

type cancelOnRead struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelOnRead) Read(p []byte) (int, error) {
	c.cancel()
	return c.r.Read(p)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := storagetest.NewSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := input(t, item("1", "a", "France"), item("2", "b", "France"))
	res, err := Run(ctx, &cancelOnRead{r: strings.NewReader(in), cancel: cancel}, s, opts(upsert.ModeAuto, 0))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Accepted)
	assert.Empty(t, storagetest.Dump(t, s.DB()).Products)
}

func TestRun_DigestAndBytes(t *testing.T) {
	s := storagetest.NewSQLite(t)
	in := input(t, item("1", "a", "France"))

	res, err := Run(context.Background(), strings.NewReader(in), s, opts(upsert.ModeAuto, 0))
	require.NoError(t, err)
	assert.EqualValues(t, len(in), res.Bytes)
	assert.Equal(t, fmt.Sprintf("%016x", xxh3.HashString(in)), res.Digest)
	assert.NotEqual(t, res.RunID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestRun_LimitStopsReading(t *testing.T) {
	for _, mode := range []upsert.Mode{upsert.ModeGeneric, upsert.ModeBulk} {
		t.Run(string(mode), func(t *testing.T) {
			s := storagetest.NewSQLite(t)
			prefix := input(t,
				item("1", "a", "France"),
				item("2", "b", "France", "completeness", 0.1),
				item("3", "c", "Spain"),
				item("4", "d", "Italy"),
			)
			// The cap is reached before the unterminated element is decoded.
			in := strings.TrimSuffix(prefix, "]") + `,{"code":"5","product_name":`

			o := opts(mode, 2)
			o.Limit = 3
			res, err := Run(context.Background(), strings.NewReader(in), s, o)
			require.NoError(t, err)
			assert.True(t, res.Truncated)
			assert.Equal(t, 3, res.Accepted)
			assert.Equal(t, 2, res.Windows)
			assert.Equal(t, map[string]int{"below_completeness": 1}, res.Skipped)

			snap := storagetest.Dump(t, s.DB())
			require.Len(t, snap.Products, 3)
			_, ok := snap.Product("4")
			assert.True(t, ok)
			assert.Equal(t, []string{"france", "spain", "italy"}, snap.CountryNames())
		})
	}
}

func TestRun_LimitAboveInputSize(t *testing.T) {
	s := storagetest.NewSQLite(t)
	o := opts(upsert.ModeAuto, 0)
	o.Limit = 10
	res, err := Run(context.Background(), strings.NewReader(input(t, item("1", "a", "France"))), s, o)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, 1, res.Accepted)
}

func TestIngest(t *testing.T) {
	s := storagetest.NewSQLite(t)
	in := input(t, item("1", "a", "France"), item("2", "b", "France", "completeness", 0.2))

	n, err := Ingest(context.Background(), strings.NewReader(in), s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Ingest(context.Background(), strings.NewReader(`[]`), s)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type recorder struct {
	counters map[string]float64
	steps    []string
}

func (r *recorder) IncCounter(name string, delta float64, l metrics.Labels) {
	key := name
	if k := l["kind"]; k != "" {
		key += "/" + k
	}
	if k := l["reason"]; k != "" {
		key += "/" + k
	}
	r.counters[key] += delta
	if name == metrics.StepTotal {
		r.steps = append(r.steps, l["strategy"]+"."+l["step"]+"."+l["status"])
	}
}
func (r *recorder) ObserveHistogram(string, float64, metrics.Labels) {}
func (r *recorder) Flush() error                                     { return nil }

func TestRun_RecordsMetrics(t *testing.T) {
	rec := &recorder{counters: map[string]float64{}}
	metrics.SetBackend(rec)
	t.Cleanup(metrics.Reset)

	s := storagetest.NewSQLite(t)
	in := input(t,
		item("1", "a", "France"),
		item("2", "b", "France"),
		item("3", "c", "France", "completeness", 0.1),
		item("4", "d", "France", "code", nil),
	)
	_, err := Run(context.Background(), strings.NewReader(in), s, opts(upsert.ModeBulk, 1))
	require.NoError(t, err)

	assert.Equal(t, 2.0, rec.counters[metrics.RecordsTotal+"/accepted"])
	assert.Equal(t, 1.0, rec.counters[metrics.RecordsTotal+"/skipped"])
	assert.Equal(t, 1.0, rec.counters[metrics.RecordsTotal+"/filtered"])
	assert.Equal(t, 1.0, rec.counters[metrics.SkipsTotal+"/missing_code"])
	assert.Equal(t, 2.0, rec.counters[metrics.WindowsTotal])
	assert.EqualValues(t, len(in), rec.counters[metrics.BytesTotal])
	assert.Equal(t, []string{
		"bulk.begin.success",
		"bulk.apply.success",
		"bulk.apply.success",
		"bulk.finish.success",
	}, rec.steps)
}
