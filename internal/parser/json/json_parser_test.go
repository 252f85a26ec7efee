package json

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogetl/internal/records"
)

func drain(t *testing.T, dec *ArrayDecoder) ([]records.Record, error) {
	t.Helper()
	var out []records.Record
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func TestArrayDecoder_YieldsElementsInOrder(t *testing.T) {
	t.Parallel()

	dec := NewArrayDecoder(strings.NewReader(`[{"code":"A","completeness":0.9},{"code":"B"}]`), Options{})
	recs, err := drain(t, dec)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "A", recs[0]["code"])
	assert.Equal(t, json.Number("0.9"), recs[0]["completeness"])
	assert.Equal(t, "B", recs[1]["code"])
	assert.Equal(t, 2, dec.Index())

	// Exhausted decoders keep returning EOF.
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestArrayDecoder_EmptyArray(t *testing.T) {
	t.Parallel()

	recs, err := drain(t, NewArrayDecoder(strings.NewReader(" [ ] \n"), Options{}))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestArrayDecoder_AppliesAliases(t *testing.T) {
	t.Parallel()

	in := `[{"energy-kcal_100g": 52, "saturated-fat_100g": 0.1, "fat_100g": 1}]`
	recs, err := drain(t, NewArrayDecoder(strings.NewReader(in), Options{}))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, json.Number("52"), rec["energy_kcal_100g"])
	assert.Equal(t, json.Number("0.1"), rec["saturated_fat_100g"])
	assert.NotContains(t, rec, "energy-kcal_100g")
	assert.NotContains(t, rec, "saturated-fat_100g")
}

func TestArrayDecoder_CanonicalKeyWinsOverAlias(t *testing.T) {
	t.Parallel()

	in := `[{"energy-kcal_100g": 1, "energy_kcal_100g": 2}]`
	recs, err := drain(t, NewArrayDecoder(strings.NewReader(in), Options{}))
	require.NoError(t, err)
	assert.Equal(t, json.Number("2"), recs[0]["energy_kcal_100g"])
}

func TestArrayDecoder_EmptyAliasMapDisablesAliasing(t *testing.T) {
	t.Parallel()

	in := `[{"energy-kcal_100g": 1}]`
	recs, err := drain(t, NewArrayDecoder(strings.NewReader(in), Options{Aliases: map[string]string{}}))
	require.NoError(t, err)
	assert.Contains(t, recs[0], "energy-kcal_100g")
}

func TestArrayDecoder_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          string
		wantRecords int
		wantElement int
	}{
		{name: "empty_input", in: "", wantElement: -1},
		{name: "object_root", in: `{"code":"A"}`, wantElement: -1},
		{name: "string_root", in: `"hello"`, wantElement: -1},
		{name: "not_json", in: `<svg></svg>`, wantElement: -1},
		{name: "scalar_element", in: `[{"code":"A"}, 3]`, wantRecords: 1, wantElement: 1},
		{name: "truncated", in: `[{"code":"A"}, {"code":`, wantRecords: 1, wantElement: 1},
		{name: "missing_close", in: `[{"code":"A"}`, wantRecords: 1, wantElement: -1},
		{name: "trailing_comma", in: `[{"code":"A"},]`, wantRecords: 1, wantElement: 1},
		{name: "trailing_data", in: `[{"code":"A"}] {}`, wantRecords: 1, wantElement: -1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dec := NewArrayDecoder(strings.NewReader(tc.in), Options{})
			recs, err := drain(t, dec)
			require.Error(t, err)
			assert.Len(t, recs, tc.wantRecords)

			var mErr *MalformedInputError
			require.ErrorAs(t, err, &mErr)
			assert.Equal(t, tc.wantElement, mErr.Element)

			// Not restartable: the same error comes back.
			_, again := dec.Next()
			assert.Same(t, err, again)
		})
	}
}

// TestArrayDecoder_LargeInputStreams feeds a generated array through an
// io.Pipe so the whole document never exists in memory at once.
func TestArrayDecoder_LargeInputStreams(t *testing.T) {
	t.Parallel()

	const n = 20000
	pr, pw := io.Pipe()
	go func() {
		_, _ = io.WriteString(pw, "[")
		for i := 0; i < n; i++ {
			if i > 0 {
				_, _ = io.WriteString(pw, ",")
			}
			_, _ = io.WriteString(pw, `{"code":"x","product_name":"y"}`)
		}
		_, _ = io.WriteString(pw, "]")
		_ = pw.Close()
	}()

	recs, err := drain(t, NewArrayDecoder(pr, Options{}))
	require.NoError(t, err)
	assert.Len(t, recs, n)
}
