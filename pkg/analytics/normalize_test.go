package analytics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	totalSelection = Selection{Expr: "count(*)", Alias: "total"}
	costSelection  = Selection{Expr: "sum(cost)", Alias: "cost"}
	modelSelection = Selection{Expr: "model", Alias: "model"}
)

func TestNormalizeBuckets(t *testing.T) {
	spec := TimeBucketSpec{
		Start:                 utc(2024, 3, 10, 0, 0),
		End:                   utc(2024, 3, 11, 0, 0),
		Granularity:           GranularityHour,
		TimezoneOffsetMinutes: 60,
	}

	rows := []map[string]interface{}{
		{"bucket": utc(2024, 3, 10, 9, 0), "model": []byte("gpt-4"), "total": uint64(3), "cost": []byte("0.75")},
		{"bucket": "2024-03-10 10:00:00", "model": "gpt-4", "total": int64(1), "cost": nil},
		// drivers may attach a location to a naive value; only the wall clock counts
		{"bucket": time.Date(2024, 3, 10, 11, 0, 0, 0, time.FixedZone("x", 3600)), "model": "gpt-3.5", "total": 2.0, "cost": float32(0.5)},
	}

	out, err := NormalizeBuckets(rows, spec, []Selection{modelSelection}, []Selection{totalSelection, costSelection})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, utc(2024, 3, 10, 10, 0), out[0].Bucket)
	assert.Equal(t, "gpt-4", out[0].Groups["model"])
	assert.Equal(t, 3.0, out[0].Values["total"])
	assert.Equal(t, 0.75, out[0].Values["cost"])

	assert.Equal(t, utc(2024, 3, 10, 11, 0), out[1].Bucket)
	assert.Equal(t, 0.0, out[1].Values["cost"])

	assert.Equal(t, utc(2024, 3, 10, 12, 0), out[2].Bucket)
	assert.Equal(t, 0.5, out[2].Values["cost"])
}

func TestNormalizeBuckets_Errors(t *testing.T) {
	spec := TimeBucketSpec{Granularity: GranularityHour}

	_, err := NormalizeBuckets([]map[string]interface{}{{"bucket": 12}}, spec, nil, []Selection{totalSelection})
	assert.True(t, errors.Is(err, ErrInvalidBucket))

	_, err = NormalizeBuckets([]map[string]interface{}{{"bucket": "yesterday"}}, spec, nil, []Selection{totalSelection})
	assert.True(t, errors.Is(err, ErrInvalidBucket))

	_, err = NormalizeBuckets([]map[string]interface{}{{"bucket": utc(2024, 1, 1, 0, 0), "total": "many"}}, spec, nil, []Selection{totalSelection})
	assert.Error(t, err)

	out, err := NormalizeBuckets(nil, spec, nil, []Selection{totalSelection})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFillGaps(t *testing.T) {
	spec := TimeBucketSpec{Start: utc(2024, 3, 10, 10, 0), End: utc(2024, 3, 10, 15, 0), Granularity: GranularityHour}
	aggregates := []Selection{totalSelection}

	t.Run("five hour window with two populated hours", func(t *testing.T) {
		rows := []BucketRow{
			{Bucket: utc(2024, 3, 10, 11, 0), Values: map[string]float64{"total": 4}},
			{Bucket: utc(2024, 3, 10, 13, 0), Values: map[string]float64{"total": 2}},
		}

		out := FillGaps(rows, spec, nil, aggregates)
		require.Len(t, out, 5)

		expected := []float64{0, 4, 0, 2, 0}
		for i, row := range out {
			assert.Equal(t, utc(2024, 3, 10, 10+i, 0), row.Bucket)
			assert.Equal(t, expected[i], row.Values["total"])
		}
	})

	t.Run("no rows", func(t *testing.T) {
		out := FillGaps(nil, spec, nil, aggregates)
		require.Len(t, out, 5)
		for _, row := range out {
			assert.Equal(t, 0.0, row.Values["total"])
		}
	})

	t.Run("no rows with grouping has no series", func(t *testing.T) {
		assert.Empty(t, FillGaps(nil, spec, []Selection{modelSelection}, aggregates))
	})

	t.Run("each group is filled", func(t *testing.T) {
		rows := []BucketRow{
			{Bucket: utc(2024, 3, 10, 12, 0), Groups: map[string]interface{}{"model": "b"}, Values: map[string]float64{"total": 1}},
			{Bucket: utc(2024, 3, 10, 10, 0), Groups: map[string]interface{}{"model": "a"}, Values: map[string]float64{"total": 3}},
		}

		out := FillGaps(rows, spec, []Selection{modelSelection}, aggregates)
		require.Len(t, out, 10)

		for i := 0; i < 5; i++ {
			assert.Equal(t, "b", out[i].Groups["model"])
		}
		for i := 5; i < 10; i++ {
			assert.Equal(t, "a", out[i].Groups["model"])
		}
		assert.Equal(t, 1.0, out[2].Values["total"])
		assert.Equal(t, 3.0, out[5].Values["total"])
		assert.Equal(t, 0.0, out[6].Values["total"])
	})

	t.Run("rows outside the range are kept", func(t *testing.T) {
		rows := []BucketRow{
			{Bucket: utc(2024, 3, 10, 16, 0), Values: map[string]float64{"total": 9}},
		}

		out := FillGaps(rows, spec, nil, aggregates)
		require.Len(t, out, 6)
		assert.Equal(t, utc(2024, 3, 10, 16, 0), out[5].Bucket)
	})
}
