package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
)

func TestAnalyticsViews(t *testing.T) {
	require.NoError(t, view.Register(AnalyticsViews...))
	defer view.Unregister(AnalyticsViews...)

	ctx := context.Background()
	RecordQuery(ctx, "postgres", 12*time.Millisecond, nil)
	RecordQuery(ctx, "postgres", 40*time.Millisecond, errors.New("boom"))
	RecordCacheLookup(ctx, true)
	RecordCacheLookup(ctx, false)
	RecordCacheLookup(ctx, false)

	rows, err := view.RetrieveData("insights/query_count")
	require.NoError(t, err)
	assert.Len(t, rows, 2, "one row per status")

	rows, err = view.RetrieveData("insights/cache_lookups")
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, row := range rows {
		counts[row.Tags[0].Value] = row.Data.(*view.CountData).Value
	}
	assert.Equal(t, map[string]int64{"hit": 1, "miss": 2}, counts)
}
