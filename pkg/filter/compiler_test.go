package filter

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/Notifuse/insights/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileWhere_Postgres(t *testing.T) {
	tests := []struct {
		name         string
		filter       Node
		expectedSQL  string
		expectedArgs []interface{}
	}{
		{
			name:         "all filter keeps only the tenant predicate",
			filter:       All(),
			expectedSQL:  "(request.organization_id = $1 AND true)",
			expectedArgs: []interface{}{"org_1"},
		},
		{
			name:         "nil filter is treated as all",
			filter:       nil,
			expectedSQL:  "(request.organization_id = $1 AND true)",
			expectedArgs: []interface{}{"org_1"},
		},
		{
			name: "conjunction of two leaves",
			filter: FromList([]Node{
				NewLeaf(TableRequest, "model", OpEquals, "gpt-4"),
				NewLeaf(TableRequest, "created_at", OpGte, "2024-01-01T00:00:00Z"),
			}, OpAnd),
			expectedSQL:  "(request.organization_id = $1 AND (request.model = $2 AND request.created_at >= $3))",
			expectedArgs: []interface{}{"org_1", "gpt-4", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			name: "or is parenthesized under the tenant and",
			filter: Or(
				NewLeaf(TableRequest, "model", OpEquals, "gpt-4"),
				NewLeaf(TableRequest, "model", OpEquals, "gpt-3.5"),
			),
			expectedSQL:  "(request.organization_id = $1 AND (request.model = $2 OR request.model = $3))",
			expectedArgs: []interface{}{"org_1", "gpt-4", "gpt-3.5"},
		},
		{
			name: "nested branches keep left to right numbering",
			filter: And(
				Or(
					NewLeaf(TableResponse, "status", OpEquals, 200.0),
					NewLeaf(TableResponse, "latency", OpLt, 1000.0),
				),
				NewLeaf(TableRequest, "user_id", OpNotEquals, "bot"),
			),
			expectedSQL:  "(request.organization_id = $1 AND ((response.status = $2 OR response.delay_ms < $3) AND request.user_id != $4))",
			expectedArgs: []interface{}{"org_1", 200.0, 1000.0, "bot"},
		},
		{
			name:         "response model coalesces the override",
			filter:       NewLeaf(TableResponse, "model", OpILike, "gpt%"),
			expectedSQL:  "(request.organization_id = $1 AND coalesce(request.model_override, response.model, request.model) ILIKE $2)",
			expectedArgs: []interface{}{"org_1", "gpt%"},
		},
		{
			name:         "equals null",
			filter:       NewLeaf(TableRequest, "user_id", OpEquals, nil),
			expectedSQL:  "(request.organization_id = $1 AND request.user_id IS NULL)",
			expectedArgs: []interface{}{"org_1"},
		},
		{
			name:         "not equals null literal",
			filter:       NewLeaf(TableRequest, "user_id", OpNotEquals, "null"),
			expectedSQL:  "(request.organization_id = $1 AND request.user_id IS NOT NULL)",
			expectedArgs: []interface{}{"org_1"},
		},
		{
			name:         "contains wraps and escapes at bind time",
			filter:       NewLeaf(TableRequest, "path", OpContains, `50%_off\`),
			expectedSQL:  "(request.organization_id = $1 AND request.path ILIKE $2)",
			expectedArgs: []interface{}{"org_1", `%50\%\_off\\%`},
		},
		{
			name:         "not contains",
			filter:       NewLeaf(TableRequest, "model", OpNotContains, "mini"),
			expectedSQL:  "(request.organization_id = $1 AND request.model NOT ILIKE $2)",
			expectedArgs: []interface{}{"org_1", "%mini%"},
		},
		{
			name:         "ignored column compiles to true without an argument",
			filter:       NewLeaf(TableResponse, "time_to_first_token", OpGt, 100.0),
			expectedSQL:  "(request.organization_id = $1 AND true)",
			expectedArgs: []interface{}{"org_1"},
		},
		{
			name:         "property key as text",
			filter:       NewLeaf(TableProperties, "environment", OpEquals, "production"),
			expectedSQL:  "(request.organization_id = $1 AND request.properties ->> 'environment' = $2)",
			expectedArgs: []interface{}{"org_1", "production"},
		},
		{
			name:         "numeric range on a property key",
			filter:       NewLeaf(TableProperties, "retries", OpGt, 2.0),
			expectedSQL:  "(request.organization_id = $1 AND (request.properties ->> 'retries')::numeric > $2)",
			expectedArgs: []interface{}{"org_1", 2.0},
		},
		{
			name:         "score key",
			filter:       NewLeaf(TableScores, "accuracy", OpGte, 0.8),
			expectedSQL:  "(request.organization_id = $1 AND (request.scores ->> 'accuracy')::numeric >= $2)",
			expectedArgs: []interface{}{"org_1", 0.8},
		},
		{
			name:         "feedback rating",
			filter:       NewLeaf(TableFeedback, "rating", OpEquals, true),
			expectedSQL:  "(request.organization_id = $1 AND feedback.rating = $2)",
			expectedArgs: []interface{}{"org_1", true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := CompileWhere(tt.filter, "org_1", Postgres)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedSQL, compiled.SQL)
			assert.Equal(t, tt.expectedArgs, compiled.Args)
			assert.True(t, compiled.TenantScoped())
		})
	}
}

func TestCompileWhere_ClickHouse(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		filter       Node
		expectedSQL  string
		expectedArgs []interface{}
	}{
		{
			name: "typed placeholders follow the argument type",
			filter: FromList([]Node{
				NewLeaf(TableRequest, "model", OpEquals, "gpt-4"),
				NewLeaf(TableRequest, "created_at", OpGte, created),
				NewLeaf(TableResponse, "latency", OpLt, 500.0),
				NewLeaf(TableRequest, "cache_enabled", OpEquals, false),
			}, OpAnd),
			expectedSQL: "(request_response_rmt.organization_id = {val_0:String} AND " +
				"(request_response_rmt.model = {val_1:String} AND " +
				"(request_response_rmt.request_created_at >= {val_2:DateTime64(3)} AND " +
				"(request_response_rmt.latency < {val_3:Float64} AND " +
				"request_response_rmt.cache_enabled = {val_4:Bool}))))",
			expectedArgs: []interface{}{"org_1", "gpt-4", created, 500.0, false},
		},
		{
			name:         "rfc 3339 timestamp strings are bound as instants",
			filter:       NewLeaf(TableRequest, "created_at", OpGte, "2024-01-01T02:00:00+02:00"),
			expectedSQL:  "(request_response_rmt.organization_id = {val_0:String} AND request_response_rmt.request_created_at >= {val_1:DateTime64(3)})",
			expectedArgs: []interface{}{"org_1", created},
		},
		{
			name:         "path maps to target url",
			filter:       NewLeaf(TableRequest, "path", OpLike, "/v1/%"),
			expectedSQL:  "(request_response_rmt.organization_id = {val_0:String} AND request_response_rmt.target_url LIKE {val_1:String})",
			expectedArgs: []interface{}{"org_1", "/v1/%"},
		},
		{
			name:         "threat is stored in the analytical store",
			filter:       NewLeaf(TableRequest, "threat", OpEquals, true),
			expectedSQL:  "(request_response_rmt.organization_id = {val_0:String} AND request_response_rmt.threat = {val_1:Bool})",
			expectedArgs: []interface{}{"org_1", true},
		},
		{
			name:         "property map access",
			filter:       NewLeaf(TableProperties, "environment", OpContains, "prod"),
			expectedSQL:  "(request_response_rmt.organization_id = {val_0:String} AND request_response_rmt.properties['environment'] ILIKE {val_1:String})",
			expectedArgs: []interface{}{"org_1", "%prod%"},
		},
		{
			name:         "numeric property comparison",
			filter:       NewLeaf(TableProperties, "retries", OpLte, 3.0),
			expectedSQL:  "(request_response_rmt.organization_id = {val_0:String} AND toFloat64OrNull(request_response_rmt.properties['retries']) <= {val_1:Float64})",
			expectedArgs: []interface{}{"org_1", 3.0},
		},
		{
			name:         "score map access",
			filter:       NewLeaf(TableScores, "accuracy", OpGte, 0.8),
			expectedSQL:  "(request_response_rmt.organization_id = {val_0:String} AND request_response_rmt.scores['accuracy'] >= {val_1:Float64})",
			expectedArgs: []interface{}{"org_1", 0.8},
		},
		{
			name:         "null check",
			filter:       NewLeaf(TableRequest, "prompt_id", OpNotEquals, nil),
			expectedSQL:  "(request_response_rmt.organization_id = {val_0:String} AND request_response_rmt.prompt_id IS NOT NULL)",
			expectedArgs: []interface{}{"org_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := CompileWhere(tt.filter, "org_1", ClickHouse)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedSQL, compiled.SQL)
			assert.Equal(t, tt.expectedArgs, compiled.Args)
		})
	}
}

func TestCompileWhere_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filter   Node
		tenant   string
		dialect  *Dialect
		expected error
	}{
		{"empty tenant", All(), "", Postgres, ErrMissingTenant},
		{"blank tenant", All(), "   ", Postgres, ErrMissingTenant},
		{"null tenant", All(), "null", ClickHouse, ErrMissingTenant},
		{"unknown column", NewLeaf(TableRequest, "nope", OpEquals, "x"), "org_1", Postgres, ErrUnknownColumn},
		{"unknown table", NewLeaf(Table("invoices"), "id", OpEquals, "x"), "org_1", Postgres, ErrNotImplemented},
		{"table missing in dialect", NewLeaf(TableFeedback, "rating", OpEquals, true), "org_1", ClickHouse, ErrNotImplemented},
		{"aggregate table in where", NewLeaf(TableUserMetrics, "total_cost", OpGt, 1.0), "org_1", Postgres, ErrNotImplemented},
		{"text operator on number", NewLeaf(TableResponse, "latency", OpContains, "1"), "org_1", Postgres, ErrOperatorFamily},
		{"range on boolean", NewLeaf(TableRequest, "cache_enabled", OpGt, true), "org_1", Postgres, ErrOperatorFamily},
		{"not equals on timestamp", NewLeaf(TableRequest, "created_at", OpNotEquals, "2024-01-01"), "org_1", ClickHouse, ErrOperatorFamily},
		{"unsupported operator", NewLeaf(TableRequest, "model", Operator("between"), "a"), "org_1", Postgres, ErrUnsupportedOperator},
		{"timestamp that is not rfc 3339", NewLeaf(TableRequest, "created_at", OpGte, "2024-01-01 00:00:00"), "org_1", ClickHouse, ErrInvalidTimestamp},
		{"timestamp date only", NewLeaf(TableResponse, "created_at", OpLt, "yesterday"), "org_1", Postgres, ErrInvalidTimestamp},
		{"invalid branch", Branch{Left: All(), Op: BranchOp("XOR"), Right: All()}, "org_1", Postgres, ErrInvalidBranch},
		{"nil child", Branch{Left: All(), Op: OpAnd}, "org_1", Postgres, ErrInvalidFilter},
		{"error in right subtree", And(All(), NewLeaf(TableRequest, "nope", OpEquals, 1.0)), "org_1", Postgres, ErrUnknownColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := CompileWhere(tt.filter, tt.tenant, tt.dialect)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.expected), "got %v", err)
			assert.Empty(t, compiled.SQL)
			assert.False(t, compiled.TenantScoped())
		})
	}
}

func TestCompileWhere_CompileErrorDetails(t *testing.T) {
	_, err := CompileWhere(NewLeaf(TableResponse, "nope", OpEquals, "x"), "org_1", Postgres)
	require.Error(t, err)

	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, TableResponse, compileErr.Table)
	assert.Equal(t, "nope", compileErr.Column)
	assert.Equal(t, ClauseWhere, compileErr.Clause)
	assert.Contains(t, err.Error(), `"response"."nope"`)
}

func TestCompileWhere_ValuesAreNeverInterpolated(t *testing.T) {
	payloads := []string{
		"x' OR '1'='1",
		"'; DROP TABLE request; --",
		"org_2' OR organization_id = 'org_2",
		`\'); SELECT 1; --`,
	}

	for _, dialect := range []*Dialect{Postgres, ClickHouse} {
		for _, payload := range payloads {
			t.Run(string(dialect.Kind())+"/"+payload, func(t *testing.T) {
				compiled, err := CompileWhere(NewLeaf(TableRequest, "model", OpEquals, payload), "org_1", dialect)
				require.NoError(t, err)

				assert.NotContains(t, compiled.SQL, payload)
				assert.NotContains(t, compiled.SQL, "DROP")
				assert.Equal(t, payload, compiled.Args[1])
			})
		}
	}
}

func TestCompileWhere_TenantCannotBeWidened(t *testing.T) {
	// a filter that would match every tenant on its own
	widening := Or(
		NewLeaf(TableRequest, "organization_id", OpEquals, "org_2"),
		NewLeaf(TableRequest, "organization_id", OpNotEquals, nil),
	)

	compiled, err := CompileWhere(widening, "org_1", Postgres)
	require.NoError(t, err)

	assert.Equal(t,
		"(request.organization_id = $1 AND (request.organization_id = $2 OR request.organization_id IS NOT NULL))",
		compiled.SQL)
	assert.Equal(t, "org_1", compiled.Args[0])
}

func TestCompileWhere_InvalidDynamicKeys(t *testing.T) {
	keys := []string{
		"x'; DROP TABLE request; --",
		"../etc/passwd",
		"a..b",
		"key'",
		`key"`,
		"key with space",
		"-leading",
		".leading",
		"",
		string(make([]byte, MaxIdentifierLength+1)),
	}

	for _, dialect := range []*Dialect{Postgres, ClickHouse} {
		for _, table := range []Table{TableProperties, TableScores} {
			for i, key := range keys {
				t.Run(string(dialect.Kind())+"/"+string(table)+"/"+strconv.Itoa(i), func(t *testing.T) {
					_, err := CompileWhere(NewLeaf(table, key, OpEquals, 1.0), "org_1", dialect)
					require.Error(t, err)
					assert.True(t, errors.Is(err, ErrInvalidIdentifier), "got %v", err)
				})
			}
		}
	}
}

func TestCompileWhere_PlaceholderAlignment(t *testing.T) {
	filter := FromList([]Node{
		NewLeaf(TableRequest, "model", OpEquals, "a"),
		Or(NewLeaf(TableRequest, "user_id", OpEquals, nil), NewLeaf(TableRequest, "user_id", OpEquals, "u")),
		NewLeaf(TableResponse, "time_to_first_token", OpGt, 1.0),
		And(NewLeaf(TableResponse, "cost", OpGt, 0.5), NewLeaf(TableProperties, "env", OpContains, "prod")),
		All(),
		NewLeaf(TableScores, "accuracy", OpLt, 0.9),
	}, OpAnd)

	patterns := map[Kind]*regexp.Regexp{
		KindPostgres:   regexp.MustCompile(`\$(\d+)`),
		KindClickHouse: regexp.MustCompile(`\{val_(\d+):`),
	}
	offsets := map[Kind]int{KindPostgres: 1, KindClickHouse: 0}

	for _, dialect := range []*Dialect{Postgres, ClickHouse} {
		t.Run(string(dialect.Kind()), func(t *testing.T) {
			compiled, err := CompileWhere(filter, "org_1", dialect)
			require.NoError(t, err)

			matches := patterns[dialect.Kind()].FindAllStringSubmatch(compiled.SQL, -1)
			require.Len(t, matches, len(compiled.Args))
			for i, m := range matches {
				n, err := strconv.Atoi(m[1])
				require.NoError(t, err)
				assert.Equal(t, i+offsets[dialect.Kind()], n)
			}
		})
	}
}

func TestCompileWhere_Deterministic(t *testing.T) {
	build := func() Node {
		return FromConditions([]Condition{
			{Table: TableRequest, Column: "model", Operator: OpEquals, Value: "gpt-4"},
			{Table: TableRequest, Column: "provider", Operator: OpEquals, Value: "openai"},
			{Table: TableResponse, Column: "status", Operator: OpGte, Value: 400.0},
		}, OpAnd)
	}

	first, err := CompileWhere(build(), "org_1", Postgres)
	require.NoError(t, err)
	second, err := CompileWhere(build(), "org_1", Postgres)
	require.NoError(t, err)

	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Args, second.Args)
}

func TestCompileHaving(t *testing.T) {
	t.Run("continues numbering after where arguments", func(t *testing.T) {
		where, err := CompileWhere(NewLeaf(TableRequest, "model", OpEquals, "gpt-4"), "org_1", Postgres)
		require.NoError(t, err)

		having, err := CompileHaving(
			And(
				NewLeaf(TableUserMetrics, "total_cost", OpGt, 10.0),
				NewLeaf(TableUserMetrics, "total_requests", OpGte, 5.0),
			),
			Postgres,
			WithArgs(where.Args),
		)
		require.NoError(t, err)

		assert.Equal(t, "(sum(response.cost) > $3 AND count(request.id) >= $4)", having.SQL)
		assert.Equal(t, []interface{}{"org_1", "gpt-4", 10.0, 5.0}, having.Args)
		assert.False(t, having.TenantScoped())
		// the caller's slice is left untouched
		assert.Len(t, where.Args, 2)
	})

	t.Run("clickhouse session metrics", func(t *testing.T) {
		having, err := CompileHaving(NewLeaf(TableSessionMetrics, "session_tag", OpEquals, "beta"), ClickHouse)
		require.NoError(t, err)

		assert.Equal(t, "any(request_response_rmt.properties['session-tag']) = {val_0:String}", having.SQL)
		assert.Equal(t, []interface{}{"beta"}, having.Args)
	})

	t.Run("row table in having is not implemented", func(t *testing.T) {
		_, err := CompileHaving(NewLeaf(TableRequest, "model", OpEquals, "x"), Postgres)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotImplemented))

		var compileErr *CompileError
		require.True(t, errors.As(err, &compileErr))
		assert.Equal(t, ClauseHaving, compileErr.Clause)
	})

	t.Run("ignored aggregate", func(t *testing.T) {
		having, err := CompileHaving(NewLeaf(TableSessionMetrics, "session_tag", OpEquals, "beta"), Postgres)
		require.NoError(t, err)
		assert.Equal(t, "true", having.SQL)
		assert.Empty(t, having.Args)
	})
}

func TestCompile_LogsIgnoredColumns(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLoggerWithWriter(&buf, "debug")

	_, err := CompileWhere(NewLeaf(TableRequest, "threat", OpEquals, true), "org_1", Postgres, WithLogger(log))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Filter column not stored by dialect")
	assert.Contains(t, buf.String(), `"column":"threat"`)
}

func TestCompileWhere_CustomTenantLeaf(t *testing.T) {
	byUser := func(tenantID string) Node {
		return NewLeaf(TableRequest, "user_id", OpEquals, tenantID)
	}

	compiled, err := CompileWhere(All(), "user_42", Postgres, WithTenantLeaf(byUser))
	require.NoError(t, err)
	assert.Equal(t, "(request.user_id = $1 AND true)", compiled.SQL)
	assert.Equal(t, []interface{}{"user_42"}, compiled.Args)
}

func TestCompileWhere_TimestampParameterText(t *testing.T) {
	filter, err := ParseString(`{"request":{"created_at":{"gte":"2024-01-01T00:00:00Z"}}}`)
	require.NoError(t, err)

	compiled, err := CompileWhere(filter, "org_1", ClickHouse)
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL, "request_response_rmt.request_created_at >= {val_1:DateTime64(3)}")
	require.Len(t, compiled.Args, 2)
	assert.Equal(t, "2024-01-01 00:00:00.000", FormatClickHouseValue(compiled.Args[1]))

	var compileErr *CompileError
	_, err = CompileWhere(NewLeaf(TableRequest, "created_at", OpGte, "Jan 1"), "org_1", ClickHouse)
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "created_at", compileErr.Column)
}
