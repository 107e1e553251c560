package filter

import (
	"fmt"
)

// PostgreSQL resolver sets. The transactional store keeps requests, responses and feedback
// in separate tables joined by request id; properties and scores live in jsonb columns.
var postgresWhere = ResolverSet{
	TableRequest: Fields{
		"id":              {Expr: "request.id", Family: FamilyText},
		"organization_id": {Expr: "request.organization_id", Family: FamilyText},
		"created_at":      {Expr: "request.created_at", Family: FamilyTimestamp},
		"user_id":         {Expr: "request.user_id", Family: FamilyText},
		"model":           {Expr: "request.model", Family: FamilyText},
		"provider":        {Expr: "request.provider", Family: FamilyText},
		"path":            {Expr: "request.path", Family: FamilyText},
		"prompt_id":       {Expr: "request.prompt_id", Family: FamilyText},
		"session_id":      {Expr: "request.session_id", Family: FamilyText},
		"country_code":    {Expr: "request.country_code", Family: FamilyText},
		"cache_enabled":   {Expr: "request.cache_enabled", Family: FamilyBoolean},
		"threat":          ignored(FamilyBoolean),
	},
	TableResponse: Fields{
		"id":                  {Expr: "response.id", Family: FamilyText},
		"status":              {Expr: "response.status", Family: FamilyNumber},
		"latency":             {Expr: "response.delay_ms", Family: FamilyNumber},
		"prompt_tokens":       {Expr: "response.prompt_tokens", Family: FamilyNumber},
		"completion_tokens":   {Expr: "response.completion_tokens", Family: FamilyNumber},
		"cost":                {Expr: "response.cost", Family: FamilyNumber},
		"model":               {Expr: "coalesce(request.model_override, response.model, request.model)", Family: FamilyText},
		"created_at":          {Expr: "response.created_at", Family: FamilyTimestamp},
		"time_to_first_token": ignored(FamilyNumber),
	},
	TableProperties: DynamicKeys{
		Accessor: func(key string) string { return fmt.Sprintf("request.properties ->> '%s'", key) },
		Numeric:  func(key string) string { return fmt.Sprintf("(request.properties ->> '%s')::numeric", key) },
		Family:   FamilyText,
	},
	TableScores: DynamicKeys{
		Numeric: func(key string) string { return fmt.Sprintf("(request.scores ->> '%s')::numeric", key) },
		Family:  FamilyNumber,
	},
	TableFeedback: Fields{
		"rating":     {Expr: "feedback.rating", Family: FamilyBoolean},
		"created_at": {Expr: "feedback.created_at", Family: FamilyTimestamp},
	},
}

var postgresHaving = ResolverSet{
	TableUserMetrics: Fields{
		"total_requests":  {Expr: "count(request.id)", Family: FamilyNumber},
		"total_cost":      {Expr: "sum(response.cost)", Family: FamilyNumber},
		"average_latency": {Expr: "avg(response.delay_ms)", Family: FamilyNumber},
		"last_active":     {Expr: "max(request.created_at)", Family: FamilyTimestamp},
		"first_active":    {Expr: "min(request.created_at)", Family: FamilyTimestamp},
	},
	TableSessionMetrics: Fields{
		"session_total_requests": {Expr: "count(request.id)", Family: FamilyNumber},
		"session_cost":           {Expr: "sum(response.cost)", Family: FamilyNumber},
		"session_latency":        {Expr: "sum(response.delay_ms)", Family: FamilyNumber},
		"session_tag":            ignored(FamilyText),
	},
}

const postgresRequestSource = "request LEFT JOIN response ON response.request = request.id " +
	"LEFT JOIN feedback ON feedback.response_id = response.id"

var postgresSources = map[Table]string{
	TableRequest:    postgresRequestSource,
	TableResponse:   postgresRequestSource,
	TableProperties: postgresRequestSource,
	TableScores:     postgresRequestSource,
	TableFeedback:   postgresRequestSource,
}

// ClickHouse resolver sets. The analytical store keeps one wide, denormalized row per
// request/response pair; properties and scores are Map columns.
var clickhouseWhere = ResolverSet{
	TableRequest: Fields{
		"id":              {Expr: "request_response_rmt.request_id", Family: FamilyText},
		"organization_id": {Expr: "request_response_rmt.organization_id", Family: FamilyText},
		"created_at":      {Expr: "request_response_rmt.request_created_at", Family: FamilyTimestamp},
		"user_id":         {Expr: "request_response_rmt.user_id", Family: FamilyText},
		"model":           {Expr: "request_response_rmt.model", Family: FamilyText},
		"provider":        {Expr: "request_response_rmt.provider", Family: FamilyText},
		"path":            {Expr: "request_response_rmt.target_url", Family: FamilyText},
		"prompt_id":       {Expr: "request_response_rmt.prompt_id", Family: FamilyText},
		"session_id":      {Expr: "request_response_rmt.properties['session-id']", Family: FamilyText},
		"country_code":    {Expr: "request_response_rmt.country_code", Family: FamilyText},
		"cache_enabled":   {Expr: "request_response_rmt.cache_enabled", Family: FamilyBoolean},
		"threat":          {Expr: "request_response_rmt.threat", Family: FamilyBoolean},
	},
	TableResponse: Fields{
		"id":                  {Expr: "request_response_rmt.response_id", Family: FamilyText},
		"status":              {Expr: "request_response_rmt.status", Family: FamilyNumber},
		"latency":             {Expr: "request_response_rmt.latency", Family: FamilyNumber},
		"prompt_tokens":       {Expr: "request_response_rmt.prompt_tokens", Family: FamilyNumber},
		"completion_tokens":   {Expr: "request_response_rmt.completion_tokens", Family: FamilyNumber},
		"cost":                {Expr: "request_response_rmt.cost", Family: FamilyNumber},
		"model":               {Expr: "request_response_rmt.model", Family: FamilyText},
		"created_at":          {Expr: "request_response_rmt.response_created_at", Family: FamilyTimestamp},
		"time_to_first_token": {Expr: "request_response_rmt.time_to_first_token", Family: FamilyNumber},
	},
	TableProperties: DynamicKeys{
		Accessor: func(key string) string { return fmt.Sprintf("request_response_rmt.properties['%s']", key) },
		Numeric: func(key string) string {
			return fmt.Sprintf("toFloat64OrNull(request_response_rmt.properties['%s'])", key)
		},
		Family: FamilyText,
	},
	TableScores: DynamicKeys{
		Numeric: func(key string) string { return fmt.Sprintf("request_response_rmt.scores['%s']", key) },
		Family:  FamilyNumber,
	},
}

var clickhouseHaving = ResolverSet{
	TableUserMetrics: Fields{
		"total_requests":  {Expr: "count(request_response_rmt.request_id)", Family: FamilyNumber},
		"total_cost":      {Expr: "sum(request_response_rmt.cost)", Family: FamilyNumber},
		"average_latency": {Expr: "avg(request_response_rmt.latency)", Family: FamilyNumber},
		"last_active":     {Expr: "max(request_response_rmt.request_created_at)", Family: FamilyTimestamp},
		"first_active":    {Expr: "min(request_response_rmt.request_created_at)", Family: FamilyTimestamp},
	},
	TableSessionMetrics: Fields{
		"session_total_requests": {Expr: "count(request_response_rmt.request_id)", Family: FamilyNumber},
		"session_cost":           {Expr: "sum(request_response_rmt.cost)", Family: FamilyNumber},
		"session_latency":        {Expr: "sum(request_response_rmt.latency)", Family: FamilyNumber},
		"session_tag":            {Expr: "any(request_response_rmt.properties['session-tag'])", Family: FamilyText},
	},
}

var clickhouseSources = map[Table]string{
	TableRequest:    "request_response_rmt",
	TableResponse:   "request_response_rmt",
	TableProperties: "request_response_rmt",
	TableScores:     "request_response_rmt",
}
