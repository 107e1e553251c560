package analytics

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTimeRange       = errors.New("start must be before end")
	ErrUnsupportedGranularity = errors.New("unsupported granularity")
	ErrInvalidTimezoneOffset  = errors.New("timezone offset must be within 1440 minutes of UTC")
	ErrInvalidPercentile      = errors.New("percentile must be between 0.5 and 1")
	ErrMissingAggregate       = errors.New("at least one aggregate is required")
	ErrInvalidAlias           = errors.New("invalid column alias")
	ErrUnscopedFilter         = errors.New("filter is not tenant scoped")
	ErrInvalidBucket          = errors.New("invalid bucket value")
)

// FieldError is a validation failure on a named request field
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Selection is a trusted SQL expression and the result column it is returned as
type Selection struct {
	Expr  string `json:"expr"`
	Alias string `json:"alias"`
}

// CompiledQuery is a complete statement and its positional arguments
type CompiledQuery struct {
	SQL  string
	Args []interface{}
}

// BucketRow is one row of an over-time result
type BucketRow struct {
	Bucket time.Time              `json:"bucket"`
	Groups map[string]interface{} `json:"groups,omitempty"`
	Values map[string]float64     `json:"values"`
}

// HistogramBucket is one bin of a distribution
type HistogramBucket struct {
	RangeStart float64 `json:"range_start"`
	RangeEnd   float64 `json:"range_end"`
	Value      float64 `json:"value"`
}
