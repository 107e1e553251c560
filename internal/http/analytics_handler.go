package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/Notifuse/insights/internal/domain"
	"github.com/Notifuse/insights/internal/http/middleware"
	"github.com/Notifuse/insights/pkg/analytics"
	"github.com/Notifuse/insights/pkg/filter"
	"github.com/Notifuse/insights/pkg/logger"
	"github.com/Notifuse/insights/pkg/ratelimiter"
)

// maxRequestBytes bounds analytics request bodies, filters included
const maxRequestBytes = 1 << 20

// AnalyticsHandler handles HTTP requests related to analytics
type AnalyticsHandler struct {
	service domain.AnalyticsService
	auth    *middleware.AuthConfig
	limiter *ratelimiter.RateLimiter
	logger  logger.Logger
}

// NewAnalyticsHandler creates a new analytics handler. limiter may be nil.
func NewAnalyticsHandler(
	service domain.AnalyticsService,
	secret middleware.SecretFunc,
	limiter *ratelimiter.RateLimiter,
	logger logger.Logger,
) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		auth:    middleware.NewAuthMiddleware(secret, logger),
		limiter: limiter,
		logger:  logger,
	}
}

// RegisterRoutes registers the analytics-related routes
func (h *AnalyticsHandler) RegisterRoutes(mux *http.ServeMux) {
	protect := func(next http.HandlerFunc) http.Handler {
		var handler http.Handler = next
		if h.limiter != nil {
			handler = middleware.RateLimit(h.limiter, middleware.AnalyticsRateNamespace)(handler)
		}
		return h.auth.RequireAuth()(handler)
	}

	mux.Handle("/api/analytics.overTime", protect(h.handleOverTime))
	mux.Handle("/api/analytics.histogram", protect(h.handleHistogram))
	mux.Handle("/api/analytics.metrics", protect(h.handleGetMetrics))
}

// OverTimeRequest is the payload of analytics.overTime. Without metrics the request count,
// cost and latency series are returned.
type OverTimeRequest struct {
	Start                 string          `json:"start" valid:"required,rfc3339"`
	End                   string          `json:"end" valid:"required,rfc3339"`
	Granularity           string          `json:"granularity" valid:"required,in(minute|hour|day|week|month|year)"`
	// TimezoneOffsetMinutes is UTC minus local time, as JavaScript's getTimezoneOffset
	// returns it: 120 is UTC-02:00, -330 is UTC+05:30
	TimezoneOffsetMinutes int             `json:"timezone_offset_minutes"`
	Metrics               []string        `json:"metrics"`
	GroupBy               []string        `json:"group_by"`
	Filter                json.RawMessage `json:"filter" valid:"-"`
	Having                json.RawMessage `json:"having" valid:"-"`
}

// Validate checks the request and converts it to service params
func (r *OverTimeRequest) Validate() (domain.OverTimeParams, error) {
	if _, err := govalidator.ValidateStruct(r); err != nil {
		return domain.OverTimeParams{}, domain.NewValidationError(fmt.Sprintf("invalid over time request: %v", err))
	}

	start, end, err := parseRange(r.Start, r.End)
	if err != nil {
		return domain.OverTimeParams{}, err
	}

	where, err := parseFilter("filter", r.Filter)
	if err != nil {
		return domain.OverTimeParams{}, err
	}
	having, err := parseFilter("having", r.Having)
	if err != nil {
		return domain.OverTimeParams{}, err
	}

	return domain.OverTimeParams{
		Start:                 start,
		End:                   end,
		Granularity:           r.Granularity,
		TimezoneOffsetMinutes: r.TimezoneOffsetMinutes,
		Metrics:               r.Metrics,
		GroupBy:               r.GroupBy,
		Filter:                where,
		Having:                having,
	}, nil
}

// HistogramRequest is the payload of analytics.histogram
type HistogramRequest struct {
	Start            string          `json:"start" valid:"required,rfc3339"`
	End              string          `json:"end" valid:"required,rfc3339"`
	Metric           string          `json:"metric"`
	Key              string          `json:"key"`
	PercentileSize   float64         `json:"percentile_size"`
	UseInterquartile bool            `json:"use_interquartile"`
	Filter           json.RawMessage `json:"filter" valid:"-"`
}

// Validate checks the request and converts it to service params
func (r *HistogramRequest) Validate() (domain.DistributionParams, error) {
	if _, err := govalidator.ValidateStruct(r); err != nil {
		return domain.DistributionParams{}, domain.NewValidationError(fmt.Sprintf("invalid histogram request: %v", err))
	}

	start, end, err := parseRange(r.Start, r.End)
	if err != nil {
		return domain.DistributionParams{}, err
	}

	where, err := parseFilter("filter", r.Filter)
	if err != nil {
		return domain.DistributionParams{}, err
	}

	return domain.DistributionParams{
		Start:            start,
		End:              end,
		Metric:           r.Metric,
		Key:              r.Key,
		PercentileSize:   r.PercentileSize,
		UseInterquartile: r.UseInterquartile,
		Filter:           where,
	}, nil
}

func parseRange(startValue, endValue string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startValue)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("start must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, endValue)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("end must be an RFC 3339 timestamp")
	}
	return start, end, nil
}

// parseFilter decodes an optional filter tree; an absent or null filter matches everything
func parseFilter(field string, raw json.RawMessage) (filter.Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return filter.All(), nil
	}
	node, err := filter.Parse(raw)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("%s: %v", field, err))
	}
	return node, nil
}

func (h *AnalyticsHandler) handleOverTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	tenantID, _ := middleware.TenantFromContext(r.Context())

	var req OverTimeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to decode over time request")
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	params, err := req.Validate()
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var result *domain.OverTimeResult
	if len(params.Metrics) == 0 {
		result, err = h.service.RequestsOverTime(r.Context(), tenantID, params)
	} else {
		result, err = h.service.MetricOverTime(r.Context(), tenantID, params)
	}
	if err != nil {
		h.writeServiceError(w, r, tenantID, err, "Over time query failed")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

func (h *AnalyticsHandler) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	tenantID, _ := middleware.TenantFromContext(r.Context())

	var req HistogramRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to decode histogram request")
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	params, err := req.Validate()
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.LatencyDistribution(r.Context(), tenantID, params)
	if err != nil {
		h.writeServiceError(w, r, tenantID, err, "Histogram query failed")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

func (h *AnalyticsHandler) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"metrics": h.service.GetMetrics(r.Context()),
	})
}

// writeServiceError answers 400 for errors caused by the request and 500 otherwise.
// Internal error details are logged, not returned.
func (h *AnalyticsHandler) writeServiceError(w http.ResponseWriter, r *http.Request, tenantID string, err error, message string) {
	if isClientError(err) {
		h.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.WithField("tenant_id", tenantID).
		WithField("request_id", middleware.RequestIDFromContext(r.Context())).
		WithField("error", err.Error()).
		Error(message)
	h.writeErrorResponse(w, http.StatusInternalServerError, message)
}

func isClientError(err error) bool {
	var compileErr *filter.CompileError
	var fieldErr *analytics.FieldError
	switch {
	case domain.IsValidationError(err),
		errors.As(err, &compileErr),
		errors.As(err, &fieldErr),
		errors.Is(err, filter.ErrInvalidFilter):
		return true
	}
	return false
}

// writeJSONResponse writes a JSON response
func (h *AnalyticsHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	if err := writeJSON(w, statusCode, data); err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (h *AnalyticsHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	WriteJSONError(w, message, statusCode)
}
