package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/insights/internal/domain"
	"github.com/Notifuse/insights/internal/domain/mocks"
	"github.com/Notifuse/insights/internal/http/middleware"
	"github.com/Notifuse/insights/pkg/analytics"
	"github.com/Notifuse/insights/pkg/filter"
	"github.com/Notifuse/insights/pkg/logger"
	"github.com/Notifuse/insights/pkg/ratelimiter"
)

var testSecret = []byte("test-jwt-secret-key-for-testing-32bytes")

func createTestToken(t *testing.T, tenantID string) string {
	claims := &middleware.TenantClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func setupAnalyticsHandler(t *testing.T, limiter *ratelimiter.RateLimiter) (*mocks.MockAnalyticsService, *http.ServeMux) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockService := mocks.NewMockAnalyticsService(ctrl)
	handler := NewAnalyticsHandler(mockService, func() ([]byte, error) { return testSecret, nil }, limiter, logger.NewMockLogger(t))

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mockService, mux
}

func sendRequest(t *testing.T, mux *http.ServeMux, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAnalyticsHandler_RegisterRoutes(t *testing.T) {
	_, mux := setupAnalyticsHandler(t, nil)

	for _, path := range []string{"/api/analytics.overTime", "/api/analytics.histogram", "/api/analytics.metrics"} {
		w := sendRequest(t, mux, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path) // fails auth, not 404
	}
}

func TestAnalyticsHandler_OverTime(t *testing.T) {
	start := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)

	result := &domain.OverTimeResult{
		Granularity: "hour",
		Metrics:     []string{"cost"},
		Buckets: []analytics.BucketRow{
			{Bucket: start, Values: map[string]float64{"cost": 1.5}},
		},
	}

	tests := []struct {
		name           string
		method         string
		body           interface{}
		setupMocks     func(*mocks.MockAnalyticsService)
		expectedStatus int
		expectedError  string
		checkResponse  func(*testing.T, map[string]interface{})
	}{
		{
			name:   "metrics with filter and having",
			method: http.MethodPost,
			body: `{"start":"2024-03-10T10:00:00Z","end":"2024-03-10T15:00:00Z","granularity":"hour",
				"timezone_offset_minutes":-120,"metrics":["cost"],"group_by":["model"],
				"filter":{"left":{"request":{"model":{"equals":"gpt-4"}}},"operator":"and","right":"all"},
				"having":{"user_metrics":{"total_cost":{"gt":10}}}}`,
			setupMocks: func(m *mocks.MockAnalyticsService) {
				m.EXPECT().
					MetricOverTime(gomock.Any(), "org_1", gomock.Any()).
					DoAndReturn(func(_ interface{}, _ string, params domain.OverTimeParams) (*domain.OverTimeResult, error) {
						assert.True(t, start.Equal(params.Start))
						assert.True(t, end.Equal(params.End))
						assert.Equal(t, -120, params.TimezoneOffsetMinutes)
						assert.Equal(t, []string{"model"}, params.GroupBy)
						assert.Equal(t, filter.And(
							filter.NewLeaf(filter.TableRequest, "model", filter.OpEquals, "gpt-4"),
							filter.All(),
						), params.Filter)
						assert.Equal(t, filter.NewLeaf(filter.TableUserMetrics, "total_cost", filter.OpGt, float64(10)), params.Having)
						return result, nil
					})
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body map[string]interface{}) {
				buckets := body["buckets"].([]interface{})
				require.Len(t, buckets, 1)
				values := buckets[0].(map[string]interface{})["values"].(map[string]interface{})
				assert.Equal(t, 1.5, values["cost"])
			},
		},
		{
			name:   "no metrics asks for the request series",
			method: http.MethodPost,
			body:   map[string]interface{}{"start": "2024-03-10T10:00:00Z", "end": "2024-03-10T15:00:00Z", "granularity": "day"},
			setupMocks: func(m *mocks.MockAnalyticsService) {
				m.EXPECT().RequestsOverTime(gomock.Any(), "org_1", gomock.Any()).Return(result, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "method not allowed",
			method:         http.MethodGet,
			setupMocks:     func(m *mocks.MockAnalyticsService) {},
			expectedStatus: http.StatusMethodNotAllowed,
			expectedError:  "Method not allowed",
		},
		{
			name:           "malformed json",
			method:         http.MethodPost,
			body:           `{"start":`,
			setupMocks:     func(m *mocks.MockAnalyticsService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request payload",
		},
		{
			name:           "unsupported granularity",
			method:         http.MethodPost,
			body:           map[string]interface{}{"start": "2024-03-10T10:00:00Z", "end": "2024-03-10T15:00:00Z", "granularity": "decade"},
			setupMocks:     func(m *mocks.MockAnalyticsService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid over time request",
		},
		{
			name:           "start is not a timestamp",
			method:         http.MethodPost,
			body:           map[string]interface{}{"start": "yesterday", "end": "2024-03-10T15:00:00Z", "granularity": "hour"},
			setupMocks:     func(m *mocks.MockAnalyticsService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "invalid filter",
			method: http.MethodPost,
			body: `{"start":"2024-03-10T10:00:00Z","end":"2024-03-10T15:00:00Z","granularity":"hour",
				"metrics":["cost"],"filter":{"left":"all","operator":"xor","right":"all"}}`,
			setupMocks:     func(m *mocks.MockAnalyticsService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "filter:",
		},
		{
			name:   "compile error is a bad request",
			method: http.MethodPost,
			body:   map[string]interface{}{"start": "2024-03-10T10:00:00Z", "end": "2024-03-10T15:00:00Z", "granularity": "hour", "metrics": []string{"cost"}},
			setupMocks: func(m *mocks.MockAnalyticsService) {
				m.EXPECT().MetricOverTime(gomock.Any(), "org_1", gomock.Any()).
					Return(nil, fmt.Errorf("failed to query: %w", &filter.CompileError{
						Table: filter.TableRequest, Column: "secret", Clause: filter.ClauseWhere, Err: filter.ErrUnknownColumn,
					}))
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "unknown column",
		},
		{
			name:   "store failure is hidden",
			method: http.MethodPost,
			body:   map[string]interface{}{"start": "2024-03-10T10:00:00Z", "end": "2024-03-10T15:00:00Z", "granularity": "hour", "metrics": []string{"cost"}},
			setupMocks: func(m *mocks.MockAnalyticsService) {
				m.EXPECT().MetricOverTime(gomock.Any(), "org_1", gomock.Any()).
					Return(nil, errors.New("dial tcp 10.0.0.3:5432: connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "Over time query failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService, mux := setupAnalyticsHandler(t, nil)
			tt.setupMocks(mockService)

			w := sendRequest(t, mux, tt.method, "/api/analytics.overTime", createTestToken(t, "org_1"), tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			body := decodeBody(t, w)
			if tt.expectedError != "" {
				assert.Equal(t, true, body["error"])
				assert.Contains(t, body["message"], tt.expectedError)
				assert.NotContains(t, body["message"], "10.0.0.3")
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, body)
			}
		})
	}
}

func TestAnalyticsHandler_Histogram(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mockService, mux := setupAnalyticsHandler(t, nil)
		mockService.EXPECT().
			LatencyDistribution(gomock.Any(), "org_1", gomock.Any()).
			DoAndReturn(func(_ interface{}, _ string, params domain.DistributionParams) (*domain.DistributionResult, error) {
				assert.Equal(t, "cost", params.Metric)
				assert.Equal(t, 0.9, params.PercentileSize)
				assert.True(t, params.UseInterquartile)
				assert.True(t, filter.IsAll(params.Filter))
				return &domain.DistributionResult{
					Metric:  "cost",
					Key:     "user_id",
					Buckets: []analytics.HistogramBucket{{RangeStart: 0, RangeEnd: 1, Value: 3}},
				}, nil
			})

		w := sendRequest(t, mux, http.MethodPost, "/api/analytics.histogram", createTestToken(t, "org_1"), map[string]interface{}{
			"start": "2024-03-10T00:00:00Z", "end": "2024-03-11T00:00:00Z",
			"metric": "cost", "percentile_size": 0.9, "use_interquartile": true,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodeBody(t, w)
		buckets := body["buckets"].([]interface{})
		require.Len(t, buckets, 1)
		assert.Equal(t, float64(3), buckets[0].(map[string]interface{})["value"])
	})

	t.Run("invalid percentile", func(t *testing.T) {
		mockService, mux := setupAnalyticsHandler(t, nil)
		mockService.EXPECT().
			LatencyDistribution(gomock.Any(), "org_1", gomock.Any()).
			Return(nil, &analytics.FieldError{Field: "percentile_size", Err: analytics.ErrInvalidPercentile})

		w := sendRequest(t, mux, http.MethodPost, "/api/analytics.histogram", createTestToken(t, "org_1"), map[string]interface{}{
			"start": "2024-03-10T00:00:00Z", "end": "2024-03-11T00:00:00Z", "percentile_size": 2,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeBody(t, w)["message"], "percentile_size")
	})

	t.Run("missing range", func(t *testing.T) {
		_, mux := setupAnalyticsHandler(t, nil)
		w := sendRequest(t, mux, http.MethodPost, "/api/analytics.histogram", createTestToken(t, "org_1"), map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAnalyticsHandler_GetMetrics(t *testing.T) {
	mockService, mux := setupAnalyticsHandler(t, nil)
	mockService.EXPECT().GetMetrics(gomock.Any()).Return(map[string]domain.MetricDefinition{
		"cost": domain.PredefinedMetrics["cost"],
	})

	w := sendRequest(t, mux, http.MethodGet, "/api/analytics.metrics", createTestToken(t, "org_1"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	metrics := decodeBody(t, w)["metrics"].(map[string]interface{})
	cost := metrics["cost"].(map[string]interface{})
	assert.Equal(t, "usd", cost["unit"])
	assert.NotContains(t, cost, "expressions", "sql stays server side")

	w = sendRequest(t, mux, http.MethodPost, "/api/analytics.metrics", createTestToken(t, "org_1"), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAnalyticsHandler_RateLimited(t *testing.T) {
	limiter := ratelimiter.NewRateLimiter(0)
	limiter.SetPolicy(middleware.AnalyticsRateNamespace, 1, time.Minute)

	mockService, mux := setupAnalyticsHandler(t, limiter)
	mockService.EXPECT().GetMetrics(gomock.Any()).Return(map[string]domain.MetricDefinition{}).Times(2)

	token := createTestToken(t, "org_1")
	assert.Equal(t, http.StatusOK, sendRequest(t, mux, http.MethodGet, "/api/analytics.metrics", token, nil).Code)

	w := sendRequest(t, mux, http.MethodGet, "/api/analytics.metrics", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// other tenants keep their own quota
	assert.Equal(t, http.StatusOK, sendRequest(t, mux, http.MethodGet, "/api/analytics.metrics", createTestToken(t, "org_2"), nil).Code)
}
