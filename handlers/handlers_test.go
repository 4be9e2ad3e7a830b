package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Kubendra2004/HealthForesight/config"
	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/middleware"
	"github.com/Kubendra2004/HealthForesight/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testDay = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

type fakeEngine struct {
	err  error
	last forecast.ForecastRequest
}

func (f *fakeEngine) Forecast(ctx context.Context, req forecast.ForecastRequest) (*forecast.ForecastResult, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	days := req.Days
	if days == 0 {
		days = 3
	}
	targets := req.Metrics
	if len(targets) == 0 {
		targets = []forecast.Metric{forecast.Beds, forecast.Oxygen}
	}
	res := &forecast.ForecastResult{
		GeneratedAt: testDay,
		Start:       req.Start.Format(dateLayout),
		Days:        days,
		Series:      map[forecast.Metric][]forecast.ForecastPoint{},
		Current:     map[forecast.Metric]float64{},
	}
	for _, m := range targets {
		points := make([]forecast.ForecastPoint, days)
		for i := range points {
			points[i] = forecast.ForecastPoint{
				Date:         req.Start.AddDate(0, 0, i),
				Yhat:         100 + float64(i),
				YhatLower:    90 + float64(i),
				YhatUpper:    110 + float64(i),
				ProbIncrease: 0.5,
			}
		}
		res.Series[m] = points
		res.Current[m] = 100
	}
	return res, nil
}

type fakeLive struct {
	values map[forecast.Metric]float64
	err    error
}

func (f fakeLive) Current(context.Context) (map[forecast.Metric]float64, error) {
	return f.values, f.err
}

type recordCall struct {
	requestID string
	offsets   map[forecast.Metric]float64
}

type fakeRecorder struct {
	calls chan recordCall
}

func (f *fakeRecorder) Record(ctx context.Context, requestID string, res *forecast.ForecastResult, offsets map[forecast.Metric]float64) error {
	f.calls <- recordCall{requestID: requestID, offsets: offsets}
	return nil
}

func forecastRouter(h *ForecastHandler) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/ml/predict/resources", h.GetForecast)
	return r
}

func newForecastHandler(engine Forecaster, live LiveSource, rec ForecastRecorder, shift bool) *ForecastHandler {
	h := NewForecastHandler(engine, live, rec, services.NewCacheWithClient(nil),
		ForecastHandlerConfig{AlignShiftBounds: shift}, zerolog.Nop())
	h.now = func() time.Time { return testDay.Add(10 * time.Hour) }
	return h
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

// ── Forecast handler tests ──

func TestGetForecastAppliesLiveOffset(t *testing.T) {
	rec := &fakeRecorder{calls: make(chan recordCall, 1)}
	live := fakeLive{values: map[forecast.Metric]float64{forecast.Beds: 112}}
	h := newForecastHandler(&fakeEngine{}, live, rec, true)

	w := get(forecastRouter(h), "/ml/predict/resources")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ForecastResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Start != "2024-05-01" {
		t.Errorf("start = %s, want today", resp.Start)
	}
	beds := resp.Series[forecast.Beds]
	if len(beds) != 3 {
		t.Fatalf("got %d beds points", len(beds))
	}
	if beds[0].Yhat != 112 || beds[1].Yhat != 113 {
		t.Errorf("aligned yhat = %v, %v; want 112, 113", beds[0].Yhat, beds[1].Yhat)
	}
	if beds[0].YhatLower != 102 || beds[0].YhatUpper != 122 {
		t.Errorf("bounds = [%v, %v], want shifted [102, 122]", beds[0].YhatLower, beds[0].YhatUpper)
	}
	if resp.Series[forecast.Oxygen][0].Yhat != 100 {
		t.Error("metrics without a live value must stay unadjusted")
	}
	if resp.LiveOffsets[forecast.Beds] != 12 || resp.Live[forecast.Beds] != 112 {
		t.Errorf("live = %v, offsets = %v", resp.Live, resp.LiveOffsets)
	}

	select {
	case call := <-rec.calls:
		if call.requestID == "" || call.offsets[forecast.Beds] != 12 {
			t.Errorf("unexpected record call %+v", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forecast was not recorded")
	}
}

func TestGetForecastKeepsBoundsWhenNotShifting(t *testing.T) {
	live := fakeLive{values: map[forecast.Metric]float64{forecast.Beds: 80}}
	h := newForecastHandler(&fakeEngine{}, live, nil, false)

	var resp ForecastResponse
	w := get(forecastRouter(h), "/ml/predict/resources?metric=beds")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	p := resp.Series[forecast.Beds][0]
	if p.Yhat != 80 || p.YhatLower != 90 || p.YhatUpper != 110 {
		t.Errorf("point = %+v, want yhat 80 with unshifted bounds", p)
	}
}

func TestGetForecastLiveFailureDegrades(t *testing.T) {
	live := fakeLive{err: errors.New("db down")}
	h := newForecastHandler(&fakeEngine{}, live, nil, true)

	w := get(forecastRouter(h), "/ml/predict/resources")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ForecastResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Series[forecast.Beds][0].Yhat != 100 || resp.LiveOffsets != nil {
		t.Error("forecast should be served unadjusted")
	}
}

func TestGetForecastParsesQuery(t *testing.T) {
	engine := &fakeEngine{}
	h := newForecastHandler(engine, nil, nil, true)

	w := get(forecastRouter(h), "/ml/predict/resources?days=14&start=2024-06-10&metric=icu&metric=beds,icu")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if engine.last.Days != 14 {
		t.Errorf("days = %d, want 14", engine.last.Days)
	}
	if !engine.last.Start.Equal(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", engine.last.Start)
	}
	if len(engine.last.Metrics) != 2 || engine.last.Metrics[0] != forecast.ICU || engine.last.Metrics[1] != forecast.Beds {
		t.Errorf("metrics = %v, want [icu beds]", engine.last.Metrics)
	}
	if w.Header().Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache = %q", w.Header().Get("X-Cache"))
	}
}

func TestGetForecastErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		err    error
		status int
	}{
		{"bad days", "?days=abc", nil, http.StatusBadRequest},
		{"zero days", "?days=0", nil, http.StatusBadRequest},
		{"bad start", "?start=01/05/2024", nil, http.StatusBadRequest},
		{"unknown metric", "?metric=ventilators", nil, http.StatusBadRequest},
		{"horizon too long", "?days=400", forecast.ErrInvalidHorizon, http.StatusBadRequest},
		{"no history", "", forecast.ErrDataUnavailable, http.StatusServiceUnavailable},
		{"internal", "", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newForecastHandler(&fakeEngine{err: tt.err}, nil, nil, true)
			w := get(forecastRouter(h), "/ml/predict/resources"+tt.query)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestAlignDoesNotMutateEngineResult(t *testing.T) {
	engine := &fakeEngine{}
	res, _ := engine.Forecast(context.Background(), forecast.ForecastRequest{Start: testDay})
	h := newForecastHandler(engine, fakeLive{values: map[forecast.Metric]float64{forecast.Beds: 0}}, nil, true)

	resp := h.align(context.Background(), res)
	if res.Series[forecast.Beds][0].Yhat != 100 {
		t.Error("engine result was mutated")
	}
	for _, p := range resp.Series[forecast.Beds] {
		if p.Yhat < 0 || p.YhatLower < 0 {
			t.Errorf("aligned values must be non-negative: %+v", p)
		}
	}
	if math.Abs(resp.LiveOffsets[forecast.Beds]+100) > 1e-9 {
		t.Errorf("offset = %v, want -100", resp.LiveOffsets[forecast.Beds])
	}
}

// ── Training handler tests ──

type stubTrainer struct{}

func (stubTrainer) Train(ctx context.Context, records []forecast.Record, only ...forecast.Metric) (*forecast.TrainReport, error) {
	return &forecast.TrainReport{RunID: "run-7", Results: map[forecast.Metric]forecast.MetricResult{}}, nil
}

type stubHistory struct{}

func (stubHistory) Load(context.Context) ([]forecast.Record, error) {
	return []forecast.Record{{Date: testDay}}, nil
}

type stubMetrics struct {
	all map[forecast.Metric]forecast.ValidationMetrics
	err error
}

func (s stubMetrics) LoadMetrics(context.Context) (map[forecast.Metric]forecast.ValidationMetrics, error) {
	return s.all, s.err
}

func trainingRouter(jobs *services.TrainingJobs, metrics forecast.MetricsSource) *gin.Engine {
	h := NewTrainingHandler(jobs, metrics)
	r := gin.New()
	r.GET("/ml/resources/metrics", h.GetMetrics)
	r.POST("/ml/resources/retrain", h.Retrain)
	r.GET("/ml/resources/retrain/:id", h.GetJob)
	return r
}

func TestRetrainLifecycle(t *testing.T) {
	jobs := services.NewTrainingJobs(stubTrainer{}, stubHistory{}, time.Minute, zerolog.Nop())
	r := trainingRouter(jobs, stubMetrics{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ml/resources/retrain?metric=beds", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		Job services.TrainingJob `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Job.ID == "" || len(created.Job.Metrics) != 1 {
		t.Fatalf("unexpected job %+v", created.Job)
	}
	jobs.Wait()

	w = get(r, "/ml/resources/retrain/"+created.Job.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var fetched struct {
		Job services.TrainingJob `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &fetched); err != nil {
		t.Fatal(err)
	}
	if fetched.Job.Status != services.JobSucceeded || fetched.Job.Report.RunID != "run-7" {
		t.Errorf("unexpected job %+v", fetched.Job)
	}

	if w := get(r, "/ml/resources/retrain/nope"); w.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", w.Code)
	}
}

func TestRetrainRejectsUnknownMetric(t *testing.T) {
	jobs := services.NewTrainingJobs(stubTrainer{}, stubHistory{}, time.Minute, zerolog.Nop())
	r := trainingRouter(jobs, stubMetrics{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ml/resources/retrain?metric=staff", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetMetrics(t *testing.T) {
	all := map[forecast.Metric]forecast.ValidationMetrics{
		forecast.Beds: {MAE: 2, RMSE: 3, MAPE: 0.02, AccuracyScore: 0.98},
	}
	r := trainingRouter(nil, stubMetrics{all: all})
	w := get(r, "/ml/resources/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[forecast.Metric]forecast.ValidationMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got[forecast.Beds] != all[forecast.Beds] {
		t.Errorf("got %v", got)
	}

	r = trainingRouter(nil, stubMetrics{err: errors.New("disk")})
	if w := get(r, "/ml/resources/metrics"); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ── Auth handler tests ──

func TestAuthMeAndRefresh(t *testing.T) {
	auth := services.NewAuthService(config.JWTConfig{Secret: "s", ExpiryHours: 1})
	h := NewAuthHandler(auth)
	r := gin.New()
	r.GET("/auth/me", middleware.RequireAuth(auth), h.Me)
	r.POST("/auth/refresh", middleware.RequireAuth(auth), h.Refresh)

	token, _ := auth.GenerateToken(9, "ops@hospital.test", services.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	claims, err := auth.ValidateToken(resp.Token)
	if err != nil || claims.UserID != 9 || claims.Role != services.RoleAdmin {
		t.Errorf("refreshed token claims %+v, err %v", claims, err)
	}
}

// ── Pagination and websocket helper tests ──

func TestCursorPage(t *testing.T) {
	ts := func(n int) time.Time { return testDay.Add(time.Duration(n) * time.Hour) }
	rows := []int{5, 4, 3}

	resp := cursorPage(rows, 2, ts)
	if !resp.HasMore || resp.NextCursor != ts(4).Format(time.RFC3339Nano) {
		t.Errorf("unexpected page %+v", resp)
	}
	if got := resp.Data.([]int); len(got) != 2 {
		t.Errorf("data = %v", got)
	}

	resp = cursorPage([]int(nil), 2, ts)
	if resp.HasMore || resp.NextCursor != "" || len(resp.Data.([]int)) != 0 {
		t.Errorf("empty page %+v", resp)
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query     string
		limit     int
		hasBefore bool
	}{
		{"", DefaultLimit, false},
		{"?limit=10", 10, false},
		{"?limit=5000", MaxLimit, false},
		{"?limit=-1", DefaultLimit, false},
		{"?before=2024-05-01T10:00:00Z", DefaultLimit, true},
		{"?before=yesterday", DefaultLimit, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			p := ParsePagination(c)
			if p.Limit != tt.limit || (p.Before != nil) != tt.hasBefore {
				t.Errorf("got %+v", p)
			}
		})
	}
}

func TestWSEventType(t *testing.T) {
	if wsEventType(services.ChannelForecasts) != "forecast" || wsEventType(services.ChannelAlerts) != "capacity_alert" {
		t.Error("unexpected event type mapping")
	}
	if wsEventType("other") != "unknown" {
		t.Error("unknown channels should map to unknown")
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	auth := services.NewAuthService(config.JWTConfig{Secret: "s", ExpiryHours: 1})
	r := gin.New()
	r.GET("/ws/forecasts", LiveWebSocket(services.NewCacheWithClient(nil), auth, zerolog.Nop()))

	if w := get(r, "/ws/forecasts"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	token, _ := auth.GenerateToken(1, "a@hospital.test", services.RoleOperator)
	if w := get(r, "/ws/forecasts?token="+token); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without redis", w.Code)
	}
}
