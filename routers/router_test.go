package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"StoryReel-server/metrics"
	"StoryReel-server/models"
	"StoryReel-server/provider"
	"StoryReel-server/routers/api"
	"StoryReel-server/sequencer"
	"StoryReel-server/service"
	"StoryReel-server/task"
)

type stubProvider struct {
	name     string
	canceled []string
}

func (s *stubProvider) Name() string                        { return s.name }
func (s *stubProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (s *stubProvider) Submit(context.Context, *provider.GenerationRequest) (string, error) {
	return "est-1", nil
}
func (s *stubProvider) CheckStatus(context.Context, string) (*provider.Status, error) {
	return &provider.Status{State: provider.StateProcessing, Progress: provider.ProgressUnknown, Cost: 1.5}, nil
}
func (s *stubProvider) FetchArtifact(context.Context, string) ([]byte, error) { return nil, nil }

type cancelableProvider struct{ *stubProvider }

func (c cancelableProvider) Cancel(ctx context.Context, id string) error {
	c.canceled = append(c.canceled, id)
	return nil
}

type fakeJobs struct {
	mu        sync.Mutex
	advance   []string
	regen     []service.RegeneratePayload
	finalized []string
}

func (f *fakeJobs) EnqueueAdvance(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance = append(f.advance, id)
	return "job-advance", nil
}

func (f *fakeJobs) EnqueueRegenerate(ctx context.Context, p service.RegeneratePayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regen = append(f.regen, p)
	return "job-regen", nil
}

func (f *fakeJobs) EnqueueFinalize(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, id)
	return "job-finalize", nil
}

type fakeProgress struct {
	latest *sequencer.Event
	events chan sequencer.Event
}

func (f *fakeProgress) Latest(ctx context.Context, id string) (*sequencer.Event, error) {
	return f.latest, nil
}

func (f *fakeProgress) Subscribe(ctx context.Context, id string) (<-chan sequencer.Event, func() error, error) {
	return f.events, func() error { return nil }, nil
}

type testServer struct {
	router   *gin.Engine
	store    *models.Store
	jobs     *fakeJobs
	progress *fakeProgress
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	store := models.NewStore(db)

	reg := &provider.Registry{}
	reg.Register("kling", cancelableProvider{&stubProvider{name: "kling"}})
	reg.Register("luma", &stubProvider{name: "luma"})

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector("storyreel", promReg, zap.NewNop())

	jobs := &fakeJobs{}
	progress := &fakeProgress{events: make(chan sequencer.Event, 4)}
	h := api.NewHandler(store, jobs, progress, reg, task.Policy{Interval: time.Millisecond, MaxAttempts: 3}, zap.NewNop())
	r := InitRouter(h, Options{Metrics: collector, Gatherer: promReg})
	return &testServer{router: r, store: store, jobs: jobs, progress: progress}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type createResponse struct {
	Storyboard models.Storyboard `json:"storyboard"`
	Scenes     []models.Scene    `json:"scenes"`
	JobID      string            `json:"job_id"`
}

func (s *testServer) create(t *testing.T, body map[string]interface{}) createResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/api/storyboards", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp createResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func twoScenes() map[string]interface{} {
	return map[string]interface{}{
		"title":            "walk",
		"source_image_url": "src.png",
		"provider":         "kling",
		"scenes": []map[string]interface{}{
			{"prompt": "one", "camera": "zoom_in"},
			{"prompt": "two", "mode": "continue", "parent_number": 1},
		},
	}
}

func TestCreateAndGetStoryboard(t *testing.T) {
	s := newTestServer(t)
	body := twoScenes()
	body["auto_start"] = true
	resp := s.create(t, body)

	assert.Equal(t, "job-advance", resp.JobID)
	assert.Equal(t, []string{resp.Storyboard.ID}, s.jobs.advance)
	require.Len(t, resp.Scenes, 2)
	assert.Equal(t, "v2v", resp.Scenes[1].Mode)
	assert.Equal(t, resp.Scenes[0].ID, resp.Scenes[1].ParentSceneID)

	w := s.do(t, http.MethodGet, "/v1/api/storyboards/"+resp.Storyboard.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got createResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.StoryboardStatusDraft, got.Storyboard.Status)
	require.Len(t, got.Scenes, 2)
	assert.Equal(t, "one", got.Scenes[0].Prompt)
	assert.Equal(t, 2, got.Scenes[1].Position)

	w = s.do(t, http.MethodGet, "/v1/api/storyboards/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateStoryboardValidation(t *testing.T) {
	s := newTestServer(t)
	cases := map[string]map[string]interface{}{
		"no scenes":        {"provider": "kling"},
		"unknown provider": {"provider": "sora", "scenes": []map[string]interface{}{{"prompt": "a"}}},
		"empty prompt":     {"provider": "kling", "scenes": []map[string]interface{}{{"prompt": " "}}},
		"bad mode":         {"provider": "kling", "scenes": []map[string]interface{}{{"prompt": "a", "mode": "t2v"}}},
		"bad parent":       {"provider": "kling", "scenes": []map[string]interface{}{{"prompt": "a", "parent_number": 1}}},
	}
	for name, body := range cases {
		w := s.do(t, http.MethodPost, "/v1/api/storyboards", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
		assert.Contains(t, w.Body.String(), `"error"`, name)
	}
}

func TestJobEndpoints(t *testing.T) {
	s := newTestServer(t)
	sb := s.create(t, twoScenes()).Storyboard

	w := s.do(t, http.MethodPost, "/v1/api/storyboards/"+sb.ID+"/advance", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{sb.ID}, s.jobs.advance)

	w = s.do(t, http.MethodPost, "/v1/api/storyboards/"+sb.ID+"/scenes/2/regenerate", map[string]string{"prompt": "again", "mode": "fresh"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, s.jobs.regen, 1)
	assert.Equal(t, 2, s.jobs.regen[0].SceneNumber)
	assert.Equal(t, "again", s.jobs.regen[0].Overrides.Prompt)
	assert.Equal(t, "i2v", s.jobs.regen[0].Overrides.Mode)

	w = s.do(t, http.MethodPost, "/v1/api/storyboards/"+sb.ID+"/scenes/2/regenerate", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodPost, "/v1/api/storyboards/"+sb.ID+"/scenes/x/regenerate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/v1/api/storyboards/"+sb.ID+"/scenes/7/regenerate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/api/storyboards/"+sb.ID+"/finalize", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, s.jobs.finalized)

	w = s.do(t, http.MethodPost, "/v1/api/storyboards/missing/advance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFinalizeWhenReady(t *testing.T) {
	s := newTestServer(t)
	resp := s.create(t, twoScenes())
	ctx := context.Background()
	for _, sc := range resp.Scenes {
		require.NoError(t, s.store.UpdateScene(ctx, sc.ID, map[string]interface{}{
			"status":    models.SceneStatusCompleted,
			"video_url": "https://blob/" + sc.ID + ".mp4",
		}))
	}
	w := s.do(t, http.MethodPost, "/v1/api/storyboards/"+resp.Storyboard.ID+"/finalize", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{resp.Storyboard.ID}, s.jobs.finalized)
}

func TestGetTask(t *testing.T) {
	s := newTestServer(t)
	snap := task.Task{ID: "t-1", Provider: "kling", ExternalID: "ext", State: task.StatePolling, Progress: 30, CreatedAt: time.Now()}
	require.NoError(t, s.store.CreateTask(context.Background(), models.NewGenerationTask(snap, "sb", "sc")))

	w := s.do(t, http.MethodGet, "/v1/api/tasks/t-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Task models.GenerationTask `json:"task"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "polling", resp.Task.State)
	assert.Equal(t, 30, resp.Task.Progress)

	w = s.do(t, http.MethodGet, "/v1/api/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEstimate(t *testing.T) {
	s := newTestServer(t)
	req := map[string]interface{}{"image_urls": []string{"a.png"}, "prompt": "p"}

	w := s.do(t, http.MethodPost, "/v1/api/estimate", map[string]interface{}{"provider": "kling", "request": req})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Quote task.Quote `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1.5, resp.Quote.Cost)
	assert.True(t, resp.Quote.Canceled)

	w = s.do(t, http.MethodPost, "/v1/api/estimate", map[string]interface{}{"provider": "luma", "request": req})
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = s.do(t, http.MethodPost, "/v1/api/estimate", map[string]interface{}{"provider": "kling", "request": map[string]string{"prompt": "p"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/v1/api/storyboards/missing", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "storyreel_http_requests_total")
	assert.Contains(t, body, `path="/v1/api/storyboards/:id"`)
}

func TestProgressWebSocket(t *testing.T) {
	s := newTestServer(t)
	sb := s.create(t, twoScenes()).Storyboard
	s.progress.latest = &sequencer.Event{StoryboardID: sb.ID, Status: models.StoryboardStatusGenerating, Progress: 50}

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/storyboards/" + sb.ID + "/wss"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev sequencer.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, 50, ev.Progress)

	s.progress.events <- sequencer.Event{StoryboardID: sb.ID, Status: models.StoryboardStatusCompleted, Progress: 100}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.StoryboardStatusCompleted, ev.Status)

	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
