package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"cvinsight/internal/api/handler"
	"cvinsight/internal/config"
	"cvinsight/internal/constants"
	"cvinsight/internal/parser"
	"cvinsight/internal/plugin"
	"cvinsight/internal/processor"
	"cvinsight/internal/storage"
	"cvinsight/internal/storage/models"
	"cvinsight/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const testUUID = "0190b3c4-1f2e-7a3b-8c4d-5e6f7a8b9c0d"

type echoProcessor struct {
	mu   sync.Mutex
	subs []processor.Submission
}

func (e *echoProcessor) ProcessText(_ context.Context, text string, sub processor.Submission) (*types.Resume, error) {
	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()
	if text == "explode" {
		return nil, errors.New("pipeline failed")
	}
	return &types.Resume{Name: text, FileName: sub.FileName, DateOfResumeSubmission: sub.Params.SubmissionDate}, nil
}

type staticCatalog []plugin.Metadata

func (s staticCatalog) Metadata() []plugin.Metadata { return s }

type fakeResults struct {
	rec      *models.ResumeParseResult
	statuses []string
}

func (f *fakeResults) SaveParseResult(context.Context, *models.ResumeParseResult) error { return nil }

func (f *fakeResults) UpdateStatus(_ context.Context, _, _, status, _ string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeResults) GetParseResult(_ context.Context, id string) (*models.ResumeParseResult, error) {
	if f.rec != nil && f.rec.SubmissionUUID == id {
		return f.rec, nil
	}
	return nil, storage.ErrResultNotFound
}

type fakeStatus map[string]map[string]string

func (f fakeStatus) GetSubmissionStatus(_ context.Context, id string) (map[string]string, error) {
	if st, ok := f[id]; ok {
		return st, nil
	}
	return nil, storage.ErrNotFound
}

type fakePublisher struct {
	jobs []types.ParseJobMessage
}

func (f *fakePublisher) PublishParseJob(_ context.Context, job any) error {
	f.jobs = append(f.jobs, job.(types.ParseJobMessage))
	return nil
}

func newTestServer(t *testing.T, opts Options, hopts ...handler.Option) (*server.Hertz, *echoProcessor) {
	t.Helper()
	proc := &echoProcessor{}
	cfg := config.DefaultConfig()
	catalog := staticCatalog{{Name: "profile_extractor", Category: plugin.CategoryBase}}
	rh := handler.NewResumeHandler(cfg, proc, parser.NewRouter(), catalog,
		append([]handler.Option{handler.WithPhases([][]string{{"profile_extractor"}})}, hopts...)...)
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	RegisterRoutes(h, rh, opts)
	return h, proc
}

func multipartBody(t *testing.T, fileName, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m), string(data))
	return m
}

func TestHealthAndPlugins(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/health", nil)
	resp := w.Result()
	assert.Equal(t, consts.StatusOK, resp.StatusCode())
	assert.Equal(t, "ok", decode(t, resp.Body())["status"])

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/plugins", nil)
	resp = w.Result()
	require.Equal(t, consts.StatusOK, resp.StatusCode())
	var plugins handler.PluginsResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &plugins))
	require.Len(t, plugins.Plugins, 1)
	assert.Equal(t, "profile_extractor", plugins.Plugins[0].Name)
	assert.Equal(t, [][]string{{"profile_extractor"}}, plugins.Phases)
}

func TestParseResumeSync(t *testing.T) {
	h, proc := newTestServer(t, Options{})
	body, ct := multipartBody(t, "cv.txt", "Han Meimei", map[string]string{
		"job_description": "data engineer",
		"submission_date": "2024-06-01",
	})

	w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/resumes/parse",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: ct})
	resp := w.Result()
	require.Equal(t, consts.StatusOK, resp.StatusCode(), string(resp.Body()))

	var parsed handler.ParseResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &parsed))
	assert.NotEmpty(t, parsed.SubmissionUUID)
	assert.Equal(t, constants.StatusCompleted, parsed.Status)
	require.NotNil(t, parsed.Result)
	assert.Equal(t, "Han Meimei", parsed.Result.Name)
	assert.Equal(t, "2024-06-01", parsed.Result.DateOfResumeSubmission)

	require.Len(t, proc.subs, 1)
	assert.Equal(t, "data engineer", proc.subs[0].Params.JobDescription)
	assert.Equal(t, []byte("Han Meimei"), proc.subs[0].Original, "原始文件随请求传给处理器")
}

func TestParseResumeRejectsBadInput(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	cases := []struct {
		name   string
		file   string
		body   string
		fields map[string]string
		status int
	}{
		{"缺少文件", "", "", nil, consts.StatusBadRequest},
		{"不支持的格式", "cv.png", "x", nil, consts.StatusUnsupportedMediaType},
		{"日期格式错误", "cv.txt", "x", map[string]string{"submission_date": "06/01/2024"}, consts.StatusBadRequest},
		{"空文本", "cv.txt", "   ", nil, consts.StatusUnprocessableEntity},
		{"处理失败", "cv.txt", "explode", nil, consts.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.file, tc.body, tc.fields)
			w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/resumes/parse",
				&ut.Body{Body: body, Len: body.Len()},
				ut.Header{Key: "Content-Type", Value: ct})
			assert.Equal(t, tc.status, w.Result().StatusCode(), string(w.Result().Body()))
		})
	}
}

func TestParseResumeAsync(t *testing.T) {
	pub := &fakePublisher{}
	results := &fakeResults{}
	h, proc := newTestServer(t, Options{}, handler.WithPublisher(pub), handler.WithResultRepository(results))

	body, ct := multipartBody(t, "cv.txt", "queued text", map[string]string{"async": "true"})
	w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/resumes/parse",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: ct})
	resp := w.Result()
	require.Equal(t, consts.StatusAccepted, resp.StatusCode(), string(resp.Body()))

	m := decode(t, resp.Body())
	assert.Equal(t, constants.StatusQueued, m["status"])
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, m["submission_uuid"], pub.jobs[0].SubmissionUUID)
	assert.Equal(t, "queued text", pub.jobs[0].Text, "没有对象存储时任务直接携带文本")
	assert.Equal(t, []string{constants.StatusQueued}, results.statuses)
	assert.Empty(t, proc.subs, "异步请求不在线程内解析")
}

func TestParseResumeAsyncWithoutQueue(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	body, ct := multipartBody(t, "cv.txt", "x", map[string]string{"async": "1"})
	w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/resumes/parse",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: ct})
	assert.Equal(t, consts.StatusServiceUnavailable, w.Result().StatusCode())
}

func TestGetResult(t *testing.T) {
	results := &fakeResults{rec: &models.ResumeParseResult{
		SubmissionUUID:   testUUID,
		FileName:         "cv.pdf",
		ProcessingStatus: constants.StatusCompleted,
		ResultJSON:       datatypes.JSON(`{"name":"Li Lei"}`),
		UpdatedAt:        time.Now(),
	}}
	status := fakeStatus{"0190b3c4-1f2e-7a3b-8c4d-000000000001": {"status": constants.StatusProcessing}}
	h, _ := newTestServer(t, Options{}, handler.WithResultRepository(results), handler.WithStatusReader(status))

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/"+testUUID, nil)
	resp := w.Result()
	require.Equal(t, consts.StatusOK, resp.StatusCode())
	m := decode(t, resp.Body())
	assert.Equal(t, constants.StatusCompleted, m["status"])
	assert.Equal(t, "Li Lei", m["result"].(map[string]any)["name"])

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/0190b3c4-1f2e-7a3b-8c4d-000000000001", nil)
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode(), "数据库没有记录时回退到状态缓存")
	assert.Equal(t, constants.StatusProcessing, decode(t, w.Result().Body())["status"])

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/0190b3c4-1f2e-7a3b-8c4d-000000000002", nil)
	assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode())

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/not-a-uuid", nil)
	assert.Equal(t, consts.StatusBadRequest, w.Result().StatusCode())
}

func TestAPIKeyAuth(t *testing.T) {
	h, _ := newTestServer(t, Options{APIKeys: []string{"secret"}})

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/plugins", nil)
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/plugins", nil, ut.Header{Key: APIKeyHeader, Value: "wrong"})
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/plugins", nil, ut.Header{Key: APIKeyHeader, Value: "secret"})
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode(), "health 不需要鉴权")
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, Options{EnableMetrics: true})
	ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/health", nil)

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/metrics", nil)
	resp := w.Result()
	require.Equal(t, consts.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "cvinsight_http_requests_total")
}

type fakeObjects struct {
	results map[string][]byte
}

func (f fakeObjects) UploadOriginal(_ context.Context, id, name string, _ io.Reader, _ int64) (string, error) {
	return storage.OriginalObjectKey(id, name), nil
}

func (f fakeObjects) UploadResult(_ context.Context, id string, _ []byte) (string, error) {
	return storage.ResultObjectKey(id), nil
}

func (f fakeObjects) GetOriginal(context.Context, string) ([]byte, error) { return nil, nil }

func (f fakeObjects) GetResult(_ context.Context, key string) ([]byte, error) {
	if data, ok := f.results[key]; ok {
		return data, nil
	}
	return nil, errors.New("no such object")
}

func (f fakeObjects) GetPresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.local/" + key + "?sig=x", nil
}

func TestGetResultFromObjectStorage(t *testing.T) {
	key := storage.ResultObjectKey(testUUID)
	results := &fakeResults{rec: &models.ResumeParseResult{
		SubmissionUUID:   testUUID,
		ProcessingStatus: constants.StatusCompleted,
		ResultObjectKey:  key,
	}}
	objects := fakeObjects{results: map[string][]byte{key: []byte(`{"name":"Lin Tao"}`)}}
	h, _ := newTestServer(t, Options{}, handler.WithResultRepository(results), handler.WithObjectStorage(objects))

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/"+testUUID, nil)
	require.Equal(t, consts.StatusOK, w.Result().StatusCode())
	assert.Equal(t, "Lin Tao", decode(t, w.Result().Body())["result"].(map[string]any)["name"])
}

func TestGetOriginal(t *testing.T) {
	results := &fakeResults{rec: &models.ResumeParseResult{
		SubmissionUUID:    testUUID,
		FileName:          "cv.pdf",
		OriginalObjectKey: storage.OriginalObjectKey(testUUID, "cv.pdf"),
	}}

	h, _ := newTestServer(t, Options{}, handler.WithResultRepository(results))
	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/"+testUUID+"/original", nil)
	assert.Equal(t, consts.StatusServiceUnavailable, w.Result().StatusCode())

	h, _ = newTestServer(t, Options{}, handler.WithResultRepository(results), handler.WithObjectStorage(fakeObjects{}))
	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/"+testUUID+"/original", nil)
	require.Equal(t, consts.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))
	m := decode(t, w.Result().Body())
	assert.Equal(t, "cv.pdf", m["file_name"])
	assert.Contains(t, m["url"], results.rec.OriginalObjectKey)
	assert.EqualValues(t, 900, m["expires_in"])

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/results/0190b3c4-1f2e-7a3b-8c4d-000000000002/original", nil)
	assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode())
}

type fakeTotals struct {
	since time.Time
}

func (f *fakeTotals) PluginTokenTotals(_ context.Context, since time.Time) ([]storage.PluginTokenTotal, error) {
	f.since = since
	return []storage.PluginTokenTotal{{PluginName: "profile_extractor", Calls: 3, TotalTokens: 1200}}, nil
}

type fakeCounters map[string]map[string]int64

func (f fakeCounters) PluginTokenStats(_ context.Context, plugin string) (map[string]int64, error) {
	return f[plugin], nil
}

func TestTokenStats(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/stats/tokens", nil)
	assert.Equal(t, consts.StatusServiceUnavailable, w.Result().StatusCode())

	totals := &fakeTotals{}
	h, _ = newTestServer(t, Options{}, handler.WithTokenTotals(totals),
		handler.WithTokenCounters(fakeCounters{"profile_extractor": {"total_tokens": 5}}))
	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/stats/tokens?since=2025-01-01", nil)
	require.Equal(t, consts.StatusOK, w.Result().StatusCode())
	var stats handler.TokenStatsResponse
	require.NoError(t, json.Unmarshal(w.Result().Body(), &stats))
	assert.Equal(t, "mysql", stats.Source, "数据库优先")
	require.Len(t, stats.Totals, 1)
	assert.Equal(t, int64(1200), stats.Totals[0].TotalTokens)
	assert.Equal(t, "2025-01-01", totals.since.Format("2006-01-02"))

	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/stats/tokens?since=yesterday", nil)
	assert.Equal(t, consts.StatusBadRequest, w.Result().StatusCode())

	h, _ = newTestServer(t, Options{}, handler.WithTokenCounters(fakeCounters{"profile_extractor": {"total_tokens": 5}}))
	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/stats/tokens", nil)
	require.Equal(t, consts.StatusOK, w.Result().StatusCode())
	require.NoError(t, json.Unmarshal(w.Result().Body(), &stats))
	assert.Equal(t, "redis", stats.Source)
	assert.Equal(t, int64(5), stats.Counter["profile_extractor"]["total_tokens"])
}
