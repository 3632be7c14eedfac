package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cvinsight/internal/llm"
	"cvinsight/internal/parser"
	"cvinsight/internal/pipeline"
	"cvinsight/internal/plugin"
	"cvinsight/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner 返回固定的流水线结果
type stubRunner struct {
	mu     sync.Mutex
	calls  int
	err    error
	failed map[string]string
}

func (s *stubRunner) Run(_ context.Context, text string, params plugin.Params) (*pipeline.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.Result{
		Outputs: map[string]map[string]any{
			"profile_extractor": {"name": "Li Lei", "email": "li@example.com", "contact_number": "123"},
			"skills_extractor":  {"skills": []any{"Go", "SQL"}},
		},
		Usage: map[string]llm.Usage{
			"profile_extractor": {TotalTokens: 10, PromptTokens: 8, CompletionTokens: 2, Source: llm.SourceUsageMetadata},
			"skills_extractor":  {TotalTokens: 5, PromptTokens: 4, CompletionTokens: 1, Source: llm.SourceUsageMetadata},
		},
		Errors:  s.failed,
		Elapsed: 1500 * time.Millisecond,
	}, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) GetCachedResult(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	return d, ok, nil
}

func (m *memCache) CacheResult(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

type memRepo struct {
	saved []*models.ResumeParseResult
	err   error
}

func (m *memRepo) SaveParseResult(_ context.Context, rec *models.ResumeParseResult) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, rec)
	return nil
}

func (m *memRepo) UpdateStatus(context.Context, string, string, string, string) error { return nil }

func (m *memRepo) GetParseResult(context.Context, string) (*models.ResumeParseResult, error) {
	return nil, errors.New("not implemented")
}

type memObjects struct {
	originals map[string][]byte
	results   map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{originals: map[string][]byte{}, results: map[string][]byte{}}
}

func (m *memObjects) UploadOriginal(_ context.Context, uuid, fileName string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	key := uuid + "/" + fileName
	m.originals[key] = data
	return key, nil
}

func (m *memObjects) UploadResult(_ context.Context, uuid string, data []byte) (string, error) {
	key := uuid + "/result.json"
	m.results[key] = data
	return key, nil
}

func (m *memObjects) GetOriginal(_ context.Context, key string) ([]byte, error) {
	return m.originals[key], nil
}

func (m *memObjects) GetResult(_ context.Context, key string) ([]byte, error) {
	return m.results[key], nil
}

func (m *memObjects) GetPresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

type memTokens struct {
	total int
}

func (m *memTokens) RecordTokenUsage(_ context.Context, s llm.Summary, _ time.Time) error {
	m.total += s.TotalTokens
	return nil
}

func writeResume(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessFileFullFlow(t *testing.T) {
	runner := &stubRunner{}
	cache := newMemCache()
	repo := &memRepo{}
	objects := newMemObjects()
	tokens := &memTokens{}

	rp, err := NewResumeProcessor(runner,
		WithExtractor(parser.NewRouter()),
		WithCache(cache, time.Hour),
		WithRepository(repo),
		WithObjectStorage(objects),
		WithTokenCounter(tokens),
		WithModelName("gpt-4o-mini"),
	)
	require.NoError(t, err)

	path := writeResume(t, t.TempDir(), "li_lei.txt", "Li Lei\nGo developer")
	params := plugin.Params{SubmissionDate: "2024-05-01"}

	resume, err := rp.ProcessFile(context.Background(), path, params)
	require.NoError(t, err)
	assert.Equal(t, "Li Lei", resume.Name)
	assert.Equal(t, []string{"Go", "SQL"}, resume.Skills)
	assert.Equal(t, "li_lei.txt", resume.FileName)
	assert.Equal(t, 15, resume.TokenUsage.TotalTokens)
	assert.Equal(t, 1.5, resume.ProcessingTime)

	require.Len(t, repo.saved, 1, "结果应写入数据库")
	rec := repo.saved[0]
	assert.Equal(t, "Li Lei", rec.CandidateName)
	assert.NotEmpty(t, rec.OriginalObjectKey, "配置了对象存储时应归档原始文件")
	assert.NotEmpty(t, rec.ResultObjectKey)
	assert.Equal(t, "gpt-4o-mini", rec.Model)
	assert.Len(t, objects.originals, 1)
	assert.Equal(t, 15, tokens.total)
	assert.Len(t, cache.data, 1)

	// 第二次命中缓存，不再调用流水线，也不重复计 token
	again, err := rp.ProcessFile(context.Background(), path, params)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, resume.Name, again.Name)
	assert.Equal(t, 15, tokens.total)
	assert.Len(t, repo.saved, 2, "缓存命中的提交也要落库")
}

func TestProcessFileCacheKeyDependsOnParams(t *testing.T) {
	runner := &stubRunner{}
	rp, err := NewResumeProcessor(runner, WithExtractor(parser.NewRouter()), WithCache(newMemCache(), 0))
	require.NoError(t, err)
	path := writeResume(t, t.TempDir(), "a.txt", "some resume")

	_, err = rp.ProcessFile(context.Background(), path, plugin.Params{})
	require.NoError(t, err)
	_, err = rp.ProcessFile(context.Background(), path, plugin.Params{JobDescription: "backend"})
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls, "职位描述不同不能复用缓存")

	assert.NotEqual(t, CacheKey("x", plugin.Params{}, "m1"), CacheKey("x", plugin.Params{}, "m2"))
	assert.Equal(t, CacheKey("x", plugin.Params{SubmissionDate: "2024-01-01"}, "m"),
		CacheKey("x", plugin.Params{SubmissionDate: "2024-01-01"}, "m"))
}

func TestProcessFileValidation(t *testing.T) {
	rp, err := NewResumeProcessor(&stubRunner{}, WithExtractor(parser.NewRouter()), WithFileLimits(nil, 1))
	require.NoError(t, err)
	dir := t.TempDir()

	_, err = rp.ProcessFile(context.Background(), filepath.Join(dir, "missing.pdf"), plugin.Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidateFailed)
	assert.ErrorIs(t, err, parser.ErrFileNotFound)

	bad := writeResume(t, dir, "resume.png", "x")
	_, err = rp.ProcessFile(context.Background(), bad, plugin.Params{})
	assert.ErrorIs(t, err, parser.ErrUnsupportedFileType)

	empty := writeResume(t, dir, "empty.txt", "   \n")
	_, err = rp.ProcessFile(context.Background(), empty, plugin.Params{})
	assert.ErrorIs(t, err, ErrExtractFailed)

	var pe *ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "extract", pe.Op)
	assert.NotEmpty(t, pe.SubmissionUUID)
}

func TestProcessTextPipelineFailure(t *testing.T) {
	rp, err := NewResumeProcessor(&stubRunner{err: errors.New("boom")})
	require.NoError(t, err)

	_, err = rp.ProcessText(context.Background(), "resume", Submission{UUID: "u-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPipelineFailed)
	assert.Contains(t, err.Error(), "u-1")

	_, err = rp.ProcessText(context.Background(), " ", Submission{})
	assert.ErrorIs(t, err, parser.ErrEmptyText)
}

func TestProcessTextPersistFailureIsNotFatal(t *testing.T) {
	repo := &memRepo{err: errors.New("db down")}
	rp, err := NewResumeProcessor(&stubRunner{}, WithRepository(repo))
	require.NoError(t, err)

	resume, err := rp.ProcessText(context.Background(), "resume", Submission{FileName: "x.pdf"})
	require.NoError(t, err, "持久化失败只记录日志")
	assert.Equal(t, "x.pdf", resume.FileName)
}

func TestWithCacheDisabledIgnoresOrder(t *testing.T) {
	rp, err := NewResumeProcessor(&stubRunner{}, WithCacheDisabled(), WithCache(newMemCache(), 0))
	require.NoError(t, err)
	assert.Nil(t, rp.cache)

	_, err = NewResumeProcessor(nil)
	assert.Error(t, err)
}

func TestProcessErrorFormatting(t *testing.T) {
	err := NewArchiveError("u-9", errors.New("bucket missing"))
	assert.Equal(t, "归档简历失败 (操作:archive, UUID:u-9): bucket missing", err.Error())
	assert.True(t, errors.Is(err, ErrArchiveFailed))

	plain := &ProcessError{SubmissionUUID: "u", Op: "cache", Err: ErrCacheFailed}
	assert.Equal(t, "缓存操作失败 (操作:cache, UUID:u)", plain.Error())
}

func TestCachedResultKeepsSubmissionFileName(t *testing.T) {
	cache := newMemCache()
	rp, err := NewResumeProcessor(&stubRunner{}, WithCache(cache, 0))
	require.NoError(t, err)

	first, err := rp.ProcessText(context.Background(), "same text", Submission{FileName: "a.pdf"})
	require.NoError(t, err)
	second, err := rp.ProcessText(context.Background(), "same text", Submission{FileName: "b.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", first.FileName)
	assert.Equal(t, "b.pdf", second.FileName)

	for _, data := range cache.data {
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		assert.Equal(t, "a.pdf", m["file_name"])
	}
}

func TestPartialFailureIsNotCached(t *testing.T) {
	runner := &stubRunner{failed: map[string]string{"education_extractor": "context deadline exceeded"}}
	cache := newMemCache()
	rp, err := NewResumeProcessor(runner, WithCache(cache, time.Hour))
	require.NoError(t, err)

	first, err := rp.ProcessText(context.Background(), "resume", Submission{})
	require.NoError(t, err)
	assert.Contains(t, first.PluginErrors, "education_extractor")
	assert.Empty(t, cache.data, "有插件失败时不写缓存")

	runner.failed = nil
	second, err := rp.ProcessText(context.Background(), "resume", Submission{})
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls, "失败的结果不能被复用")
	assert.Empty(t, second.PluginErrors)
	assert.Len(t, cache.data, 1)
}

func TestPreUploadedOriginalKeyIsPersisted(t *testing.T) {
	repo := &memRepo{}
	objects := newMemObjects()
	rp, err := NewResumeProcessor(&stubRunner{}, WithRepository(repo), WithObjectStorage(objects))
	require.NoError(t, err)

	_, err = rp.ProcessText(context.Background(), "resume", Submission{
		UUID:              "u1",
		FileName:          "cv.pdf",
		OriginalObjectKey: "u1/cv.pdf",
	})
	require.NoError(t, err)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, "u1/cv.pdf", repo.saved[0].OriginalObjectKey)
	assert.NotEmpty(t, repo.saved[0].ResultObjectKey)
	assert.Empty(t, objects.originals, "已上传的原始文件不重复上传")

	// 没有对象存储时也保留已有的对象键
	repo = &memRepo{}
	rp, err = NewResumeProcessor(&stubRunner{}, WithRepository(repo))
	require.NoError(t, err)
	_, err = rp.ProcessText(context.Background(), "resume", Submission{OriginalObjectKey: "u2/cv.pdf"})
	require.NoError(t, err)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, "u2/cv.pdf", repo.saved[0].OriginalObjectKey)
}

func TestCacheKeyIncludesPluginModels(t *testing.T) {
	cache := newMemCache()
	runner := &stubRunner{}
	newProc := func(overrides map[string]string) *ResumeProcessor {
		rp, err := NewResumeProcessor(runner, WithCache(cache, 0), WithModelName("gemini-2.0-flash"),
			WithPluginModels(overrides))
		require.NoError(t, err)
		return rp
	}

	_, err := newProc(nil).ProcessText(context.Background(), "resume", Submission{})
	require.NoError(t, err)
	_, err = newProc(map[string]string{"extended_analysis_extractor": "gemini-2.5-pro"}).
		ProcessText(context.Background(), "resume", Submission{})
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls, "插件专用模型变化后不能命中旧缓存")

	_, err = newProc(map[string]string{"extended_analysis_extractor": "gemini-2.5-pro"}).
		ProcessText(context.Background(), "resume", Submission{})
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)

	assert.Equal(t, "m", modelFingerprint("m", map[string]string{"a": "m", "b": ""}))
	assert.Equal(t, "m|a=x|b=y", modelFingerprint("m", map[string]string{"b": "y", "a": "x"}))
}
