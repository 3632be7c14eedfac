package parser

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("a"), size), 0o644), "无法写入临时文件")
	return path
}

func TestValidateFile(t *testing.T) {
	ok := writeFile(t, "resume.PDF", 128)
	assert.NoError(t, ValidateFile(ok, nil, 10), "大写扩展名也应通过校验")

	assert.ErrorIs(t, ValidateFile(filepath.Join(t.TempDir(), "missing.pdf"), nil, 10), ErrFileNotFound)

	bad := writeFile(t, "resume.rtf", 10)
	assert.ErrorIs(t, ValidateFile(bad, nil, 10), ErrUnsupportedFileType)

	big := writeFile(t, "big.txt", 2*1024*1024)
	err := ValidateFile(big, []string{".txt"}, 1)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Contains(t, err.Error(), "maximum size is 1MB")
	assert.NoError(t, ValidateFile(big, []string{".txt"}, 0), "maxMB<=0 不限制大小")

	assert.ErrorIs(t, ValidateFile(t.TempDir(), nil, 10), ErrUnsupportedFileType, "目录不是合法输入")
}

func TestPlainTextExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cv.txt")
	require.NoError(t, os.WriteFile(path, []byte("\xef\xbb\xbfJane Doe\xff\nAnalyst"), 0o644))

	text, err := PlainTextExtractor{}.ExtractFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nAnalyst", text, "应去掉 BOM 和非法字节")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PlainTextExtractor{}.ExtractFromReader(ctx, strings.NewReader("x"), "x.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

type fixedExtractor struct{ text string }

func (f fixedExtractor) ExtractFromFile(ctx context.Context, path string) (string, error) {
	return f.text, nil
}

func (f fixedExtractor) ExtractFromReader(ctx context.Context, r io.Reader, uri string) (string, error) {
	return f.text, nil
}

func TestRouter(t *testing.T) {
	r := NewRouter(WithExtractor(".PDF", fixedExtractor{text: "from pdf"}), WithExtractor(".docx", fixedExtractor{text: "  \n"}))

	assert.True(t, r.Supports("a.pdf"))
	assert.True(t, r.Supports("a.txt"), "默认支持 txt")
	assert.False(t, r.Supports("a.doc"))

	text, err := r.ExtractFromReader(context.Background(), strings.NewReader(""), "resume.pdf")
	require.NoError(t, err)
	assert.Equal(t, "from pdf", text)

	_, err = r.ExtractFromReader(context.Background(), strings.NewReader(""), "resume.doc")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = r.ExtractFromFile(context.Background(), "resume.docx")
	assert.ErrorIs(t, err, ErrEmptyText, "空白文本视为提取失败")

	path := filepath.Join(t.TempDir(), "cv.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain resume"), 0o644))
	text, err = r.ExtractFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "plain resume", text)
}

func TestTikaExtractor(t *testing.T) {
	var gotMethod, gotPath, gotCT, gotAccept, gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		gotName = r.Header.Get("X-Tika-Resource-Name")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte("\n  John Smith\nData Engineer  \n"))
	}))
	defer srv.Close()

	e := NewTikaExtractor(srv.URL+"/", WithTimeout(5*time.Second))
	assert.Equal(t, 5*time.Second, e.Client.Timeout)

	text, err := e.ExtractFromReader(context.Background(), strings.NewReader("docx-bytes"), "dir/resume_2.docx")
	require.NoError(t, err)
	assert.Equal(t, "John Smith\nData Engineer", text)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/tika", gotPath)
	assert.Equal(t, tikaContentTypes[".docx"], gotCT)
	assert.Equal(t, "text/plain", gotAccept)
	assert.Equal(t, "resume_2.docx", gotName)
	assert.Equal(t, "docx-bytes", gotBody)
}

func TestTikaExtractorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewTikaExtractor(srv.URL).ExtractFromReader(context.Background(), strings.NewReader("x"), "a.doc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")

	_, err = NewTikaExtractor("").ExtractFromReader(context.Background(), strings.NewReader("x"), "a.doc")
	require.Error(t, err, "未配置服务器地址时应报错")
}
