package parser

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"testing"
	"time"

	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubParser 返回固定文档的 eino Parser
type stubParser struct {
	docs    []*schema.Document
	err     error
	gotURI  string
	gotBody string
}

func (s *stubParser) Parse(ctx context.Context, reader io.Reader, opts ...einoParser.Option) ([]*schema.Document, error) {
	data, _ := io.ReadAll(reader)
	s.gotBody = string(data)
	s.gotURI = einoParser.GetCommonOptions(nil, opts...).URI
	return s.docs, s.err
}

func TestNewEinoPDFTextExtractor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")
	require.NotNil(t, extractor.parser, "PDF提取器内部的parser不应为nil")
	require.NotNil(t, extractor.logger, "PDF提取器应该有默认的logger")
	assert.Equal(t, DefaultPDFTimeout, extractor.timeout)

	customLogger := log.New(os.Stdout, "[测试PDF提取器] ", log.LstdFlags)
	custom, err := NewEinoPDFTextExtractor(ctx, WithEinoLogger(customLogger), WithPDFTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, customLogger, custom.logger, "应该使用提供的自定义logger")
	assert.Equal(t, time.Second, custom.timeout)
}

func TestEinoExtractFromReaderJoinsDocuments(t *testing.T) {
	stub := &stubParser{docs: []*schema.Document{
		{Content: "Jane Doe"},
		nil,
		{Content: "Senior Data Analyst"},
	}}
	extractor, err := NewEinoPDFTextExtractor(context.Background(), WithEinoParser(stub))
	require.NoError(t, err)

	text, err := extractor.ExtractFromReader(context.Background(), bytes.NewBufferString("%PDF-1.4"), "resume.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nSenior Data Analyst", text)
	assert.Equal(t, "resume.pdf", stub.gotURI, "URI 应传给解析器")
	assert.Equal(t, "%PDF-1.4", stub.gotBody)
}

func TestEinoExtractErrors(t *testing.T) {
	stub := &stubParser{err: errors.New("broken xref")}
	extractor, err := NewEinoPDFTextExtractor(context.Background(), WithEinoParser(stub))
	require.NoError(t, err)

	_, err = extractor.ExtractFromReader(context.Background(), bytes.NewBufferString("x"), "bad.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken xref")

	stub.err = nil
	_, err = extractor.ExtractFromReader(context.Background(), bytes.NewBufferString("x"), "empty.pdf")
	require.Error(t, err, "没有文档时应返回错误")

	_, err = extractor.ExtractFromFile(context.Background(), "does-not-exist.pdf")
	require.Error(t, err)
}
