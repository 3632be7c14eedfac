package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrValidateFailed = errors.New("简历文件校验失败")
	ErrExtractFailed  = errors.New("提取简历文本失败")
	ErrPipelineFailed = errors.New("插件流水线执行失败")
	ErrPersistFailed  = errors.New("保存解析结果失败")
	ErrArchiveFailed  = errors.New("归档简历失败")
	ErrCacheFailed    = errors.New("缓存操作失败")
)

// ProcessError 包含详细错误信息的自定义错误
type ProcessError struct {
	SubmissionUUID string
	Op             string
	Err            error
	Detail         string
	// Cause 底层错误，可为 nil
	Cause error
}

func (e *ProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, UUID:%s): %s", e.Err, e.Op, e.SubmissionUUID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, UUID:%s)", e.Err, e.Op, e.SubmissionUUID)
}

// Unwrap 同时暴露基础错误和底层错误，errors.Is 两者都能匹配
func (e *ProcessError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func newProcessError(uuid, op string, base, cause error) error {
	pe := &ProcessError{SubmissionUUID: uuid, Op: op, Err: base, Cause: cause}
	if cause != nil {
		pe.Detail = cause.Error()
	}
	return pe
}

// 错误构造函数
func NewValidateError(uuid string, cause error) error {
	return newProcessError(uuid, "validate", ErrValidateFailed, cause)
}

func NewExtractError(uuid string, cause error) error {
	return newProcessError(uuid, "extract", ErrExtractFailed, cause)
}

func NewPipelineError(uuid string, cause error) error {
	return newProcessError(uuid, "pipeline", ErrPipelineFailed, cause)
}

func NewPersistError(uuid string, cause error) error {
	return newProcessError(uuid, "persist", ErrPersistFailed, cause)
}

func NewArchiveError(uuid string, cause error) error {
	return newProcessError(uuid, "archive", ErrArchiveFailed, cause)
}

func NewCacheError(uuid string, cause error) error {
	return newProcessError(uuid, "cache", ErrCacheFailed, cause)
}
