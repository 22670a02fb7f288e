package diag

import (
	"context"
	"errors"
	"os"
	"time"

	"pl2tfr/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeInvariant Code = "invariant"
	CodeFormat    Code = "format"
	CodeDecode    Code = "decode"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	// 标注文件格式
	if errors.Is(err, contract.ErrDocumentInvalid) ||
		errors.Is(err, contract.ErrMagicMissing) ||
		errors.Is(err, contract.ErrMagicMismatch) ||
		errors.Is(err, contract.ErrLabelsMissing) {
		return CodeFormat
	}
	// 图片头/记录解码
	if errors.Is(err, contract.ErrImageDecode) || errors.Is(err, contract.ErrRecordCorrupt) {
		return CodeDecode
	}
	// 不变量
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrZeroDimension) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	// I/O
	if errors.Is(err, contract.ErrImageUnreadable) {
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
