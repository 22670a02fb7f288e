package contract

import "fmt"

// 校验库函数（纯函数，无 I/O）。

// ValidateHeader 按顺序校验文档头：魔数存在、魔数一致、labels 存在。
// magic 为 nil 表示 file_format.magic 缺失；非字符串取值以其原文传入。
// labelsPresent 区分 "labels": [] 与字段缺失。
func ValidateHeader(magic *string, labelsPresent bool) error {
	if magic == nil {
		return ErrMagicMissing
	}
	if *magic != Magic {
		return ErrMagicMismatch
	}
	if !labelsPresent {
		return ErrLabelsMissing
	}
	return nil
}

// ValidateSplitPercent 校验验证集比例：0 表示不切分，其余须在 [1,99]。
func ValidateSplitPercent(pct int) error {
	if pct < 0 || pct > 99 {
		return fmt.Errorf("%w: validation percent %d not in [0,99]", ErrInvalidInput, pct)
	}
	return nil
}
