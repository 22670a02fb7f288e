package contract

import "errors"

// 最小错误分类（哨兵）。调用方通过 errors.Is 判断，包装统一使用 %w。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 入参不满足前置条件（例如比例越界）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrDocumentInvalid: 标注文件不是合法 JSON 或结构无法解码。
	ErrDocumentInvalid = errors.New("document is not valid JSON")
	// ErrMagicMissing: 缺少 file_format.magic。
	ErrMagicMissing = errors.New("not a valid ParrotLabel file: no magic key")
	// ErrMagicMismatch: file_format.magic 取值不符。
	ErrMagicMismatch = errors.New("not a valid ParrotLabel file: magic key has incorrect value")
	// ErrLabelsMissing: 缺少 labels 段。
	ErrLabelsMissing = errors.New("labels section missing")

	// ErrImageUnreadable: 存在性检查通过后读取图片失败（致命）。
	ErrImageUnreadable = errors.New("image unreadable")
	// ErrImageDecode: 图片头部无法解析出尺寸（致命）。
	ErrImageDecode = errors.New("image header decode failed")
	// ErrZeroDimension: 图片宽或高为 0，无法归一化坐标（致命）。
	ErrZeroDimension = errors.New("image has zero width or height")

	// ErrRecordCorrupt: TFRecord 帧长度/校验和不符或被截断。
	ErrRecordCorrupt = errors.New("record corrupt")
)
