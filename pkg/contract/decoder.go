package contract

import (
	"context"
	"io"
)

// Decoder: 将单个标注文件字节流解析为 Document，并完成魔数/结构校验。
// 约束：
// 1) 校验失败返回带哨兵的错误（ErrDocumentInvalid/ErrMagicMissing/ErrMagicMismatch/ErrLabelsMissing）；
// 2) 不访问图片文件，不解析路径；
// 3) 无内部并发。
type Decoder interface {
	Decode(ctx context.Context, fileID FileID, r io.Reader) (*Document, error)
}
