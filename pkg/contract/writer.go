package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出工件标识（记录文件、标签映射文件）。
// 说明：实现上与 FileID 复用同一表示，避免不必要的类型分裂。
type ArtifactID = FileID

// Artifact: 单个输出工件的流式写入句柄。
// 约束：
//  1. Commit 与 Abort 恰好调用其一；之后的调用为 no-op；
//  2. Commit 前目标路径上不可见部分内容（原子实现）；
//  3. Abort 必须释放句柄并清理临时文件。
type Artifact interface {
	io.Writer
	Commit() error
	Abort() error
}

// Writer: 按 ArtifactID 创建输出工件。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，不读取/修改业务内容；
//  3. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Create(ctx context.Context, id ArtifactID) (Artifact, error)
}
