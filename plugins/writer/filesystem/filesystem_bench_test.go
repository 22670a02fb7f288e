package filesystem

import (
	"context"
	"fmt"
	"testing"

	"pl2tfr/pkg/contract"
)

// BenchmarkCreateCommit 基准测试 Create+Write+Commit。不同输入尺寸下测量写入性能。
func BenchmarkCreateCommit(b *testing.B) {
	sizes := []int{1024, 1024 * 1024}
	for _, sz := range sizes {
		b.Run(fmt.Sprintf("size=%d", sz), func(b *testing.B) {
			data := make([]byte, sz)
			dir := b.TempDir()
			w, err := New(nil, &Options{OutputDir: dir})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			id := contract.ArtifactID("out.tfrecord")
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				a, err := w.Create(ctx, id)
				if err != nil {
					b.Fatalf("创建失败: %v", err)
				}
				if _, err := a.Write(data); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
				if err := a.Commit(); err != nil {
					b.Fatalf("提交失败: %v", err)
				}
			}
		})
	}
}
