// Package filter 将文档中的图片条目解析为完整路径，并剔除缺图与无框条目。
package filter

import (
	"path/filepath"

	"github.com/spf13/afero"

	"pl2tfr/internal/diag"
	"pl2tfr/pkg/contract"
)

const comp = "filter"

// Counters: 单个文档的过滤计数。
// ImagesSeen 只统计带 image_path 的条目。
type Counters struct {
	ImagesSeen int
	Retained   int
	Missing    int
	Empty      int
}

// Add 累加另一份计数。
func (c *Counters) Add(o Counters) {
	c.ImagesSeen += o.ImagesSeen
	c.Retained += o.Retained
	c.Missing += o.Missing
	c.Empty += o.Empty
}

// Filter 按文档顺序遍历条目：
//   - 缺少 image_path：静默跳过，不计数；
//   - 图片不存在（或为目录）：warn 并跳过；
//   - box_list 为空或缺失：info 并跳过；
//   - 其余保留，附带完整路径。
//
// logger 可为 nil。
func Filter(fs afero.Fs, doc *contract.Document, baseDir string, logger *diag.Logger) ([]contract.Entry, Counters) {
	var c Counters
	if doc == nil {
		return nil, c
	}
	out := make([]contract.Entry, 0, len(doc.Labels))
	for _, e := range doc.Labels {
		p, ok := e.Path()
		if !ok {
			continue
		}
		c.ImagesSeen++
		full := Join(baseDir, p)
		if !isFile(fs, full) {
			c.Missing++
			diag.IncOp(comp, "entry", "missing")
			logger.Warn(comp, "Skipping missing image at path:"+full, p, nil)
			continue
		}
		if len(e.BoxList) == 0 {
			c.Empty++
			diag.IncOp(comp, "entry", "empty")
			logger.Info(comp, "Skipping image as it has no annotations:"+full, p, nil)
			continue
		}
		c.Retained++
		diag.IncOp(comp, "entry", "retained")
		out = append(out, contract.Entry{ImagePath: p, FullPath: full, Boxes: e.BoxList})
	}
	return out, c
}

// Join 拼接图片根目录与条目路径；条目路径为绝对路径时原样使用。
func Join(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func isFile(fs afero.Fs, p string) bool {
	st, err := fs.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
