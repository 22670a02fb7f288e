// Package encoder 将过滤后的图片条目编码为 tf.train.Example 记录。
// 每张图片恰好一条记录，K 个框写入同一条记录的 K 长数组。
package encoder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"pl2tfr/internal/diag"
	"pl2tfr/internal/geometry"
	"pl2tfr/internal/labelmap"
	"pl2tfr/internal/tfexample"
	"pl2tfr/pkg/contract"
)

const comp = "encoder"

// 特征键（TensorFlow Object Detection API 约定）。
const (
	KeyHeight    = "image/height"
	KeyWidth     = "image/width"
	KeyFilename  = "image/filename"
	KeySourceID  = "image/source_id"
	KeyEncoded   = "image/encoded"
	KeyFormat    = "image/format"
	KeyXMin      = "image/object/bbox/xmin"
	KeyXMax      = "image/object/bbox/xmax"
	KeyYMin      = "image/object/bbox/ymin"
	KeyYMax      = "image/object/bbox/ymax"
	KeyClassText = "image/object/class/text"
	KeyClassID   = "image/object/class/label"
)

// RecordWriter: 记录流写入端（*tfrecord.Writer 满足）。
type RecordWriter interface {
	Write(data []byte) error
}

// Stats: 单次 Encode 的写出统计。Boxes 即写出的训练样本（框）总数。
type Stats struct {
	Images int
	Boxes  int
}

// Add 累加。
func (s *Stats) Add(o Stats) {
	s.Images += o.Images
	s.Boxes += o.Boxes
}

// Options: 可选行为。
type Options struct {
	// Normalize 作用于标签文本（写入记录与索引前）；nil 表示不变换。
	Normalize func(string) string
	// Progress 在每张图片写出后回调。
	Progress func(done, total int)
}

// Encoder 持有标签索引；同一运行内的所有文档与两个划分共享同一个 Encoder。
type Encoder struct {
	fs     afero.Fs
	index  *labelmap.Index
	logger *diag.Logger
	opts   Options
}

func New(fs afero.Fs, index *labelmap.Index, logger *diag.Logger, opts Options) *Encoder {
	if opts.Normalize == nil {
		opts.Normalize = func(s string) string { return s }
	}
	return &Encoder{fs: fs, index: index, logger: logger, opts: opts}
}

// Example 读取图片并构造记录；返回框数。读取/解码/零尺寸均为致命错误。
func (e *Encoder) Example(entry contract.Entry) (*tfexample.Example, int, error) {
	data, err := afero.ReadFile(e.fs, entry.FullPath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", contract.ErrImageUnreadable, entry.FullPath, err)
	}
	dim, err := ReadDimensions(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", entry.FullPath, err)
	}
	if dim.Width <= 0 || dim.Height <= 0 {
		return nil, 0, fmt.Errorf("%w: %s is %dx%d", contract.ErrZeroDimension, entry.FullPath, dim.Width, dim.Height)
	}
	tag := FormatTag(entry.ImagePath)
	if !tagMatches(tag, dim.Format) {
		e.logger.Debug(comp, "image content does not match format tag", entry.ImagePath,
			map[string]string{"tag": tag, "detected": dim.Format})
	}

	n := len(entry.Boxes)
	xmins := make([]float32, 0, n)
	xmaxs := make([]float32, 0, n)
	ymins := make([]float32, 0, n)
	ymaxs := make([]float32, 0, n)
	texts := make([]string, 0, n)
	ids := make([]int64, 0, n)
	for _, b := range entry.Boxes {
		fr, err := geometry.MapFractions(b, dim.Width, dim.Height)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", entry.FullPath, err)
		}
		label := e.opts.Normalize(b.Label)
		if _, ok := e.index.Lookup(label); !ok {
			e.logger.Debug(comp, "new label", entry.ImagePath, map[string]string{"label": label})
		}
		xmins = append(xmins, float32(fr.XMin))
		xmaxs = append(xmaxs, float32(fr.XMax))
		ymins = append(ymins, float32(fr.YMin))
		ymaxs = append(ymaxs, float32(fr.YMax))
		texts = append(texts, label)
		ids = append(ids, e.index.GetOrAssign(label))
	}

	ex := tfexample.New()
	ex.Set(KeyHeight, tfexample.Int64Feature(int64(dim.Height)))
	ex.Set(KeyWidth, tfexample.Int64Feature(int64(dim.Width)))
	ex.Set(KeyFilename, tfexample.StringFeature(entry.ImagePath))
	ex.Set(KeySourceID, tfexample.StringFeature(entry.ImagePath))
	ex.Set(KeyEncoded, tfexample.BytesFeature(data))
	ex.Set(KeyFormat, tfexample.StringFeature(tag))
	ex.Set(KeyXMin, tfexample.FloatFeature(xmins...))
	ex.Set(KeyXMax, tfexample.FloatFeature(xmaxs...))
	ex.Set(KeyYMin, tfexample.FloatFeature(ymins...))
	ex.Set(KeyYMax, tfexample.FloatFeature(ymaxs...))
	ex.Set(KeyClassText, tfexample.StringFeature(texts...))
	ex.Set(KeyClassID, tfexample.Int64Feature(ids...))
	return ex, n, nil
}

// Encode 按顺序为每个条目写出一条记录。任一条目失败即中止并返回错误。
func (e *Encoder) Encode(ctx context.Context, entries []contract.Entry, w RecordWriter) (Stats, error) {
	var st Stats
	t0 := time.Now()
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		ex, n, err := e.Example(entry)
		if err != nil {
			diag.IncError(comp, string(diag.Classify(err)))
			e.logger.ErrorWith(comp, string(diag.Classify(err)), err.Error(), &t0, entry.ImagePath)
			return st, err
		}
		rec, err := ex.Marshal()
		if err != nil {
			return st, fmt.Errorf("encode record for %s: %w", entry.ImagePath, err)
		}
		if err := w.Write(rec); err != nil {
			diag.IncError(comp, string(diag.Classify(err)))
			return st, fmt.Errorf("write record for %s: %w", entry.ImagePath, err)
		}
		st.Images++
		st.Boxes += n
		diag.IncOp(comp, "image", "success")
		e.logger.Debug(comp, "record written", entry.ImagePath, map[string]string{"boxes": strconv.Itoa(n)})
		if e.opts.Progress != nil {
			e.opts.Progress(i+1, len(entries))
		}
	}
	diag.ObserveDuration(comp, "encode", time.Since(t0).Milliseconds())
	return st, nil
}
