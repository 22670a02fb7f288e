package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"pl2tfr/internal/diag"
	"pl2tfr/internal/encoder"
	"pl2tfr/internal/filter"
	"pl2tfr/internal/labelmap"
	"pl2tfr/internal/split"
	"pl2tfr/internal/tfrecord"
	"pl2tfr/pkg/contract"
)

// - 单线程顺序处理：文档按 Reader 回调顺序，图片按文档内顺序。
// - 共享状态：一个标签索引、一个训练流、一个验证流，跨全部文档。
// - 首错即停：任一阶段失败，Abort 所有已打开工件后返回该错误；不留下半成品。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader  contract.Reader
	Decoder contract.Decoder
	Writer  contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs []string
	// ImagesDir: 显式图片根目录；为空时按文档逐个推导。
	ImagesDir string
	// 输出工件
	TrainID      contract.ArtifactID
	ValidationID contract.ArtifactID
	LabelMapID   contract.ArtifactID
	// ValidationPercent: 0 表示不切分。
	ValidationPercent int
	// LabelMapSeed: 可选的既有标签映射文件（经 Fs 读取）。
	LabelMapSeed       string
	LabelNormalization string
	// Rand: 洗牌随机源；nil 使用运行时全局源。
	Rand *rand.Rand
	// Fs: 图片与种子文件所在文件系统；nil 使用操作系统文件系统。
	Fs afero.Fs
}

// Summary 汇总一次运行的计数。
type Summary struct {
	Documents  int
	Filter     filter.Counters
	Train      encoder.Stats
	Validation encoder.Stats
	Labels     int
	Split      bool
}

// Totals 转换为终端汇总行所需结构。
func (s Summary) Totals() diag.Totals {
	return diag.Totals{
		ImagesSeen:       s.Filter.ImagesSeen,
		ImagesWritten:    s.Train.Images + s.Validation.Images,
		BoxesWritten:     s.Train.Boxes,
		ValImagesWritten: s.Validation.Images,
		ValBoxesWritten:  s.Validation.Boxes,
		Labels:           s.Labels,
		Split:            s.Split,
	}
}

// stream: 一个打开的记录输出（工件 + 帧写入器）。
type stream struct {
	id  contract.ArtifactID
	art contract.Artifact
	rec *tfrecord.Writer
}

func (s *stream) Write(data []byte) error { return s.rec.Write(data) }

// Run 执行完整流程：Reader → Decoder → Filter → Split → Encoder → Writer，最后写出标签映射。
// 约束：
// - 标签 id 在全部文档、两个划分之间按首次出现顺序分配；
// - 所有输出在全部成功后才 Commit；任一错误时全部 Abort。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	var sum Summary
	if err := sanity(comp, set); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}
	fs := set.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	normalize, err := labelmap.NormalizeFunc(set.LabelNormalization)
	if err != nil {
		return sum, err
	}
	index, err := loadIndex(fs, set.LabelMapSeed, logger)
	if err != nil {
		return sum, err
	}
	sum.Split = set.ValidationPercent > 0

	// 打开输出；出错时统一回滚
	var opened []*stream
	committed := false
	defer func() {
		if committed {
			return
		}
		for _, s := range opened {
			_ = s.art.Abort()
		}
	}()
	open := func(id contract.ArtifactID) (*stream, error) {
		art, err := comp.Writer.Create(ctx, id)
		if err != nil {
			fail(logger, "writer", "create failed", string(id), err)
			return nil, fmt.Errorf("writer create %s: %w", id, err)
		}
		s := &stream{id: id, art: art, rec: tfrecord.NewWriter(art)}
		opened = append(opened, s)
		return s, nil
	}
	train, err := open(set.TrainID)
	if err != nil {
		return sum, err
	}
	var val *stream
	if sum.Split {
		if val, err = open(set.ValidationID); err != nil {
			return sum, err
		}
	}

	var opts encoder.Options
	opts.Normalize = normalize
	opts.Progress = func(done, total int) {
		if t := diag.GetTerminal(); t != nil {
			t.ImageProgress(done, total)
		}
	}
	enc := encoder.New(fs, index, logger, opts)

	perDoc := func(fileID contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		sum.Documents++
		fid := string(fileID)

		dtimer := logger.StartWith("decoder", "decode", fid)
		doc, err := comp.Decoder.Decode(ctx, fileID, rc)
		if err != nil {
			fail(logger, "decoder", "decode failed", fid, err)
			return fmt.Errorf("decoder decode: %w", err)
		}
		dtimer.Finish("decode", int64(len(doc.Labels)))
		diag.IncOp("decoder", "finish", "success")

		baseDir := set.ImagesDir
		if baseDir == "" {
			baseDir = ResolveImagesDir(fs, fileID, doc)
		}
		logger.Debug("pipeline", "images dir", fid, map[string]string{"dir": baseDir})

		entries, cnt := filter.Filter(fs, doc, baseDir, logger)
		sum.Filter.Add(cnt)

		if t := diag.GetTerminal(); t != nil {
			t.DocStart(fid, len(entries))
		}
		docStart := time.Now()
		ok := false
		defer func() {
			if t := diag.GetTerminal(); t != nil {
				t.DocFinish(ok, time.Since(docStart))
			}
		}()

		trainEntries, valEntries, err := split.Split(entries, set.ValidationPercent, set.Rand)
		if err != nil {
			fail(logger, "split", "split failed", fid, err)
			return fmt.Errorf("split: %w", err)
		}
		logger.Info("split", "partition", fid, map[string]string{
			"train":      strconv.Itoa(len(trainEntries)),
			"validation": strconv.Itoa(len(valEntries)),
		})

		etimer := logger.StartWith("encoder", "train", fid)
		st, err := enc.Encode(ctx, trainEntries, train)
		sum.Train.Add(st)
		if err != nil {
			return fmt.Errorf("encode %s: %w", train.id, err)
		}
		etimer.Finish("train", int64(st.Images))
		if val != nil && len(valEntries) > 0 {
			vtimer := logger.StartWith("encoder", "validation", fid)
			vst, err := enc.Encode(ctx, valEntries, val)
			sum.Validation.Add(vst)
			if err != nil {
				return fmt.Errorf("encode %s: %w", val.id, err)
			}
			vtimer.Finish("validation", int64(vst.Images))
		}
		ok = true
		return nil
	}

	rtimer := logger.Start("reader", "iterate")
	if err := comp.Reader.Iterate(ctx, set.Inputs, perDoc); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.ErrorWith("reader", string(diag.Classify(err)), "iterate failed", nil, "")
		}
		return sum, err
	}
	rtimer.Finish("iterate", int64(sum.Documents))

	// 标签映射（在记录全部写出后渲染，包含两个划分中出现的全部标签）
	sum.Labels = index.Len()
	lm, err := comp.Writer.Create(ctx, set.LabelMapID)
	if err != nil {
		fail(logger, "writer", "create failed", string(set.LabelMapID), err)
		return sum, fmt.Errorf("writer create %s: %w", set.LabelMapID, err)
	}
	opened = append(opened, &stream{id: set.LabelMapID, art: lm})
	if _, err := lm.Write(index.RenderManifest()); err != nil {
		fail(logger, "writer", "write failed", string(set.LabelMapID), err)
		return sum, fmt.Errorf("write label map: %w", err)
	}

	// 先冲刷全部记录流，再逐个提交
	for _, s := range opened {
		if s.rec == nil {
			continue
		}
		if err := s.rec.Flush(); err != nil {
			fail(logger, "writer", "flush failed", string(s.id), err)
			return sum, fmt.Errorf("flush %s: %w", s.id, err)
		}
		logger.Debug("tfrecord", "flushed", string(s.id), map[string]string{
			"records": strconv.Itoa(s.rec.Count()),
			"bytes":   strconv.FormatInt(s.rec.Bytes(), 10),
		})
	}
	// 已提交的工件再 Abort 为 no-op，失败时由 defer 回滚其余工件
	for _, s := range opened {
		wtimer := logger.StartWith("writer", "commit", string(s.id))
		if err := s.art.Commit(); err != nil {
			fail(logger, "writer", "commit failed", string(s.id), err)
			return sum, fmt.Errorf("commit %s: %w", s.id, err)
		}
		wtimer.Finish("commit", 0)
		diag.IncOp("writer", "finish", "success")
	}
	committed = true
	logger.Debug("pipeline", "metrics", "", diag.SnapshotKV())
	return sum, nil
}

// loadIndex 构造标签索引；给定种子文件时以其为起点。
func loadIndex(fs afero.Fs, seed string, logger *diag.Logger) (*labelmap.Index, error) {
	if seed == "" {
		return labelmap.New(), nil
	}
	data, err := afero.ReadFile(fs, seed)
	if err != nil {
		fail(logger, "labelmap", "seed unreadable", seed, err)
		return nil, fmt.Errorf("label map seed: %w", err)
	}
	x, err := labelmap.Parse(data)
	if err != nil {
		fail(logger, "labelmap", "seed invalid", seed, err)
		return nil, fmt.Errorf("label map seed %s: %w", seed, err)
	}
	logger.Info("labelmap", "seeded", seed, map[string]string{"labels": strconv.Itoa(x.Len())})
	return x, nil
}

// ResolveImagesDir 推导文档的图片根目录：
// 1) config.image_dir_base_path 为目录则直接使用；
// 2) 否则与标注文件所在目录拼接，若为目录则使用；
// 3) 否则使用标注文件所在目录（STDIN 为当前目录）。
func ResolveImagesDir(fs afero.Fs, fileID contract.FileID, doc *contract.Document) string {
	jsonDir := "."
	if fileID != "stdin" {
		jsonDir = filepath.Dir(filepath.FromSlash(string(fileID)))
	}
	d := doc.ImageBasePath()
	if d == "" {
		return jsonDir
	}
	if isDir(fs, d) {
		return d
	}
	if j := filepath.Join(jsonDir, d); isDir(fs, j) {
		return j
	}
	return jsonDir
}

func isDir(fs afero.Fs, p string) bool {
	ok, err := afero.IsDir(fs, p)
	return err == nil && ok
}

// fail 统一记录错误事件与计数。
func fail(logger *diag.Logger, comp, msg, fileID string, err error) {
	code := diag.Classify(err)
	logger.ErrorWithKV(comp, string(code), msg, nil, fileID, map[string]string{"err": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Decoder == nil || c.Writer == nil {
		return errors.New("nil component")
	}
	if len(s.Inputs) == 0 {
		return errors.New("no inputs")
	}
	if s.TrainID == "" || s.LabelMapID == "" {
		return errors.New("output not set")
	}
	if err := contract.ValidateSplitPercent(s.ValidationPercent); err != nil {
		return err
	}
	if s.ValidationPercent > 0 && s.ValidationID == "" {
		return errors.New("validation output not set")
	}
	return nil
}
