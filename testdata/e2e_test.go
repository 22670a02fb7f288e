package testdata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"

	cfgpkg "pl2tfr/internal/config"
	"pl2tfr/internal/encoder"
	"pl2tfr/internal/pipeline"
	"pl2tfr/internal/tfexample"
	"pl2tfr/internal/tfrecord"
	"pl2tfr/pkg/contract"
)

const fixture = "fixtures/annotations.json"

func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Inputs = []string{input}
	cfg.TFRecords = filepath.Join(outDir, "train.record")
	cfg.LabelMap = filepath.Join(outDir, "label_map.pbtxt")
	cfg.Logging.Level = "error"
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) (pipeline.Summary, error) {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func readRecords(t *testing.T, p string) []*tfexample.Example {
	t.Helper()
	f, err := os.Open(p)
	if err != nil {
		t.Fatalf("open %s: %v", p, err)
	}
	defer f.Close()
	r := tfrecord.NewReader(f)
	var out []*tfexample.Example
	for {
		data, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read record: %v", err)
		}
		ex, err := tfexample.Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out = append(out, ex)
	}
}

func filename(ex *tfexample.Example) string {
	return string(ex.Features[encoder.KeyFilename].Bytes[0])
}

func TestE2ESuccess(t *testing.T) {
	outDir := t.TempDir()
	sum, err := runPipeline(t, baseConfig(fixture, outDir))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if sum.Filter.ImagesSeen != 5 || sum.Filter.Missing != 1 || sum.Filter.Empty != 1 {
		t.Fatalf("过滤计数错误: %+v", sum.Filter)
	}
	if sum.Train.Images != 3 || sum.Train.Boxes != 5 || sum.Labels != 3 {
		t.Fatalf("写出计数错误: %+v", sum)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "label_map.pbtxt"))
	if err != nil {
		t.Fatalf("read label map: %v", err)
	}
	want, _ := os.ReadFile("fixtures/label_map.pbtxt")
	if !bytes.Equal(got, want) {
		t.Fatalf("label map mismatch\nwant:\n%s\ngot:\n%s", want, got)
	}

	exs := readRecords(t, filepath.Join(outDir, "train.record"))
	if len(exs) != 3 || filename(exs[0]) != "a.png" || filename(exs[1]) != "c.bmp" || filename(exs[2]) != "b.png" {
		t.Fatalf("记录顺序错误: %d", len(exs))
	}
	a := exs[0].Features
	if a[encoder.KeyWidth].Int64s[0] != 320 || a[encoder.KeyHeight].Int64s[0] != 240 {
		t.Fatalf("尺寸错误: %v %v", a[encoder.KeyWidth].Int64s, a[encoder.KeyHeight].Int64s)
	}
	// 320x240: xmin=floor(80)+1=81 xmax=81+159=240; ymin=floor(120)+1=121 ymax=121+59=180
	frac := func(px, size float64) float32 { return float32(px / size) }
	if a[encoder.KeyXMin].Floats[0] != frac(81, 320) || a[encoder.KeyXMax].Floats[0] != frac(240, 320) ||
		a[encoder.KeyYMin].Floats[0] != frac(121, 240) || a[encoder.KeyYMax].Floats[0] != frac(180, 240) {
		t.Fatalf("坐标错误: %v %v %v %v", a[encoder.KeyXMin].Floats, a[encoder.KeyXMax].Floats,
			a[encoder.KeyYMin].Floats, a[encoder.KeyYMax].Floats)
	}
	if ids := a[encoder.KeyClassID].Int64s; len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("类别 id 错误: %v", ids)
	}
	if string(a[encoder.KeyFormat].Bytes[0]) != "png" || string(exs[1].Features[encoder.KeyFormat].Bytes[0]) != "jpg" {
		t.Fatal("格式标签错误")
	}
	img, _ := os.ReadFile("fixtures/images/a.png")
	if !bytes.Equal(a[encoder.KeyEncoded].Bytes[0], img) {
		t.Fatal("图片字节应原样写入")
	}
}

// 无切分时输出确定：两次运行字节一致
func TestE2EDeterministic(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	if _, err := runPipeline(t, baseConfig(fixture, d1)); err != nil {
		t.Fatal(err)
	}
	if _, err := runPipeline(t, baseConfig(fixture, d2)); err != nil {
		t.Fatal(err)
	}
	b1, _ := os.ReadFile(filepath.Join(d1, "train.record"))
	b2, _ := os.ReadFile(filepath.Join(d2, "train.record"))
	if len(b1) == 0 || !bytes.Equal(b1, b2) {
		t.Fatal("两次输出不一致")
	}
}

func TestE2ESplit(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(fixture, outDir)
	cfg.ValidationTFRecords = filepath.Join(outDir, "validation.record")
	cfg.ValidationPercent = 50
	cfg.ShuffleSeed = 11
	sum, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	// 3 张保留图片，50% → 1 张验证
	if sum.Validation.Images != 1 || sum.Train.Images != 2 {
		t.Fatalf("切分计数错误: %+v", sum)
	}
	var names []string
	for _, ex := range readRecords(t, cfg.TFRecords) {
		names = append(names, filename(ex))
	}
	for _, ex := range readRecords(t, cfg.ValidationTFRecords) {
		names = append(names, filename(ex))
	}
	sort.Strings(names)
	if len(names) != 3 || names[0] != "a.png" || names[1] != "b.png" || names[2] != "c.bmp" {
		t.Fatalf("并集错误: %v", names)
	}
	got, _ := os.ReadFile(cfg.LabelMap)
	if sum.Labels != 3 || len(got) == 0 {
		t.Fatalf("标签映射应覆盖两个划分: %d", sum.Labels)
	}
}

// 以上次输出的标签映射为种子，结果不变
func TestE2ESeedRoundTrip(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(fixture, outDir)
	cfg.LabelMapSeed = "fixtures/label_map.pbtxt"
	if _, err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got, _ := os.ReadFile(cfg.LabelMap)
	want, _ := os.ReadFile("fixtures/label_map.pbtxt")
	if !bytes.Equal(got, want) {
		t.Fatalf("seeded label map mismatch\n%s", got)
	}
}

// 图片损坏：运行失败且目标文件不存在
func TestE2EBrokenImage(t *testing.T) {
	src := afero.NewBasePathFs(afero.NewOsFs(), "fixtures")
	work := t.TempDir()
	dst := afero.NewBasePathFs(afero.NewOsFs(), work)
	if err := dst.MkdirAll("images", 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"annotations.json", "images/a.png", "images/b.png"} {
		data, err := afero.ReadFile(src, p)
		if err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(dst, p, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	_ = afero.WriteFile(dst, "images/c.bmp", []byte("BM broken"), 0o644)

	outDir := t.TempDir()
	_, err := runPipeline(t, baseConfig(filepath.Join(work, "annotations.json"), outDir))
	if !errors.Is(err, contract.ErrImageDecode) {
		t.Fatalf("expect decode error, got %v", err)
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Fatalf("output should be empty, got %d entries", len(entries))
	}
}
