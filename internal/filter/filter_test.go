package filter

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"pl2tfr/internal/diag"
	"pl2tfr/pkg/contract"
)

func strp(s string) *string { return &s }

func box(label string) contract.Box {
	return contract.Box{LeftPct: 0.1, TopPct: 0.1, WidthPct: 0.5, HeightPct: 0.5, Label: label}
}

// 三条：无 image_path / 图片不存在 / box_list 为空 → 全部剔除，ImagesSeen=2
func TestFilterDropsAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/imgs/empty.png", []byte("x"), 0o644)
	doc := &contract.Document{Labels: []contract.ImageEntry{
		{BoxList: []contract.Box{box("cat")}},
		{ImagePath: strp("missing.png"), BoxList: []contract.Box{box("cat")}},
		{ImagePath: strp("empty.png")},
	}}
	var buf bytes.Buffer
	logger := diag.NewLoggerTo("t", "info", &buf)
	got, c := Filter(fs, doc, "/imgs", logger)
	if len(got) != 0 {
		t.Fatalf("应全部剔除, got %+v", got)
	}
	if c.ImagesSeen != 2 || c.Missing != 1 || c.Empty != 1 || c.Retained != 0 {
		t.Fatalf("计数错误: %+v", c)
	}
	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, "Skipping missing image at path:"+filepath.Join("/imgs", "missing.png")) {
		t.Fatalf("缺图应输出 warn: %s", logs)
	}
	if !strings.Contains(logs, `"level":"info"`) || !strings.Contains(logs, "no annotations") {
		t.Fatalf("无框应输出 info: %s", logs)
	}
}

// 保留条目保持输入顺序并附带完整路径
func TestFilterRetainsInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, n := range []string{"b.jpg", "a.png", "sub/c.png"} {
		_ = afero.WriteFile(fs, filepath.Join("/d", n), []byte("x"), 0o644)
	}
	doc := &contract.Document{Labels: []contract.ImageEntry{
		{ImagePath: strp("b.jpg"), BoxList: []contract.Box{box("x")}},
		{ImagePath: strp("a.png"), BoxList: []contract.Box{box("y"), box("z")}},
		{ImagePath: strp("sub/c.png"), BoxList: []contract.Box{box("x")}},
	}}
	got, c := Filter(fs, doc, "/d", nil)
	if c.Retained != 3 || c.ImagesSeen != 3 || len(got) != 3 {
		t.Fatalf("计数错误: %+v", c)
	}
	if got[0].ImagePath != "b.jpg" || got[1].ImagePath != "a.png" || got[2].ImagePath != "sub/c.png" {
		t.Fatalf("顺序错误: %+v", got)
	}
	if got[2].FullPath != filepath.Join("/d", "sub/c.png") {
		t.Fatalf("FullPath 错误: %s", got[2].FullPath)
	}
	if len(got[1].Boxes) != 2 {
		t.Fatalf("box 丢失: %+v", got[1])
	}
}

// 目录不算图片；绝对路径原样使用
func TestFilterDirAndAbsolute(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/d/dir.png", 0o755)
	_ = afero.WriteFile(fs, "/elsewhere/abs.png", []byte("x"), 0o644)
	doc := &contract.Document{Labels: []contract.ImageEntry{
		{ImagePath: strp("dir.png"), BoxList: []contract.Box{box("x")}},
		{ImagePath: strp("/elsewhere/abs.png"), BoxList: []contract.Box{box("x")}},
	}}
	got, c := Filter(fs, doc, "/d", nil)
	if c.Missing != 1 || len(got) != 1 {
		t.Fatalf("目录应视为缺失: %+v", c)
	}
	if got[0].FullPath != "/elsewhere/abs.png" {
		t.Fatalf("绝对路径应原样使用: %s", got[0].FullPath)
	}
}

func TestCountersAdd(t *testing.T) {
	a := Counters{ImagesSeen: 1, Retained: 1}
	a.Add(Counters{ImagesSeen: 2, Missing: 1, Empty: 1})
	if a != (Counters{ImagesSeen: 3, Retained: 1, Missing: 1, Empty: 1}) {
		t.Fatalf("Add 错误: %+v", a)
	}
	if _, c := Filter(afero.NewMemMapFs(), nil, "", nil); c != (Counters{}) {
		t.Fatalf("nil 文档应返回零计数")
	}
}
