package diag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"

	"pl2tfr/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	if err := w.WriteLine([]byte("first line that is very long")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := w.WriteLine([]byte("second")); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	_ = w.Close()
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
}

// 内存文件系统：当前文件名与时间戳文件存在
func TestRotatingFileRotateFilesMem(t *testing.T) {
	mfs := afero.NewMemMapFs()
	w := NewRotatingFileFs(mfs, "logs", 10)
	for i := 0; i < 5; i++ {
		if err := w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ents, err := afero.ReadDir(mfs, "logs")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	hasCurrent := false
	hasRotated := false
	for _, e := range ents {
		if e.Name() == "pl2tfr-current.txt" {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "pl2tfr-") && strings.HasSuffix(e.Name(), ".txt") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	if !hasCurrent || !hasRotated {
		t.Fatalf("expect both current and rotated files, got current=%v rotated=%v", hasCurrent, hasRotated)
	}
}

// 直接覆盖 ensureOpen 与 rotate 内部分支
func TestRotatingFileEnsureAndRotate(t *testing.T) {
	mfs := afero.NewMemMapFs()
	w := NewRotatingFileFs(mfs, "d", 0)
	if w.maxBytes != 10*1024*1024 {
		t.Fatalf("默认 maxBytes 错误: %d", w.maxBytes)
	}
	if err := w.ensureOpen(); err != nil {
		t.Fatalf("ensureOpen: %v", err)
	}
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	ents, _ := afero.ReadDir(mfs, "d")
	if len(ents) < 2 {
		t.Fatalf("expect >=2 files, got %d", len(ents))
	}
	// f==nil 分支
	w.f = nil
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
}

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(ln) == 0 {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal(ln, &m); err != nil {
			t.Fatalf("日志行不是 JSON: %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

// Logger 字段与级别过滤
func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("corr", "info", &buf)
	timer := l.StartWith("encoder", "begin", "a.json")
	timer.Finish("ok", 3)
	l.Warn("filter", "missing image", "img/x.png", map[string]string{"path": "/d/img/x.png"})
	l.Debug("encoder", "hidden", "", nil)
	l.ErrorWith("encoder", string(CodeIO), "boom", nil, "a.json")

	evs := decodeLines(t, buf.Bytes())
	if len(evs) != 4 {
		t.Fatalf("应有 4 条事件（debug 被过滤）, got %d: %s", len(evs), buf.String())
	}
	first := evs[0]
	for _, k := range []string{"level", "ts", "corr_id", "comp", "stage", "msg", "file_id"} {
		if _, ok := first[k]; !ok {
			t.Fatalf("缺少字段 %s: %v", k, first)
		}
	}
	if first["stage"] != "start" || first["corr_id"] != "corr" {
		t.Fatalf("start 事件错误: %v", first)
	}
	if evs[1]["count"].(float64) != 3 || evs[1]["stage"] != "finish" {
		t.Fatalf("finish 事件错误: %v", evs[1])
	}
	if evs[2]["level"] != "warn" {
		t.Fatalf("warn 级别错误: %v", evs[2])
	}
	kv, ok := evs[2]["kv"].(map[string]any)
	if !ok || kv["path"] != "/d/img/x.png" {
		t.Fatalf("kv 错误: %v", evs[2])
	}
	if evs[3]["level"] != "error" || evs[3]["code"] != "io" {
		t.Fatalf("error 事件错误: %v", evs[3])
	}
	ts, _ := first["ts"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("ts 应为 RFC3339: %q", ts)
	}
}

func TestLoggerDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("c", "debug", &buf)
	l.Debug("x", "shown", "", nil)
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("x", "code", "msg", &start)
	l.InfoFinish("x", "done", start, 1)
	l.Info("x", "note", "", nil)
	if n := len(decodeLines(t, buf.Bytes())); n != 4 {
		t.Fatalf("debug 级别应输出全部 4 条, got %d", n)
	}
	if parseLevel("WARN") != parseLevel("warn") || parseLevel("bogus") != parseLevel("info") {
		t.Fatalf("parseLevel 错误")
	}
}

// nil Logger/Timer 均为 no-op
func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Warn("a", "b", "", nil)
	l.Start("a", "b").Finish("x", 0)
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
}

// 写入目录 sink
func TestLoggerDirSink(t *testing.T) {
	dir := t.TempDir()
	l := NewLoggerDir("corr", "info", dir)
	l.Start("comp", "msg").Finish("ok", 1)
	l.Error("comp", "code", "msg", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "pl2tfr-current.txt"))
	if err != nil {
		t.Fatalf("log file not found: %v", err)
	}
	if n := len(decodeLines(t, b)); n != 3 {
		t.Fatalf("应写入 3 行, got %d", n)
	}
}

// 指标累加与快照
func TestMetrics(t *testing.T) {
	ResetMetrics()
	IncOp("encoder", "image", "success")
	IncOp("encoder", "image", "success")
	IncError("encoder", "io")
	ObserveDuration("encoder", "run", 5)
	ObserveDuration("encoder", "run", 7)
	s := Snapshot()
	if s["op_total{comp=encoder,stage=image,result=success}"] != 2 {
		t.Fatalf("op_total 错误: %v", s)
	}
	if s["error_total{comp=encoder,code=io}"] != 1 {
		t.Fatalf("error_total 错误: %v", s)
	}
	if s["op_duration_ms{comp=encoder,stage=run}"] != 12 {
		t.Fatalf("duration 错误: %v", s)
	}
	if SnapshotKV()["error_total{comp=encoder,code=io}"] != "1" {
		t.Fatalf("SnapshotKV 错误")
	}
	ResetMetrics()
	if len(Snapshot()) != 0 {
		t.Fatalf("Reset 后应为空")
	}
}

// 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{context.Canceled, CodeCancel},
		{fmt.Errorf("x: %w", contract.ErrMagicMismatch), CodeFormat},
		{contract.ErrLabelsMissing, CodeFormat},
		{fmt.Errorf("img: %w", contract.ErrImageDecode), CodeDecode},
		{contract.ErrRecordCorrupt, CodeDecode},
		{contract.ErrZeroDimension, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{contract.ErrImageUnreadable, CodeIO},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{errors.New("other"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v)=%s want %s", c.err, got, c.want)
		}
	}
	if NowUTC() == "" {
		t.Fatalf("应返回时间字符串")
	}
}

// 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart(2)
	term.DocStart("data/annotations.json", 12)
	term.ImageProgress(6, 12) // 非 TTY：不输出进度
	term.DocFinish(true, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty should not contain carriage returns: %q", out)
	}
	for _, want := range []string{
		"[run] 标注文件=2",
		"[doc] annotations.json | 图片=12",
		"[done] annotations.json | 图片 12 | 总用时 5.1s",
		"[ok] 全部完成 | 文件 1 | 总用时 41.3s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

// 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(1)
	term.DocStart("/a/b/c/longfilename.json", 3)

	term.ImageProgress(1, 3)
	first := sb.String()
	if !strings.Contains(first, "\r[") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	term.ImageProgress(2, 3)
	if sb.String() != first {
		t.Fatalf("second progress should be throttled")
	}
	time.Sleep(120 * time.Millisecond)
	term.ImageProgress(2, 3)
	if len(sb.String()) <= len(first) {
		t.Fatalf("third progress should append output")
	}
	term.DocFinish(false, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	if idx < 0 {
		t.Fatalf("finish should include fail line: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.isTTY = false
	term.RunStart(1)
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.DocStart("a", 0)
	term.ImageProgress(0, 0)
	term.DocFinish(true, 0)
	term.RunFinish(true, 0)
}

// 汇总行格式
func TestSummary(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, false)
	term.Summary(Totals{ImagesSeen: 3, ImagesWritten: 2, BoxesWritten: 5, Labels: 2})
	want := "Images Seen:3 Images Written:2 Total Training Examples Written:5 Unique Label Categories:2\n"
	if sb.String() != want {
		t.Fatalf("汇总行不符:\n got=%q\nwant=%q", sb.String(), want)
	}
	line := SummaryLine(Totals{ImagesSeen: 10, ImagesWritten: 8, BoxesWritten: 9, ValImagesWritten: 2, ValBoxesWritten: 3, Labels: 4, Split: true})
	if !strings.Contains(line, "Validation Images Written:2 Total Validation Examples Written:3 Unique Label Categories:4") {
		t.Fatalf("划分汇总行错误: %q", line)
	}
}

func TestTerminalHelpers(t *testing.T) {
	if shortenBase("/x/y/这是一个很长的文件名用于截断测试abcdefghijk.json", 10) == "" {
		t.Fatalf("shortenBase should produce non-empty")
	}
	if shortenBase("x", 0) != "" {
		t.Fatalf("shortenBase max<=0 should be empty")
	}
	if formatDur(0) != "0ms" || formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur 错误")
	}
	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	SetTerminal(NewTerminal(os.Stderr, false))
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
	SetTerminal(nil)
	var tn *Terminal
	tn.RunStart(1)
	tn.DocStart("a", 1)
	tn.DocFinish(true, 0)
	tn.Summary(Totals{})
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	term := NewTerminal(os.Stderr, true)
	if term.isTTY {
		t.Fatalf("CI env should force non-tty")
	}
}
