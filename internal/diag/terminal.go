package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	// 运行期最小状态
	docsTotal int
	docsDone  int
	runStart  time.Time

	// 当前文档
	curFileID   string // 短名（base + 截断）
	imagesTotal int
	imagesDone  int

	// 输出控制
	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// Totals: 运行结束时的汇总计数。
type Totals struct {
	ImagesSeen       int
	ImagesWritten    int
	BoxesWritten     int
	ValImagesWritten int
	ValBoxesWritten  int
	Labels           int
	Split            bool
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return t
}

// RunStart: 记录输入文档数。
func (t *Terminal) RunStart(docs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.docsTotal = docs
	t.docsDone = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 标注文件=%d", docs))
}

// DocStart: 标记当前文档与保留的图片数。
func (t *Terminal) DocStart(fileID string, images int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curFileID = shortenBase(fileID, 48)
	t.imagesTotal = images
	t.imagesDone = 0
	if !t.isTTY { // 非 TTY 打点一行
		t.println(fmt.Sprintf("[doc] %s | 图片=%d", t.curFileID, images))
	}
}

// ImageProgress: 周期性进度（≥100ms 节流，仅 TTY）。
func (t *Terminal) ImageProgress(done, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.imagesDone = done
	t.imagesTotal = total
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[doc] %s | 进度 %d/%d | 文件 %d/%d | 用时 %s",
		t.curFileID, t.imagesDone, t.imagesTotal, t.docsDone+1, t.docsTotal, formatSince(t.runStart))
	t.printInline(line)
}

// DocFinish: 完成当前文档（立即刷新并换行）。
func (t *Terminal) DocFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.docsDone++
	status := "done"
	if !ok {
		status = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] %s | 图片 %d | 总用时 %s",
		status, t.curFileID, t.imagesTotal, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 文件 %d | 总用时 %s", tag, t.docsDone, formatDur(dur)))
}

// SummaryLine 返回汇总行（与旧版转换脚本的 stderr 输出兼容）。
func SummaryLine(s Totals) string {
	line := fmt.Sprintf("Images Seen:%d Images Written:%d Total Training Examples Written:%d",
		s.ImagesSeen, s.ImagesWritten, s.BoxesWritten)
	if s.Split {
		line += fmt.Sprintf(" Validation Images Written:%d Total Validation Examples Written:%d",
			s.ValImagesWritten, s.ValBoxesWritten)
	}
	return line + fmt.Sprintf(" Unique Label Categories:%d", s.Labels)
}

// Summary 输出汇总行；不受 enabled 影响，写失败忽略。
func (t *Terminal) Summary(s Totals) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTTY && t.lastLen > 0 {
		_, _ = io.WriteString(t.w, "\r"+strings.Repeat(" ", t.lastLen)+"\r")
		t.lastLen = 0
	}
	_, _ = io.WriteString(t.w, SummaryLine(s)+"\n")
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 清尾：若新行比旧短，填充空格覆盖
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "" {
		return ""
	}
	if visLen(base) <= max {
		return base
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	rs := []rune(base)
	if len(rs) <= cut {
		return string(rs)
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
