package diag

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// Logger 为结构化日志器：基于 zerolog，单行 JSON。
// 字段：level, ts, corr_id, comp, stage, code, dur_ms, count, file_id, msg, kv。
// nil *Logger 的所有方法均为 no-op。
type Logger struct {
	zl   zerolog.Logger
	sink io.Closer
}

// NewLogger 通过配置的 level 初始化，并将日志写入默认目录 logs，10m 轮转。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerDir(corrID, level, "logs")
}

// NewLoggerDir 写入指定目录；dir 为 "-" 时写 stderr。
func NewLoggerDir(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "-" {
		return NewLoggerTo(corrID, level, os.Stderr)
	}
	sink := NewRotatingFile(dir, 10*1024*1024)
	l := NewLoggerTo(corrID, level, &fallbackWriter{w: sink})
	l.sink = sink
	return l
}

// NewLoggerTo 写入任意 io.Writer（测试常用）。
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Str("corr_id", corrID).Logger()
	return &Logger{zl: zl}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Close 关闭文件 sink（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string // start|finish|error|event
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Msg    string
	KV     map[string]string
}

func (l *Logger) log(lv zerolog.Level, ev Event) {
	if l == nil {
		return
	}
	e := l.zl.WithLevel(lv)
	if e == nil {
		return
	}
	e = e.Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		e = e.Str("code", ev.Code)
	}
	if ev.DurMS != 0 {
		e = e.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count != 0 {
		e = e.Int64("count", ev.Count)
	}
	if ev.FileID != "" {
		e = e.Str("file_id", ev.FileID)
	}
	if len(ev.KV) > 0 {
		keys := make([]string, 0, len(ev.KV))
		for k := range ev.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := zerolog.Dict()
		for _, k := range keys {
			d = d.Str(k, ev.KV[k])
		}
		e = e.Dict("kv", d)
	}
	e.Msg(ev.Msg)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// StartWithKV 记录带 file_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID string, kv map[string]string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", nil)
}

// ErrorWith 支持 file_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, nil)
}

// ErrorWithKV 支持附带键值对。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, KV: kv})
}

// Warn 记录可恢复的异常（例如跳过缺失图片）。
func (l *Logger) Warn(comp, msg, fileID string, kv map[string]string) {
	l.log(zerolog.WarnLevel, Event{Comp: comp, Stage: "event", FileID: fileID, Msg: msg, KV: kv})
}

// Info 记录一般提示。
func (l *Logger) Info(comp, msg, fileID string, kv map[string]string) {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "event", FileID: fileID, Msg: msg, KV: kv})
}

// Debug 仅在 level=debug 时输出。
func (l *Logger) Debug(comp, msg, fileID string, kv map[string]string) {
	l.log(zerolog.DebugLevel, Event{Comp: comp, Stage: "event", FileID: fileID, Msg: msg, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zerolog.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Msg: msg})
}

// Since 返回计时起点。
func (t *Timer) Since() time.Time {
	if t == nil {
		return time.Now()
	}
	return t.t0
}

// fallbackWriter: sink 写失败时改写 stderr。
type fallbackWriter struct{ w io.Writer }

func (f *fallbackWriter) Write(p []byte) (int, error) {
	if _, err := f.w.Write(p); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		return os.Stderr.Write(p)
	}
	return len(p), nil
}
