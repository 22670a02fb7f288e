package diag

import (
	"fmt"
	"sync"
)

// 进程内指标：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计毫秒）

var (
	metricsMu sync.Mutex
	counters  = map[string]int64{}
)

// IncOp 累加操作计数（result=success|error|skip）。
func IncOp(comp, stage, result string) {
	add(fmt.Sprintf("op_total{comp=%s,stage=%s,result=%s}", comp, stage, result), 1)
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	add(fmt.Sprintf("error_total{comp=%s,code=%s}", comp, code), 1)
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	add(fmt.Sprintf("op_duration_ms{comp=%s,stage=%s}", comp, stage), durMS)
}

func add(key string, v int64) {
	metricsMu.Lock()
	counters[key] += v
	metricsMu.Unlock()
}

// Snapshot 返回当前指标副本。
func Snapshot() map[string]int64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := make(map[string]int64, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}

// SnapshotKV 以字符串键值返回（便于写入日志 kv）。
func SnapshotKV() map[string]string {
	s := Snapshot()
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// ResetMetrics 清空指标（测试与多次运行之间使用）。
func ResetMetrics() {
	metricsMu.Lock()
	counters = map[string]int64{}
	metricsMu.Unlock()
}
