package labelmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pl2tfr/pkg/contract"
)

// Item: 一条 id→name 映射。
type Item struct {
	ID   int64
	Name string
}

// Index: 标签到正整数 id 的映射（单调增长，从不收缩或重分配）。
// 生命周期为整次运行；显式传递，不使用包级全局状态。
// 非并发安全：流水线为单线程顺序处理。
type Index struct {
	ids   map[string]int64
	maxID int64
}

// New 创建空索引。
func New() *Index {
	return &Index{ids: make(map[string]int64)}
}

// GetOrAssign 返回 label 的 id；首次出现时分配 maxID+1。
func (x *Index) GetOrAssign(label string) int64 {
	if id, ok := x.ids[label]; ok {
		return id
	}
	x.maxID++
	x.ids[label] = x.maxID
	return x.maxID
}

// Lookup 查询已分配的 id，不分配。
func (x *Index) Lookup(label string) (int64, bool) {
	id, ok := x.ids[label]
	return id, ok
}

// Len 返回不同标签数量。
func (x *Index) Len() int { return len(x.ids) }

// Items 按 id 升序返回全部映射。
func (x *Index) Items() []Item {
	items := make([]Item, 0, len(x.ids))
	for name, id := range x.ids {
		items = append(items, Item{ID: id, Name: name})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// seed 写入既有映射（来自种子标签映射文件）。
func (x *Index) seed(name string, id int64) error {
	if name == "" || id <= 0 {
		return fmt.Errorf("%w: label map entry %q: %d", contract.ErrInvalidInput, name, id)
	}
	if prev, ok := x.ids[name]; ok && prev != id {
		return fmt.Errorf("%w: label %q mapped to both %d and %d", contract.ErrInvalidInput, name, prev, id)
	}
	for n, v := range x.ids {
		if v == id && n != name {
			return fmt.Errorf("%w: id %d used by both %q and %q", contract.ErrInvalidInput, id, n, name)
		}
	}
	x.ids[name] = id
	if id > x.maxID {
		x.maxID = id
	}
	return nil
}

// RenderManifest 以 StringIntLabelMap 文本格式输出全部映射（按 id 升序，UTF-8 原样）：
//
//	item {
//	  name: "cat"
//	  id: 1
//	}
//
// 应在全部文档处理完之后调用一次。
func (x *Index) RenderManifest() []byte {
	var b strings.Builder
	for _, it := range x.Items() {
		b.WriteString("item {\n  name: ")
		b.WriteString(quote(it.Name))
		b.WriteString("\n  id: ")
		b.WriteString(strconv.FormatInt(it.ID, 10))
		b.WriteString("\n}\n")
	}
	return []byte(b.String())
}

// quote 按 protobuf 文本格式 UTF-8 模式转义：仅转义 \t \n \r ' " \\，其余字节（含控制字符）原样保留。
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			b.WriteString(`\"`)
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
