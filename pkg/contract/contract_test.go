package contract

import (
	"errors"
	"path/filepath"
	"testing"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"系统分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"空串", "", "."},
		{"Windows路径", "C:\\data\\labels.json", "C:/data/labels.json"},
		{"清理多余斜杠", "anno//set///labels.json", "anno/set/labels.json"},
		{"处理父目录", "anno/a/../b/labels.json", "anno/b/labels.json"},
		{"混合分隔符", "C:\\Users/test\\labels.json", "C:/Users/test/labels.json"},
		{"中文路径", "标注\\第一批/标签.json", "标注/第一批/标签.json"},
		{"Unix绝对路径", "/home/user/../data/a.json", "/home/data/a.json"},
		{"复杂父目录", "a\\b\\..\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFileID(tt.input); string(got) != tt.expected {
				t.Errorf("NormalizeFileID(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// BenchmarkNormalizeFileID 性能基准测试
func BenchmarkNormalizeFileID(b *testing.B) {
	paths := []string{
		"C:\\Users\\test\\Documents\\labels.json",
		"src/main/../../../test/data/labels.json",
		"very/long/path/with/many/segments/and/mixed\\separators/labels.json",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			NormalizeFileID(p)
		}
	}
}

// TestValidateHeader 覆盖魔数与 labels 校验分支及其顺序。
func TestValidateHeader(t *testing.T) {
	good, bad, empty := Magic, "x", ""
	if err := ValidateHeader(&good, true); err != nil {
		t.Fatalf("合法文档头校验失败: %v", err)
	}
	cases := []struct {
		name    string
		magic   *string
		present bool
		want    error
	}{
		{"无魔数", nil, true, ErrMagicMissing},
		{"无魔数优先于缺少 labels", nil, false, ErrMagicMissing},
		{"魔数错误", &bad, true, ErrMagicMismatch},
		{"魔数为空串", &empty, true, ErrMagicMismatch},
		{"缺少 labels", &good, false, ErrLabelsMissing},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateHeader(tt.magic, tt.present); !errors.Is(err, tt.want) {
				t.Fatalf("want %v got %v", tt.want, err)
			}
		})
	}
}

// TestValidateSplitPercent 比例边界。
func TestValidateSplitPercent(t *testing.T) {
	for _, p := range []int{0, 1, 20, 99} {
		if err := ValidateSplitPercent(p); err != nil {
			t.Fatalf("%d 应合法: %v", p, err)
		}
	}
	for _, p := range []int{-1, 100} {
		if err := ValidateSplitPercent(p); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%d 应返回 ErrInvalidInput, got %v", p, err)
		}
	}
}

// TestImageEntryPath 区分字段缺失与空串。
func TestImageEntryPath(t *testing.T) {
	if _, ok := (ImageEntry{}).Path(); ok {
		t.Fatalf("缺失字段应返回 false")
	}
	empty := ""
	if p, ok := (ImageEntry{ImagePath: &empty}).Path(); !ok || p != "" {
		t.Fatalf("空串应视为存在")
	}
	var nilDoc *Document
	if nilDoc.ImageBasePath() != "" {
		t.Fatalf("nil 文档应返回空")
	}
	doc := &Document{Config: &DocConfig{ImageDirBasePath: "imgs"}}
	if doc.ImageBasePath() != "imgs" {
		t.Fatalf("image_dir_base_path 读取错误")
	}
}
