package config

import (
	json "github.com/goccy/go-json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Inputs: 标注文件或目录；"-" 表示 STDIN。
	Inputs []string `json:"inputs"`
	// Images: 显式图片根目录（对所有文档生效）；为空时按文档推导。
	Images string `json:"images"`

	// 输出
	TFRecords           string `json:"tfrecords"`
	ValidationTFRecords string `json:"validation_tfrecords"`
	LabelMap            string `json:"labelmap"`
	// ValidationPercent: 验证集比例 [0,99]；0 表示不切分。
	// 覆盖层中 -1 表示“未设置”，以便显式 0 可以覆盖。
	ValidationPercent int `json:"validation_percent"`

	LabelMapSeed       string `json:"labelmap_seed"`
	LabelNormalization string `json:"label_normalization"`
	// ShuffleSeed: 0 表示不固定随机源。
	ShuffleSeed uint64 `json:"shuffle_seed"`

	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与输出目录（"-" 表示 stderr）。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader  string `json:"reader"`
	Decoder string `json:"decoder"`
	Writer  string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader  json.RawMessage `json:"reader,omitempty"`
	Decoder json.RawMessage `json:"decoder,omitempty"`
	Writer  json.RawMessage `json:"writer,omitempty"`
}
