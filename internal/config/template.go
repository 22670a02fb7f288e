package config

import json "github.com/goccy/go-json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为 STDIN（"-"），输出写到 ./out 目录；
// - 请求 20% 验证集；
// - 组件名采用仓库内置实现，选项包含全部键。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:              []string{"-"},
		TFRecords:           "out/train.record",
		ValidationTFRecords: "out/validation.record",
		LabelMap:            "out/label_map.pbtxt",
		ValidationPercent:   DefaultValidationPercent,
		Logging:             d.Logging,
		Components:          d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "allow_exts": [".json"]
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "max_bytes": 268435456
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
