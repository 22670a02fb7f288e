package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：输出路径不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		ValidationPercent: 0,
		Logging:           Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:  "fs",
			Decoder: "parrotlabel",
			Writer:  "fs",
		},
	}
}

// Unset 返回一个所有字段均“未设置”的覆盖层。
func Unset() Config {
	return Config{ValidationPercent: -1}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 文件扩展名为 .yaml/.yml 时按 YAML 解析。
// 文件中未出现 validation_percent 时结果为 -1（未设置）。
func LoadJSON(path string, raw []byte) (Config, error) {
	switch {
	case len(raw) > 0:
		return decodeStrict(raw)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return Unset(), err
		}
		if isYAML(path) {
			return LoadYAML(data)
		}
		return decodeStrict(data)
	default:
		return Unset(), errors.New("no config source provided")
	}
}

// LoadYAML 解析 YAML 配置：先转为通用树，再按 JSON 严格解码，
// 因此字段名与未知字段规则与 JSON 完全一致。
func LoadYAML(data []byte) (Config, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return Unset(), fmt.Errorf("yaml: %w", err)
	}
	if tree == nil {
		return Unset(), nil
	}
	if _, ok := tree.(map[string]any); !ok {
		return Unset(), errors.New("yaml: top level must be a mapping")
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return Unset(), fmt.Errorf("yaml: %w", err)
	}
	return decodeStrict(b)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeStrict(data []byte) (Config, error) {
	cfg := Unset()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Unset(), err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if s := strings.TrimSpace(over.Images); s != "" {
		out.Images = s
	}
	if s := strings.TrimSpace(over.TFRecords); s != "" {
		out.TFRecords = s
	}
	if s := strings.TrimSpace(over.ValidationTFRecords); s != "" {
		out.ValidationTFRecords = s
	}
	if s := strings.TrimSpace(over.LabelMap); s != "" {
		out.LabelMap = s
	}
	// 特殊：validation_percent 的 0 具有语义（不切分），需要显式可覆盖。
	// 约定：over.ValidationPercent >= 0 视为“存在”，-1 视为未覆盖。
	if over.ValidationPercent >= 0 {
		out.ValidationPercent = over.ValidationPercent
	}
	if s := strings.TrimSpace(over.LabelMapSeed); s != "" {
		out.LabelMapSeed = s
	}
	if s := strings.TrimSpace(over.LabelNormalization); s != "" {
		out.LabelNormalization = s
	}
	if over.ShuffleSeed != 0 {
		out.ShuffleSeed = over.ShuffleSeed
	}

	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Decoder != "" {
		out.Components.Decoder = over.Components.Decoder
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Decoder) > 0 {
		out.Options.Decoder = cloneRaw(over.Options.Decoder)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvPrefix 为全部环境变量覆盖项的前缀。
const EnvPrefix = "PL2TFR_"

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 PL2TFR_；集合外的键忽略；数值解析失败返回错误。
// 支持：INPUTS, IMAGES, TFRECORDS, VALIDATION_TFRECORDS, VALIDATION_PERCENT, LABELMAP,
// LABELMAP_SEED, LABEL_NORMALIZATION, SHUFFLE_SEED, LOG_LEVEL, LOG_DIR,
// COMPONENTS_{READER,DECODER,WRITER}, OPTIONS_{READER,DECODER,WRITER}_JSON
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := kv[eq+1:]
		switch strings.TrimPrefix(key, EnvPrefix) {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "IMAGES":
			over.Images = strings.TrimSpace(val)
		case "TFRECORDS":
			over.TFRecords = strings.TrimSpace(val)
		case "VALIDATION_TFRECORDS":
			over.ValidationTFRecords = strings.TrimSpace(val)
		case "VALIDATION_PERCENT":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("%s: %w", key, err)
			}
			over.ValidationPercent = v
		case "LABELMAP":
			over.LabelMap = strings.TrimSpace(val)
		case "LABELMAP_SEED":
			over.LabelMapSeed = strings.TrimSpace(val)
		case "LABEL_NORMALIZATION":
			over.LabelNormalization = strings.TrimSpace(val)
		case "SHUFFLE_SEED":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return over, fmt.Errorf("%s: %w", key, err)
			}
			over.ShuffleSeed = v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_DECODER":
			over.Components.Decoder = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader = rawOrNil(val)
		case "OPTIONS_DECODER_JSON":
			over.Options.Decoder = rawOrNil(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = rawOrNil(val)
		}
	}
	return over, nil
}

// rawOrNil: 空值视为未设置，避免清空现有配置。
func rawOrNil(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.RawMessage(s)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
