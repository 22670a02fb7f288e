package parrotlabel

import (
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"pl2tfr/pkg/contract"
)

// Options: 解码器选项。
type Options struct {
	// MaxBytes: 单个标注文件的字节上限；<=0 取默认 256MiB。
	MaxBytes int64 `json:"max_bytes"`
}

const defaultMaxBytes = 256 << 20

type decoder struct {
	maxBytes int64
}

// New 创建 ParrotLabel 解码器。
func New(opts *Options) contract.Decoder {
	d := &decoder{maxBytes: defaultMaxBytes}
	if opts != nil && opts.MaxBytes > 0 {
		d.maxBytes = opts.MaxBytes
	}
	return d
}

// Decode 读取整份 JSON：先用 gjson 做结构预检（合法 JSON、魔数、labels），再完整解码。
// 预检顺序与错误区分：非法 JSON → 缺少魔数 → 魔数不符 → 缺少 labels。
func (d *decoder) Decode(ctx context.Context, fileID contract.FileID, r io.Reader) (*contract.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", fileID, err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("file %q exceeds %d bytes: %w", fileID, d.maxBytes, contract.ErrDocumentInvalid)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse file %q as valid JSON: %w", fileID, contract.ErrDocumentInvalid)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("file %q: top level is not an object: %w", fileID, contract.ErrDocumentInvalid)
	}
	var magic *string
	if m := root.Get("file_format.magic"); m.Exists() {
		v := m.Raw
		if m.Type == gjson.String {
			v = m.Str
		}
		magic = &v
	}
	if err := contract.ValidateHeader(magic, root.Get("labels").Exists()); err != nil {
		return nil, fmt.Errorf("file %q: %w", fileID, err)
	}

	var doc contract.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %q: %v: %w", fileID, err, contract.ErrDocumentInvalid)
	}
	return &doc, nil
}
