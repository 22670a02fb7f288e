package registry

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"

	"pl2tfr/pkg/contract"
	dpl "pl2tfr/plugins/decoder/parrotlabel"
	rfs "pl2tfr/plugins/reader/filesystem"
	wfs "pl2tfr/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收文件系统与原样 JSON Options。
type NewReader func(fs afero.Fs, raw json.RawMessage) (contract.Reader, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewWriter 工厂签名：接收文件系统与原样 JSON Options。
type NewWriter func(fs afero.Fs, raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(fs afero.Fs, raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(fs, &opts), nil
	},
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// parrotlabel: ParrotLabel 原生 JSON（魔数校验 + labels）
	"parrotlabel": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts dpl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dpl.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（默认原子替换）
	"fs": func(fs afero.Fs, raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(fs, &opts)
	},
}
