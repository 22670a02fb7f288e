package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"pl2tfr/internal/labelmap"
	"pl2tfr/internal/pipeline"
	"pl2tfr/internal/split"
	"pl2tfr/pkg/contract"
	"pl2tfr/pkg/registry"
)

// DefaultValidationPercent: 请求了验证集但未给出比例时使用。
const DefaultValidationPercent = 20

// EffectiveValidationPercent 返回实际切分比例：
// 未设置验证集输出时为 0（不切分）；设置了但比例为 0/未设置时取默认值。
func EffectiveValidationPercent(cfg Config) int {
	if strings.TrimSpace(cfg.ValidationTFRecords) == "" {
		return 0
	}
	if cfg.ValidationPercent <= 0 {
		return DefaultValidationPercent
	}
	return cfg.ValidationPercent
}

// Validate 对最小必要边界做静态校验（不访问文件系统）。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if strings.TrimSpace(cfg.TFRecords) == "" {
		return errors.New("config: tfrecords not set")
	}
	if strings.TrimSpace(cfg.LabelMap) == "" {
		return errors.New("config: labelmap not set")
	}
	if cfg.ValidationPercent > 0 && strings.TrimSpace(cfg.ValidationTFRecords) == "" {
		return errors.New("config: validation_percent set but validation_tfrecords not set")
	}
	if cfg.ValidationPercent > 99 {
		return fmt.Errorf("config: %w", contract.ValidateSplitPercent(cfg.ValidationPercent))
	}
	// 输出路径两两不同
	outs := map[string]string{}
	for _, o := range []struct{ key, val string }{
		{"tfrecords", cfg.TFRecords},
		{"validation_tfrecords", cfg.ValidationTFRecords},
		{"labelmap", cfg.LabelMap},
	} {
		v := strings.TrimSpace(o.val)
		if v == "" {
			continue
		}
		v = filepath.Clean(v)
		if prev, ok := outs[v]; ok {
			return fmt.Errorf("config: %s and %s point to the same file %q", prev, o.key, v)
		}
		outs[v] = o.key
	}
	if _, err := labelmap.NormalizeFunc(cfg.LabelNormalization); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, Defaults().Components.Decoder); registry.Decoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// fs 为 nil 时使用操作系统文件系统。
func Assemble(cfg Config, fs afero.Fs) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if img := strings.TrimSpace(cfg.Images); img != "" {
		if ok, err := afero.IsDir(fs, img); err != nil || !ok {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: images %q is not a directory: %w", img, contract.ErrPathInvalid)
		}
	}

	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	dn := effName(cfg.Components.Decoder, d.Components.Decoder)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	r, err := registry.Reader[rn](fs, cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader options: %w", err)
	}
	dec, err := registry.Decoder[dn](cfg.Options.Decoder)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("decoder options: %w", err)
	}
	w, err := registry.Writer[wn](fs, cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer options: %w", err)
	}

	comp := pipeline.Components{Reader: r, Decoder: dec, Writer: w}
	set := pipeline.Settings{
		Inputs:             cloneStrings(cfg.Inputs),
		ImagesDir:          strings.TrimSpace(cfg.Images),
		TrainID:            contract.ArtifactID(cfg.TFRecords),
		ValidationID:       contract.ArtifactID(cfg.ValidationTFRecords),
		LabelMapID:         contract.ArtifactID(cfg.LabelMap),
		ValidationPercent:  EffectiveValidationPercent(cfg),
		LabelMapSeed:       strings.TrimSpace(cfg.LabelMapSeed),
		LabelNormalization: cfg.LabelNormalization,
		Rand:               split.NewRand(cfg.ShuffleSeed),
		Fs:                 fs,
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
