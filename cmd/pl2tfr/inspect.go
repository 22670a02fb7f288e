package main

import (
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"

	"pl2tfr/internal/encoder"
	"pl2tfr/internal/tfexample"
	"pl2tfr/internal/tfrecord"
	"pl2tfr/pkg/contract"
)

// recordSummary: --inspect 每条记录输出一行。
type recordSummary struct {
	Index        int       `json:"index"`
	Filename     string    `json:"filename"`
	Format       string    `json:"format"`
	Width        int64     `json:"width"`
	Height       int64     `json:"height"`
	EncodedBytes int       `json:"encoded_bytes"`
	Boxes        int       `json:"boxes"`
	Labels       []string  `json:"labels"`
	LabelIDs     []int64   `json:"label_ids"`
	XMin         []float32 `json:"xmin"`
	XMax         []float32 `json:"xmax"`
	YMin         []float32 `json:"ymin"`
	YMax         []float32 `json:"ymax"`
}

// inspect 顺序读取 TFRecord 文件，校验帧与 Example，逐条写出 JSON 行。
func inspect(fs afero.Fs, w io.Writer, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := tfrecord.NewReader(f)
	enc := json.NewEncoder(w)
	for {
		data, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		idx := r.Index() - 1
		ex, err := tfexample.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("record %d: %w", idx, err)
		}
		s := summarize(ex)
		s.Index = idx
		if s.Boxes != len(s.Labels) || s.Boxes != len(s.LabelIDs) || s.Boxes != len(s.XMax) ||
			s.Boxes != len(s.YMin) || s.Boxes != len(s.YMax) {
			return fmt.Errorf("%w: record %d (%s): per-box arrays differ in length", contract.ErrInvariantViolation, s.Index, s.Filename)
		}
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
}

func summarize(ex *tfexample.Example) recordSummary {
	f := ex.Features
	s := recordSummary{
		Filename: firstString(f[encoder.KeyFilename]),
		Format:   firstString(f[encoder.KeyFormat]),
		Width:    firstInt(f[encoder.KeyWidth]),
		Height:   firstInt(f[encoder.KeyHeight]),
		LabelIDs: f[encoder.KeyClassID].Int64s,
		XMin:     f[encoder.KeyXMin].Floats,
		XMax:     f[encoder.KeyXMax].Floats,
		YMin:     f[encoder.KeyYMin].Floats,
		YMax:     f[encoder.KeyYMax].Floats,
	}
	if b := f[encoder.KeyEncoded].Bytes; len(b) > 0 {
		s.EncodedBytes = len(b[0])
	}
	for _, t := range f[encoder.KeyClassText].Bytes {
		s.Labels = append(s.Labels, string(t))
	}
	s.Boxes = len(s.XMin)
	return s
}

func firstString(f tfexample.Feature) string {
	if len(f.Bytes) == 0 {
		return ""
	}
	return string(f.Bytes[0])
}

func firstInt(f tfexample.Feature) int64 {
	if len(f.Int64s) == 0 {
		return 0
	}
	return f.Int64s[0]
}
