package labelmap

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"pl2tfr/pkg/contract"
)

// NormalizeFunc 返回标签文本归一化函数："" 表示不处理，"nfc"/"nfkc" 为 Unicode 归一化。
func NormalizeFunc(name string) (func(string) string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return func(s string) string { return s }, nil
	case "nfc":
		return norm.NFC.String, nil
	case "nfkc":
		return norm.NFKC.String, nil
	default:
		return nil, fmt.Errorf("%w: unknown label normalization %q", contract.ErrInvalidInput, name)
	}
}
