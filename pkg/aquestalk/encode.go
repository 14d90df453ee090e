package aquestalk

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// encodeKoe 把音声记号列编码为以 NUL 结尾的 Shift_JIS 字节。
func encodeKoe(koe string) ([]byte, error) {
	if strings.TrimSpace(koe) == "" {
		return nil, ErrEmptyText
	}
	if !utf8.ValidString(koe) {
		return nil, fmt.Errorf("%w: 不是合法的 UTF-8", ErrInvalidText)
	}
	if strings.IndexByte(koe, 0) >= 0 {
		return nil, fmt.Errorf("%w: 包含 NUL 字符", ErrInvalidText)
	}

	// Shift_JIS 编码器遇到无法表示的字符时返回错误，而不是替换
	encoded, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(koe))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	if bytes.IndexByte(encoded, 0) >= 0 {
		return nil, fmt.Errorf("%w: 编码结果包含 NUL", ErrInvalidText)
	}
	return append(encoded, 0), nil
}
