package aquestalk

import (
	"errors"
	"fmt"
)

var (
	// ErrVoiceNotFound 声种标识未知，或对应的库文件不存在。
	ErrVoiceNotFound = errors.New("aquestalk: 找不到声种库")
	// ErrInvalidText 文本无法编码为 Shift_JIS，或包含 NUL。
	ErrInvalidText = errors.New("aquestalk: 音声记号列无法编码")
	// ErrEmptyText 文本为空（或只有空白）。
	ErrEmptyText = errors.New("aquestalk: 音声记号列为空")
	// ErrInvalidSpeed 发话速度超出 50-300 范围。
	ErrInvalidSpeed = errors.New("aquestalk: 发话速度超出范围")
	// ErrUnsupportedPlatform 当前平台无法加载 32 位 Windows DLL。
	ErrUnsupportedPlatform = errors.New("aquestalk: 仅支持 windows/386")
	// ErrVoiceMismatch 严格模式下库文件摘要与请求的声种不一致。
	ErrVoiceMismatch = errors.New("aquestalk: 库文件与声种不一致")
	// ErrEmptyOutput 原生库返回了非空指针，但声明的长度为 0 或负数。
	ErrEmptyOutput = errors.New("aquestalk: 原生库未返回音频数据")
	// ErrClosed 句柄已关闭。
	ErrClosed = errors.New("aquestalk: 句柄已关闭")
)

// errorMessages 是 AquesTalk_Synthe 返回的错误码说明。
var errorMessages = map[int]string{
	100: "その他のエラー",
	101: "メモリ不足",
	102: "音声記号列に未定義の読み記号が指定された",
	103: "韻律データの時間長がマイナスなっている",
	104: "内部エラー(未定義の区切りコード検出）",
	105: "音声記号列に未定義の読み記号が指定された",
	106: "音声記号列のタグの指定が正しくない",
	107: "タグの長さが制限を越えている（または[>]がみつからない）",
	108: "タグ内の値の指定が正しくない",
	109: "WAVE再生ができない（サウンドドライバ関連の問題）",
	110: "WAVE再生ができない（サウンドドライバ関連の問題非同期再生）",
	111: "発声すべきデータがない",
	200: "音声記号列が長すぎる",
	201: "１つのフレーズ中の読み記号が多すぎる",
	202: "音声記号列が長い（内部バッファオーバー1）",
	203: "ヒープメモリ不足",
	204: "音声記号列が長い（内部バッファオーバー1）",
}

// Error 是原生库通过 size 输出参数返回的错误码。
type Error struct {
	Code    int
	Message string
}

// NewError 根据错误码构造 Error，未知错误码使用「不明なエラー」。
func NewError(code int) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "不明なエラー"
	}
	return &Error{Code: code, Message: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("aquestalk: %s(%d)", e.Message, e.Code)
}

// ErrorCode 从 err 链中取出原生错误码。
func ErrorCode(err error) (int, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return 0, false
}
