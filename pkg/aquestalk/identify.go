package aquestalk

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// knownDigests 是已发布的各声种 AquesTalk.dll 的 MD5。
// 同一声种存在多个版本，f1 有三个。
var knownDigests = map[string]VoiceType{
	"d09ba89e04fc6a848377cb695b7c227a": VoiceF1,
	"23bd3bbfe89e7bb0f92e5e3ed841cec4": VoiceF1,
	"f97a031451220238b21ada12dd2ba6b7": VoiceF1,
	"8bfacc9e1c9d6f1a1f6803739a9ed7d6": VoiceF2,
	"950cb2c4a9493ff3af7906fdb02b523b": VoiceM1,
	"d4491b6ff6aab7e6f3a19dad369d0432": VoiceM2,
	"1a69c64175f46271f9f491890b265762": VoiceR1,
	"cd431c8c86c1566e73cbbb166047b8a9": VoiceDVD,
	"54f15b467cbf215884d29a0ad39a9df3": VoiceJGR,
	"e352165e9da54e255c3c25a33cb85aaa": VoiceIMD1,
}

// Identification 是库文件的识别结果。
type Identification struct {
	Path   string
	Digest string
	Voice  VoiceType // Known 为 false 时为空
	Known  bool
}

// Identify 计算库文件的 MD5 并与已知版本比对。
// 文件不存在时返回包装了 ErrVoiceNotFound 的错误。
func Identify(path string) (Identification, error) {
	digest, err := fileMD5(path)
	if err != nil {
		return Identification{}, err
	}
	voice, ok := knownDigests[digest]
	return Identification{Path: path, Digest: digest, Voice: voice, Known: ok}, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrVoiceNotFound, path)
		}
		return "", fmt.Errorf("打开库文件失败: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("读取库文件 %s 失败: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
