// Package wave 解析和生成 RIFF/WAVE 容器。
//
// AquesTalk 返回的音频是完整的 WAV 文件字节，本包负责把它解释为
// 带有格式信息的波形对象，并能把波形重新编码为规范的 44 字节头 WAV。
package wave

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/iabetor/aquestalk/internal/audio/pcm"
)

// FormatPCM 是 fmt 块中线性 PCM 的格式码。
const FormatPCM = 1

// canonicalHeaderSize 是只含 fmt 和 data 块的 WAV 头长度。
const canonicalHeaderSize = 44

var (
	ErrNotWave   = errors.New("wave: 不是 RIFF/WAVE 数据")
	ErrNoFormat  = errors.New("wave: 缺少 fmt 块")
	ErrNoData    = errors.New("wave: 缺少 data 块")
	ErrTruncated = errors.New("wave: 数据被截断")
)

// Format 对应 WAV 的 fmt 块。
type Format struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// AquesTalkFormat 是 AquesTalk 各声种固定输出的格式：8kHz、单声道、16 位 PCM。
var AquesTalkFormat = NewPCMFormat(8000, 1, 16)

// NewPCMFormat 根据采样率、声道数和位深构造 PCM 格式，自动计算 ByteRate 和 BlockAlign。
func NewPCMFormat(sampleRate uint32, channels, bitsPerSample uint16) Format {
	blockAlign := channels * (bitsPerSample / 8)
	return Format{
		AudioFormat:   FormatPCM,
		Channels:      channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
	}
}

// Wave 是解析后的波形容器。
type Wave struct {
	Format Format
	Data   []byte // data 块中的原始采样
}

// New 用给定格式和 PCM 数据构造波形。
func New(format Format, data []byte) *Wave {
	return &Wave{Format: format, Data: data}
}

// Parse 解析 RIFF/WAVE 字节。未知块会被跳过，奇数长度的块按规范补齐一个字节。
func Parse(b []byte) (*Wave, error) {
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return nil, ErrNotWave
	}

	var (
		w         Wave
		hasFormat bool
		hasData   bool
	)
	pos := 12
	for len(b)-pos >= 8 {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		// 以剩余长度比较，避免 32 位平台上 body+size 溢出
		if size < 0 || size > len(b)-body {
			// 部分编码器在流式输出时把 data 长度写成 0 或超长，取剩余部分
			if id == "data" {
				size = len(b) - body
			} else {
				return nil, fmt.Errorf("%w: %s 块声明 %d 字节", ErrTruncated, id, size)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt 块只有 %d 字节", ErrTruncated, size)
			}
			f := b[body : body+size]
			w.Format = Format{
				AudioFormat:   binary.LittleEndian.Uint16(f[0:2]),
				Channels:      binary.LittleEndian.Uint16(f[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(f[4:8]),
				ByteRate:      binary.LittleEndian.Uint32(f[8:12]),
				BlockAlign:    binary.LittleEndian.Uint16(f[12:14]),
				BitsPerSample: binary.LittleEndian.Uint16(f[14:16]),
			}
			hasFormat = true
		case "data":
			w.Data = append([]byte(nil), b[body:body+size]...)
			hasData = true
		}

		pos = body + size
		if size%2 == 1 && pos < len(b) {
			pos++
		}
	}

	if !hasFormat {
		return nil, ErrNoFormat
	}
	if !hasData {
		return nil, ErrNoData
	}
	return &w, nil
}

// Bytes 将波形编码为规范的 WAV 字节（44 字节头 + data）。
func (w *Wave) Bytes() []byte {
	buf := make([]byte, canonicalHeaderSize, canonicalHeaderSize+len(w.Data)+1)
	copy(buf[0:4], "RIFF")
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], w.Format.AudioFormat)
	binary.LittleEndian.PutUint16(buf[22:24], w.Format.Channels)
	binary.LittleEndian.PutUint32(buf[24:28], w.Format.SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], w.Format.ByteRate)
	binary.LittleEndian.PutUint16(buf[32:34], w.Format.BlockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], w.Format.BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(w.Data)))
	buf = append(buf, w.Data...)
	if len(w.Data)%2 == 1 {
		buf = append(buf, 0)
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))
	return buf
}

// NumFrames 返回采样帧数（每帧包含所有声道的一个采样）。
func (w *Wave) NumFrames() int {
	if w.Format.BlockAlign == 0 {
		return 0
	}
	return len(w.Data) / int(w.Format.BlockAlign)
}

// Duration 返回音频时长。
func (w *Wave) Duration() time.Duration {
	if w.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(w.NumFrames()) * time.Second / time.Duration(w.Format.SampleRate)
}

// Samples 把 16 位 PCM 转换为单声道 float32 样本，多声道取平均。
func (w *Wave) Samples() ([]float32, error) {
	if w.Format.AudioFormat != FormatPCM || w.Format.BitsPerSample != 16 {
		return nil, fmt.Errorf("wave: 仅支持 16 位 PCM，实际格式=%d 位深=%d",
			w.Format.AudioFormat, w.Format.BitsPerSample)
	}
	samples := pcm.BytesToFloat32(w.Data)
	channels := int(w.Format.Channels)
	if channels <= 1 {
		return samples, nil
	}
	return pcm.DownmixFloat32(samples, channels), nil
}
