// Package mock 提供 aquestalk.Binding 的测试替身。
//
// Binding 根据编码后的文本和速度生成确定的 8kHz 单声道 WAV，
// 不需要原生库也能断言输出逐字节一致：
//
//	lib := &mock.Binding{}
//	at, _ := aquestalk.LoadFromPath(path, aquestalk.VoiceF1, aquestalk.WithOpener(lib.Opener()))
package mock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/iabetor/aquestalk/pkg/aquestalk"
	"github.com/iabetor/aquestalk/pkg/wave"
)

// SyntheCall 记录一次 Synthe 调用。
type SyntheCall struct {
	Koe   []byte
	Speed int
}

// Binding 是 aquestalk.Binding 的模拟实现。
type Binding struct {
	mu sync.Mutex

	// ErrCode 非 0 时 Synthe 返回 aquestalk.NewError(ErrCode)。
	ErrCode int
	// OpenErr 非空时由 Opener 返回。
	OpenErr error
	// Raw 非空时 Synthe 原样返回它，而不是生成的 WAV。
	Raw []byte

	SyntheCalls []SyntheCall
	OpenedPaths []string
	CloseCount  int
}

// Opener 返回一个记录路径并交出 b 的 aquestalk.Opener。
func (b *Binding) Opener() aquestalk.Opener {
	return func(path string) (aquestalk.Binding, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.OpenErr != nil {
			return nil, b.OpenErr
		}
		b.OpenedPaths = append(b.OpenedPaths, path)
		return b, nil
	}
}

// Synthe 实现 aquestalk.Binding。
func (b *Binding) Synthe(koe []byte, speed int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.SyntheCalls = append(b.SyntheCalls, SyntheCall{Koe: append([]byte(nil), koe...), Speed: speed})
	if b.ErrCode != 0 {
		return nil, aquestalk.NewError(b.ErrCode)
	}
	if b.Raw != nil {
		return append([]byte(nil), b.Raw...), nil
	}
	return Render(koe, speed), nil
}

// Close 实现 aquestalk.Binding。
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCount++
	return nil
}

// Calls 返回已记录的 Synthe 调用的副本。
func (b *Binding) Calls() []SyntheCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SyntheCall, len(b.SyntheCalls))
	copy(out, b.SyntheCalls)
	return out
}

// Render 生成 Binding 对 koe 和 speed 返回的 WAV。
// 每个输入字节展开为一段样本，速度越快段越短。
func Render(koe []byte, speed int) []byte {
	if speed <= 0 {
		speed = aquestalk.DefaultSpeed
	}
	run := 8000 / speed
	if run < 1 {
		run = 1
	}
	pcm := make([]byte, 0, len(koe)*run*2)
	for _, c := range koe {
		s := int16(int(c)*128 - 16384)
		for i := 0; i < run; i++ {
			pcm = append(pcm, byte(s), byte(s>>8))
		}
	}
	return wave.New(wave.AquesTalkFormat, pcm).Bytes()
}

// WriteLibraries 在 libDir 下为各声种创建占位的 AquesTalk.dll。
// 每个文件内容不同，摘要不在 aquestalk.Identify 的已知表中。
func WriteLibraries(libDir string, voices ...aquestalk.VoiceType) error {
	for _, v := range voices {
		path := aquestalk.LibraryPath(libDir, v)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(fmt.Sprintf("MZ fake library for %s", v)), 0644); err != nil {
			return err
		}
	}
	return nil
}
