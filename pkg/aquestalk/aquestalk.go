// Package aquestalk 绑定 AquesTalk（旧许可证版）语音合成库。
//
// 每个声种是一个独立的 32 位 Windows DLL，目录布局为 <libDir>/<voice>/AquesTalk.dll。
// 典型用法：
//
//	at, err := aquestalk.Load(aquestalk.VoiceF1, aquestalk.WithLibDir("voices"))
//	if err != nil { ... }
//	defer at.Close()
//	w, err := at.Synthe("ゆっくりしていってね", 100)
package aquestalk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/iabetor/aquestalk/internal/logger"
	"github.com/iabetor/aquestalk/pkg/wave"
)

const (
	// LibraryName 是每个声种目录下的库文件名。
	LibraryName = "AquesTalk.dll"
	// DefaultLibDir 是未指定 WithLibDir 时的声种根目录。
	DefaultLibDir = "voices"

	MinSpeed     = 50
	MaxSpeed     = 300
	DefaultSpeed = 100
)

type options struct {
	libDir string
	strict bool
	opener Opener
}

// Option 配置 Load / LoadFromPath。
type Option func(*options)

// WithLibDir 指定声种根目录。
func WithLibDir(dir string) Option {
	return func(o *options) { o.libDir = dir }
}

// WithStrictVoice 要求库文件的 MD5 与请求的声种一致，否则返回 ErrVoiceMismatch。
// 默认行为是采用识别出的声种并记录警告。
func WithStrictVoice() Option {
	return func(o *options) { o.strict = true }
}

// WithOpener 替换打开库文件的方式，默认为 OpenNative。
func WithOpener(open Opener) Option {
	return func(o *options) { o.opener = open }
}

func buildOptions(opts []Option) options {
	o := options{libDir: DefaultLibDir, opener: OpenNative}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LibraryPath 返回声种库文件的路径。
func LibraryPath(libDir string, voice VoiceType) string {
	return filepath.Join(libDir, string(voice), LibraryName)
}

// AquesTalk 是绑定到某个声种库的句柄。对同一句柄的调用会被串行化。
type AquesTalk struct {
	mu     sync.Mutex
	lib    Binding
	voice  VoiceType
	path   string
	closed bool
}

// Load 加载指定声种的库。声种未知或库文件不存在时返回 ErrVoiceNotFound。
func Load(voice VoiceType, opts ...Option) (*AquesTalk, error) {
	if !voice.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrVoiceNotFound, voice)
	}
	o := buildOptions(opts)

	path := LibraryPath(o.libDir, voice)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrVoiceNotFound, path)
		}
		return nil, fmt.Errorf("检查库文件 %s 失败: %w", path, err)
	}
	return loadFromPath(path, voice, o)
}

// LoadFromPath 从任意路径加载库，voice 为调用方认为的声种。
func LoadFromPath(path string, voice VoiceType, opts ...Option) (*AquesTalk, error) {
	return loadFromPath(path, voice, buildOptions(opts))
}

func loadFromPath(path string, voice VoiceType, o options) (*AquesTalk, error) {
	id, err := Identify(path)
	if err != nil {
		return nil, err
	}

	switch {
	case !id.Known:
		logger.Debugf("[aquestalk] 未识别的库文件 %s (md5=%s)，按声种 %s 使用", path, id.Digest, voice)
	case id.Voice != voice && o.strict:
		return nil, fmt.Errorf("%w: %s 是 %s，不是 %s", ErrVoiceMismatch, path, id.Voice, voice)
	case id.Voice != voice:
		logger.Warnf("[aquestalk] 库文件 %s 实际声种为 %s（请求 %s），已采用实际声种", path, id.Voice, voice)
		voice = id.Voice
	}

	if !voice.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrVoiceNotFound, voice)
	}

	lib, err := o.opener(path)
	if err != nil {
		return nil, err
	}

	logger.Infof("[aquestalk] 已加载声种 %s: %s", voice, path)
	return &AquesTalk{lib: lib, voice: voice, path: path}, nil
}

// VoiceType 返回句柄的声种。
func (a *AquesTalk) VoiceType() VoiceType { return a.voice }

// Path 返回库文件路径。
func (a *AquesTalk) Path() string { return a.path }

// Synthe 把音声记号列合成为波形。speed 为发话速度 [%]，0 表示默认值 100。
func (a *AquesTalk) Synthe(koe string, speed int) (*wave.Wave, error) {
	raw, err := a.SyntheRaw(koe, speed)
	if err != nil {
		return nil, err
	}
	w, err := wave.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("[aquestalk] 解析 %s 输出失败: %w", a.voice, err)
	}
	return w, nil
}

// SyntheRaw 与 Synthe 相同，但直接返回库输出的 WAV 字节。
func (a *AquesTalk) SyntheRaw(koe string, speed int) ([]byte, error) {
	speed, err := NormalizeSpeed(speed)
	if err != nil {
		return nil, err
	}
	encoded, err := encodeKoe(koe)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}

	wav, err := a.lib.Synthe(encoded, speed)
	if err != nil {
		logger.Debugf("[aquestalk] %s 合成失败: %v", a.voice, err)
		return nil, err
	}
	if len(wav) == 0 {
		return nil, ErrEmptyOutput
	}
	logger.Debugf("[aquestalk] %s 合成 %d 字符 -> %d 字节", a.voice, len([]rune(koe)), len(wav))
	return wav, nil
}

// Close 释放库，可重复调用。
func (a *AquesTalk) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.lib.Close()
}

// NormalizeSpeed 校验发话速度，0 映射为 DefaultSpeed。
func NormalizeSpeed(speed int) (int, error) {
	if speed == 0 {
		return DefaultSpeed, nil
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return 0, fmt.Errorf("%w: %d（应在 %d-%d 之间）", ErrInvalidSpeed, speed, MinSpeed, MaxSpeed)
	}
	return speed, nil
}
