// Package audio 通过 malgo (miniaudio) 播放音频，需要 cgo。
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/iabetor/aquestalk/internal/audio/pcm"
	"github.com/iabetor/aquestalk/internal/logger"
)

// ErrPlayerClosed 表示播放器已经关闭。
var ErrPlayerClosed = errors.New("播放器已关闭")

// Player 使用 malgo (miniaudio) 通过默认扬声器播放 16 位 PCM。
type Player struct {
	ctx    *malgo.AllocatedContext
	mu     sync.Mutex
	closed bool
}

// NewPlayer 创建播放器并初始化 miniaudio 上下文。
func NewPlayer() (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("初始化播放上下文失败: %w", err)
	}
	return &Player{ctx: ctx}, nil
}

// PlayPCM 播放交错存放的 16 位小端 PCM。
// 设备按 sampleRate 和 channels 打开，阻塞直到播放完成或 ctx 被取消。
func (p *Player) PlayPCM(ctx context.Context, data []byte, sampleRate, channels int) error {
	if len(data) == 0 {
		return nil
	}
	if channels <= 0 {
		channels = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	p.mu.Unlock()

	feeder := newPCMFeeder(data, channels)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = 256
	deviceConfig.Periods = 2

	callbacks := malgo.DeviceCallbacks{
		Data: func(outputSamples, _ []byte, frameCount uint32) {
			feeder.fill(outputSamples, frameCount)
		},
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("初始化播放设备失败: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("启动播放设备失败: %w", err)
	}
	defer device.Stop()

	select {
	case <-ctx.Done():
		logger.Debugf("[audio] 播放被取消")
		return ctx.Err()
	case <-feeder.done:
		logger.Debugf("[audio] 播放完成 (%d 字节, %d Hz)", len(data), sampleRate)
		return nil
	}
}

// PlayFloat32 播放单声道 float32 样本。
func (p *Player) PlayFloat32(ctx context.Context, samples []float32, sampleRate int) error {
	return p.PlayPCM(ctx, pcm.Float32ToBytes(samples), sampleRate, 1)
}

// Close 释放 miniaudio 上下文，可重复调用。
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}

// pcmFeeder 在设备回调中按帧输出 PCM，数据耗尽后填充静音并发出完成信号。
type pcmFeeder struct {
	pcm      []byte
	pos      int
	channels int
	done     chan struct{}
	once     sync.Once
}

func newPCMFeeder(data []byte, channels int) *pcmFeeder {
	return &pcmFeeder{pcm: data, channels: channels, done: make(chan struct{})}
}

func (f *pcmFeeder) fill(out []byte, frameCount uint32) {
	need := int(frameCount) * f.channels * 2
	if need > len(out) {
		need = len(out)
	}

	n := copy(out[:need], f.pcm[f.pos:])
	f.pos += n
	for i := n; i < need; i++ {
		out[i] = 0
	}

	if f.pos >= len(f.pcm) {
		f.once.Do(func() { close(f.done) })
	}
}
