package tts

import (
	"context"
	"fmt"

	"github.com/iabetor/aquestalk/internal/logger"
	"github.com/iabetor/aquestalk/internal/synth"
)

// AquesTalkEngine 通过合成服务调用 AquesTalk，实现 Engine 接口。
// 输出固定为 8kHz 单声道。
type AquesTalkEngine struct {
	svc   *synth.Service
	voice string
	speed int
}

// NewAquesTalkEngine 创建引擎。voice 为空或 speed 为 0 时使用服务的默认值。
func NewAquesTalkEngine(svc *synth.Service, voice string, speed int) *AquesTalkEngine {
	return &AquesTalkEngine{svc: svc, voice: voice, speed: speed}
}

// Synthesize 将音声记号列合成为单声道 float32 音频样本。
func (e *AquesTalkEngine) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	logger.Debugf("[tts] aquestalk: 正在合成 %d 个字符，声种=%s", len([]rune(text)), e.voice)

	res, err := e.svc.Synthesize(ctx, synth.Request{Voice: e.voice, Speed: e.speed, Text: text})
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] aquestalk 合成失败: %w", err)
	}

	samples, err := res.Wave.Samples()
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] aquestalk 转换样本失败: %w", err)
	}
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("[tts] aquestalk: 未生成音频数据")
	}

	logger.Debugf("[tts] aquestalk: 生成 %d 个单声道样本 (cached=%v)", len(samples), res.Cached)
	return samples, int(res.Wave.Format.SampleRate), nil
}
