// Package synth 在 aquestalk 绑定之上提供带缓存和指标的合成服务，
// 供命令行工具、HTTP 服务和 tts 引擎共用。
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iabetor/aquestalk/internal/cache"
	"github.com/iabetor/aquestalk/internal/logger"
	"github.com/iabetor/aquestalk/internal/metrics"
	"github.com/iabetor/aquestalk/pkg/aquestalk"
	"github.com/iabetor/aquestalk/pkg/wave"
)

// Request 是一次合成请求。Voice 为空时使用默认声种，Speed 为 0 时使用默认速度。
type Request struct {
	Voice string
	Speed int
	Text  string
}

// Result 是合成结果。
type Result struct {
	Voice  aquestalk.VoiceType
	Speed  int
	Wave   *wave.Wave
	Raw    []byte // 库输出的原始 WAV 字节
	Cached bool
}

// VoiceInfo 描述一个声种在本机的状态。
type VoiceInfo struct {
	Voice     aquestalk.VoiceType `json:"voice"`
	Path      string              `json:"path"`
	Installed bool                `json:"installed"`
	Loaded    bool                `json:"loaded"`
}

// Options 配置 Service。Cache 和 Metrics 可以为 nil。
type Options struct {
	LibDir       string
	DefaultVoice aquestalk.VoiceType
	DefaultSpeed int
	Cache        *cache.Cache
	Metrics      *metrics.Metrics
}

// Service 是合成服务。
type Service struct {
	pool    *Pool
	opts    Options
	cache   *cache.Cache
	metrics *metrics.Metrics
}

// NewService 创建合成服务。loadOpts 透传给 aquestalk.Load，声种目录取自 opts.LibDir。
func NewService(opts Options, loadOpts ...aquestalk.Option) (*Service, error) {
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = aquestalk.VoiceF1
	}
	if !opts.DefaultVoice.Valid() {
		return nil, fmt.Errorf("%w: 默认声种 %q", aquestalk.ErrVoiceNotFound, opts.DefaultVoice)
	}
	speed, err := aquestalk.NormalizeSpeed(opts.DefaultSpeed)
	if err != nil {
		return nil, err
	}
	opts.DefaultSpeed = speed
	if opts.LibDir == "" {
		opts.LibDir = aquestalk.DefaultLibDir
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(nil, 0)
	}

	pool := NewPool(append([]aquestalk.Option{aquestalk.WithLibDir(opts.LibDir)}, loadOpts...)...)
	s := &Service{pool: pool, opts: opts, cache: opts.Cache, metrics: opts.Metrics}
	if s.metrics != nil {
		pool.onChange = s.metrics.SetLoadedVoices
	}
	return s, nil
}

// Pool 返回服务使用的声种池。
func (s *Service) Pool() *Pool { return s.pool }

// DefaultVoice 返回默认声种。
func (s *Service) DefaultVoice() aquestalk.VoiceType { return s.opts.DefaultVoice }

// DefaultSpeed 返回默认发话速度。
func (s *Service) DefaultSpeed() int { return s.opts.DefaultSpeed }

// Synthesize 合成文本。原生调用本身无法取消，ctx 只在调用前检查。
func (s *Service) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	voice := s.opts.DefaultVoice
	if req.Voice != "" {
		v, err := aquestalk.ParseVoiceType(req.Voice)
		if err != nil {
			return nil, err
		}
		voice = v
	}
	speed := req.Speed
	if speed == 0 {
		speed = s.opts.DefaultSpeed
	}
	speed, err := aquestalk.NormalizeSpeed(speed)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, aquestalk.ErrEmptyText
	}

	if res, ok := s.lookup(voice, speed, req.Text); ok {
		return res, nil
	}

	h, err := s.pool.Get(voice)
	if err != nil {
		s.record(voice, "error", 0, nil)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := h.SyntheRaw(req.Text, speed)
	elapsed := time.Since(start)
	if err != nil {
		s.record(voice, "error", elapsed, nil)
		return nil, err
	}
	w, err := wave.Parse(raw)
	if err != nil {
		s.record(voice, "error", elapsed, nil)
		return nil, fmt.Errorf("[synth] 解析 %s 输出失败: %w", voice, err)
	}

	if err := s.cache.Put(string(voice), speed, req.Text, raw); err != nil {
		logger.Warnf("[synth] 写入缓存失败: %v", err)
	}
	s.record(voice, "ok", elapsed, w)
	logger.Debugf("[synth] %s@%d 合成 %d 字符，%v 音频，耗时 %v",
		voice, speed, len([]rune(req.Text)), w.Duration(), elapsed)

	return &Result{Voice: voice, Speed: speed, Wave: w, Raw: raw}, nil
}

func (s *Service) lookup(voice aquestalk.VoiceType, speed int, text string) (*Result, bool) {
	if !s.cache.Enabled() {
		return nil, false
	}
	raw, ok, err := s.cache.Get(string(voice), speed, text)
	if err != nil {
		logger.Warnf("[synth] 查询缓存失败: %v", err)
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ok)
	}
	if !ok {
		return nil, false
	}

	w, err := wave.Parse(raw)
	if err != nil {
		// 缓存内容损坏时丢弃并重新合成
		logger.Warnf("[synth] 缓存数据损坏，已删除: %v", err)
		s.cache.Delete(string(voice), speed, text)
		return nil, false
	}
	s.record(voice, "cached", 0, w)
	return &Result{Voice: voice, Speed: speed, Wave: w, Raw: raw, Cached: true}, true
}

func (s *Service) record(voice aquestalk.VoiceType, status string, elapsed time.Duration, w *wave.Wave) {
	if s.metrics == nil {
		return
	}
	var audio time.Duration
	if w != nil {
		audio = w.Duration()
	}
	s.metrics.RecordSynth(string(voice), status, elapsed, audio)
}

// Voices 列出所有声种在本机的安装和加载状态。
func (s *Service) Voices() []VoiceInfo {
	loaded := make(map[aquestalk.VoiceType]bool)
	for _, v := range s.pool.Loaded() {
		loaded[v] = true
	}

	var out []VoiceInfo
	for _, v := range aquestalk.VoiceTypes() {
		path := aquestalk.LibraryPath(s.opts.LibDir, v)
		_, err := os.Stat(path)
		out = append(out, VoiceInfo{
			Voice:     v,
			Path:      path,
			Installed: err == nil,
			Loaded:    loaded[v],
		})
	}
	return out
}

// Cache 返回服务使用的缓存。
func (s *Service) Cache() *cache.Cache { return s.cache }

// Close 关闭声种池。
func (s *Service) Close() error {
	return s.pool.Close()
}

// IsClientError 报告 err 是否由请求内容引起（声种、文本或速度不合法）。
func IsClientError(err error) bool {
	return errors.Is(err, aquestalk.ErrInvalidText) ||
		errors.Is(err, aquestalk.ErrEmptyText) ||
		errors.Is(err, aquestalk.ErrInvalidSpeed)
}
