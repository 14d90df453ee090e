package synth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/iabetor/aquestalk/internal/logger"
	"github.com/iabetor/aquestalk/pkg/aquestalk"
)

// ErrPoolClosed 表示声种池已关闭。
var ErrPoolClosed = errors.New("声种池已关闭")

// Pool 按需加载声种库，每个声种只持有一个句柄。
// 并发的首次加载通过 singleflight 合并为一次。
type Pool struct {
	opts []aquestalk.Option

	mu      sync.RWMutex
	handles map[aquestalk.VoiceType]*aquestalk.AquesTalk
	closed  bool

	group    singleflight.Group
	onChange func(loaded int)
}

// NewPool 创建声种池，opts 透传给 aquestalk.Load。
func NewPool(opts ...aquestalk.Option) *Pool {
	return &Pool{
		opts:    opts,
		handles: make(map[aquestalk.VoiceType]*aquestalk.AquesTalk),
	}
}

// Get 返回声种的句柄，第一次调用时加载。
func (p *Pool) Get(voice aquestalk.VoiceType) (*aquestalk.AquesTalk, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	h, ok := p.handles[voice]
	p.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := p.group.Do(string(voice), func() (interface{}, error) {
		p.mu.RLock()
		if h, ok := p.handles[voice]; ok {
			p.mu.RUnlock()
			return h, nil
		}
		p.mu.RUnlock()

		h, err := aquestalk.Load(voice, p.opts...)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			h.Close()
			return nil, ErrPoolClosed
		}
		p.handles[voice] = h
		n := len(p.handles)
		p.mu.Unlock()

		if p.onChange != nil {
			p.onChange(n)
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*aquestalk.AquesTalk), nil
}

// Preload 依次加载给定声种，遇到第一个错误即返回。
func (p *Pool) Preload(voices ...aquestalk.VoiceType) error {
	for _, v := range voices {
		if _, err := p.Get(v); err != nil {
			return fmt.Errorf("预加载声种 %s 失败: %w", v, err)
		}
	}
	return nil
}

// Loaded 返回已加载的声种（按名称排序）。
func (p *Pool) Loaded() []aquestalk.VoiceType {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]aquestalk.VoiceType, 0, len(p.handles))
	for v := range p.handles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close 关闭所有句柄，之后 Get 返回 ErrPoolClosed。
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for v, h := range p.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭声种 %s 失败: %w", v, err))
		}
	}
	logger.Infof("[synth] 已释放 %d 个声种库", len(p.handles))
	p.handles = map[aquestalk.VoiceType]*aquestalk.AquesTalk{}
	return errors.Join(errs...)
}
