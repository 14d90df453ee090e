// Package server 通过 HTTP 暴露合成服务。
//
// 路由：
//
//	GET  /healthz         存活检查
//	GET  /v1/voices       声种列表及加载状态
//	POST /v1/synthesize   {"voice","speed","text"} → audio/wav
//	GET  /metrics         Prometheus 指标
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/iabetor/aquestalk/internal/logger"
	"github.com/iabetor/aquestalk/internal/metrics"
	"github.com/iabetor/aquestalk/internal/synth"
	"github.com/iabetor/aquestalk/pkg/aquestalk"
)

const (
	defaultMaxTextBytes = 8192
	shutdownTimeout     = 5 * time.Second
)

// ErrTextTooLong 表示请求文本超过 MaxTextBytes。
var ErrTextTooLong = errors.New("文本过长")

// Config HTTP 服务配置。
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxTextBytes int
}

// Server 是合成服务的 HTTP 前端。
type Server struct {
	cfg     Config
	svc     *synth.Service
	metrics *metrics.Metrics
	handler http.Handler
}

// New 创建 HTTP 服务。m 可以为 nil，此时不暴露 /metrics。
func New(cfg Config, svc *synth.Service, m *metrics.Metrics) *Server {
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxTextBytes
	}
	s := &Server{cfg: cfg, svc: svc, metrics: m}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	s.handler = s.middleware(mux)
	return s
}

// Handler 返回带请求 ID、访问日志和指标的根处理器。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run 监听 cfg.Addr 并提供服务，直到 ctx 取消后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("[server] 监听 %s 失败: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上提供服务，直到 ctx 取消。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[server] 正在监听 http://%s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[server] 正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("[server] 关闭失败: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"loaded": s.svc.Pool().Loaded(),
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.svc.DefaultVoice(),
		"speed":   s.svc.DefaultSpeed(),
		"voices":  s.svc.Voices(),
	})
}

type synthesizeRequest struct {
	Voice string `json:"voice"`
	Speed int    `json:"speed"`
	Text  string `json:"text"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	// 预留 JSON 转义的余量，文本长度在解码后再精确检查
	body := http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxTextBytes)*6+1024)
	var req synthesizeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, ErrTextTooLong)
			return
		}
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(req.Text) > s.cfg.MaxTextBytes {
		writeError(w, r, fmt.Errorf("%w: %d > %d 字节", ErrTextTooLong, len(req.Text), s.cfg.MaxTextBytes))
		return
	}

	res, err := s.svc.Synthesize(r.Context(), synth.Request{
		Voice: req.Voice,
		Speed: req.Speed,
		Text:  req.Text,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	cacheState := "miss"
	if res.Cached {
		cacheState = "hit"
	}
	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("Content-Length", strconv.Itoa(len(res.Raw)))
	h.Set("X-Cache", cacheState)
	h.Set("X-Voice", res.Voice.String())
	h.Set("X-Speed", strconv.Itoa(res.Speed))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Raw); err != nil {
		logger.Debugf("[server] 写入响应失败: %v", err)
	}
}

var errBadRequest = errors.New("请求格式错误")

type errorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor 把错误映射为 HTTP 状态码。
func statusFor(err error) int {
	var ae *aquestalk.Error
	switch {
	case errors.Is(err, aquestalk.ErrVoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTextTooLong):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), synth.IsClientError(err):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusUnprocessableEntity
	case errors.Is(err, aquestalk.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	case errors.Is(err, synth.ErrPoolClosed), errors.Is(err, aquestalk.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), RequestID: requestID(r.Context())}
	if code, ok := aquestalk.ErrorCode(err); ok {
		resp.Code = code
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("[server] %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Debugf("[server] 编码 JSON 失败: %v", err)
	}
}
