package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/iabetor/aquestalk/internal/audio"
	"github.com/iabetor/aquestalk/internal/cache"
	"github.com/iabetor/aquestalk/internal/config"
	"github.com/iabetor/aquestalk/internal/database"
	"github.com/iabetor/aquestalk/internal/logger"
	"github.com/iabetor/aquestalk/internal/metrics"
	"github.com/iabetor/aquestalk/internal/server"
	"github.com/iabetor/aquestalk/internal/synth"
	"github.com/iabetor/aquestalk/internal/tts"
	"github.com/iabetor/aquestalk/pkg/aquestalk"
)

const defaultConfigPath = "configs/aquestalk.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "配置文件路径")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
		cancel()
	}()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "synth":
		err = cmdSynth(ctx, cfg, rest)
	case "play":
		err = cmdPlay(ctx, cfg, rest)
	case "identify":
		err = cmdIdentify(rest)
	case "voices":
		err = cmdVoices(cfg)
	case "serve":
		err = cmdServe(ctx, cfg, rest)
	case "cache":
		err = cmdCache(cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Sync()
		fmt.Fprintf(os.Stderr, "%s 失败: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "AquesTalk 语音合成工具")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "用法: aquestalk [-config <path>] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "命令:")
	fmt.Fprintln(os.Stderr, "  synth [-voice v] [-speed n] [-o file] <音声记号列>  合成并输出 WAV（默认写到标准输出）")
	fmt.Fprintln(os.Stderr, "  play [-voice v] [-speed n] <音声记号列>             合成并播放")
	fmt.Fprintln(os.Stderr, "  identify <dll>...                                  按 MD5 识别声种库")
	fmt.Fprintln(os.Stderr, "  voices                                             列出声种安装状态")
	fmt.Fprintln(os.Stderr, "  serve [-addr host:port]                            启动 HTTP 服务")
	fmt.Fprintln(os.Stderr, "  cache stats|list|purge [voice]                     管理合成缓存")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "未提供音声记号列时从标准输入读取。")
}

// loadConfig 读取配置文件；使用默认路径且文件不存在时退回默认配置。
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// app 持有一次命令执行所需的服务。
type app struct {
	svc     *synth.Service
	db      *database.DB
	metrics *metrics.Metrics
}

func newApp(cfg *config.Config, withMetrics bool) (*app, error) {
	a := &app{}
	c := cache.New(nil, 0)
	if cfg.Cache.Enabled {
		db, err := database.Open(cfg.Cache.DataDir)
		if err != nil {
			return nil, err
		}
		a.db = db
		c = cache.New(db, cfg.Cache.MaxSizeMB)
	}
	if withMetrics {
		a.metrics = metrics.New()
	}

	var loadOpts []aquestalk.Option
	if cfg.Voice.Strict {
		loadOpts = append(loadOpts, aquestalk.WithStrictVoice())
	}
	svc, err := synth.NewService(synth.Options{
		LibDir:       cfg.Voice.LibDir,
		DefaultVoice: aquestalk.VoiceType(cfg.Voice.Default),
		DefaultSpeed: cfg.Voice.Speed,
		Cache:        c,
		Metrics:      a.metrics,
	}, loadOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) Close() {
	if a.svc != nil {
		if err := a.svc.Close(); err != nil {
			logger.Warnf("[main] 释放声种失败: %v", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// synthFlags 解析 synth/play 共用的参数。
func synthFlags(name string, args []string, withOutput bool) (synth.Request, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	voice := fs.String("voice", "", "声种（f1 f2 m1 m2 r1 dvd jgr imd1），默认取配置")
	speed := fs.Int("speed", 0, "发话速度 [%] 50-300，默认取配置")
	var output *string
	if withOutput {
		output = fs.String("o", "-", "输出文件，- 表示标准输出")
	}
	if err := fs.Parse(args); err != nil {
		return synth.Request{}, "", err
	}

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return synth.Request{}, "", fmt.Errorf("读取标准输入失败: %w", err)
		}
		text = strings.TrimRight(string(data), "\r\n")
	}

	out := ""
	if output != nil {
		out = *output
	}
	return synth.Request{Voice: *voice, Speed: *speed, Text: text}, out, nil
}

func cmdSynth(ctx context.Context, cfg *config.Config, args []string) error {
	req, output, err := synthFlags("synth", args, true)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Synthesize(ctx, req)
	if err != nil {
		return err
	}

	if output == "-" {
		_, err = os.Stdout.Write(res.Raw)
		return err
	}
	if err := os.WriteFile(output, res.Raw, 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", output, err)
	}
	logger.Infof("[main] 已写入 %s（%s@%d，%v，cached=%v）",
		output, res.Voice, res.Speed, res.Wave.Duration(), res.Cached)
	return nil
}

func cmdPlay(ctx context.Context, cfg *config.Config, args []string) error {
	req, _, err := synthFlags("play", args, false)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	player, err := audio.NewPlayer()
	if err != nil {
		return err
	}
	defer player.Close()

	return speak(ctx, tts.NewAquesTalkEngine(a.svc, req.Voice, req.Speed), player, req.Text)
}

// floatPlayer 播放单声道 float32 样本，由 audio.Player 实现。
type floatPlayer interface {
	PlayFloat32(ctx context.Context, samples []float32, sampleRate int) error
}

// speak 用 engine 合成 text 并交给 player 播放。
func speak(ctx context.Context, engine tts.Engine, player floatPlayer, text string) error {
	samples, sampleRate, err := engine.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	logger.Debugf("[main] 播放 %d 个样本 (%d Hz)", len(samples), sampleRate)
	return player.PlayFloat32(ctx, samples, sampleRate)
}

func cmdIdentify(args []string) error {
	if len(args) == 0 {
		return errors.New("用法: aquestalk identify <dll>...")
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tMD5\tVOICE")
	var errs []error
	for _, path := range args {
		id, err := aquestalk.Identify(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		voice := "unknown"
		if id.Known {
			voice = id.Voice.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id.Path, id.Digest, voice)
	}
	tw.Flush()
	return errors.Join(errs...)
}

func cmdVoices(cfg *config.Config) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VOICE\tINSTALLED\tPATH")
	for _, v := range a.svc.Voices() {
		mark := "-"
		if v.Installed {
			mark = "yes"
		}
		if v.Voice == a.svc.DefaultVoice() {
			mark += " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Voice, mark, v.Path)
	}
	return tw.Flush()
}

func cmdServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Server.Addr, "监听地址")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var preload []aquestalk.VoiceType
	for _, name := range cfg.Voice.Preload {
		v, err := aquestalk.ParseVoiceType(name)
		if err != nil {
			return err
		}
		preload = append(preload, v)
	}
	if err := a.svc.Pool().Preload(preload...); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:         *addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxTextBytes: cfg.Server.MaxTextBytes,
	}, a.svc, a.metrics)

	logger.Infof("[main] AquesTalk 服务启动 (voice=%s speed=%d cache=%v)",
		cfg.Voice.Default, cfg.Voice.Speed, cfg.Cache.Enabled)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("[main] AquesTalk 服务已停止")
	return nil
}

func cmdCache(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("用法: aquestalk cache stats|list|purge [voice]")
	}

	db, err := database.Open(cfg.Cache.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	c := cache.New(db, cfg.Cache.MaxSizeMB)

	switch args[0] {
	case "stats":
		st, err := c.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("数据库: %s\n", db.Path())
		fmt.Printf("条目数: %d\n", st.Entries)
		fmt.Printf("总大小: %.2f MB / %.2f MB\n",
			float64(st.TotalSize)/(1<<20), float64(st.MaxSize)/(1<<20))
	case "list":
		entries, err := c.List(50)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VOICE\tSPEED\tSIZE\tHITS\tLAST USED\tTEXT")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
				e.Voice, e.Speed, e.Size, e.Hits, e.LastUsed.Format("2006-01-02 15:04"), truncate(e.Text, 24))
		}
		return tw.Flush()
	case "purge":
		voice := ""
		if len(args) > 1 {
			v, err := aquestalk.ParseVoiceType(args[1])
			if err != nil {
				return err
			}
			voice = v.String()
		}
		n, err := c.Purge(voice)
		if err != nil {
			return err
		}
		fmt.Printf("已删除 %d 条缓存\n", n)
	default:
		return fmt.Errorf("未知的 cache 子命令: %s", args[0])
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
