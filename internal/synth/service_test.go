package synth

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabetor/aquestalk/internal/cache"
	"github.com/iabetor/aquestalk/internal/database"
	"github.com/iabetor/aquestalk/internal/metrics"
	"github.com/iabetor/aquestalk/pkg/aquestalk"
	"github.com/iabetor/aquestalk/pkg/aquestalk/mock"
)

type fixture struct {
	svc     *Service
	lib     *mock.Binding
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, withCache bool, voices ...aquestalk.VoiceType) *fixture {
	t.Helper()
	libDir := t.TempDir()
	require.NoError(t, mock.WriteLibraries(libDir, voices...))

	var c *cache.Cache
	if withCache {
		db, err := database.Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		c = cache.New(db, 4)
	}

	lib := &mock.Binding{}
	m := metrics.New()
	svc, err := NewService(Options{
		LibDir:       libDir,
		DefaultVoice: aquestalk.VoiceF1,
		Cache:        c,
		Metrics:      m,
	}, aquestalk.WithOpener(lib.Opener()))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return &fixture{svc: svc, lib: lib, metrics: m}
}

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(Options{})
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, aquestalk.VoiceF1, svc.DefaultVoice())
	assert.Equal(t, aquestalk.DefaultSpeed, svc.DefaultSpeed())
	assert.False(t, svc.Cache().Enabled())

	_, err = NewService(Options{DefaultVoice: "zz"})
	assert.ErrorIs(t, err, aquestalk.ErrVoiceNotFound)
	_, err = NewService(Options{DefaultSpeed: 1000})
	assert.ErrorIs(t, err, aquestalk.ErrInvalidSpeed)
}

func TestSynthesize_DefaultVoiceAndSpeed(t *testing.T) {
	f := newFixture(t, false, aquestalk.VoiceF1)

	res, err := f.svc.Synthesize(context.Background(), Request{Text: "あいう"})
	require.NoError(t, err)
	assert.Equal(t, aquestalk.VoiceF1, res.Voice)
	assert.Equal(t, aquestalk.DefaultSpeed, res.Speed)
	assert.False(t, res.Cached)
	assert.Equal(t, uint32(8000), res.Wave.Format.SampleRate)
	assert.Equal(t, []aquestalk.VoiceType{aquestalk.VoiceF1}, f.svc.Pool().Loaded())
}

func TestSynthesize_UnknownVoice(t *testing.T) {
	f := newFixture(t, false, aquestalk.VoiceF1)

	_, err := f.svc.Synthesize(context.Background(), Request{Voice: "nobody", Text: "あ"})
	assert.ErrorIs(t, err, aquestalk.ErrVoiceNotFound)

	// 已知声种但未安装
	_, err = f.svc.Synthesize(context.Background(), Request{Voice: "m2", Text: "あ"})
	assert.ErrorIs(t, err, aquestalk.ErrVoiceNotFound)
}

func TestSynthesize_EmptyText(t *testing.T) {
	f := newFixture(t, false, aquestalk.VoiceF1)

	_, err := f.svc.Synthesize(context.Background(), Request{Text: "  "})
	assert.ErrorIs(t, err, aquestalk.ErrEmptyText)
	assert.True(t, IsClientError(err))
	assert.Empty(t, f.lib.Calls())
}

func TestSynthesize_CanceledContext(t *testing.T) {
	f := newFixture(t, false, aquestalk.VoiceF1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Synthesize(ctx, Request{Text: "あ"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.lib.Calls())
}

func TestSynthesize_CacheHit(t *testing.T) {
	f := newFixture(t, true, aquestalk.VoiceM1)

	first, err := f.svc.Synthesize(context.Background(), Request{Voice: "m1", Speed: 120, Text: "テスト"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.svc.Synthesize(context.Background(), Request{Voice: "M1", Speed: 120, Text: "テスト"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, bytes.Equal(first.Raw, second.Raw))
	assert.Len(t, f.lib.Calls(), 1, "cache hit must not call the library")

	n, err := testutil.GatherAndCount(f.metrics.Registry(), "aquestalk_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "expected one hit series and one miss series")
}

func TestSynthesize_NativeErrorNotCached(t *testing.T) {
	f := newFixture(t, true, aquestalk.VoiceF1)
	f.lib.ErrCode = 200

	_, err := f.svc.Synthesize(context.Background(), Request{Text: "ながいぶん"})
	code, ok := aquestalk.ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, 200, code)
	assert.False(t, IsClientError(err))

	f.lib.ErrCode = 0
	res, err := f.svc.Synthesize(context.Background(), Request{Text: "ながいぶん"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestSynthesize_CorruptCacheEntryIsReplaced(t *testing.T) {
	f := newFixture(t, true, aquestalk.VoiceF1)
	require.NoError(t, f.svc.Cache().Put("f1", 100, "あ", []byte("junk")))

	res, err := f.svc.Synthesize(context.Background(), Request{Text: "あ"})
	require.NoError(t, err)
	assert.False(t, res.Cached)

	res, err = f.svc.Synthesize(context.Background(), Request{Text: "あ"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
}

func TestVoices(t *testing.T) {
	f := newFixture(t, false, aquestalk.VoiceF1, aquestalk.VoiceR1)
	_, err := f.svc.Synthesize(context.Background(), Request{Voice: "r1", Text: "あ"})
	require.NoError(t, err)

	infos := f.svc.Voices()
	require.Len(t, infos, 8)
	byVoice := map[aquestalk.VoiceType]VoiceInfo{}
	for _, vi := range infos {
		byVoice[vi.Voice] = vi
	}
	assert.True(t, byVoice[aquestalk.VoiceF1].Installed)
	assert.False(t, byVoice[aquestalk.VoiceF1].Loaded)
	assert.True(t, byVoice[aquestalk.VoiceR1].Loaded)
	assert.False(t, byVoice[aquestalk.VoiceJGR].Installed)
}

func TestPool_ConcurrentFirstLoadOpensOnce(t *testing.T) {
	libDir := t.TempDir()
	require.NoError(t, mock.WriteLibraries(libDir, aquestalk.VoiceF2))
	lib := &mock.Binding{}
	pool := NewPool(aquestalk.WithLibDir(libDir), aquestalk.WithOpener(lib.Opener()))
	defer pool.Close()

	var wg sync.WaitGroup
	handles := make([]*aquestalk.AquesTalk, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := pool.Get(aquestalk.VoiceF2)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Len(t, lib.OpenedPaths, 1)
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestPool_Close(t *testing.T) {
	libDir := t.TempDir()
	require.NoError(t, mock.WriteLibraries(libDir, aquestalk.VoiceF1, aquestalk.VoiceM1))
	lib := &mock.Binding{}
	pool := NewPool(aquestalk.WithLibDir(libDir), aquestalk.WithOpener(lib.Opener()))

	require.NoError(t, pool.Preload(aquestalk.VoiceF1, aquestalk.VoiceM1))
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	assert.Equal(t, 2, lib.CloseCount)

	_, err := pool.Get(aquestalk.VoiceF1)
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Error(t, pool.Preload(aquestalk.VoiceJGR))
}
