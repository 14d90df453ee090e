package wave

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPCMFormat(t *testing.T) {
	f := NewPCMFormat(8000, 1, 16)
	assert.Equal(t, uint16(FormatPCM), f.AudioFormat)
	assert.Equal(t, uint16(2), f.BlockAlign)
	assert.Equal(t, uint32(16000), f.ByteRate)
	assert.Equal(t, f, AquesTalkFormat)
}

func TestBytesThenParse(t *testing.T) {
	pcm := []byte{0x00, 0x10, 0x00, 0xf0, 0xff, 0x7f}
	w := New(AquesTalkFormat, pcm)

	b := w.Bytes()
	require.Len(t, b, 44+len(pcm))
	assert.Equal(t, "RIFF", string(b[0:4]))
	assert.Equal(t, uint32(len(b)-8), binary.LittleEndian.Uint32(b[4:8]))

	got, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, AquesTalkFormat, got.Format)
	assert.Equal(t, pcm, got.Data)
	assert.Equal(t, 3, got.NumFrames())
}

func TestParse_SkipsUnknownChunksAndPadding(t *testing.T) {
	w := New(AquesTalkFormat, []byte{1, 0, 2, 0})
	canonical := w.Bytes()

	// 在 fmt 和 data 之间插入一个奇数长度的 LIST 块
	list := []byte("LIST")
	list = binary.LittleEndian.AppendUint32(list, 3)
	list = append(list, 'a', 'b', 'c', 0)

	b := append([]byte{}, canonical[:36]...)
	b = append(b, list...)
	b = append(b, canonical[36:]...)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))

	got, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, got.Data)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("not a wave file"))
	assert.ErrorIs(t, err, ErrNotWave)

	noData := New(AquesTalkFormat, nil).Bytes()[:36]
	binary.LittleEndian.PutUint32(noData[4:8], uint32(len(noData)-8))
	_, err = Parse(noData)
	assert.ErrorIs(t, err, ErrNoData)

	noFmt := []byte("RIFF\x0c\x00\x00\x00WAVEdata\x00\x00\x00\x00")
	_, err = Parse(noFmt)
	assert.ErrorIs(t, err, ErrNoFormat)

	shortFmt := []byte("RIFF\x00\x00\x00\x00WAVEfmt \x04\x00\x00\x00\x01\x00\x01\x00")
	_, err = Parse(shortFmt)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParse_OversizedDataChunkTakesRemainder(t *testing.T) {
	b := New(AquesTalkFormat, []byte{1, 0, 2, 0}).Bytes()
	binary.LittleEndian.PutUint32(b[40:44], 0xffff)

	got, err := Parse(b)
	require.NoError(t, err)
	assert.Len(t, got.Data, 4)
}

func TestParse_HugeChunkSizeDoesNotPanic(t *testing.T) {
	// 块长度接近 int32 上限，在 32 位平台上 body+size 会回绕为负数
	for _, size := range []uint32{0x7ffffff8, 0x7fffffff, 0xfffffff0, 0xffffffff} {
		b := New(AquesTalkFormat, []byte{1, 0}).Bytes()
		binary.LittleEndian.PutUint32(b[16:20], size)

		var err error
		require.NotPanics(t, func() { _, err = Parse(b) }, "size=%#x", size)
		assert.ErrorIs(t, err, ErrTruncated, "size=%#x", size)
	}

	// 未知块同样不能越界
	b := New(AquesTalkFormat, []byte{1, 0}).Bytes()
	junk := []byte("LIST\xf8\xff\xff\x7f")
	b = append(b[:12], append(junk, b[12:]...)...)
	require.NotPanics(t, func() { _, err := Parse(b); assert.ErrorIs(t, err, ErrTruncated) })
}

func TestParse_OddChunkAtEnd(t *testing.T) {
	b := New(AquesTalkFormat, []byte{1, 0}).Bytes()
	b = append(b, []byte("junk\x01\x00\x00\x00\x07")...)

	got, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0}, got.Data)
}

func TestDuration(t *testing.T) {
	w := New(AquesTalkFormat, make([]byte, 16000))
	assert.Equal(t, time.Second, w.Duration())
	assert.Equal(t, time.Duration(0), (&Wave{}).Duration())
}

func TestSamples(t *testing.T) {
	w := New(NewPCMFormat(8000, 2, 16), []byte{0xff, 0x7f, 0xff, 0x7f, 0x00, 0x00, 0x00, 0x00})
	s, err := w.Samples()
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, float32(1.0), s[0])
	assert.Equal(t, float32(0), s[1])

	_, err = New(NewPCMFormat(8000, 1, 8), []byte{1}).Samples()
	assert.Error(t, err)
}
