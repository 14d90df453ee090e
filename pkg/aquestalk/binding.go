package aquestalk

// Binding 是一个已加载的 AquesTalk 库实例。
//
// Synthe 接收以 NUL 结尾的 Shift_JIS 音声记号列和发话速度，返回 WAV 字节。
// 原生库返回 NULL 时应返回 *Error。实现不需要自己处理并发，AquesTalk 句柄会串行调用。
type Binding interface {
	Synthe(koe []byte, speed int) ([]byte, error)
	Close() error
}

// Opener 根据库文件路径打开 Binding。
type Opener func(path string) (Binding, error)

// OpenNative 打开原生 DLL。只在 windows/386 上可用，其它平台返回 ErrUnsupportedPlatform。
func OpenNative(path string) (Binding, error) {
	return openNative(path)
}
