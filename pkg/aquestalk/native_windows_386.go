//go:build windows && 386

package aquestalk

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// nativeBinding 通过 stdcall 调用 AquesTalk.dll 的导出函数。
type nativeBinding struct {
	dll       *windows.DLL
	synthe    *windows.Proc
	freeWave  *windows.Proc
	closeOnce sync.Once
}

func openNative(path string) (Binding, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, fmt.Errorf("加载 %s 失败: %w", path, err)
	}

	synthe, err := dll.FindProc("AquesTalk_Synthe")
	if err != nil {
		dll.Release()
		return nil, fmt.Errorf("%s 缺少 AquesTalk_Synthe: %w", path, err)
	}
	freeWave, err := dll.FindProc("AquesTalk_FreeWave")
	if err != nil {
		dll.Release()
		return nil, fmt.Errorf("%s 缺少 AquesTalk_FreeWave: %w", path, err)
	}

	return &nativeBinding{dll: dll, synthe: synthe, freeWave: freeWave}, nil
}

// Synthe 调用 unsigned char* AquesTalk_Synthe(const char *koe, int iSpeed, int *pSize)。
// 返回的缓冲区在库内部分配，复制到 Go 内存后立即用 AquesTalk_FreeWave 释放。
func (n *nativeBinding) Synthe(koe []byte, speed int) ([]byte, error) {
	if len(koe) == 0 || koe[len(koe)-1] != 0 {
		return nil, fmt.Errorf("%w: 缺少 NUL 结尾", ErrInvalidText)
	}

	var size int32
	r1, _, _ := n.synthe.Call(
		uintptr(unsafe.Pointer(&koe[0])),
		uintptr(speed),
		uintptr(unsafe.Pointer(&size)),
	)
	if r1 == 0 {
		return nil, NewError(int(size))
	}
	defer n.freeWave.Call(r1)

	if size <= 0 {
		return nil, fmt.Errorf("%w: size=%d", ErrEmptyOutput, size)
	}
	wav := make([]byte, size)
	copy(wav, unsafe.Slice((*byte)(unsafe.Pointer(r1)), size))
	return wav, nil
}

func (n *nativeBinding) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.dll.Release()
	})
	return err
}
