//go:build !(windows && 386)

package aquestalk

import (
	"fmt"
	"runtime"
)

func openNative(path string) (Binding, error) {
	return nil, fmt.Errorf("%w: 无法在 %s/%s 上加载 %s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH, path)
}
