//go:build !(sqlite_vec && cgo)

package vectorstore

import (
	_ "modernc.org/sqlite"
)

// 纯Go驱动，vec0 探测会失败并回退到暴力扫描
const vecDriverName = "sqlite"
