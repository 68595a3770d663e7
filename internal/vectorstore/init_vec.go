//go:build sqlite_vec && cgo

package vectorstore

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const vecDriverName = "sqlite3"

func init() {
	// vec.Auto() 将 sqlite-vec 注册为自动加载扩展，
	// 之后所有 sqlite3 连接都可使用 vec0 虚拟表
	vec.Auto()
}
