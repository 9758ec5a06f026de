// Package migrations 内嵌执行归档库的全部 SQL 迁移，
// 由归档仓库在启动时按版本号顺序应用。
package migrations

import "embed"

// Files 按文件名暴露所有 SQL 迁移。
//
//go:embed *.sql
var Files embed.FS
