// Package migrations 嵌入 ledger 数据库的 SQL 迁移文件，按文件名前缀的版本号顺序执行。
// 形如 0002_name.sqlite.sql 的文件只对对应驱动生效，不带驱动后缀的文件对所有驱动生效。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
