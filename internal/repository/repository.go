// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
)

// DB 数据库接口
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Scanner 行扫描接口
type Scanner interface {
	Scan(dest ...interface{}) error
}

// WeightFilter 权重查询过滤器
type WeightFilter struct {
	Category    string `json:"category,omitempty"`
	EnabledOnly bool   `json:"enabled_only"`
}
