package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/paiban/examplan/internal/database"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
)

// ConstraintWeightRepository 约束权重仓储
//
// 表结构：constraint_weights(name TEXT PRIMARY KEY, category TEXT, weight DOUBLE PRECISION,
// enabled BOOLEAN, updated_at TIMESTAMPTZ)
type ConstraintWeightRepository struct {
	db DB
}

// NewConstraintWeightRepository 创建约束权重仓储
func NewConstraintWeightRepository(db DB) *ConstraintWeightRepository {
	return &ConstraintWeightRepository{db: db}
}

// List 查询权重
func (r *ConstraintWeightRepository) List(ctx context.Context, filter WeightFilter) ([]model.ConstraintWeight, error) {
	query := `SELECT name, category, weight, enabled FROM constraint_weights`

	var conditions []string
	var args []interface{}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.EnabledOnly {
		conditions = append(conditions, "enabled = TRUE")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY category, name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		if database.IsUndefinedTable(err) {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "权重表不存在")
		}
		return nil, fmt.Errorf("查询约束权重失败: %w", err)
	}
	defer rows.Close()

	var result []model.ConstraintWeight
	for rows.Next() {
		cw, err := scanWeight(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描约束权重失败: %w", err)
		}
		result = append(result, cw)
	}
	return result, rows.Err()
}

func scanWeight(s Scanner) (model.ConstraintWeight, error) {
	var cw model.ConstraintWeight
	var category string
	if err := s.Scan(&cw.Name, &category, &cw.Weight, &cw.Enabled); err != nil {
		return cw, err
	}
	cw.Category = model.ConstraintCategory(category)
	return cw, nil
}

// WeightSource 以数据库表作为权重来源
type WeightSource struct {
	repo *ConstraintWeightRepository
}

// NewWeightSource 创建数据库权重来源
func NewWeightSource(db DB) *WeightSource {
	return &WeightSource{repo: NewConstraintWeightRepository(db)}
}

// Name 来源名称
func (s *WeightSource) Name() string { return "postgres" }

// Fetch 读取启用的全部权重
func (s *WeightSource) Fetch(ctx context.Context) ([]model.ConstraintWeight, error) {
	return s.repo.List(ctx, WeightFilter{EnabledOnly: true})
}
