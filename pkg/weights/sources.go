package weights

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
)

// StaticSource 固定权重表
type StaticSource struct {
	weights []model.ConstraintWeight
}

// NewStaticSource 创建固定来源，为空时使用默认表
func NewStaticSource(weights []model.ConstraintWeight) *StaticSource {
	if len(weights) == 0 {
		weights = DefaultRawWeights()
	}
	return &StaticSource{weights: weights}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(context.Context) ([]model.ConstraintWeight, error) {
	return append([]model.ConstraintWeight(nil), s.weights...), nil
}

// HTTPSource 从远程配置服务拉取权重
//
// 响应格式为 {"hard": {"name": weight}, "soft": {"name": weight}}。
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource 创建 HTTP 来源
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Name() string { return "http" }

type weightTable struct {
	Hard map[string]float64 `json:"hard"`
	Soft map[string]float64 `json:"soft"`
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]model.ConstraintWeight, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeWeightSyncFailed, "构造权重请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeWeightSyncFailed, "拉取约束权重失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.CodeWeightSyncFailed, "拉取约束权重失败").
			WithDetails(fmt.Sprintf("status=%d", resp.StatusCode))
	}

	var table weightTable
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeWeightSyncFailed, "解析约束权重失败")
	}
	if len(table.Hard)+len(table.Soft) == 0 {
		return nil, apperrors.New(apperrors.CodeWeightSyncFailed, "约束权重表为空")
	}
	return FromTable(table.Hard, table.Soft), nil
}
