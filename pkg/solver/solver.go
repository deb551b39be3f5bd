// Package solver 定义与外部约束求解服务的请求/响应契约及其 HTTP 客户端
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
)

// Config 求解参数
type Config struct {
	TimeLimitSeconds int    `json:"time_limit_seconds"`
	Strategy         string `json:"strategy,omitempty"`
	Seed             int64  `json:"seed,omitempty"`
	// AllowRelaxed 是否允许同科室副考官
	AllowRelaxed bool `json:"allow_relaxed"`
}

// DefaultConfig 默认求解参数
func DefaultConfig() Config {
	return Config{TimeLimitSeconds: 30, Strategy: "default"}
}

// Request 求解请求，WeightTable 为启用权重按 hard/soft 分组的命名表
type Request struct {
	Candidates        []*model.Candidate            `json:"candidates"`
	Examiners         []*model.Examiner             `json:"examiners"`
	DateRangeStart    string                        `json:"date_range_start"`
	DateRangeEnd      string                        `json:"date_range_end"`
	ConstraintWeights model.ConstraintWeights       `json:"constraint_weights"`
	WeightTable       map[string]map[string]float64 `json:"weight_table"`
	SolverConfig      Config                        `json:"solver_config"`
	PreferredWindows  []model.DateWindowCandidate   `json:"preferred_windows,omitempty"`
}

// Validate 校验请求
func (r *Request) Validate() error {
	if len(r.Candidates) == 0 {
		return apperrors.InvalidInput("candidates", "不能为空")
	}
	if len(r.Examiners) == 0 {
		return apperrors.InvalidInput("examiners", "不能为空")
	}
	if err := model.ValidateRoster(r.Candidates, r.Examiners); err != nil {
		return err
	}
	rng := model.DateRange{StartDate: r.DateRangeStart, EndDate: r.DateRangeEnd}
	if err := model.ValidateStruct("date_range", rng); err != nil {
		return err
	}
	if len(rng.Dates()) == 0 {
		return apperrors.New(apperrors.CodeInvalidTimeRange, "结束日期早于开始日期")
	}
	return nil
}

// Score 求解得分，硬约束得分为 0 表示无硬约束违反
type Score struct {
	Hard float64 `json:"hard"`
	Soft float64 `json:"soft"`
}

// Response 求解响应
type Response struct {
	Success     bool                   `json:"success"`
	Assignments []*model.Assignment    `json:"assignments"`
	Score       Score                  `json:"score"`
	Conflicts   []model.ConflictRecord `json:"conflicts"`
	Warnings    []string               `json:"warnings"`
}

// Feasible 求解成功且没有硬约束违反
func (r *Response) Feasible() bool {
	return r.Success && r.Score.Hard >= 0
}

// Client 求解服务客户端，超时只存在于这一边界
type Client struct {
	url    string
	client *http.Client
	logger *logger.PipelineLogger
}

// NewClient 创建客户端
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.NewPipelineLogger("solver"),
	}
}

// Solve 提交求解请求
func (c *Client) Solve(ctx context.Context, req *Request) (*Response, error) {
	if c.url == "" {
		return nil, apperrors.New(apperrors.CodeSolverUnavailable, "未配置求解服务地址")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "求解请求序列化失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSolverUnavailable, "构造求解请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSolverUnavailable, "求解服务不可用")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.New(apperrors.CodeSolverUnavailable, "求解服务返回错误").
			WithDetails(fmt.Sprintf("status=%d body=%s", resp.StatusCode, bytes.TrimSpace(msg)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSolverUnavailable, "解析求解响应失败")
	}

	c.logger.Logger().Info().
		Int("candidates", len(req.Candidates)).
		Bool("success", out.Success).
		Float64("hard", out.Score.Hard).
		Float64("soft", out.Score.Soft).
		Dur("elapsed", time.Since(start)).
		Msg("求解完成")
	return &out, nil
}
