package weights

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
)

// 权重来源标识
const (
	SourceDefault   = "default"
	SourceLastGood  = "last-known-good"
	SourceShared    = "shared-cache"
	DefaultCacheTTL = 5 * time.Minute
)

// Source 原始权重来源
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.ConstraintWeight, error)
}

// SharedCache 多实例共享的权重缓存层
type SharedCache interface {
	Load(ctx context.Context) ([]model.ConstraintWeight, bool, error)
	Store(ctx context.Context, weights []model.ConstraintWeight) error
}

// Provider 约束权重提供者
//
// 带 TTL 的本地缓存，并发刷新通过 singleflight 合并。
// 刷新失败时依次回退到共享缓存、最近一次成功的结果、默认表，从不返回错误。
type Provider struct {
	source Source
	shared SharedCache
	ttl    time.Duration
	now    func() time.Time
	log    *logger.PipelineLogger

	mu        sync.RWMutex
	current   *model.ConstraintWeights
	fetchedAt time.Time
	lastGood  *model.ConstraintWeights

	group singleflight.Group
}

// Option 配置项
type Option func(*Provider)

// WithTTL 设置缓存有效期
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithSharedCache 设置共享缓存
func WithSharedCache(cache SharedCache) Option {
	return func(p *Provider) { p.shared = cache }
}

// NewProvider 创建权重提供者，source 为 nil 时使用默认表
func NewProvider(source Source, opts ...Option) *Provider {
	if source == nil {
		source = NewStaticSource(nil)
	}
	p := &Provider{
		source: source,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		log:    logger.NewPipelineLogger("weights"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Weights 返回当前生效的权重（原始表 + 归一化结果）
func (p *Provider) Weights(ctx context.Context) model.ConstraintWeights {
	p.mu.RLock()
	if p.current != nil && p.now().Sub(p.fetchedAt) < p.ttl {
		w := clone(*p.current)
		p.mu.RUnlock()
		return w
	}
	p.mu.RUnlock()

	v, _, _ := p.group.Do("weights", func() (interface{}, error) {
		return p.refresh(ctx), nil
	})
	return clone(v.(model.ConstraintWeights))
}

// NormalizedWeights 返回归一化的六维权重
func (p *Provider) NormalizedWeights(ctx context.Context) model.NormalizedWeights {
	return p.Weights(ctx).Normalized
}

// RawWeights 返回原始权重表
func (p *Provider) RawWeights(ctx context.Context) []model.ConstraintWeight {
	return p.Weights(ctx).Raw
}

// Invalidate 使本地缓存失效，下次访问触发刷新
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

func (p *Provider) refresh(ctx context.Context) model.ConstraintWeights {
	raw, err := p.source.Fetch(ctx)
	if err == nil && len(raw) > 0 {
		if _, ok := normalize(raw); ok {
			w := build(raw, p.source.Name())
			p.store(w, true)
			metrics.IncCounter(metrics.MetricWeightRefresh, p.source.Name(), "success")
			if p.shared != nil {
				if serr := p.shared.Store(ctx, raw); serr != nil {
					p.log.Logger().Warn().Err(serr).Msg("写入共享权重缓存失败")
				}
			}
			return w
		}
	}
	metrics.IncCounter(metrics.MetricWeightRefresh, p.source.Name(), "failure")
	p.log.Fallback("weights", err)

	if p.shared != nil {
		if cached, ok, serr := p.shared.Load(ctx); serr == nil && ok && len(cached) > 0 {
			w := build(cached, SourceShared)
			p.store(w, true)
			return w
		}
	}

	p.mu.RLock()
	lastGood := p.lastGood
	p.mu.RUnlock()
	if lastGood != nil {
		w := clone(*lastGood)
		w.Source = SourceLastGood
		p.store(w, false)
		return w
	}

	w := build(DefaultRawWeights(), SourceDefault)
	p.store(w, false)
	return w
}

func (p *Provider) store(w model.ConstraintWeights, good bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := clone(w)
	p.current = &c
	p.fetchedAt = p.now()
	if good {
		g := clone(w)
		p.lastGood = &g
	}
}

func build(raw []model.ConstraintWeight, source string) model.ConstraintWeights {
	return model.ConstraintWeights{
		Raw:        append([]model.ConstraintWeight(nil), raw...),
		Normalized: Normalize(raw),
		Source:     source,
	}
}

func clone(w model.ConstraintWeights) model.ConstraintWeights {
	w.Raw = append([]model.ConstraintWeight(nil), w.Raw...)
	return w
}
