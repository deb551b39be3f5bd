// Package tenant 提供考点（调用方）隔离：每个考点有自己的权限、限流与流水线参数
package tenant

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/examplan/internal/config"
	"github.com/paiban/examplan/internal/security"
	"github.com/paiban/examplan/pkg/pipeline"
)

var (
	ErrTenantNotFound = errors.New("考点不存在")
	ErrInvalidTenant  = errors.New("无效的考点")
	ErrTenantDisabled = errors.New("考点已停用")
)

// DefaultCode 未配置考点时使用的默认考点
const DefaultCode = "default"

// Tenant 考点
type Tenant struct {
	ID        uuid.UUID      `json:"id"`
	Code      string         `json:"code"`
	Name      string         `json:"name"`
	Status    string         `json:"status"` // active/suspended
	Settings  TenantSettings `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiredAt *time.Time     `json:"expired_at,omitempty"`
}

// TenantSettings 考点配置，零值表示沿用全局参数
type TenantSettings struct {
	Features          []string `json:"features"`       // 允许的权限范围
	APIRateLimit      int      `json:"api_rate_limit"` // 每个限流窗口内的请求数
	MaxCandidates     int      `json:"max_candidates"` // 单次请求的考生上限
	ConfidenceFloor   float64  `json:"confidence_floor,omitempty"`
	Alternatives      int      `json:"alternatives,omitempty"`
	MaxRecursionDepth int      `json:"max_recursion_depth,omitempty"`
	ExcludeHolidays   bool     `json:"exclude_holidays"`
}

// IsActive 检查考点是否可用
func (t *Tenant) IsActive() bool {
	if t.Status != "active" {
		return false
	}
	if t.ExpiredAt != nil && t.ExpiredAt.Before(time.Now()) {
		return false
	}
	return true
}

// HasFeature 检查考点是否开通某权限范围
func (t *Tenant) HasFeature(feature string) bool {
	for _, f := range t.Settings.Features {
		if f == feature || f == security.ScopeAll {
			return true
		}
	}
	return false
}

// Apply 用考点配置覆盖流水线参数
func (t *Tenant) Apply(cfg pipeline.Config) pipeline.Config {
	s := t.Settings
	if s.ConfidenceFloor > 0 {
		cfg.ConfidenceFloor = s.ConfidenceFloor
	}
	if s.Alternatives > 0 {
		cfg.Alternatives = s.Alternatives
	}
	if s.MaxRecursionDepth > 0 {
		cfg.MaxRecursionDepth = s.MaxRecursionDepth
	}
	return cfg
}

// AllowsCandidates 考生数是否在上限内
func (t *Tenant) AllowsCandidates(n int) bool {
	return t.Settings.MaxCandidates <= 0 || n <= t.Settings.MaxCandidates
}

// TenantManager 考点管理器
type TenantManager struct {
	tenants map[string]*Tenant // code -> tenant
	mu      sync.RWMutex
}

// NewTenantManager 创建考点管理器
func NewTenantManager() *TenantManager {
	return &TenantManager{
		tenants: make(map[string]*Tenant),
	}
}

// Register 注册考点
func (m *TenantManager) Register(tenant *Tenant) error {
	if tenant == nil || tenant.Code == "" {
		return ErrInvalidTenant
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tenants[tenant.Code] = tenant
	return nil
}

// Get 获取考点
func (m *TenantManager) Get(code string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant, exists := m.tenants[code]
	if !exists {
		return nil, ErrTenantNotFound
	}

	if !tenant.IsActive() {
		return nil, ErrTenantDisabled
	}

	return tenant, nil
}

// List 按编码列出所有考点
func (m *TenantManager) List() []*Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

// Remove 移除考点
func (m *TenantManager) Remove(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, code)
}

type tenantContextKey struct{}

// WithTenant 将考点添加到上下文
func WithTenant(ctx context.Context, tenant *Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// FromContext 从上下文获取考点
func FromContext(ctx context.Context) (*Tenant, bool) {
	tenant, ok := ctx.Value(tenantContextKey{}).(*Tenant)
	return tenant, ok
}

// DefaultTenantSettings 默认考点配置
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		Features: []string{security.ScopeAll},
	}
}

// CreateDefaultTenant 创建默认考点
func CreateDefaultTenant() *Tenant {
	return &Tenant{
		ID:        uuid.New(),
		Code:      DefaultCode,
		Name:      "默认考点",
		Status:    "active",
		Settings:  DefaultTenantSettings(),
		CreatedAt: time.Now(),
	}
}

// FromConfig 由配置构造考点
func FromConfig(c config.TenantConfig) *Tenant {
	features := c.Scopes
	if len(features) == 0 {
		features = []string{security.ScopeAll}
	}
	name := c.Name
	if name == "" {
		name = c.Code
	}
	return &Tenant{
		ID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.Code)),
		Code:   c.Code,
		Name:   name,
		Status: "active",
		Settings: TenantSettings{
			Features:          features,
			APIRateLimit:      c.RateLimit,
			MaxCandidates:     c.MaxCandidates,
			ConfidenceFloor:   c.ConfidenceFloor,
			Alternatives:      c.Alternatives,
			MaxRecursionDepth: c.MaxRecursionDepth,
			ExcludeHolidays:   c.ExcludeHolidays,
		},
		CreatedAt: time.Now(),
	}
}

// Setup 按配置注册考点与密钥
//
// API_KEYS 中的密钥归属默认考点；配置文件中的考点使用各自的密钥与权限。
func Setup(cfg *config.Config, tenants *TenantManager, keys *security.APIKeyManager) error {
	def := CreateDefaultTenant()
	if err := tenants.Register(def); err != nil {
		return err
	}
	for _, k := range cfg.API.Keys {
		keys.Register(k, def.Code, def.Name, nil)
	}

	for _, tc := range cfg.Tenants {
		t := FromConfig(tc)
		if err := tenants.Register(t); err != nil {
			return err
		}
		for _, k := range tc.Keys {
			keys.Register(k, t.Code, t.Name, t.Settings.Features)
		}
	}
	return nil
}
