package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// Target 被监控SQL实例
type Target struct {
	Name          string `json:"name"`
	Environment   string `json:"environment"`
	HostingSite   string `json:"hosting_site"`
	MajorVersion  int    `json:"major_version"`
	VersionString string `json:"version_string"`
	AlwaysOn      bool   `json:"alwayson"`
	IsDMZ         bool   `json:"is_dmz"`
	IsCloud       bool   `json:"is_cloud"`
}

// Filter 实例筛选条件
type Filter struct {
	// IncludeDMZ 包含DMZ实例（默认剔除）
	IncludeDMZ bool
	// IncludeCloud 包含云托管实例（默认剔除）
	IncludeCloud bool
	// Environment 非空时仅保留对应环境
	Environment string
}

// Provider 实例清单服务：拉取CMDB清单并按TTL缓存
type Provider struct {
	cfg        config.InventoryConfig
	httpClient *http.Client

	mu      sync.RWMutex
	targets map[string]*Target
	expiry  time.Time
}

// NewProvider 创建实例清单服务
func NewProvider(cfg config.InventoryConfig) *Provider {
	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		targets: make(map[string]*Target),
	}
}

// GetTargets 获取可监控实例列表（缓存过期时先刷新）
// 返回的是缓存条目的值副本：调用方持有的Target不与缓存共享，版本回写只经UpdateVersion进缓存
// 清单源故障时返回空列表而非报错，调度按"本轮无实例"降级
func (p *Provider) GetTargets(ctx context.Context, filter Filter) []*Target {
	p.refreshIfExpired(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Target, 0, len(p.targets))
	for _, t := range p.targets {
		if t.IsDMZ && !filter.IncludeDMZ {
			continue
		}
		if t.IsCloud && !filter.IncludeCloud {
			continue
		}
		if filter.Environment != "" && !strings.EqualFold(t.Environment, filter.Environment) {
			continue
		}
		tc := *t
		out = append(out, &tc)
	}
	return out
}

// GetTarget 按名称获取实例的值副本（不命中时返回nil）
func (p *Provider) GetTarget(ctx context.Context, name string) *Target {
	p.refreshIfExpired(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.targets[strings.ToLower(strings.TrimSpace(name))]; ok {
		tc := *t
		return &tc
	}
	return nil
}

// UpdateVersion 回写探测到的SQL大版本（懒解析缓存）
func (p *Provider) UpdateVersion(name string, major int, versionString string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.targets[strings.ToLower(strings.TrimSpace(name))]; ok {
		t.MajorVersion = major
		t.VersionString = versionString
	}
}

// Invalidate 主动失效缓存，下次读取触发刷新
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiry = time.Time{}
}

// refreshIfExpired 缓存过期时刷新；写锁内二次检查避免并发重复拉取
func (p *Provider) refreshIfExpired(ctx context.Context) {
	p.mu.RLock()
	fresh := time.Now().Before(p.expiry)
	p.mu.RUnlock()
	if fresh {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Now().Before(p.expiry) {
		return
	}

	fetched, err := p.fetch(ctx)
	if err != nil {
		// 清单源故障：保留旧缓存直至TTL后重试，避免抖动
		logger.Error("Failed to refresh inventory", "url", p.cfg.URL, "error", err)
		p.expiry = time.Now().Add(30 * time.Second)
		return
	}

	decommissioned := make(map[string]struct{}, len(p.cfg.Decommissioned))
	for _, name := range p.cfg.Decommissioned {
		decommissioned[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	targets := make(map[string]*Target, len(fetched))
	for _, t := range fetched {
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if key == "" {
			continue
		}
		if _, gone := decommissioned[key]; gone {
			continue
		}
		tt := t
		targets[key] = &tt
	}

	p.targets = targets
	p.expiry = time.Now().Add(p.cfg.CacheTTL)
	logger.Info("Inventory refreshed", "targets", len(targets))
}

// fetch 拉取清单源JSON数组
func (p *Provider) fetch(ctx context.Context) ([]Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build inventory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inventory returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read inventory body: %w", err)
	}

	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("decode inventory json: %w", err)
	}
	return targets, nil
}
