package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
)

func newInventoryServer(t *testing.T, hits *int32, targets []Target) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(targets)
	}))
}

func testTargets() []Target {
	return []Target{
		{Name: "SQLPROD01.domain.local", Environment: "prod", HostingSite: "dc1", MajorVersion: 15},
		{Name: "SQLPROD02.domain.local", Environment: "prod", HostingSite: "dc1", IsDMZ: true},
		{Name: "SQLCLOUD01", Environment: "prod", HostingSite: "azure", IsCloud: true},
		{Name: "SQLTEST01", Environment: "test", HostingSite: "dc2"},
		{Name: "SQLOLD01", Environment: "prod", HostingSite: "dc1"},
	}
}

func TestGetTargetsFiltering(t *testing.T) {
	var hits int32
	srv := newInventoryServer(t, &hits, testTargets())
	defer srv.Close()

	p := NewProvider(config.InventoryConfig{
		URL:            srv.URL,
		Timeout:        5 * time.Second,
		CacheTTL:       5 * time.Minute,
		Decommissioned: []string{"sqlold01"},
	})

	// 默认剔除DMZ、云实例与已下线实例
	got := p.GetTargets(context.Background(), Filter{})
	names := make(map[string]bool)
	for _, tgt := range got {
		names[tgt.Name] = true
	}
	assert.Len(t, got, 2)
	assert.True(t, names["SQLPROD01.domain.local"])
	assert.True(t, names["SQLTEST01"])

	// 放开DMZ与云实例
	got = p.GetTargets(context.Background(), Filter{IncludeDMZ: true, IncludeCloud: true})
	assert.Len(t, got, 4, "放开过滤后应包含DMZ与云实例，已下线实例仍剔除")

	// 按环境过滤
	got = p.GetTargets(context.Background(), Filter{Environment: "test"})
	require.Len(t, got, 1)
	assert.Equal(t, "SQLTEST01", got[0].Name)
}

func TestCacheTTL(t *testing.T) {
	var hits int32
	srv := newInventoryServer(t, &hits, testTargets())
	defer srv.Close()

	p := NewProvider(config.InventoryConfig{
		URL:      srv.URL,
		Timeout:  5 * time.Second,
		CacheTTL: 5 * time.Minute,
	})

	p.GetTargets(context.Background(), Filter{})
	p.GetTargets(context.Background(), Filter{})
	p.GetTargets(context.Background(), Filter{})
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "TTL内重复读取不应重复拉取清单")

	// 主动失效后触发刷新
	p.Invalidate()
	p.GetTargets(context.Background(), Filter{})
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestInventoryOutageDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProvider(config.InventoryConfig{
		URL:      srv.URL,
		Timeout:  time.Second,
		CacheTTL: 5 * time.Minute,
	})

	got := p.GetTargets(context.Background(), Filter{})
	assert.Empty(t, got, "清单源故障应降级为空列表而非报错")
}

func TestGetTargetAndUpdateVersion(t *testing.T) {
	var hits int32
	srv := newInventoryServer(t, &hits, testTargets())
	defer srv.Close()

	p := NewProvider(config.InventoryConfig{
		URL:      srv.URL,
		Timeout:  5 * time.Second,
		CacheTTL: 5 * time.Minute,
	})

	tgt := p.GetTarget(context.Background(), "sqlprod01.DOMAIN.local")
	require.NotNil(t, tgt, "名称查找应大小写不敏感")
	assert.Equal(t, 15, tgt.MajorVersion)

	p.UpdateVersion("SQLTEST01", 16, "Microsoft SQL Server 2022")
	tgt = p.GetTarget(context.Background(), "SQLTEST01")
	require.NotNil(t, tgt)
	assert.Equal(t, 16, tgt.MajorVersion)
	assert.Equal(t, "Microsoft SQL Server 2022", tgt.VersionString)
}

func TestGetTargetsReturnsSnapshots(t *testing.T) {
	var hits int32
	srv := newInventoryServer(t, &hits, testTargets())
	defer srv.Close()

	p := NewProvider(config.InventoryConfig{
		URL:      srv.URL,
		Timeout:  5 * time.Second,
		CacheTTL: 5 * time.Minute,
	})

	first := p.GetTarget(context.Background(), "SQLPROD01.domain.local")
	require.NotNil(t, first)

	// 调用方改写自己拿到的副本不得污染缓存
	first.MajorVersion = 99
	first.Name = "mutated"
	again := p.GetTarget(context.Background(), "SQLPROD01.domain.local")
	require.NotNil(t, again, "缓存键不应随调用方改写副本而变化")
	assert.Equal(t, 15, again.MajorVersion)

	// 版本回写只经UpdateVersion进缓存，已发出的副本保持不变
	snapshot := p.GetTargets(context.Background(), Filter{})
	p.UpdateVersion("SQLPROD01.domain.local", 16, "Microsoft SQL Server 2022")
	for _, tgt := range snapshot {
		if tgt.Name == "SQLPROD01.domain.local" {
			assert.Equal(t, 15, tgt.MajorVersion, "已发出的快照不应被后续版本回写改写")
		}
	}
	refreshed := p.GetTarget(context.Background(), "SQLPROD01.domain.local")
	require.NotNil(t, refreshed)
	assert.Equal(t, 16, refreshed.MajorVersion)
}

func TestConcurrentVersionUpdates(t *testing.T) {
	var hits int32
	srv := newInventoryServer(t, &hits, testTargets())
	defer srv.Close()

	p := NewProvider(config.InventoryConfig{
		URL:      srv.URL,
		Timeout:  5 * time.Second,
		CacheTTL: 5 * time.Minute,
	})

	snapshot := p.GetTargets(context.Background(), Filter{IncludeDMZ: true, IncludeCloud: true})
	require.NotEmpty(t, snapshot)

	// 一个采集轮回写版本，另一个并发轮读取自己的快照（race检测回归场景）
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			p.UpdateVersion("SQLPROD01.domain.local", 15+i%2, "Microsoft SQL Server")
		}
	}()
	total := 0
	for i := 0; i < 200; i++ {
		for _, tgt := range snapshot {
			total += tgt.MajorVersion
		}
	}
	<-done
	assert.GreaterOrEqual(t, total, 0)
}
