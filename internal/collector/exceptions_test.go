package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

func TestNormalizeServerNames(t *testing.T) {
	// 带实例的FQDN展开为三种等价形式
	names := NormalizeServerNames(`SQLPROD01.domain.local\INST1`)
	assert.Equal(t, []string{
		`sqlprod01.domain.local\inst1`,
		"sqlprod01.domain.local",
		"sqlprod01",
	}, names)

	// 裸FQDN展开为两种
	assert.Equal(t, []string{"sqlprod01.domain.local", "sqlprod01"},
		NormalizeServerNames("sqlprod01.domain.local"))

	// 短名保持单一
	assert.Equal(t, []string{"sqlprod01"}, NormalizeServerNames("SQLPROD01"))

	assert.Nil(t, NormalizeServerNames("  "))
}

func TestMatchesException(t *testing.T) {
	now := time.Now()
	server := `SQLPROD01.domain.local\INST1`

	// 三种等价写法均命中，大小写不敏感
	for _, pattern := range []string{
		`sqlprod01.domain.local\inst1`,
		"SQLPROD01.DOMAIN.LOCAL",
		"sqlprod01",
	} {
		exc := &model.CheckException{ServerPattern: pattern, Active: true}
		assert.True(t, MatchesException(server, exc, now), "模式应命中: %s", pattern)
	}

	// 其他主机不命中
	exc := &model.CheckException{ServerPattern: "sqlprod02", Active: true}
	assert.False(t, MatchesException(server, exc, now))

	// 停用规则不生效
	exc = &model.CheckException{ServerPattern: "sqlprod01", Active: false}
	assert.False(t, MatchesException(server, exc, now))

	// 过期规则不生效
	expired := now.Add(-time.Hour)
	exc = &model.CheckException{ServerPattern: "sqlprod01", Active: true, ExpiresAt: &expired}
	assert.False(t, MatchesException(server, exc, now))

	// 未过期的限时规则生效
	future := now.Add(time.Hour)
	exc = &model.CheckException{ServerPattern: "sqlprod01", Active: true, ExpiresAt: &future}
	assert.True(t, MatchesException(server, exc, now))
}

func TestIsExcepted(t *testing.T) {
	now := time.Now()
	exceptions := []model.CheckException{
		{ServerPattern: "sqlprod02", Active: true},
		{ServerPattern: "sqlprod01", Active: true},
	}

	assert.True(t, IsExcepted(`SQLPROD01.domain.local\INST1`, exceptions, now))
	assert.False(t, IsExcepted("sqlprod03", exceptions, now))
	assert.False(t, IsExcepted("sqlprod01", nil, now))
}
