package collector

import (
	"strings"
	"time"

	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// NormalizeServerNames 展开服务器名的等价形式：完整名（含实例）、FQDN主机名、首个点之前的短名
// 例如 SQLPROD01.domain.local\INST1 => [sqlprod01.domain.local\inst1, sqlprod01.domain.local, sqlprod01]
func NormalizeServerNames(server string) []string {
	full := strings.ToLower(strings.TrimSpace(server))
	if full == "" {
		return nil
	}

	names := []string{full}

	host := full
	if i := strings.Index(host, `\`); i >= 0 {
		host = host[:i]
		names = append(names, host)
	}
	if i := strings.Index(host, "."); i >= 0 {
		names = append(names, host[:i])
	}
	return names
}

// MatchesException 判断服务器是否命中豁免规则（大小写不敏感，过期规则不生效）
func MatchesException(server string, exc *model.CheckException, now time.Time) bool {
	if !exc.Active {
		return false
	}
	if exc.ExpiresAt != nil && now.After(*exc.ExpiresAt) {
		return false
	}

	pattern := strings.ToLower(strings.TrimSpace(exc.ServerPattern))
	for _, name := range NormalizeServerNames(server) {
		if name == pattern {
			return true
		}
	}
	return false
}

// IsExcepted 判断服务器是否被任一豁免规则命中
func IsExcepted(server string, exceptions []model.CheckException, now time.Time) bool {
	for i := range exceptions {
		if MatchesException(server, &exceptions[i], now) {
			return true
		}
	}
	return false
}
