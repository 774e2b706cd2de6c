package connection

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
)

// Secret 解析出的连接凭据
type Secret struct {
	Username string
	Password string
	// Integrated 为true时走环境集成认证，不携带用户名密码
	Integrated bool
}

// SecretResolver 凭据解析边界（凭据库由外部系统持有）
type SecretResolver interface {
	// ResolveConnectionSecret 为目标实例解析凭据；无任何配置命中时返回集成认证
	ResolveConnectionSecret(ctx context.Context, target *inventory.Target, database string) (Secret, error)
}

// ConfigSecretResolver 基于配置文件的凭据解析实现
// 匹配优先级：server精确 > hosting_site > environment > pattern正则；全不命中回落集成认证
type ConfigSecretResolver struct {
	entries []config.CredentialConfig
}

// NewConfigSecretResolver 创建配置凭据解析器
func NewConfigSecretResolver(entries []config.CredentialConfig) *ConfigSecretResolver {
	return &ConfigSecretResolver{entries: entries}
}

// ResolveConnectionSecret 按优先级链解析凭据
// 每次调用独立求值，无共享可变状态，可跨目标并发使用
func (r *ConfigSecretResolver) ResolveConnectionSecret(ctx context.Context, target *inventory.Target, database string) (Secret, error) {
	name := strings.ToLower(strings.TrimSpace(target.Name))

	// 1. server精确匹配
	for _, e := range r.entries {
		if e.Server != "" && strings.EqualFold(strings.TrimSpace(e.Server), name) {
			return Secret{Username: e.Username, Password: e.Password}, nil
		}
	}
	// 2. 托管站点匹配
	for _, e := range r.entries {
		if e.Server != "" || e.HostingSite == "" {
			continue
		}
		if strings.EqualFold(e.HostingSite, target.HostingSite) {
			return Secret{Username: e.Username, Password: e.Password}, nil
		}
	}
	// 3. 环境匹配
	for _, e := range r.entries {
		if e.Server != "" || e.HostingSite != "" || e.Environment == "" {
			continue
		}
		if strings.EqualFold(e.Environment, target.Environment) {
			return Secret{Username: e.Username, Password: e.Password}, nil
		}
	}
	// 4. 正则匹配
	for _, e := range r.entries {
		if e.Pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + e.Pattern)
		if err != nil {
			return Secret{}, fmt.Errorf("invalid credential pattern %q: %w", e.Pattern, err)
		}
		if re.MatchString(name) {
			return Secret{Username: e.Username, Password: e.Password}, nil
		}
	}

	// 5. 回落：环境集成认证
	return Secret{Integrated: true}, nil
}

// BuildDSN 构造go-mssqldb连接串
// 实例名形如 HOST\INSTANCE 时拆分为 sqlserver://host/instance
func BuildDSN(target *inventory.Target, secret Secret, cfg config.SQLServerConfig, connectTimeout time.Duration) string {
	host := target.Name
	instance := ""
	if i := strings.Index(host, `\`); i >= 0 {
		instance = host[i+1:]
		host = host[:i]
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   host,
	}
	if instance != "" {
		u.Path = instance
	}
	if !secret.Integrated {
		u.User = url.UserPassword(secret.Username, secret.Password)
	}

	q := url.Values{}
	q.Set("database", "master")
	q.Set("app name", cfg.AppName)
	q.Set("encrypt", encryptOption(cfg.Encrypt))
	if connectTimeout > 0 {
		q.Set("dial timeout", fmt.Sprintf("%d", int(connectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// encryptOption 规范化加密选项
func encryptOption(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "disable":
		return "disable"
	case "false":
		return "false"
	default:
		return "true"
	}
}
