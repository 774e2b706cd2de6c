package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// DefaultMajorVersion 版本探测失败时的兜底大版本（SQL Server 2012）
const DefaultMajorVersion = 11

// ErrSecretResolution 凭据解析失败：配置问题而非目标不可达，调用方按实例错误处理
var ErrSecretResolution = errors.New("secret resolution failed")

// Factory 目标实例连接工厂
type Factory struct {
	cfg      config.SQLServerConfig
	resolver SecretResolver
}

// NewFactory 创建连接工厂
func NewFactory(cfg config.SQLServerConfig, resolver SecretResolver) *Factory {
	return &Factory{
		cfg:      cfg,
		resolver: resolver,
	}
}

// Connect 建立到目标实例的连接
// 调用方负责Close；连接池参数保持保守，诊断查询不需要大池
func (f *Factory) Connect(ctx context.Context, target *inventory.Target, timeout time.Duration) (*sql.DB, error) {
	if timeout <= 0 {
		timeout = f.cfg.ConnectTimeout
	}

	secret, err := f.resolver.ResolveConnectionSecret(ctx, target, "master")
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrSecretResolution, target.Name, err)
	}

	dsn := BuildDSN(target, secret, f.cfg, timeout)
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open connection to %s: %w", target.Name, err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", target.Name, err)
	}

	return db, nil
}

// TestConnection 探测目标实例连通性
func (f *Factory) TestConnection(ctx context.Context, target *inventory.Target, timeout time.Duration) bool {
	db, err := f.Connect(ctx, target, timeout)
	if err != nil {
		logger.Debug("Connectivity check failed", "instance", target.Name, "error", err)
		return false
	}
	_ = db.Close()
	return true
}

// GetMajorVersion 探测目标实例SQL大版本；失败时返回兜底版本11
func (f *Factory) GetMajorVersion(ctx context.Context, target *inventory.Target, timeout time.Duration) int {
	db, err := f.Connect(ctx, target, timeout)
	if err != nil {
		return DefaultMajorVersion
	}
	defer db.Close()

	queryCtx, cancel := context.WithTimeout(ctx, f.cfg.CommandTimeout)
	defer cancel()

	var major sql.NullInt64
	row := db.QueryRowContext(queryCtx,
		"SELECT CAST(SERVERPROPERTY('ProductMajorVersion') AS int)")
	if err := row.Scan(&major); err != nil || !major.Valid || major.Int64 <= 0 {
		return DefaultMajorVersion
	}
	return int(major.Int64)
}
