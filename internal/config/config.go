package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Inventory    InventoryConfig    `mapstructure:"inventory"`
	SQLServer    SQLServerConfig    `mapstructure:"sqlserver"`
	Credentials  []CredentialConfig `mapstructure:"credentials"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Consolidator ConsolidatorConfig `mapstructure:"consolidator"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// InventoryConfig 实例清单源配置（CMDB接口）
type InventoryConfig struct {
	URL string `mapstructure:"url"`
	// Timeout 拉取清单的HTTP超时
	Timeout time.Duration `mapstructure:"timeout"`
	// CacheTTL 实例缓存有效期，过期后下次读取触发刷新
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// IncludeDMZ 是否默认包含DMZ实例
	IncludeDMZ bool `mapstructure:"include_dmz"`
	// IncludeCloud 是否默认包含云托管实例
	IncludeCloud bool `mapstructure:"include_cloud"`
	// Decommissioned 已下线实例清单（命中即剔除）
	Decommissioned []string `mapstructure:"decommissioned"`
}

// SQLServerConfig 被监控实例连接配置
type SQLServerConfig struct {
	// ConnectTimeout 建立连接超时（未按采集器覆盖时的默认值）
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// CommandTimeout 诊断查询执行超时
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	// AppName 连接串中的应用名，便于在目标实例上识别会话
	AppName string `mapstructure:"app_name"`
	// Encrypt 连接加密选项：true | false | disable
	Encrypt string `mapstructure:"encrypt"`
}

// CredentialConfig 凭据配置项（按优先级匹配：server > hosting_site > environment > pattern）
type CredentialConfig struct {
	Server      string `mapstructure:"server"`
	HostingSite string `mapstructure:"hosting_site"`
	Environment string `mapstructure:"environment"`
	Pattern     string `mapstructure:"pattern"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// OrchestratorConfig 调度器配置
type OrchestratorConfig struct {
	// StartupDelay 进程启动后的首次调度延迟
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	// TickInterval 调度循环周期
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ConsolidatorConfig 汇总评分配置
type ConsolidatorConfig struct {
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	// Interval 汇总周期
	Interval time.Duration `mapstructure:"interval"`
	// FreshnessWindow 快照新鲜度窗口，超窗快照不参与汇总
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
}

// ArchiveConfig 归档服务配置
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval 归档清理周期
	Interval time.Duration `mapstructure:"interval"`
	// Retention 快照与汇总分的保留时长，超期数据导出后删除
	Retention time.Duration `mapstructure:"retention"`
	// StorageBackend 归档后端：local | minio
	StorageBackend string `mapstructure:"storage_backend"`
	// Prefix 归档对象/目录的顶层前缀
	Prefix string `mapstructure:"prefix"`
	Local  LocalArchiveConfig `mapstructure:"local"`
}

// LocalArchiveConfig 本地归档配置
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig MinIO对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	// 设置默认值
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// 默认配置文件路径
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	viper.SetEnvPrefix("SQL_HEALTH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.sqlite.path", "./data/sqlhealth.db")
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	// 清单缓存默认5分钟；DMZ与云实例默认不纳入
	viper.SetDefault("inventory.timeout", 15*time.Second)
	viper.SetDefault("inventory.cache_ttl", 5*time.Minute)
	viper.SetDefault("inventory.include_dmz", false)
	viper.SetDefault("inventory.include_cloud", false)

	viper.SetDefault("sqlserver.connect_timeout", 10*time.Second)
	viper.SetDefault("sqlserver.command_timeout", 60*time.Second)
	viper.SetDefault("sqlserver.app_name", "SQLHealthPro")
	viper.SetDefault("sqlserver.encrypt", "disable")

	// 调度：启动延迟30秒后每10秒检查一次到期采集器
	viper.SetDefault("orchestrator.startup_delay", 30*time.Second)
	viper.SetDefault("orchestrator.tick_interval", 10*time.Second)

	// 汇总：启动延迟1分钟后每5分钟执行一次，快照新鲜度窗口1小时
	viper.SetDefault("consolidator.startup_delay", time.Minute)
	viper.SetDefault("consolidator.interval", 5*time.Minute)
	viper.SetDefault("consolidator.freshness_window", time.Hour)

	// 归档默认关闭；开启后每天清理一次，保留30天
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.interval", 24*time.Hour)
	viper.SetDefault("archive.retention", 30*24*time.Hour)
	viper.SetDefault("archive.storage_backend", "local")
	viper.SetDefault("archive.prefix", "health-archive")
	viper.SetDefault("archive.local.base_dir", "./data/archive")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "console")
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
