package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DriverBadger selects the embedded key-value session provider
const DriverBadger = "badger"

// Config 应用程序配置
type Config struct {
	DataSource DataSourceConfig `json:"datasource" yaml:"datasource"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or text
}

// DataSourceConfig 数据源配置
// 构造一次后只读, 由会话工厂消费
type DataSourceConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	URL      string `json:"url" yaml:"url"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`

	// 连接池
	InitialPoolSize  int `json:"initial_pool_size" yaml:"initial_pool_size"`
	MinPoolSize      int `json:"min_pool_size" yaml:"min_pool_size"`
	MaxPoolSize      int `json:"max_pool_size" yaml:"max_pool_size"`
	AcquireIncrement int `json:"acquire_increment" yaml:"acquire_increment"`

	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`   // seconds
	ConnMaxIdleTime int `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"` // seconds
	AcquireTimeout  int `json:"acquire_timeout,omitempty" yaml:"acquire_timeout,omitempty"`       // seconds, 0表示不限制

	// 批量会话释放时是否提交, nil 表示 true
	AutoCommit *bool `json:"auto_commit,omitempty" yaml:"auto_commit,omitempty"`

	Badger BadgerConfig `json:"badger,omitempty" yaml:"badger,omitempty"`
}

// BadgerConfig 嵌入式 KV 存储配置
type BadgerConfig struct {
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`
	InMemory   bool   `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`
	SyncWrites bool   `json:"sync_writes,omitempty" yaml:"sync_writes,omitempty"`
}

// DefaultDataSourceConfig 返回默认数据源配置
func DefaultDataSourceConfig() DataSourceConfig {
	return DataSourceConfig{
		Driver:           "sqlite",
		URL:              "dal.db",
		InitialPoolSize:  3,
		MinPoolSize:      3,
		MaxPoolSize:      15,
		AcquireIncrement: 3,
		ConnMaxLifetime:  1800,
		ConnMaxIdleTime:  300,
		AcquireTimeout:   30,
	}
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DataSource: DefaultDataSourceConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 从文件加载配置, 根据扩展名选择 YAML 或 JSON
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		config := DefaultConfig()
		applyEnv(config)
		return config, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadConfigOrDefault 尝试从常见位置加载配置文件
func LoadConfigOrDefault() *Config {
	if envPath := os.Getenv("DAL_CONFIG"); envPath != "" {
		if config, err := LoadConfig(envPath); err == nil {
			return config
		}
	}

	possiblePaths := []string{
		"dal.yaml",
		"dal.json",
		"./config/dal.yaml",
		"./config/dal.json",
	}
	for _, path := range possiblePaths {
		if absPath, err := filepath.Abs(path); err == nil {
			if config, err := LoadConfig(absPath); err == nil {
				return config
			}
		}
	}

	config := DefaultConfig()
	applyEnv(config)
	return config
}

// applyEnv 环境变量覆盖连接参数
func applyEnv(config *Config) {
	if v := os.Getenv("DAL_DS_URL"); v != "" {
		config.DataSource.URL = v
	}
	if v := os.Getenv("DAL_DS_USER"); v != "" {
		config.DataSource.User = v
	}
	if v := os.Getenv("DAL_DS_PASSWORD"); v != "" {
		config.DataSource.Password = v
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	return c.DataSource.Validate()
}

// Validate 验证数据源配置
func (c *DataSourceConfig) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("数据源驱动不能为空")
	}

	if c.IsBadger() {
		if !c.Badger.InMemory && c.Badger.Dir == "" && c.URL == "" {
			return fmt.Errorf("badger 数据目录不能为空")
		}
		return nil
	}

	if c.URL == "" {
		return fmt.Errorf("数据源 URL 不能为空")
	}

	if c.MaxPoolSize < 1 {
		return fmt.Errorf("连接池最大连接数必须大于0")
	}

	if c.MinPoolSize < 0 {
		return fmt.Errorf("连接池最小连接数不能为负数")
	}

	if c.MinPoolSize > c.MaxPoolSize {
		return fmt.Errorf("连接池最小连接数(%d)不能大于最大连接数(%d)", c.MinPoolSize, c.MaxPoolSize)
	}

	if c.InitialPoolSize < c.MinPoolSize || c.InitialPoolSize > c.MaxPoolSize {
		return fmt.Errorf("连接池初始连接数(%d)必须在 [%d, %d] 之间", c.InitialPoolSize, c.MinPoolSize, c.MaxPoolSize)
	}

	if c.AcquireIncrement < 1 {
		return fmt.Errorf("连接池增长步长必须大于0")
	}

	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 || c.AcquireTimeout < 0 {
		return fmt.Errorf("连接超时参数不能为负数")
	}

	return nil
}

// IsBadger 是否使用嵌入式 KV 存储
func (c *DataSourceConfig) IsBadger() bool {
	return strings.EqualFold(c.Driver, DriverBadger)
}

// IsAutoCommit 批量会话释放时是否提交
func (c *DataSourceConfig) IsAutoCommit() bool {
	return c.AutoCommit == nil || *c.AutoCommit
}

// GetConnMaxLifetime returns the connection lifetime as a duration
func (c *DataSourceConfig) GetConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// GetConnMaxIdleTime returns the idle connection timeout as a duration
func (c *DataSourceConfig) GetConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTime) * time.Second
}

// GetAcquireTimeout returns the session acquisition timeout, 0 means unbounded
func (c *DataSourceConfig) GetAcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeout) * time.Second
}

// String 隐藏密码
func (c DataSourceConfig) String() string {
	return fmt.Sprintf("DataSourceConfig{driver=%s, url=%s, user=%s, pool=%d/%d/%d+%d}",
		c.Driver, c.URL, c.User, c.MinPoolSize, c.InitialPoolSize, c.MaxPoolSize, c.AcquireIncrement)
}
