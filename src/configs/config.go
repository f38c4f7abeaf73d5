package configs

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/schemaflow/schemaflow/src/pkg/version"
)

// RPC info.
type RPC struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultRPC = RPC{
	Enable: true,
	Bind:   ":8080",
}

func (r *RPC) verify() error {
	if r == nil || !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return fmt.Errorf("无效的RPC绑定地址: %w", err)
	}
	return nil
}

// Migration 迁移配置
type Migration struct {
	// CurrentVersion 存储当前所处版本
	CurrentVersion string `yaml:"current_version" json:"current_version"`
	// TargetVersion 迁移目标版本
	TargetVersion string `yaml:"target_version" json:"target_version"`
	// EnableRollback 失败时自动回滚
	EnableRollback bool `yaml:"enable_rollback" json:"enable_rollback"`
	// EnableBackup 迁移前创建备份
	EnableBackup bool `yaml:"enable_backup" json:"enable_backup"`
	// EnableAnalytics 记录统计与审计数据
	EnableAnalytics bool `yaml:"enable_analytics" json:"enable_analytics"`
	// BatchSize 批量迁移多个存储时的并发上限
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

var defaultMigration = Migration{
	EnableRollback:  true,
	EnableBackup:    true,
	EnableAnalytics: true,
	BatchSize:       1,
}

func (m *Migration) verify() error {
	if m.CurrentVersion != "" {
		if _, err := version.Parse(m.CurrentVersion); err != nil {
			return fmt.Errorf("当前版本号非法: %w", err)
		}
	}
	if m.TargetVersion != "" {
		if _, err := version.Parse(m.TargetVersion); err != nil {
			return fmt.Errorf("目标版本号非法: %w", err)
		}
	}
	if m.BatchSize < 0 {
		return fmt.Errorf("batch_size 不能为负数: %d", m.BatchSize)
	}
	return nil
}

// Backup 备份配置
type Backup struct {
	// Dir 备份目录
	Dir string `yaml:"dir" json:"dir"`
	// Retention 保留的备份数量，超出后按时间清理最旧的
	Retention int `yaml:"retention" json:"retention"`
	// NameTemplate 备份文件名模板（sprig 函数可用），留空使用默认模板
	NameTemplate string `yaml:"name_template,omitempty" json:"name_template,omitempty"`
}

var defaultBackup = Backup{
	Dir:       "backups",
	Retention: 10,
}

// Analytics 统计配置
type Analytics struct {
	// DBPath 统计数据库路径，留空时仅保留在内存中
	DBPath string `yaml:"db_path,omitempty" json:"db_path,omitempty"`
}

// Notify 通知服务配置
type Notify struct {
	Enable bool `yaml:"enable" json:"enable"`
	// SMTP 服务配置
	SMTPHost string `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port" json:"smtp_port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// From 发件人地址，留空时使用 Username
	From string `yaml:"from,omitempty" json:"from,omitempty"`
	// To 收件人地址列表
	To []string `yaml:"to" json:"to"`
}

func (n *Notify) verify() error {
	if n == nil || !n.Enable {
		return nil
	}
	if n.SMTPHost == "" || n.SMTPPort <= 0 {
		return fmt.Errorf("通知已启用但 SMTP 服务配置不完整")
	}
	if len(n.To) == 0 {
		return fmt.Errorf("通知已启用但未配置收件人")
	}
	return nil
}

// Sentry 错误上报配置
type Sentry struct {
	Enable bool   `yaml:"enable" json:"enable"`
	DSN    string `yaml:"dsn" json:"-"`
}

// Store 存储配置
type Store struct {
	// Location 存储的持久化位置
	Location string `yaml:"location" json:"location"`
}

// Config content all config info.
type Config struct {
	File  string `yaml:"-" json:"-"`
	Debug bool   `yaml:"debug" json:"debug"`

	RPC       RPC       `yaml:"rpc" json:"rpc"`
	Store     Store     `yaml:"store" json:"store"`
	Migration Migration `yaml:"migration" json:"migration"`
	Backup    Backup    `yaml:"backup" json:"backup"`
	Analytics Analytics `yaml:"analytics" json:"analytics"`
	Notify    Notify    `yaml:"notify" json:"notify"`
	Sentry    Sentry    `yaml:"sentry" json:"sentry"`
}

var defaultConfig = Config{
	RPC:       defaultRPC,
	Migration: defaultMigration,
	Backup:    defaultBackup,
}

// 使用 atomic.Value 存放当前配置指针，避免并发读写造成 data race
var config atomic.Value // stores *Config

// SetCurrentConfig 设置全局当前配置
func SetCurrentConfig(cfg *Config) {
	config.Store(cfg)
}

// GetCurrentConfig 获取全局当前配置，未设置时返回 nil
func GetCurrentConfig() *Config {
	v := config.Load()
	if v == nil {
		return nil
	}
	return v.(*Config)
}

// NewConfig 创建带默认值的配置
func NewConfig() *Config {
	config := defaultConfig
	return &config
}

// Verify will return an error when this config has problem.
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("配置不存在")
	}
	if err := c.RPC.verify(); err != nil {
		return err
	}
	if err := c.Migration.verify(); err != nil {
		return err
	}
	if err := c.Notify.verify(); err != nil {
		return err
	}
	if c.Backup.Retention < 0 {
		return fmt.Errorf("备份保留数量不能为负数: %d", c.Backup.Retention)
	}
	if !c.RPC.Enable && c.Store.Location == "" {
		return fmt.Errorf("RPC 服务已禁用且未配置存储位置，程序无任务可执行")
	}
	return nil
}

// NewConfigWithBytes 从 YAML 字节创建配置，缺失字段取默认值
func NewConfigWithBytes(b []byte) (*Config, error) {
	config := defaultConfig
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// NewConfigWithFile 从 YAML 文件创建配置
func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("can`t open file: %s", file)
	}
	config, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	config.File = file
	return config, nil
}

// Marshal 将配置序列化回其来源文件
func (c *Config) Marshal() error {
	if c.File == "" {
		return errors.New("config path not set")
	}
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return err
	}
	return os.WriteFile(c.File, buf.Bytes(), 0644)
}
