package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Fraud    FraudConfig    `mapstructure:"fraud"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AuthResult string `mapstructure:"auth_result"`
}

type BusinessConfig struct {
	Currency            string `mapstructure:"currency"`               // 记账币种
	AuthHoldExpiryHours int    `mapstructure:"auth_hold_expiry_hours"` // 预授权占用有效期，到期自动撤销
	IDRetryCount        int    `mapstructure:"id_retry_count"`         // 交易号冲突时的换号重试次数
	MaxRetryCount       int    `mapstructure:"max_retry_count"`        // outbox 消息最大投递重试次数
}

// FraudConfig 风控兜底阈值
// fraud_rule 表内存在同类型启用规则时以表为准，此处仅在无规则时生效
type FraudConfig struct {
	AmountThreshold       string   `mapstructure:"amount_threshold"` // 单笔高额阈值
	BlockedCategories     []string `mapstructure:"blocked_categories"`
	VelocityMaxCount      int      `mapstructure:"velocity_max_count"`
	VelocityWindowMinutes int      `mapstructure:"velocity_window_minutes"`
}

// AuthHoldExpiry 预授权占用有效期
func (c *BusinessConfig) AuthHoldExpiry() time.Duration {
	return time.Duration(c.AuthHoldExpiryHours) * time.Hour
}

// VelocityWindow 频率检查的兜底时间窗口
func (c *FraudConfig) VelocityWindow() time.Duration {
	return time.Duration(c.VelocityWindowMinutes) * time.Minute
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
