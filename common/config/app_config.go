package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Conf 全局服务配置，由 Load 填充
var Conf ServerConfiguration

type ServerConfiguration struct {
	BaseConfig   `mapstructure:",squash"`
	DatabaseConf `mapstructure:"database"`
	JwtConf      `mapstructure:"jwt"`
	LogConf      `mapstructure:"log"`
	RoomConf     `mapstructure:"room"`
	Rule         RuleConfig `mapstructure:"rule"`
}

type BaseConfig struct {
	ID         string `mapstructure:"id"`
	WsAddr     string `mapstructure:"wsAddr"`     // websocket 监听地址
	MetricPort int    `mapstructure:"metricPort"` // statsviz 调试端口
}

type LogConf struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

type JwtConf struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"`
}

type DatabaseConf struct {
	MongoConf MongoConf `mapstructure:"mongo"`
	RedisConf RedisConf `mapstructure:"redis"`
}

type MongoConf struct {
	Url         string `mapstructure:"url"`
	Db          string `mapstructure:"db"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	MinPoolSize int    `mapstructure:"minPoolSize"`
	MaxPoolSize int    `mapstructure:"maxPoolSize"`
}

type RedisConf struct {
	Addr         string   `mapstructure:"addr"`
	ClusterAddrs []string `mapstructure:"clusterAddrs"`
	Password     string   `mapstructure:"password"`
	PoolSize     int      `mapstructure:"poolSize"`
	MinIdleConns int      `mapstructure:"minIdleConns"`
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
}

// RoomConf 房间生命周期相关配置
type RoomConf struct {
	InactiveLimitSec int `mapstructure:"inactiveLimitSec"` // 房间无活动上限（秒）
	SweepIntervalSec int `mapstructure:"sweepIntervalSec"` // 清扫协程周期（秒）
	IDRetry          int `mapstructure:"idRetry"`          // 房间号生成重试上限
}

// Load 加载配置文件，环境变量可覆盖同名配置项
func Load(configFile string) error {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	var cfg ServerConfiguration
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	if nodeID := os.Getenv("NODE_ID"); nodeID != "" {
		cfg.ID = nodeID
	}
	if cfg.ID == "" {
		cfg.ID = "sanma-1"
	}
	if cfg.RoomConf.InactiveLimitSec <= 0 {
		cfg.RoomConf.InactiveLimitSec = 1800
	}
	if cfg.RoomConf.SweepIntervalSec <= 0 {
		cfg.RoomConf.SweepIntervalSec = 60
	}
	if cfg.RoomConf.IDRetry <= 0 {
		cfg.RoomConf.IDRetry = 64
	}

	cfg.Rule.ApplyDefaults()
	if err := cfg.Rule.Validate(); err != nil {
		return fmt.Errorf("规则配置不合法: %w", err)
	}
	Conf = cfg

	// 规则表热更新：只替换 Rule 部分，已开局的房间持有冻结副本不受影响
	v.WatchConfig()
	v.OnConfigChange(func(in fsnotify.Event) {
		var next ServerConfiguration
		if err := v.Unmarshal(&next); err != nil {
			return
		}
		next.Rule.ApplyDefaults()
		if err := next.Rule.Validate(); err != nil {
			return
		}
		Conf.Rule = next.Rule
	})

	return nil
}
