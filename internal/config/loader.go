package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// GlobalConfig 全局配置实例
	GlobalConfig *Config
)

// LoadConfig 加载配置文件
// configPath: 配置文件路径，如果为空则使用默认路径
// env: 环境标识，支持 development, test, production
func LoadConfig(configPath, env string) (*Config, error) {
	// 设置默认环境
	if env == "" {
		env = getEnvFromEnvironment()
	}

	// 创建viper实例
	v := viper.New()

	// 设置配置文件类型
	v.SetConfigType("yaml")

	// 设置配置文件路径
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// 根据环境选择配置文件
	configFile := getConfigFileName(configPath, env)
	v.SetConfigFile(configFile)

	// 设置环境变量前缀
	v.SetEnvPrefix("VULNMASTER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 绑定环境变量
	bindEnvironmentVariables(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// 设置全局配置
	GlobalConfig = &config

	return &config, nil
}

// getEnvFromEnvironment 从环境变量获取环境标识
func getEnvFromEnvironment() string {
	env := os.Getenv("VULNMASTER_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development" // 默认开发环境
	}
	return env
}

// getDefaultConfigPath 获取默认配置文件路径
func getDefaultConfigPath() string {
	// 尝试从环境变量获取配置路径
	if configPath := os.Getenv("VULNMASTER_CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// 使用默认路径
	return "configs"
}

// getConfigFileName 根据环境获取配置文件名
func getConfigFileName(configPath, env string) string {
	var configFile string

	switch env {
	case "production", "prod":
		configFile = filepath.Join(configPath, "config.prod.yaml")
	case "test", "testing":
		configFile = filepath.Join(configPath, "config.test.yaml")
	default:
		configFile = filepath.Join(configPath, "config.yaml")
	}

	// 检查文件是否存在，如果不存在则使用默认配置文件
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := filepath.Join(configPath, "config.yaml")
		if _, err := os.Stat(defaultConfig); err == nil {
			return defaultConfig
		}
	}

	return configFile
}

// bindEnvironmentVariables 绑定环境变量
func bindEnvironmentVariables(v *viper.Viper) {
	// 数据库配置
	v.BindEnv("database.store", "VULNMASTER_DATABASE_STORE")
	v.BindEnv("database.mysql.host", "VULNMASTER_MYSQL_HOST")
	v.BindEnv("database.mysql.port", "VULNMASTER_MYSQL_PORT")
	v.BindEnv("database.mysql.username", "VULNMASTER_MYSQL_USERNAME")
	v.BindEnv("database.mysql.password", "VULNMASTER_MYSQL_PASSWORD")
	v.BindEnv("database.mysql.database", "VULNMASTER_MYSQL_DATABASE")

	v.BindEnv("database.redis.host", "VULNMASTER_REDIS_HOST")
	v.BindEnv("database.redis.port", "VULNMASTER_REDIS_PORT")
	v.BindEnv("database.redis.password", "VULNMASTER_REDIS_PASSWORD")
	v.BindEnv("database.redis.database", "VULNMASTER_REDIS_DATABASE")

	// 扫描引擎配置
	v.BindEnv("engines.nmap.binary_path", "VULNMASTER_NMAP_BINARY_PATH")
	v.BindEnv("engines.openvas.endpoint", "VULNMASTER_OPENVAS_ENDPOINT")
	v.BindEnv("engines.openvas.username", "VULNMASTER_OPENVAS_USERNAME")
	v.BindEnv("engines.openvas.password", "VULNMASTER_OPENVAS_PASSWORD")
	v.BindEnv("engines.nuclei.binary_path", "VULNMASTER_NUCLEI_BINARY_PATH")
	v.BindEnv("engines.nuclei.templates_dir", "VULNMASTER_NUCLEI_TEMPLATES_DIR")
	v.BindEnv("engines.zap.endpoint", "VULNMASTER_ZAP_ENDPOINT")
	v.BindEnv("engines.zap.api_key", "VULNMASTER_ZAP_API_KEY")

	// 服务器配置
	v.BindEnv("server.host", "VULNMASTER_SERVER_HOST")
	v.BindEnv("server.port", "VULNMASTER_SERVER_PORT")
	v.BindEnv("server.mode", "VULNMASTER_SERVER_MODE")

	// 应用配置
	v.BindEnv("app.environment", "VULNMASTER_APP_ENVIRONMENT")
	v.BindEnv("app.debug", "VULNMASTER_APP_DEBUG")
}

// applyDefaults 填充未显式配置的调度和关联参数
func applyDefaults(config *Config) {
	if config == nil {
		return
	}

	if config.Database.Store == "" {
		config.Database.Store = "mysql"
	}
	if config.Scan.Workers <= 0 {
		config.Scan.Workers = 4
	}
	if config.Scan.QueueSize <= 0 {
		config.Scan.QueueSize = 256
	}
	if config.Scan.JobTimeout <= 0 {
		config.Scan.JobTimeout = 2 * time.Hour
	}
	if config.Scan.PollInterval <= 0 {
		config.Scan.PollInterval = 3 * time.Second
	}
	if config.Scan.DispatchRetries <= 0 {
		config.Scan.DispatchRetries = 3
	}
	if config.Scan.DispatchBackoff <= 0 {
		config.Scan.DispatchBackoff = 2 * time.Second
	}
	if config.Scan.ReaperCron == "" {
		config.Scan.ReaperCron = "@every 1m"
	}
	if config.Scan.DefaultPortRange == "" {
		config.Scan.DefaultPortRange = "1-1024"
	}
	if config.Correlator.MaxCVEs <= 0 {
		config.Correlator.MaxCVEs = 20
	}
	if config.Correlator.LookupTimeout <= 0 {
		config.Correlator.LookupTimeout = 5 * time.Second
	}
	if config.JobLog.Store == "" {
		config.JobLog.Store = "memory"
	}
	if config.JobLog.MaxEntries <= 0 {
		config.JobLog.MaxEntries = 10000
	}
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	// 验证服务器配置
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.Mode != "debug" && config.Server.Mode != "release" && config.Server.Mode != "test" {
		return fmt.Errorf("invalid server mode: %s", config.Server.Mode)
	}

	// 验证数据库配置
	validStores := []string{"mysql", "memory"}
	if !contains(validStores, config.Database.Store) {
		return fmt.Errorf("invalid database store: %s", config.Database.Store)
	}

	if config.Database.Store == "mysql" {
		if config.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if config.Database.MySQL.Database == "" {
			return fmt.Errorf("mysql database name is required")
		}
	}

	// 验证日志配置
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLogLevels, config.Log.Level) {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Log.Format) {
		return fmt.Errorf("invalid log format: %s", config.Log.Format)
	}

	validLogOutputs := []string{"stdout", "stderr", "file"}
	if !contains(validLogOutputs, config.Log.Output) {
		return fmt.Errorf("invalid log output: %s", config.Log.Output)
	}

	// 如果日志输出到文件，验证文件路径
	if config.Log.Output == "file" && config.Log.FilePath == "" {
		return fmt.Errorf("log file path is required when output is file")
	}

	// 验证任务日志流配置
	validJobLogStores := []string{"memory", "redis"}
	if !contains(validJobLogStores, config.JobLog.Store) {
		return fmt.Errorf("invalid joblog store: %s", config.JobLog.Store)
	}

	if config.JobLog.Store == "redis" && config.Database.Redis.Host == "" {
		return fmt.Errorf("redis host is required when joblog store is redis")
	}

	// 验证允许扫描的地址空间
	for _, cidr := range config.Scan.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid allowed cidr %s: %w", cidr, err)
		}
	}

	return nil
}

// contains 检查切片是否包含指定元素
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return GlobalConfig
}

// MustLoadConfig 加载配置，如果失败则panic
func MustLoadConfig(configPath, env string) *Config {
	config, err := LoadConfig(configPath, env)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return config
}

// ReloadConfig 重新加载配置
func ReloadConfig() error {
	if GlobalConfig == nil {
		return fmt.Errorf("global config is not initialized")
	}

	// 重新加载配置
	config, err := LoadConfig("", "")
	if err != nil {
		return err
	}

	GlobalConfig = config
	return nil
}

// GetEnv 获取当前环境
func GetEnv() string {
	if GlobalConfig != nil {
		return GlobalConfig.App.Environment
	}
	return getEnvFromEnvironment()
}

// IsDevelopment 判断是否为开发环境
func IsDevelopment() bool {
	if GlobalConfig != nil {
		return GlobalConfig.App.IsDevelopment()
	}
	return GetEnv() == "development"
}

// IsProduction 判断是否为生产环境
func IsProduction() bool {
	if GlobalConfig != nil {
		return GlobalConfig.App.IsProduction()
	}
	return GetEnv() == "production"
}

// IsTest 判断是否为测试环境
func IsTest() bool {
	if GlobalConfig != nil {
		return GlobalConfig.App.IsTest()
	}
	return GetEnv() == "test"
}
