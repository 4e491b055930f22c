package config

import (
	"fmt"
	"time"
)

// Config 应用配置结构体 [这里的字段和配置文件中一级字段保持一致，否则会没有值]
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`         // 服务器配置
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`     // 数据库配置
	Log        LogConfig        `yaml:"log" mapstructure:"log"`               // 日志配置
	App        AppConfig        `yaml:"app" mapstructure:"app"`               // 应用配置
	Scan       ScanConfig       `yaml:"scan" mapstructure:"scan"`             // 扫描调度配置
	Engines    EnginesConfig    `yaml:"engines" mapstructure:"engines"`       // 扫描引擎配置
	Correlator CorrelatorConfig `yaml:"correlator" mapstructure:"correlator"` // CVE关联配置
	JobLog     JobLogConfig     `yaml:"joblog" mapstructure:"joblog"`         // 任务日志流配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 服务器主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 服务器端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式: debug, release, test
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时时间
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时时间
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时时间
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大请求头字节数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Store string      `yaml:"store" mapstructure:"store"` // 存储方式: mysql, memory (memory 适合单机部署和测试)
	MySQL MySQLConfig `yaml:"mysql" mapstructure:"mysql"` // MySQL配置
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"` // Redis配置
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                             // 数据库主机
	Port            int           `yaml:"port" mapstructure:"port"`                             // 数据库端口
	Username        string        `yaml:"username" mapstructure:"username"`                     // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                     // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                     // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                       // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`                 // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                               // 时区
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`         // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`         // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`   // 连接最大生存时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"` // 连接最大空闲时间
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`                   // 日志级别
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`                     // Redis主机
	Port         int           `yaml:"port" mapstructure:"port"`                     // Redis端口
	Password     string        `yaml:"password" mapstructure:"password"`             // Redis密码
	Database     int           `yaml:"database" mapstructure:"database"`             // Redis数据库索引
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`           // 连接池大小
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"` // 最小空闲连接数
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`     // 连接超时
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`   // 写入超时
	PoolTimeout  time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`     // 连接池超时
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`     // 空闲超时
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Version     string `yaml:"version" mapstructure:"version"`         // 应用版本
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
	Debug       bool   `yaml:"debug" mapstructure:"debug"`             // 是否调试模式
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`       // 时区
}

// ScanConfig 扫描调度配置
type ScanConfig struct {
	Workers          int           `yaml:"workers" mapstructure:"workers"`                       // 工作协程数量
	QueueSize        int           `yaml:"queue_size" mapstructure:"queue_size"`                 // 调度队列缓冲区大小
	JobTimeout       time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`               // 单个任务最大执行时间
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`           // 引擎状态轮询间隔
	DispatchRetries  int           `yaml:"dispatch_retries" mapstructure:"dispatch_retries"`     // 引擎不可达时的重试次数
	DispatchBackoff  time.Duration `yaml:"dispatch_backoff" mapstructure:"dispatch_backoff"`     // 重试退避基准时间
	AllowedCIDRs     []string      `yaml:"allowed_cidrs" mapstructure:"allowed_cidrs"`           // 允许扫描的地址空间(空=不限制)
	ReaperCron       string        `yaml:"reaper_cron" mapstructure:"reaper_cron"`               // 超时任务回收调度表达式
	DefaultPortRange string        `yaml:"default_port_range" mapstructure:"default_port_range"` // 默认端口范围
}

// EnginesConfig 扫描引擎配置
type EnginesConfig struct {
	Nmap    NmapEngineConfig    `yaml:"nmap" mapstructure:"nmap"`       // 网络/端口映射引擎
	OpenVAS OpenVASEngineConfig `yaml:"openvas" mapstructure:"openvas"` // 漏洞管理引擎
	Nuclei  NucleiEngineConfig  `yaml:"nuclei" mapstructure:"nuclei"`   // 模板漏洞引擎
	ZAP     ZAPEngineConfig     `yaml:"zap" mapstructure:"zap"`         // Web应用引擎
}

// NmapEngineConfig 网络映射引擎配置
type NmapEngineConfig struct {
	BinaryPath     string        `yaml:"binary_path" mapstructure:"binary_path"`         // nmap可执行文件路径
	CollectTimeout time.Duration `yaml:"collect_timeout" mapstructure:"collect_timeout"` // 等待输出超时
	StatsInterval  string        `yaml:"stats_interval" mapstructure:"stats_interval"`   // 进度输出间隔(--stats-every)
}

// OpenVASEngineConfig 漏洞管理引擎配置
type OpenVASEngineConfig struct {
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`               // 引擎API地址
	Username       string        `yaml:"username" mapstructure:"username"`               // API用户名
	Password       string        `yaml:"password" mapstructure:"password"`               // API密码
	ScanConfigID   string        `yaml:"scan_config_id" mapstructure:"scan_config_id"`   // 预置扫描配置ID
	CollectTimeout time.Duration `yaml:"collect_timeout" mapstructure:"collect_timeout"` // 等待报告超时
}

// NucleiEngineConfig 模板漏洞引擎配置
type NucleiEngineConfig struct {
	BinaryPath     string        `yaml:"binary_path" mapstructure:"binary_path"`         // nuclei可执行文件路径
	TemplatesDir   string        `yaml:"templates_dir" mapstructure:"templates_dir"`     // 模板目录
	RateLimit      int           `yaml:"rate_limit" mapstructure:"rate_limit"`           // 每秒请求上限
	CollectTimeout time.Duration `yaml:"collect_timeout" mapstructure:"collect_timeout"` // 等待输出超时
}

// ZAPEngineConfig Web应用引擎配置
type ZAPEngineConfig struct {
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`               // ZAP API地址
	APIKey         string        `yaml:"api_key" mapstructure:"api_key"`                 // API密钥
	CrawlDepth     int           `yaml:"crawl_depth" mapstructure:"crawl_depth"`         // 默认爬取深度
	CollectTimeout time.Duration `yaml:"collect_timeout" mapstructure:"collect_timeout"` // 等待告警超时
}

// CorrelatorConfig CVE关联配置
type CorrelatorConfig struct {
	MaxCVEs       int           `yaml:"max_cves" mapstructure:"max_cves"`             // 单个服务最多关联CVE数
	LookupTimeout time.Duration `yaml:"lookup_timeout" mapstructure:"lookup_timeout"` // 单次情报查询超时(独立于任务超时)
}

// JobLogConfig 任务日志流配置
type JobLogConfig struct {
	Store      string `yaml:"store" mapstructure:"store"`             // 存储方式: redis, memory
	MaxEntries int64  `yaml:"max_entries" mapstructure:"max_entries"` // 单个任务保留的日志条数上限
}

// GetAddress 获取服务器完整地址
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment 判断是否为开发环境
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction 判断是否为生产环境
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// IsTest 判断是否为测试环境
func (a *AppConfig) IsTest() bool {
	return a.Environment == "test"
}

// GetMySQLDSN 获取MySQL数据源名称
func (m *MySQLConfig) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		m.Username, m.Password, m.Host, m.Port, m.Database, m.Charset, m.ParseTime, m.Loc)
}

// GetRedisAddress 获取Redis地址
func (r *RedisConfig) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
