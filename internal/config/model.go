// Package config
package config

import "time"

// ==========================================
// 顶层配置结构
// ==========================================

type AppConfig struct {
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Sampling SamplingConfig `mapstructure:"sampling" yaml:"sampling"`
	Card     CardConfig     `mapstructure:"card" yaml:"card"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// ==========================================
// 1. 基础配置
// ==========================================

type AgentConfig struct {
	// 日志级别: debug, info, warn, error
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// 日志文件路径
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	// 数据存储目录
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// 日志轮转高级配置
	LogMaxSize    int  `mapstructure:"log_max_size" yaml:"log_max_size"`       // MB
	LogMaxBackups int  `mapstructure:"log_max_backups" yaml:"log_max_backups"` // 个数
	LogMaxAge     int  `mapstructure:"log_max_age" yaml:"log_max_age"`         // 天数
	LogCompress   bool `mapstructure:"log_compress" yaml:"log_compress"`       // 是否压缩
	LogStdout     bool `mapstructure:"log_stdout" yaml:"log_stdout"`           // 是否打印到控制台
}

// ==========================================
// 2. 采样与事件检测配置
// ==========================================

type SamplingConfig struct {
	// 采样周期 (原始固件为 50ms, 即 20Hz)
	Period time.Duration `mapstructure:"period" yaml:"period"`
	// 记录模式: event (每个完整事件一条记录) / stream (每个采样周期一条记录) / both
	Mode string `mapstructure:"mode" yaml:"mode"`
	// 事件进入阈值 (Pa)，压差低于 -EnterPa 时进入 ACTIVE
	EnterPa float64 `mapstructure:"enter_pa" yaml:"enter_pa"`
	// 事件退出阈值 (Pa)，压差回升到 -ExitPa 以上时结束事件
	// 必须小于 EnterPa (非对称迟滞，防止边界抖动)
	ExitPa float64 `mapstructure:"exit_pa" yaml:"exit_pa"`
	// 事件最大持续时间，超过则强制收尾 (0 表示不限制)
	MaxEventDuration time.Duration `mapstructure:"max_event_duration" yaml:"max_event_duration"`
	// 事件记录中的类型标签
	EventType string `mapstructure:"event_type" yaml:"event_type"`
}

// ==========================================
// 3. 存储卡驱动配置
// ==========================================

type CardConfig struct {
	// 初始化阶段 SPI 时钟 (Hz)，未初始化的卡不接受高速时钟
	InitClockHz uint32 `mapstructure:"init_clock_hz" yaml:"init_clock_hz"`
	// 初始化完成后的 SPI 时钟 (Hz)
	FullClockHz uint32 `mapstructure:"full_clock_hz" yaml:"full_clock_hz"`
	// ACMD41 就绪轮询超时
	InitTimeout time.Duration `mapstructure:"init_timeout" yaml:"init_timeout"`
	// 读块数据令牌等待超时
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// 写块后忙等待超时
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ==========================================
// 4. 链式日志配置
// ==========================================

type LogConfig struct {
	// 日志目标: file (普通文件) / card (块设备)
	Target string `mapstructure:"target" yaml:"target"`
	// file 模式下的日志文件路径
	FilePath string `mapstructure:"file_path" yaml:"file_path"`
	// card 模式下的卡镜像路径 (无硬件时使用模拟卡)
	ImagePath string `mapstructure:"image_path" yaml:"image_path"`
	// 卡镜像大小 (块数)，仅在创建新镜像时生效
	ImageBlocks uint32 `mapstructure:"image_blocks" yaml:"image_blocks"`
	// 链摘要算法: sha256 / sm3
	Digest string `mapstructure:"digest" yaml:"digest"`
	// 物理写批量阈值 (字节)，积攒到该大小才落盘
	BatchBytes int `mapstructure:"batch_bytes" yaml:"batch_bytes"`
}

// ==========================================
// 5. 离线分析配置
// ==========================================

type AnalysisConfig struct {
	// 异常污染率：预期异常记录占比，决定打标数量
	Contamination float64 `mapstructure:"contamination" yaml:"contamination"`
}

// ==========================================
// 6. 数据库配置 (离线报告库)
// ==========================================

type DatabaseConfig struct {
	// 数据库文件名
	FileName string `mapstructure:"file_name" yaml:"file_name"`
	// GORM 日志级别: silent, error, warn, info
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// 最大打开连接数 (SQLite 建议 1)
	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	// 最大空闲连接数 (SQLite 建议 1)
	MaxIdleConns int `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// SQLite Journal 模式: WAL, DELETE, TRUNCATE, PERSIST, MEMORY
	JournalMode string `mapstructure:"journal_mode" yaml:"journal_mode"`
	// SQLite 同步模式: FULL, NORMAL, OFF
	Synchronous string `mapstructure:"synchronous" yaml:"synchronous"`
}
