package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig 全局配置单例
// 在调用 LoadConfig 成功后，该变量会被填充，后续模块直接读取即可
var (
	GlobalConfig *AppConfig
	loadOnce     sync.Once
)

// LoadConfig 加载配置
// configPath: 配置文件路径 (e.g., "/etc/airRapierTracker/config.yaml")
// 如果传入空字符串，Viper 会尝试在默认路径搜索；找不到则直接使用默认值
func LoadConfig(configPath string) error {
	var err error

	loadOnce.Do(func() {
		v := viper.New()

		// 1. 设置默认值 (兜底策略)
		setDefaults(v)

		// 2. 配置读取规则
		if configPath != "" {
			// 如果指定了具体文件，直接读取
			v.SetConfigFile(configPath)
		} else {
			// 否则在常见目录搜索名为 "config" 的文件
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("/etc/airRapierTracker/") // 生产环境标准路径
			v.AddConfigPath(".")                      // 当前目录 (开发调试用)
		}

		// 3. 配置环境变量覆盖
		// 允许通过环境变量 ART_SAMPLING_PERIOD 来覆盖 sampling.period
		v.SetEnvPrefix("ART")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 4. 读取配置文件
		// 采集器常部署在没有配置文件的裸环境 (SD 卡 + 默认阈值)，
		// 文件缺失不是致命错误，退回默认值
		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
				err = fmt.Errorf("failed to read config file: %v", readErr)
				return
			}
		}

		// 5. 反序列化到结构体
		var config AppConfig
		if err = v.Unmarshal(&config); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %v", err)
			return
		}

		// 6. 参数合法性校验
		if err = validate(&config); err != nil {
			return
		}

		// 7. 赋值给全局单例
		GlobalConfig = &config
	})

	return err
}

// Get 获取全局配置
// 必须先调用 LoadConfig，否则返回 nil
func Get() *AppConfig {
	return GlobalConfig
}

// setDefaults 设置各配置项的默认值
// 默认阈值与原始固件保持一致: 150/50 Pa, 50ms 周期
func setDefaults(v *viper.Viper) {
	// agent
	v.SetDefault("agent.log_level", "info")
	v.SetDefault("agent.log_file", "")
	v.SetDefault("agent.data_dir", "/var/lib/airRapierTracker")
	v.SetDefault("agent.log_max_size", 10)
	v.SetDefault("agent.log_max_backups", 3)
	v.SetDefault("agent.log_max_age", 14)
	v.SetDefault("agent.log_compress", false)
	v.SetDefault("agent.log_stdout", true)

	// sampling
	v.SetDefault("sampling.period", 50*time.Millisecond)
	v.SetDefault("sampling.mode", "event")
	v.SetDefault("sampling.enter_pa", 150.0)
	v.SetDefault("sampling.exit_pa", 50.0)
	v.SetDefault("sampling.max_event_duration", time.Duration(0))
	v.SetDefault("sampling.event_type", "AirRapier_Attack")

	// card
	v.SetDefault("card.init_clock_hz", 250_000)
	v.SetDefault("card.full_clock_hz", 10_000_000)
	v.SetDefault("card.init_timeout", 1000*time.Millisecond)
	v.SetDefault("card.read_timeout", 200*time.Millisecond)
	v.SetDefault("card.write_timeout", 500*time.Millisecond)

	// log
	v.SetDefault("log.target", "card")
	v.SetDefault("log.file_path", "attack_log.csv")
	v.SetDefault("log.image_path", "card.img")
	v.SetDefault("log.image_blocks", 32768) // 16 MiB
	v.SetDefault("log.digest", "sha256")
	v.SetDefault("log.batch_bytes", 4096)

	// analysis
	v.SetDefault("analysis.contamination", 0.05)

	// database
	v.SetDefault("database.file_name", "tracker_report.db")
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.synchronous", "NORMAL")
}

// validate 检查配置中互相制约的字段
func validate(cfg *AppConfig) error {
	if cfg.Sampling.ExitPa >= cfg.Sampling.EnterPa {
		return fmt.Errorf("sampling.exit_pa (%.1f) must be lower than sampling.enter_pa (%.1f)",
			cfg.Sampling.ExitPa, cfg.Sampling.EnterPa)
	}
	if cfg.Sampling.Period <= 0 {
		return fmt.Errorf("sampling.period must be positive, got %v", cfg.Sampling.Period)
	}
	switch cfg.Sampling.Mode {
	case "event", "stream", "both":
	default:
		return fmt.Errorf("sampling.mode must be one of event/stream/both, got %q", cfg.Sampling.Mode)
	}
	switch cfg.Log.Digest {
	case "sha256", "sm3":
	default:
		return fmt.Errorf("log.digest must be sha256 or sm3, got %q", cfg.Log.Digest)
	}
	if c := cfg.Analysis.Contamination; c < 0 || c > 1 {
		return fmt.Errorf("analysis.contamination must be within [0,1], got %v", c)
	}
	return nil
}
