package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/chainlog"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/config"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/detector/core"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/detector/pressure"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/logger"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard/simcard"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sensor"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/tracker"
)

// ==========================================
// 全局服务实例
// ==========================================

var (
	// 在线采样服务实例
	trackerSvc *tracker.Tracker

	// card 目标下的卡片与镜像，停机时回写
	cardDev   *sdcard.Card
	cardImage *simcard.SimCard
	imagePath string
)

// ==========================================
// 参数解析
// ==========================================

// parseArgs 解析命令行参数
func parseArgs() string {
	configPath := flag.String("c", "configs/config.yml", "配置文件路径")
	flag.Parse()
	return *configPath
}

// ==========================================
// 配置加载
// ==========================================

// loadConfig 加载配置文件
func loadConfig(configPath string) error {
	fmt.Printf("正在加载配置文件: %s\n", configPath)
	err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("加载配置文件失败: %v", err)
	}
	fmt.Printf("配置文件加载成功: %s\n", configPath)
	return nil
}

// ==========================================
// 基础设施初始化
// ==========================================

// initLogger 初始化日志系统
func initLogger() error {
	cfg := config.Get()
	fmt.Println("正在初始化日志系统...")
	if err := logger.Setup(logger.Options{
		Level:      cfg.Agent.LogLevel,
		FilePath:   cfg.Agent.LogFile,
		MaxSize:    cfg.Agent.LogMaxSize,
		MaxBackups: cfg.Agent.LogMaxBackups,
		MaxAge:     cfg.Agent.LogMaxAge,
		Compress:   cfg.Agent.LogCompress,
		Stdout:     cfg.Agent.LogStdout,
	}); err != nil {
		return fmt.Errorf("日志系统初始化失败: %w", err)
	}
	logger.Info("Agent initialized", "version", config.Version)
	return nil
}

// initIdentity 初始化身份信息
func initIdentity() error {
	fmt.Println("正在初始化身份信息...")
	id := config.InitIdentity()
	logger.Info("身份信息加载完成",
		"session", id.SessionID,
		"hostname", id.Hostname,
		"platform", id.Platform,
		"fingerprint", id.HardwareFingerprint,
	)
	return nil
}

// ==========================================
// 存储初始化
// ==========================================

// openSink 按配置打开日志字节汇
// file 目标直接写普通文件；card 目标走完整的块设备驱动链路
// (无硬件环境用文件镜像模拟卡)
func openSink(path string) (chainlog.Sink, error) {
	cfg := config.Get()

	switch cfg.Log.Target {
	case "file":
		return chainlog.NewFileSink(path)

	case "card":
		fmt.Printf("正在初始化存储卡 (镜像: %s)...\n", cfg.Log.ImagePath)
		sim, err := simcard.NewFromImage(cfg.Log.ImagePath, simcard.Config{
			Family: simcard.FamilySDHC,
			Blocks: cfg.Log.ImageBlocks,
		})
		if err != nil {
			return nil, fmt.Errorf("加载卡镜像失败: %w", err)
		}

		card := sdcard.New(sim, sim, sdcard.Options{
			InitClockHz:  cfg.Card.InitClockHz,
			FullClockHz:  cfg.Card.FullClockHz,
			InitTimeout:  cfg.Card.InitTimeout,
			ReadTimeout:  cfg.Card.ReadTimeout,
			WriteTimeout: cfg.Card.WriteTimeout,
		})
		if err := card.Init(); err != nil {
			return nil, fmt.Errorf("存储卡初始化失败: %w", err)
		}
		logger.Info("存储卡就绪",
			"family", card.Family().String(),
			"blocks", card.BlockCount())

		cardDev = card
		cardImage = sim
		imagePath = cfg.Log.ImagePath
		return chainlog.NewBlockSink(card)

	default:
		return nil, fmt.Errorf("未知的日志目标: %q", cfg.Log.Target)
	}
}

// streamPath 从事件日志路径派生流式日志路径
func streamPath(eventPath string) string {
	ext := filepath.Ext(eventPath)
	return strings.TrimSuffix(eventPath, ext) + "_stream" + ext
}

// openLogs 按采样模式打开事件/流式日志
func openLogs() (eventLog, streamLog *chainlog.Log, err error) {
	cfg := config.Get()
	mode := cfg.Sampling.Mode

	if cfg.Log.Target == "card" && mode == "both" {
		return nil, nil, fmt.Errorf("card 目标只能承载一份日志，mode=both 需要 file 目标")
	}

	if mode == "event" || mode == "both" {
		sink, serr := openSink(cfg.Log.FilePath)
		if serr != nil {
			return nil, nil, serr
		}
		eventLog, err = chainlog.Open(sink, chainlog.Options{
			Variant:    model.VariantEvent,
			Digest:     cfg.Log.Digest,
			BatchBytes: cfg.Log.BatchBytes,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("打开事件日志失败: %w", err)
		}
	}

	if mode == "stream" || mode == "both" {
		path := cfg.Log.FilePath
		if mode == "both" {
			path = streamPath(path)
		}
		sink, serr := openSink(path)
		if serr != nil {
			return nil, nil, serr
		}
		streamLog, err = chainlog.Open(sink, chainlog.Options{
			Variant:    model.VariantStream,
			Digest:     cfg.Log.Digest,
			BatchBytes: cfg.Log.BatchBytes,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("打开流式日志失败: %w", err)
		}
	}

	logger.Info("链式日志就绪",
		"mode", mode,
		"target", cfg.Log.Target,
		"digest", cfg.Log.Digest)
	return eventLog, streamLog, nil
}

// ==========================================
// 业务模块初始化
// ==========================================

// initTracker 装配传感器、检测引擎与采样服务
func initTracker(eventLog, streamLog *chainlog.Log) error {
	fmt.Println("正在初始化采样服务...")
	cfg := config.Get()

	engine := core.NewDetectionEngine()
	det := pressure.NewDetector(pressure.Config{
		EnterPa:     cfg.Sampling.EnterPa,
		ExitPa:      cfg.Sampling.ExitPa,
		MaxDuration: cfg.Sampling.MaxEventDuration,
		EventType:   cfg.Sampling.EventType,
	})
	if err := engine.RegisterDetector(det); err != nil {
		return fmt.Errorf("注册检测器失败: %w", err)
	}

	// 无真实 I2C 总线的运行环境使用模拟传感器组
	rig := sensor.NewSimRig(sensor.DefaultSimConfig())

	var reinit func() error
	if cardDev != nil {
		reinit = cardDev.Init
	}

	trackerSvc = tracker.New(tracker.Options{
		Rig:       rig,
		Engine:    engine,
		EventLog:  eventLog,
		StreamLog: streamLog,
		Period:    cfg.Sampling.Period,
		Reinit:    reinit,
	})

	logger.Info("采样服务初始化成功",
		"period", cfg.Sampling.Period.String(),
		"enter_pa", cfg.Sampling.EnterPa,
		"exit_pa", cfg.Sampling.ExitPa)
	return nil
}

// ==========================================
// 停机收尾
// ==========================================

// shutdown 停止服务并回写卡镜像
func shutdown() {
	fmt.Println("正在停止采样服务...")
	if trackerSvc != nil {
		trackerSvc.Stop()
	}

	if cardImage != nil {
		if err := cardImage.SaveImage(imagePath); err != nil {
			logger.Error("卡镜像回写失败", "path", imagePath, "error", err.Error())
		} else {
			logger.Info("卡镜像已回写", "path", imagePath)
		}
	}
}

// ==========================================
// 主入口
// ==========================================

func main() {
	configPath := parseArgs()

	if err := loadConfig(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := initLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := initIdentity(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	eventLog, streamLog, err := openLogs()
	if err != nil {
		logger.Error("日志初始化失败", "error", err.Error())
		os.Exit(1)
	}
	if err := initTracker(eventLog, streamLog); err != nil {
		logger.Error("采样服务初始化失败", "error", err.Error())
		os.Exit(1)
	}

	trackerSvc.Start()
	fmt.Println("--- Air Rapier Tracker ACTIVE ---")

	// 等待停止信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("收到停止信号", "signal", sig.String())

	shutdown()
	fmt.Println("已退出")
}
