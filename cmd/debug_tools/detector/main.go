// Package main 检测器离线回放工具
// 把现场拷回的流式日志重新喂给迟滞状态机，
// 用不同阈值参数复跑同一份数据，标定进入/退出阈值
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/detector/pressure"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sensor"
)

// ==========================================
// 全局变量和配置
// ==========================================

var (
	version = "1.0.0"
	appName = "detector-replay"

	// 命令行参数
	logFile     string
	enterPa     float64
	exitPa      float64
	maxDuration time.Duration

	// 颜色输出
	colorRed    = color.New(color.FgRed, color.Bold)
	colorGreen  = color.New(color.FgGreen, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
	colorWhite  = color.New(color.FgWhite)
)

// ==========================================
// 主入口
// ==========================================

func main() {
	if err := rootCmd.Execute(); err != nil {
		colorRed.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ==========================================
// 根命令
// ==========================================

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "检测器离线回放工具",
	Long: `
用流式日志离线复跑压差迟滞检测器。

流式日志保存了每个采样周期的原始信号，可以用任意一组
阈值参数重新跑一遍状态机，观察会检出哪些事件。阈值
标定时对比不同参数的输出即可，不用重新抓现场数据。

示例:
  # 现场默认阈值
  detector-replay -f stream_log.csv

  # 收紧进入阈值观察漏检
  detector-replay -f stream_log.csv --enter 200 --exit 80
`,
	Version: version,
	RunE:    runReplay,
}

func init() {
	defaults := pressure.DefaultConfig()
	rootCmd.Flags().StringVarP(&logFile, "file", "f", "", "流式日志文件路径 (必填)")
	rootCmd.Flags().Float64Var(&enterPa, "enter", defaults.EnterPa, "进入阈值 (Pa, 正数)")
	rootCmd.Flags().Float64Var(&exitPa, "exit", defaults.ExitPa, "退出阈值 (Pa, 正数)")
	rootCmd.Flags().DurationVar(&maxDuration, "max-duration", defaults.MaxDuration, "事件最大持续时间")
	rootCmd.MarkFlagRequired("file")
	rootCmd.SilenceUsage = true
}

// ==========================================
// 回放流程
// ==========================================

func runReplay(cmd *cobra.Command, args []string) error {
	colorCyan.Printf("%s v%s — 检测器回放\n", appName, version)
	printSeparator()

	if exitPa >= enterPa {
		return fmt.Errorf("exit threshold %.2f must be below enter threshold %.2f", exitPa, enterPa)
	}

	src, err := sensor.NewReplay(logFile)
	if err != nil {
		return err
	}
	defer src.Close()

	det := pressure.NewDetector(pressure.Config{
		EnterPa:     enterPa,
		ExitPa:      exitPa,
		MaxDuration: maxDuration,
		EventType:   pressure.DefaultConfig().EventType,
	})

	colorCyan.Printf("📁 日志文件: %s\n", logFile)
	colorWhite.Printf("   进入阈值 : %.2f Pa\n", enterPa)
	colorWhite.Printf("   退出阈值 : %.2f Pa\n", exitPa)
	colorWhite.Printf("   最长事件 : %v\n", maxDuration)
	printSeparator()

	var (
		ticks  int64
		events int
		last   time.Time
	)
	for {
		s, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("replay aborted at tick %d: %w", ticks, err)
		}
		ticks++
		last = s.Time

		for _, ev := range det.Feed(s) {
			events++
			printEvent(events, ev)
		}
	}

	// 数据走完时事件还开着，按回放结束时刻强制收尾
	for _, ev := range det.Flush(last) {
		events++
		printEvent(events, ev)
		colorYellow.Println("          (open at end of data, closed by flush)")
	}

	printSeparator()
	colorGreen.Printf("✅ 回放完成: %d ticks, %d events\n", ticks, events)
	return nil
}

func printEvent(n int, ev *model.Event) {
	marker := "⚡"
	if ev.Forced {
		marker = "⏱️"
	}
	colorWhite.Printf("%s #%-4d %s  %6dms  avg %8.2f Pa  n=%-4d %s\n",
		marker, n, ev.StartTime.Format(model.TimeLayout),
		ev.DurationMs(), ev.MeanDeltaPa(), ev.Count, ev.Activity)
}

func printSeparator() {
	fmt.Println("────────────────────────────────────────────────────────")
}
