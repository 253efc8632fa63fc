// Package main 链式日志离线校验工具
// 从 SD 卡拷出的日志文件在这里完成防篡改校验、异常打分与报表导出
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/chainlog"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/integrity"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/storage"
)

// ==========================================
// 全局变量和配置
// ==========================================

// 退出码约定
const (
	exitOK          = 0 // 校验通过且打分完成
	exitMissingFile = 1 // 文件缺失或不可读
	exitTampered    = 2 // 链校验失败
	exitScorerError = 3 // 打分器失败 (校验结果仍然有效)
)

var (
	version = "1.0.0"
	appName = "chain-verify"

	// 命令行参数
	logFile       string
	digestName    string
	contamination float64
	exportDir     string

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
		os.Exit(exitMissingFile)
	}
}

// ==========================================
// 根命令
// ==========================================

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "链式日志离线校验工具",
	Long: `
链式日志的离线防篡改校验工具。

逐条重放日志并重算哈希链：任何对历史记录的修改、插入或删除
都会在第一处不匹配的摘要上暴露。校验通过后用 robust z-score
(中位数/MAD) 给每条记录打异常分，按污染率标出最可疑的记录。

示例:
  # 校验事件日志
  chain-verify -f attack_log.csv

  # 国密摘要 + 自定义污染率
  chain-verify -f attack_log.csv --digest sm3 --contamination 0.1

  # 校验并导出到报告库
  chain-verify -f attack_log.csv --export-db ./reports
`,
	Version: version,
	RunE:    runVerify,
}

func init() {
	rootCmd.Flags().StringVarP(&logFile, "file", "f", "", "日志文件路径 (必填)")
	rootCmd.Flags().StringVar(&digestName, "digest", "sha256", "链摘要算法 (sha256/sm3)")
	rootCmd.Flags().Float64Var(&contamination, "contamination", 0.05, "异常污染率 (0,1]")
	rootCmd.Flags().StringVar(&exportDir, "export-db", "", "导出到该目录下的 SQLite 报告库")
	rootCmd.MarkFlagRequired("file")
	rootCmd.SilenceUsage = true
}

// ==========================================
// 校验流程
// ==========================================

func runVerify(cmd *cobra.Command, args []string) error {
	printBanner()
	colorCyan.Printf("📁 日志文件: %s\n", logFile)
	printSeparator()

	f, err := os.Open(logFile)
	if err != nil {
		colorRed.Printf("❌ 无法打开日志文件: %v\n", err)
		os.Exit(exitMissingFile)
	}
	rp, err := chainlog.NewReplay(f)
	if err != nil {
		f.Close()
		colorRed.Printf("❌ 无法识别日志格式: %v\n", err)
		os.Exit(exitMissingFile)
	}
	defer rp.Close()

	colorWhite.Printf("   格式变体 : %s\n", rp.Variant())
	colorWhite.Printf("   摘要算法 : %s\n", digestName)

	// 1. 链校验
	colorYellow.Println("🔄 正在重算哈希链...")
	startTime := time.Now()

	report, err := integrity.Verify(rp, digestName)
	if err != nil {
		var te *integrity.TamperError
		if errors.As(err, &te) {
			printSeparator()
			colorRed.Printf("❌ TAMPERED at record %d\n", te.Index)
			colorWhite.Printf("   expected prev: %s\n", te.Expected)
			colorWhite.Printf("   stored prev  : %s\n", te.Actual)
			os.Exit(exitTampered)
		}
		colorRed.Printf("❌ 校验中止: %v\n", err)
		os.Exit(exitMissingFile)
	}

	printSeparator()
	colorGreen.Println("✅ VERIFIED")
	colorWhite.Printf("   记录条数 : %d\n", len(report.Records))
	colorWhite.Printf("   校验耗时 : %v\n", time.Since(startTime))

	// 2. 异常打分
	scores, flagged, err := scoreRecords(report)
	if err != nil {
		colorRed.Printf("❌ 打分失败: %v\n", err)
		os.Exit(exitScorerError)
	}
	printFlagged(report, scores, flagged)

	// 3. 报告库导出
	if exportDir != "" {
		if err := exportReport(report, scores, flagged); err != nil {
			colorRed.Printf("❌ 导出失败: %v\n", err)
			os.Exit(exitScorerError)
		}
	}

	return nil
}

// scoreRecords 用参考打分器给全部记录打分并按污染率打标
func scoreRecords(report *integrity.Report) ([]float64, []int, error) {
	if len(report.Vectors) == 0 {
		return nil, nil, nil
	}

	scorer := integrity.MADScorer{}
	m, err := scorer.Fit(report.Vectors)
	if err != nil {
		return nil, nil, err
	}
	scores, err := scorer.Score(m, report.Vectors)
	if err != nil {
		return nil, nil, err
	}
	return scores, integrity.Flag(scores, contamination), nil
}

// printFlagged 打印被打标的记录清单
func printFlagged(report *integrity.Report, scores []float64, flagged []int) {
	printSeparator()
	if len(flagged) == 0 {
		colorGreen.Println("📋 异常打分: 无记录被打标")
		return
	}

	colorYellow.Printf("📋 异常打分: %d/%d 条被打标 (污染率 %.2f)\n",
		len(flagged), len(report.Records), contamination)
	fmt.Println()

	for _, i := range flagged {
		switch r := report.Records[i].(type) {
		case *model.EventRecord:
			colorWhite.Printf("   #%-5d %s  score=%-8.2f %dms / %.2fPa / %s\n",
				i, r.Timestamp.Format(model.TimeLayout), scores[i],
				r.DurationMs, r.AvgDeltaPa, r.Activity)
		case *model.StreamRecord:
			colorWhite.Printf("   #%-5d %s  score=%-8.2f %.2fPa / %.3fV / %.6fg\n",
				i, r.Timestamp.Format(model.TimeLayout), scores[i],
				r.DeltaPa, r.DustV, r.AccelMagG)
		}
	}
}

// exportReport 把校验结果写进 SQLite 报告库并打印聚合报表
func exportReport(report *integrity.Report, scores []float64, flagged []int) error {
	if err := storage.Setup(storage.Options{
		DataDir:      exportDir,
		FileName:     "report.db",
		LogLevel:     "silent",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		JournalMode:  "WAL",
		Synchronous:  "NORMAL",
		TempStore:    "MEMORY",
		ForeignKeys:  true,
	}); err != nil {
		return err
	}
	defer storage.CloseDB()

	sessionID := uuid.NewString()
	if err := storage.ExportReport(sessionID, logFile, digestName,
		contamination, report, scores, flagged); err != nil {
		return err
	}

	printSeparator()
	colorGreen.Printf("💾 已导出到报告库 (session %s)\n", sessionID)

	if report.Variant == model.VariantStream {
		return nil
	}

	agg, err := storage.AggregateEvents(sessionID)
	if err != nil {
		return err
	}
	printAggregate(agg)
	return nil
}

// printAggregate 聚合报表，口径与现场分析脚本一致
func printAggregate(agg *storage.Aggregate) {
	printSeparator()
	colorCyan.Println("--- AIR RAPIER ATTACK ANALYSIS ---")
	fmt.Printf("Total Attacks Logged: %d\n", agg.TotalEvents)
	if agg.TotalEvents == 0 {
		return
	}
	fmt.Printf("Average Duration: %.2f ms\n", agg.AvgDurationMs)
	fmt.Printf("Average Pressure Drop: %.2f Pa\n", agg.AvgDeltaPa)

	fmt.Println()
	colorCyan.Println("--- Activity During Attacks ---")
	for activity, n := range agg.ActivityCounts {
		fmt.Printf("%-14s %d\n", activity, n)
	}
	fmt.Printf("\nMost Common Activity During Attack: %s\n", agg.MostCommonActivity)
}

// ==========================================
// 输出辅助
// ==========================================

func printBanner() {
	colorCyan.Printf("%s v%s — 链式日志校验\n", appName, version)
}

func printSeparator() {
	fmt.Println("────────────────────────────────────────────────────────")
}
