// Package main SD 卡驱动调试工具
// 在文件镜像模拟卡上跑完整的 SPI 握手和读写自检，
// 用于排查驱动时序参数与镜像兼容性问题
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard/simcard"
)

// ==========================================
// 全局变量和配置
// ==========================================

var (
	version = "1.0.0"
	appName = "card-probe"

	// 命令行参数
	imagePath  string
	blocks     uint32
	familyName string
	skipWrite  bool

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
	Short: "SD 卡驱动调试工具",
	Long: `
对文件镜像模拟卡执行完整的驱动自检。

依次完成 SPI 初始化握手、寄存器读取 (CSD/CID/OCR)、
容量解析和最后一块的写读回环测试，任何一步失败都会
打印出错的握手阶段。

示例:
  # 新建 8MB SDHC 镜像并自检
  card-probe --image ./card.img --blocks 16384

  # 模拟初代卡
  card-probe --image ./card.img --blocks 4096 --family sd1

  # 只读探测，不做写入测试
  card-probe --image ./card.img --blocks 16384 --skip-write
`,
	Version: version,
	RunE:    runProbe,
}

func init() {
	rootCmd.Flags().StringVar(&imagePath, "image", "", "卡镜像文件路径 (必填，不存在时新建)")
	rootCmd.Flags().Uint32Var(&blocks, "blocks", 16384, "镜像容量 (512 字节块数)")
	rootCmd.Flags().StringVar(&familyName, "family", "sdhc", "模拟卡系列 (sd1/sd2/sdhc)")
	rootCmd.Flags().BoolVar(&skipWrite, "skip-write", false, "跳过写读回环测试")
	rootCmd.MarkFlagRequired("image")
	rootCmd.SilenceUsage = true
}

// ==========================================
// 自检流程
// ==========================================

func runProbe(cmd *cobra.Command, args []string) error {
	colorCyan.Printf("%s v%s — SD 卡驱动自检\n", appName, version)
	printSeparator()

	family, err := parseFamily(familyName)
	if err != nil {
		return err
	}

	sim, err := simcard.NewFromImage(imagePath, simcard.Config{
		Family: family,
		Blocks: blocks,
	})
	if err != nil {
		return fmt.Errorf("failed to load card image: %w", err)
	}
	colorCyan.Printf("📁 镜像文件: %s (%d blocks)\n", imagePath, blocks)

	// 1. 初始化握手
	card := sdcard.New(sim, sim, sdcard.Options{})
	colorYellow.Println("🔄 正在执行初始化握手...")
	startTime := time.Now()
	if err := card.Init(); err != nil {
		colorRed.Printf("❌ 握手失败: %v\n", err)
		os.Exit(1)
	}
	colorGreen.Printf("✅ 握手完成 (%v)\n", time.Since(startTime))

	// 2. 卡信息
	printSeparator()
	csd := card.CSD()
	cid := card.CID()
	ocr := card.OCR()
	colorWhite.Printf("   卡系列   : %s\n", card.Family())
	colorWhite.Printf("   块数量   : %d (%.1f MB)\n",
		card.BlockCount(), float64(card.BlockCount())*sdcard.BlockSize/(1<<20))
	colorWhite.Printf("   CSD      : %x\n", csd[:])
	colorWhite.Printf("   CID      : %x\n", cid[:])
	colorWhite.Printf("   OCR      : %x\n", ocr[:])

	// 3. 写读回环
	if !skipWrite {
		printSeparator()
		if err := writeReadTest(card); err != nil {
			colorRed.Printf("❌ 写读回环失败: %v\n", err)
			os.Exit(1)
		}
		if err := sim.SaveImage(imagePath); err != nil {
			return fmt.Errorf("failed to save card image: %w", err)
		}
	}

	printSeparator()
	colorGreen.Println("✅ 自检通过")
	return nil
}

// writeReadTest 往最后一块写入已知图样再读回比对
func writeReadTest(card *sdcard.Card) error {
	last := uint32(card.BlockCount() - 1)
	colorYellow.Printf("🔄 写读回环测试 (block %d)...\n", last)

	var wr, rd [512]byte
	for i := range wr {
		wr[i] = byte(i ^ int(last))
	}
	if err := card.WriteBlock(last, &wr); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := card.ReadBlock(last, &rd); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	for i := range wr {
		if rd[i] != wr[i] {
			return fmt.Errorf("data mismatch at offset %d: wrote 0x%02x, read 0x%02x",
				i, wr[i], rd[i])
		}
	}
	colorGreen.Println("✅ 回环数据一致")
	return nil
}

func parseFamily(name string) (simcard.Family, error) {
	switch name {
	case "sd1":
		return simcard.FamilySD1, nil
	case "sd2":
		return simcard.FamilySD2, nil
	case "sdhc":
		return simcard.FamilySDHC, nil
	default:
		return 0, fmt.Errorf("unknown card family %q (want sd1/sd2/sdhc)", name)
	}
}

func printSeparator() {
	fmt.Println("────────────────────────────────────────────────────────")
}
