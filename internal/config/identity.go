package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
)

// =========================================================================
// 1. 编译时注入变量 (Build-Time Variables)
// 通过 -ldflags -X 修改
// =========================================================================

var (
	// Version 软件版本
	Version string = "00000000_DevBuild"

	// Vendor 厂商名称
	Vendor string = "OpenSource"

	// CommitID Git 提交哈希
	CommitID string = "HEAD"

	// BuildTime 编译时间
	BuildTime string = "Unknown"
)

// =========================================================================
// 2. 设备身份信息 (Runtime Identity)
// =========================================================================

// Identity 采集端身份信息
// 随会话写入报告库，离线分析时可以区分是哪台设备、哪次上电产生的数据
type Identity struct {
	// SessionID 本次上电的会话标识 (每次启动生成)
	SessionID string

	// Hostname 主机名
	Hostname string

	// Platform 平台描述 (e.g., "ubuntu 22.04")
	Platform string

	// BootTime 系统启动时间 (Unix 秒)
	BootTime uint64

	// HardwareFingerprint 本机硬件指纹
	// 基于 machine-id 计算，machine-id 不可读时退化为主机名指纹
	HardwareFingerprint string
}

var (
	identity     *Identity
	identityOnce sync.Once
)

// InitIdentity 初始化身份信息
// 采集失败不致命：字段留空，日志照常记录
func InitIdentity() *Identity {
	identityOnce.Do(func() {
		id := &Identity{
			SessionID: uuid.NewString(),
		}

		if info, err := host.Info(); err == nil {
			id.Hostname = info.Hostname
			id.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
			id.BootTime = info.BootTime
		}

		id.HardwareFingerprint = computeFingerprint(id.Hostname)

		identity = id
	})
	return identity
}

// GetIdentity 获取身份信息
// 未初始化时自动初始化
func GetIdentity() *Identity {
	return InitIdentity()
}

// computeFingerprint 计算硬件指纹
// 优先使用 /etc/machine-id，读取失败时基于主机名计算
func computeFingerprint(fallback string) string {
	seed := fallback
	if raw, err := os.ReadFile("/etc/machine-id"); err == nil {
		seed = strings.TrimSpace(string(raw))
	}

	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
