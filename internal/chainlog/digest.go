// Package chainlog 追加式链式日志
// 在任意可追加字节汇 (块设备/普通文件) 之上提供有序、可落盘、
// 哈希链接的记录追加与顺序重放
//
// 链规则：每条记录存储其前驱记录"规范序列化全文" (含前驱自己的摘要字段)
// 的密码学摘要；首条记录使用全零哨兵摘要。任何事后改写都会破坏链条
package chainlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/tjfoc/gmsm/sm3"
)

// HasherFactory 摘要算法工厂
// 链上所有摘要必须为 256 位 (64 个十六进制字符)
type HasherFactory func() hash.Hash

// NewHasher 按名称选择摘要算法
// 支持 sha256 (默认) 与国密 sm3，两者均为 256 位输出
func NewHasher(name string) (HasherFactory, error) {
	switch name {
	case "", "sha256":
		return sha256.New, nil
	case "sm3":
		return sm3.New, nil
	default:
		return nil, fmt.Errorf("chainlog: unsupported digest %q", name)
	}
}

// DigestHex 计算 data 的摘要并编码为小写十六进制
func DigestHex(factory HasherFactory, data []byte) string {
	h := factory()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
