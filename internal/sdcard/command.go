package sdcard

import (
	"fmt"
	"time"
)

// ==========================================
// 1. SPI 模式命令集
// ==========================================

const (
	cmdGoIdleState    = 0  // CMD0
	cmdSendIfCond     = 8  // CMD8
	cmdSendCSD        = 9  // CMD9
	cmdSendCID        = 10 // CMD10
	cmdSetBlocklen    = 16 // CMD16
	cmdReadSingle     = 17 // CMD17
	cmdWriteBlock     = 24 // CMD24
	cmdAppCmd         = 55 // CMD55
	cmdReadOCR        = 58 // CMD58
	acmdSDSendOpCond  = 41 // ACMD41
)

// R1 响应状态位
const (
	r1IdleState      = 1 << 0
	r1IllegalCommand = 1 << 2
)

// 数据传输令牌
const (
	tokenStartBlock = 0xFE // 单块读/写的数据起始令牌

	// 数据响应令牌：低 5 位 xxx0_101 表示数据被接受
	dataRespMask     = 0x1F
	dataRespAccepted = 0x05
)

// 命令响应轮询次数上限 (每次轮询读 1 字节)
const cmdAttempts = 100

// 忙等待轮询间隔
const busyPollInterval = time.Millisecond

// ==========================================
// 2. 命令收发底层实现
// ==========================================

// sendCmd 发送一条命令并等待 R1 响应
// 自动处理片选与命令后的补时钟；超时返回 ErrIoTimeout
func (c *Card) sendCmd(cmd byte, arg uint32, crc byte) (byte, error) {
	c.cmdbuf[0] = 0x40 | cmd
	c.cmdbuf[1] = byte(arg >> 24)
	c.cmdbuf[2] = byte(arg >> 16)
	c.cmdbuf[3] = byte(arg >> 8)
	c.cmdbuf[4] = byte(arg)
	c.cmdbuf[5] = crc

	c.cs.Assert()

	if err := c.bus.Write(c.cmdbuf[:]); err != nil {
		c.endTransaction()
		return 0, fmt.Errorf("bus write: %w", err)
	}

	// 轮询等待响应：最高位清零即为有效 R1
	for i := 0; i < cmdAttempts; i++ {
		if err := c.bus.ReadInto(c.tokenbuf[:], 0xFF); err != nil {
			c.endTransaction()
			return 0, fmt.Errorf("bus read: %w", err)
		}
		if c.tokenbuf[0]&0x80 == 0 {
			r1 := c.tokenbuf[0]
			c.endTransaction()
			return r1, nil
		}
	}

	c.endTransaction()
	return 0, ErrIoTimeout
}

// sendCmdTrailing 发送命令并在 R1 之后继续读取 n 字节尾部响应 (R3/R7)
// 尾部字节写入 c.respbuf[:n]
func (c *Card) sendCmdTrailing(cmd byte, arg uint32, crc byte, n int) (byte, error) {
	c.cmdbuf[0] = 0x40 | cmd
	c.cmdbuf[1] = byte(arg >> 24)
	c.cmdbuf[2] = byte(arg >> 16)
	c.cmdbuf[3] = byte(arg >> 8)
	c.cmdbuf[4] = byte(arg)
	c.cmdbuf[5] = crc

	c.cs.Assert()

	if err := c.bus.Write(c.cmdbuf[:]); err != nil {
		c.endTransaction()
		return 0, fmt.Errorf("bus write: %w", err)
	}

	for i := 0; i < cmdAttempts; i++ {
		if err := c.bus.ReadInto(c.tokenbuf[:], 0xFF); err != nil {
			c.endTransaction()
			return 0, fmt.Errorf("bus read: %w", err)
		}
		if c.tokenbuf[0]&0x80 == 0 {
			r1 := c.tokenbuf[0]
			if err := c.bus.ReadInto(c.respbuf[:n], 0xFF); err != nil {
				c.endTransaction()
				return 0, fmt.Errorf("bus read: %w", err)
			}
			c.endTransaction()
			return r1, nil
		}
	}

	c.endTransaction()
	return 0, ErrIoTimeout
}

// endTransaction 释放片选并补 8 个时钟
// 卡在片选释放后仍需要时钟沿来完成内部状态迁移
func (c *Card) endTransaction() {
	c.cs.Release()
	_ = c.bus.Write([]byte{0xFF})
}

// waitToken 在 timeout 内等待数据起始令牌 0xFE
func (c *Card) waitToken(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.bus.ReadInto(c.tokenbuf[:], 0xFF); err != nil {
			return fmt.Errorf("bus read: %w", err)
		}
		if c.tokenbuf[0] == tokenStartBlock {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrIoTimeout
		}
		time.Sleep(busyPollInterval)
	}
}

// waitReady 在 timeout 内等待卡退出忙状态 (总线恢复 0xFF)
func (c *Card) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.bus.ReadInto(c.tokenbuf[:], 0xFF); err != nil {
			return fmt.Errorf("bus read: %w", err)
		}
		if c.tokenbuf[0] == 0xFF {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrIoTimeout
		}
		time.Sleep(busyPollInterval)
	}
}

// readDataBlock 执行数据读取阶段：等令牌、收数据、丢弃 2 字节 CRC
func (c *Card) readDataBlock(buf []byte, timeout time.Duration) error {
	c.cs.Assert()
	defer c.endTransaction()

	if err := c.waitToken(timeout); err != nil {
		return err
	}

	if err := c.bus.ReadInto(buf, 0xFF); err != nil {
		return fmt.Errorf("bus read: %w", err)
	}

	// 丢弃 CRC16
	if err := c.bus.ReadInto(c.respbuf[:2], 0xFF); err != nil {
		return fmt.Errorf("bus read: %w", err)
	}
	return nil
}
