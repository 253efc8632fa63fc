package sdcard

import (
	"fmt"
	"time"
)

// Family 卡系列
// 寻址方式由系列决定并在整个会话内固定：
// SDHC 按块索引寻址，SD1/SD2 按字节偏移寻址
type Family int

const (
	FamilyUnknown Family = iota
	FamilySD1            // 初代卡
	FamilySD2            // v2 字节寻址卡
	FamilySDHC           // v2 块寻址高容量卡
)

// String 返回卡系列的可读名称
func (f Family) String() string {
	switch f {
	case FamilySD1:
		return "SD1"
	case FamilySD2:
		return "SD2"
	case FamilySDHC:
		return "SDHC"
	default:
		return "Unknown"
	}
}

// BlockSize 固定块大小 (字节)
const BlockSize = 512

// Options 驱动时序参数
type Options struct {
	// InitClockHz 初始化阶段时钟，默认 250kHz
	InitClockHz uint32
	// FullClockHz 握手完成后的全速时钟，默认 10MHz
	FullClockHz uint32
	// InitTimeout ACMD41 就绪轮询超时，默认 1000ms
	InitTimeout time.Duration
	// ReadTimeout 数据令牌等待超时，默认 200ms
	ReadTimeout time.Duration
	// WriteTimeout 写后忙等待超时，默认 500ms
	WriteTimeout time.Duration
}

// withDefaults 填充零值选项
func (o Options) withDefaults() Options {
	if o.InitClockHz == 0 {
		o.InitClockHz = 250_000
	}
	if o.FullClockHz == 0 {
		o.FullClockHz = 10_000_000
	}
	if o.InitTimeout == 0 {
		o.InitTimeout = time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 200 * time.Millisecond
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 500 * time.Millisecond
	}
	return o
}

// Card SD 卡驱动实例
// 持有总线与片选的独占所有权；任何操作期间不得有其他逻辑触碰总线状态
type Card struct {
	bus  Bus
	cs   ChipSelect
	opts Options

	// 初始化时发现的不可变身份属性
	family Family
	csd    [16]byte
	cid    [16]byte
	ocr    [4]byte

	// 从 CSD 解析并缓存的总块数
	blockCount uint64

	initialized bool

	// 复用的小缓冲，避免采样循环中反复分配
	cmdbuf   [6]byte
	tokenbuf [1]byte
	respbuf  [16]byte
}

// New 创建驱动实例，不触碰硬件
// 必须调用 Init 成功后才能进行块读写
func New(bus Bus, cs ChipSelect, opts Options) *Card {
	return &Card{
		bus:  bus,
		cs:   cs,
		opts: opts.withDefaults(),
	}
}

// ==========================================
// 1. 初始化握手
// ==========================================

// Init 执行上电握手，按序完成:
// 降速 → 空转时钟 → CMD0 → CMD8 区分卡代际 → ACMD41 轮询就绪
// → CMD58 判定高容量 → CMD16 设块长 → 提速 → 读 CSD/CID/OCR
func (c *Card) Init() error {
	c.initialized = false
	c.family = FamilyUnknown

	// 1. 初始化阶段必须使用保守时钟
	if err := c.bus.SetClockHz(c.opts.InitClockHz); err != nil {
		return initErr("set init clock", err)
	}

	// 2. 片选保持释放，送 80 个空转时钟让卡完成上电
	c.cs.Release()
	for i := 0; i < 10; i++ {
		if err := c.bus.Write([]byte{0xFF}); err != nil {
			return initErr("dummy clocks", err)
		}
	}

	// 3. CMD0 进入 SPI 空闲态
	r1, err := c.sendCmd(cmdGoIdleState, 0, 0x95)
	if err != nil {
		return initErr("go idle (CMD0)", err)
	}
	if r1 != r1IdleState {
		return initErr("go idle (CMD0)", fmt.Errorf("unexpected status 0x%02x", r1))
	}

	// 4. CMD8 电压/回显检查，区分初代卡与 v2 卡
	// v2 卡回应 idle；初代卡回应 idle|illegal
	r1, err = c.sendCmdTrailing(cmdSendIfCond, 0x1AA, 0x87, 4)
	switch {
	case err == nil && r1 == r1IdleState:
		c.family = FamilySD2
	case r1 == r1IdleState|r1IllegalCommand:
		c.family = FamilySD1
	default:
		if err == nil {
			err = fmt.Errorf("unexpected status 0x%02x", r1)
		}
		return initErr("voltage check (CMD8)", err)
	}

	// 5. ACMD41 轮询直到卡就绪
	// v2 卡在参数中声明主机支持高容量
	var opArg uint32
	if c.family == FamilySD2 {
		opArg = 0x40000000
	}
	if err := c.pollOpCond(opArg); err != nil {
		return err
	}

	// 6. CMD58 读 OCR，CCS 位置位则为块寻址高容量卡
	if c.family == FamilySD2 {
		r1, err = c.sendCmdTrailing(cmdReadOCR, 0, 0, 4)
		if err != nil || r1 != 0 {
			if err == nil {
				err = fmt.Errorf("unexpected status 0x%02x", r1)
			}
			return initErr("read OCR (CMD58)", err)
		}
		copy(c.ocr[:], c.respbuf[:4])
		if c.ocr[0]&0x40 != 0 {
			c.family = FamilySDHC
		}
	}

	// 7. 块长配置，仅对字节寻址卡有意义 (高容量卡固定 512)
	if c.family != FamilySDHC {
		r1, err = c.sendCmd(cmdSetBlocklen, BlockSize, 0)
		if err != nil || r1 != 0 {
			if err == nil {
				err = fmt.Errorf("unexpected status 0x%02x", r1)
			}
			return initErr("set block length (CMD16)", err)
		}
	}

	// 8. 握手完成，提升总线时钟
	if err := c.bus.SetClockHz(c.opts.FullClockHz); err != nil {
		return initErr("set full clock", err)
	}

	// 9. 读取容量描述符与身份寄存器
	if err := c.readRegister(cmdSendCSD, c.csd[:]); err != nil {
		return initErr("read CSD (CMD9)", err)
	}
	if err := c.readRegister(cmdSendCID, c.cid[:]); err != nil {
		return initErr("read CID (CMD10)", err)
	}

	// 10. 从容量描述符推导总块数并缓存
	count, err := parseBlockCount(c.csd, c.family)
	if err != nil {
		return initErr("parse CSD", err)
	}
	c.blockCount = count

	c.initialized = true
	return nil
}

// pollOpCond 周期发送 CMD55+ACMD41 直到卡报告就绪
// 轮询间隔 50ms，总时长受 InitTimeout 约束
func (c *Card) pollOpCond(arg uint32) error {
	deadline := time.Now().Add(c.opts.InitTimeout)
	for {
		r1, err := c.sendCmd(cmdAppCmd, 0, 0)
		if err == nil && r1&^r1IdleState == 0 {
			r1, err = c.sendCmd(acmdSDSendOpCond, arg, 0)
			if err == nil && r1 == 0 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return initErr("initiate operation (ACMD41)", ErrIoTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// readRegister 读取 16 字节寄存器 (CSD/CID)
func (c *Card) readRegister(cmd byte, buf []byte) error {
	r1, err := c.sendCmd(cmd, 0, 0)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return fmt.Errorf("unexpected status 0x%02x", r1)
	}
	return c.readDataBlock(buf, c.opts.ReadTimeout)
}

// ==========================================
// 2. 块读写
// ==========================================

// blockAddr 把块索引翻译为命令地址参数
// 高容量卡直接用块索引，其余卡用字节偏移
func (c *Card) blockAddr(index uint32) uint32 {
	if c.family == FamilySDHC {
		return index
	}
	return index * BlockSize
}

// ReadBlock 读取一个 512 字节块
// 超时返回 ErrIoTimeout，调用方可重试
func (c *Card) ReadBlock(index uint32, buf *[512]byte) error {
	if !c.initialized {
		return ErrNotInitialized
	}

	r1, err := c.sendCmd(cmdReadSingle, c.blockAddr(index), 0)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return fmt.Errorf("sdcard: read block %d: unexpected status 0x%02x", index, r1)
	}

	return c.readDataBlock(buf[:], c.opts.ReadTimeout)
}

// WriteBlock 写入一个 512 字节块
// 卡拒绝写入返回 ErrIoRejected —— 调用方在重新初始化之前不得重试；
// 忙等待超时返回 ErrIoTimeout
func (c *Card) WriteBlock(index uint32, buf *[512]byte) error {
	if !c.initialized {
		return ErrNotInitialized
	}

	r1, err := c.sendCmd(cmdWriteBlock, c.blockAddr(index), 0)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return fmt.Errorf("sdcard: write block %d: unexpected status 0x%02x", index, r1)
	}

	c.cs.Assert()
	defer c.endTransaction()

	// 数据包：起始令牌 + 512 字节 + 2 字节占位 CRC
	if err := c.bus.Write([]byte{tokenStartBlock}); err != nil {
		return fmt.Errorf("bus write: %w", err)
	}
	if err := c.bus.Write(buf[:]); err != nil {
		return fmt.Errorf("bus write: %w", err)
	}
	if err := c.bus.Write([]byte{0xFF, 0xFF}); err != nil {
		return fmt.Errorf("bus write: %w", err)
	}

	// 读数据响应令牌
	accepted := false
	for i := 0; i < cmdAttempts; i++ {
		if err := c.bus.ReadInto(c.tokenbuf[:], 0xFF); err != nil {
			return fmt.Errorf("bus read: %w", err)
		}
		if c.tokenbuf[0]&0x10 == 0 {
			accepted = c.tokenbuf[0]&dataRespMask == dataRespAccepted
			break
		}
	}
	if !accepted {
		return ErrIoRejected
	}

	// 等待卡完成内部编程
	return c.waitReady(c.opts.WriteTimeout)
}

// ==========================================
// 3. 身份与容量
// ==========================================

// BlockCount 设备总块数 (初始化时缓存，不逐次重新推导)
func (c *Card) BlockCount() uint64 {
	return c.blockCount
}

// Family 卡系列
func (c *Card) Family() Family {
	return c.family
}

// CSD 容量描述符原始字节
func (c *Card) CSD() [16]byte {
	return c.csd
}

// CID 卡身份寄存器原始字节
func (c *Card) CID() [16]byte {
	return c.cid
}

// OCR 操作条件寄存器原始字节
func (c *Card) OCR() [4]byte {
	return c.ocr
}
