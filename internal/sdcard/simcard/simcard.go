// Package simcard SPI SD 卡行为模拟器
// 完整实现驱动握手与块读写所依赖的命令/响应协议，
// 用于驱动单元测试与无硬件环境下的调试工具 (card_probe)
// 支持故障注入：不响应、拒绝写入、数据令牌缺失、永久忙
package simcard

import (
	"fmt"
	"os"
	"sync"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard"
)

// Family 模拟的卡系列
type Family int

const (
	FamilySD1  Family = iota // 初代卡，CMD8 回应 illegal
	FamilySD2                // v2 字节寻址卡
	FamilySDHC               // v2 块寻址高容量卡
)

// Config 模拟卡配置
type Config struct {
	// Family 卡系列，决定 CMD8/CMD58 行为与寻址方式
	Family Family

	// Blocks 卡容量 (512 字节块数)
	// 为保证 CSD 能精确编码，v1 卡会向下取整到可编码值
	Blocks uint32

	// AcmdPolls ACMD41 需要轮询多少次才报告就绪 (模拟上电延迟)
	AcmdPolls int

	// 故障注入开关
	SilentCmd0    bool // CMD0 不响应 (模拟接线错误/坏卡)
	RejectWrites  bool // 写入数据一律回应写错误令牌
	DropReadToken bool // CMD17 响应正常但永不发数据令牌
	BusyForever   bool // 写入接受后永远不退出忙状态
}

// 协议状态
type phase int

const (
	phaseCommand   phase = iota // 等待/收集 6 字节命令帧
	phaseWriteData              // 等待写数据包 (令牌+512+CRC)
)

// SimCard 模拟卡，同时实现 sdcard.Bus 与 sdcard.ChipSelect
type SimCard struct {
	mu  sync.Mutex
	cfg Config

	// 卡介质
	image []byte
	csd   [16]byte
	ocr   [4]byte
	cid   [16]byte

	// 总线/协议状态
	clockHz   uint32
	selected  bool
	out       []byte // 待读出的响应字节队列
	busyFill  bool   // 队列耗尽时吐 0x00 (忙) 而非 0xFF
	cmdBuf    []byte
	phase     phase
	dataBuf   []byte
	writeAddr uint32

	idle      bool // 已收到 CMD0
	appCmd    bool // 上一条命令是 CMD55
	ready     bool // ACMD41 已完成
	pollsLeft int
}

// New 创建模拟卡
func New(cfg Config) *SimCard {
	if cfg.Blocks == 0 {
		cfg.Blocks = 1024
	}

	s := &SimCard{
		cfg:       cfg,
		pollsLeft: cfg.AcmdPolls,
	}

	switch cfg.Family {
	case FamilySDHC:
		// v2 容量编码以 1024 块为步进，向下取整到可编码值
		if cfg.Blocks < 1024 {
			cfg.Blocks = 1024
		}
		cfg.Blocks = cfg.Blocks / 1024 * 1024
		s.csd = makeCSDv2(cfg.Blocks)
		s.ocr[0] = 0xC0 // 上电完成 + CCS
	case FamilySD2:
		s.csd, cfg.Blocks = makeCSDv1(cfg.Blocks)
		s.ocr[0] = 0x80
	default:
		s.csd, cfg.Blocks = makeCSDv1(cfg.Blocks)
		s.ocr[0] = 0x80
	}
	s.cfg.Blocks = cfg.Blocks
	s.image = make([]byte, int(cfg.Blocks)*sdcard.BlockSize)

	// CID 填入可识别的占位制造商信息
	copy(s.cid[:], []byte{0x01, 'S', 'I', 'M', 'C', 'A', 'R', 'D', 0x10, 0, 0, 0, 1, 0, 0, 0})

	return s
}

// NewFromImage 从镜像文件加载模拟卡
// 文件不存在时创建全零新镜像并立即落盘
func NewFromImage(path string, cfg Config) (*SimCard, error) {
	s := New(cfg)

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) != len(s.image) {
			return nil, fmt.Errorf("simcard: image %s is %d bytes, want %d", path, len(raw), len(s.image))
		}
		copy(s.image, raw)
	case os.IsNotExist(err):
		if err := s.SaveImage(path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("simcard: read image: %w", err)
	}

	return s, nil
}

// SaveImage 把卡介质写回镜像文件
func (s *SimCard) SaveImage(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(path, s.image, 0644)
}

// Image 返回卡介质 (测试用，直接引用)
func (s *SimCard) Image() []byte {
	return s.image
}

// ==========================================
// sdcard.ChipSelect 实现
// ==========================================

func (s *SimCard) Assert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = true
}

func (s *SimCard) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = false
	s.cmdBuf = nil
}

// ==========================================
// sdcard.Bus 实现
// ==========================================

func (s *SimCard) SetClockHz(hz uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockHz = hz
	return nil
}

// Write 主机向总线写字节
// 片选未选中时仅视为空转时钟
func (s *SimCard) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.selected {
		return nil
	}

	for _, b := range p {
		s.feed(b)
	}
	return nil
}

// ReadInto 主机从总线读字节
// 响应队列耗尽后返回空闲电平 0xFF (或忙状态的 0x00)
func (s *SimCard) ReadInto(p []byte, filler byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = filler
	for i := range p {
		if len(s.out) > 0 {
			p[i] = s.out[0]
			s.out = s.out[1:]
		} else if s.busyFill {
			p[i] = 0x00
		} else {
			p[i] = 0xFF
		}
	}
	return nil
}

// ==========================================
// 协议状态机
// ==========================================

// feed 处理主机写入的单个字节
func (s *SimCard) feed(b byte) {
	switch s.phase {
	case phaseWriteData:
		s.feedWriteData(b)
	default:
		s.feedCommand(b)
	}
}

// feedCommand 收集 6 字节命令帧
func (s *SimCard) feedCommand(b byte) {
	if len(s.cmdBuf) == 0 {
		// 命令首字节固定为 01xxxxxx
		if b&0xC0 != 0x40 {
			return
		}
	}

	s.cmdBuf = append(s.cmdBuf, b)
	if len(s.cmdBuf) < 6 {
		return
	}

	cmd := s.cmdBuf[0] & 0x3F
	arg := uint32(s.cmdBuf[1])<<24 | uint32(s.cmdBuf[2])<<16 | uint32(s.cmdBuf[3])<<8 | uint32(s.cmdBuf[4])
	s.cmdBuf = nil
	s.handleCommand(cmd, arg)
}

// respond 把响应字节追加到读出队列
func (s *SimCard) respond(bs ...byte) {
	s.out = append(s.out, bs...)
}

// handleCommand 执行一条命令
func (s *SimCard) handleCommand(cmd byte, arg uint32) {
	wasAppCmd := s.appCmd
	s.appCmd = false

	switch {
	case cmd == 0: // GO_IDLE_STATE
		if s.cfg.SilentCmd0 {
			return
		}
		// 未初始化的卡要求保守时钟
		if s.clockHz > 400_000 {
			return
		}
		s.idle = true
		s.ready = false
		s.pollsLeft = s.cfg.AcmdPolls
		s.respond(0x01)

	case !s.idle:
		// CMD0 之前拒绝一切命令
		s.respond(0x04)

	case cmd == 8: // SEND_IF_COND
		if s.cfg.Family == FamilySD1 {
			s.respond(0x05) // idle | illegal command
			return
		}
		if arg != 0x1AA {
			s.respond(0x04)
			return
		}
		// R7: R1 + 4 字节电压/回显
		s.respond(0x01, 0x00, 0x00, 0x01, 0xAA)

	case cmd == 55: // APP_CMD
		s.appCmd = true
		if s.ready {
			s.respond(0x00)
		} else {
			s.respond(0x01)
		}

	case cmd == 41 && wasAppCmd: // ACMD41
		if s.pollsLeft > 0 {
			s.pollsLeft--
			s.respond(0x01)
			return
		}
		s.ready = true
		s.respond(0x00)

	case cmd == 58: // READ_OCR
		s.respond(0x00)
		s.respond(s.ocr[:]...)

	case cmd == 16: // SET_BLOCKLEN
		if arg != sdcard.BlockSize {
			s.respond(0x40) // parameter error
			return
		}
		s.respond(0x00)

	case cmd == 9: // SEND_CSD
		s.respond(0x00)
		if s.cfg.DropReadToken {
			return
		}
		s.respond(0xFE)
		s.respond(s.csd[:]...)
		s.respond(0xAA, 0xAA) // CRC 占位

	case cmd == 10: // SEND_CID
		s.respond(0x00)
		if s.cfg.DropReadToken {
			return
		}
		s.respond(0xFE)
		s.respond(s.cid[:]...)
		s.respond(0xAA, 0xAA)

	case cmd == 17: // READ_SINGLE_BLOCK
		off, ok := s.byteOffset(arg)
		if !ok {
			s.respond(0x40)
			return
		}
		s.respond(0x00)
		if s.cfg.DropReadToken {
			return
		}
		s.respond(0xFE)
		s.respond(s.image[off : off+sdcard.BlockSize]...)
		s.respond(0xAA, 0xAA)

	case cmd == 24: // WRITE_BLOCK
		off, ok := s.byteOffset(arg)
		if !ok {
			s.respond(0x40)
			return
		}
		s.respond(0x00)
		s.phase = phaseWriteData
		s.dataBuf = s.dataBuf[:0]
		s.writeAddr = off

	default:
		s.respond(0x04) // illegal command
	}
}

// byteOffset 把命令地址参数翻译为介质字节偏移
// 高容量卡按块索引，其余按字节偏移 (必须块对齐)
func (s *SimCard) byteOffset(arg uint32) (uint32, bool) {
	var off uint32
	if s.cfg.Family == FamilySDHC {
		off = arg * sdcard.BlockSize
	} else {
		if arg%sdcard.BlockSize != 0 {
			return 0, false
		}
		off = arg
	}
	if int(off)+sdcard.BlockSize > len(s.image) {
		return 0, false
	}
	return off, true
}

// feedWriteData 收集写数据包：起始令牌 + 512 字节 + 2 字节 CRC
func (s *SimCard) feedWriteData(b byte) {
	// 令牌之前允许主机发填充字节
	if len(s.dataBuf) == 0 && b != 0xFE {
		return
	}

	s.dataBuf = append(s.dataBuf, b)
	if len(s.dataBuf) < 1+sdcard.BlockSize+2 {
		return
	}

	payload := s.dataBuf[1 : 1+sdcard.BlockSize]

	s.phase = phaseCommand
	if s.cfg.RejectWrites {
		s.respond(0x0D) // 写错误数据响应令牌
		return
	}

	copy(s.image[s.writeAddr:], payload)
	s.respond(0x05) // 数据已接受

	// 忙状态：吐若干 0x00 后恢复 0xFF
	if s.cfg.BusyForever {
		s.busyFill = true
		return
	}
	s.respond(0x00, 0x00)
	s.dataBuf = s.dataBuf[:0]
}

// ==========================================
// CSD 构造
// ==========================================

// makeCSDv2 构造 v2 (高容量) 容量描述符
// 块数 = (c_size + 1) * 1024
func makeCSDv2(blocks uint32) [16]byte {
	var csd [16]byte
	csd[0] = 0x40 // CSD v2.0

	cSize := blocks/1024 - 1
	csd[6] = byte(cSize>>10) & 0x03
	csd[7] = byte(cSize >> 2)
	csd[8] = byte(cSize&0x03) << 6
	return csd
}

// makeCSDv1 构造 v1 (初代/字节寻址) 容量描述符
// 容量 = (c_size+1) * 2^(c_size_mult+2) * 2^read_bl_len 字节
// 返回实际可编码的块数 (向下取整)
func makeCSDv1(blocks uint32) ([16]byte, uint32) {
	var csd [16]byte

	const readBlLen = 9 // 512 字节块
	// 固定 c_size_mult=7 (乘数 512)，则每个 c_size 步进对应 512 块
	const cSizeMult = 7

	per := uint32(1) << (cSizeMult + 2) // 每 c_size+1 对应的块数
	cSize := blocks / per
	if cSize == 0 {
		cSize = 1
	}
	cSize--

	actual := (cSize + 1) * per

	csd[5] = readBlLen
	csd[6] = byte(cSize>>10) & 0x03
	csd[7] = byte(cSize >> 2)
	csd[8] = byte(cSize&0x03) << 6
	csd[9] = (cSizeMult >> 1) & 0x03
	csd[10] = byte(cSizeMult&0x01) << 7
	return csd, actual
}
