package chainlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard"
)

// 块设备字节汇介质布局:
//   块 0:     超级块 (魔数 + 版本 + 已提交长度)
//   块 1..N:  日志字节流
//
// 提交顺序不变式：数据块先写，超级块长度最后写。
// 断电撕裂时长度字段仍指向旧的完整前缀，尾部脏数据被忽略，
// 已校验前缀永远不会被部分写破坏
const (
	superMagic   = "ARLCHN01"
	superVersion = 1

	superMagicOff   = 0
	superVersionOff = 8
	superLengthOff  = 12
)

var (
	// ErrLogFull 介质容量耗尽
	ErrLogFull = errors.New("chainlog: block device full")

	// ErrForeignMedia 块 0 既不是本格式超级块也不是空白介质
	ErrForeignMedia = errors.New("chainlog: unrecognized media (refusing to overwrite)")
)

// BlockSink 块设备字节汇
// 独占持有 append 游标；块设备对记录边界一无所知
type BlockSink struct {
	dev    sdcard.BlockDevice
	length int64  // 已提交字节长度 (超级块中的值)
	pend   []byte // 已追加未提交的字节
}

// NewBlockSink 打开块设备上的日志区
// 空白介质自动格式化；无法识别的介质拒绝触碰
func NewBlockSink(dev sdcard.BlockDevice) (*BlockSink, error) {
	if dev.BlockCount() < 2 {
		return nil, fmt.Errorf("chainlog: device too small (%d blocks)", dev.BlockCount())
	}

	var super [512]byte
	if err := dev.ReadBlock(0, &super); err != nil {
		return nil, fmt.Errorf("chainlog: read superblock: %w", err)
	}

	s := &BlockSink{dev: dev}

	if bytes.Equal(super[superMagicOff:superMagicOff+8], []byte(superMagic)) {
		version := binary.LittleEndian.Uint32(super[superVersionOff:])
		if version != superVersion {
			return nil, fmt.Errorf("chainlog: unsupported media version %d", version)
		}
		length := binary.LittleEndian.Uint64(super[superLengthOff:])
		if length > uint64(s.capacity()) {
			return nil, fmt.Errorf("chainlog: committed length %d exceeds capacity", length)
		}
		s.length = int64(length)
		return s, nil
	}

	// 仅在空白介质 (全 0 或全 0xFF) 上初始化
	if !blank(super[:]) {
		return nil, ErrForeignMedia
	}
	if err := s.writeSuper(0); err != nil {
		return nil, err
	}
	return s, nil
}

// blank 判断块内容是否为出厂空白
func blank(p []byte) bool {
	first := p[0]
	if first != 0x00 && first != 0xFF {
		return false
	}
	for _, b := range p {
		if b != first {
			return false
		}
	}
	return true
}

// capacity 数据区容量 (字节)
func (s *BlockSink) capacity() int64 {
	return (int64(s.dev.BlockCount()) - 1) * sdcard.BlockSize
}

// writeSuper 提交长度字段
func (s *BlockSink) writeSuper(length int64) error {
	var super [512]byte
	copy(super[superMagicOff:], superMagic)
	binary.LittleEndian.PutUint32(super[superVersionOff:], superVersion)
	binary.LittleEndian.PutUint64(super[superLengthOff:], uint64(length))

	if err := s.dev.WriteBlock(0, &super); err != nil {
		return fmt.Errorf("chainlog: commit superblock: %w", err)
	}
	s.length = length
	return nil
}

// Append 追加字节到待提交缓冲
func (s *BlockSink) Append(p []byte) error {
	if s.length+int64(len(s.pend))+int64(len(p)) > s.capacity() {
		return ErrLogFull
	}
	s.pend = append(s.pend, p...)
	return nil
}

// Flush 把待提交字节写入数据块，最后提交超级块
// 任一步失败时缓冲原样保留，重试会幂等地重写相同块
func (s *BlockSink) Flush() error {
	if len(s.pend) == 0 {
		return nil
	}

	off := s.length
	src := s.pend

	for len(src) > 0 {
		blockIdx := uint32(1 + off/sdcard.BlockSize)
		blockOff := int(off % sdcard.BlockSize)

		var buf [512]byte
		if blockOff > 0 {
			// 续写半满块：读-改-写
			if err := s.dev.ReadBlock(blockIdx, &buf); err != nil {
				return err
			}
		}

		n := copy(buf[blockOff:], src)
		if err := s.dev.WriteBlock(blockIdx, &buf); err != nil {
			return err
		}

		src = src[n:]
		off += int64(n)
	}

	// 数据全部落盘后才提交长度
	if err := s.writeSuper(off); err != nil {
		return err
	}

	s.pend = nil
	return nil
}

// Size 已提交字节长度
func (s *BlockSink) Size() int64 {
	return s.length
}

// NewReader 覆盖已提交字节的顺序读取器
func (s *BlockSink) NewReader() (io.ReadCloser, error) {
	return &blockReader{dev: s.dev, remain: s.length}, nil
}

// Close 提交并结束
func (s *BlockSink) Close() error {
	return s.Flush()
}

// blockReader 数据区顺序读取器
type blockReader struct {
	dev    sdcard.BlockDevice
	off    int64 // 数据区内偏移
	remain int64
	buf    [512]byte
	bufLen int
	bufPos int
}

func (r *blockReader) Read(p []byte) (int, error) {
	if r.remain == 0 {
		return 0, io.EOF
	}

	if r.bufPos == r.bufLen {
		blockIdx := uint32(1 + r.off/sdcard.BlockSize)
		if err := r.dev.ReadBlock(blockIdx, &r.buf); err != nil {
			return 0, err
		}
		r.bufPos = int(r.off % sdcard.BlockSize)
		r.bufLen = sdcard.BlockSize
	}

	n := len(p)
	if avail := r.bufLen - r.bufPos; n > avail {
		n = avail
	}
	if int64(n) > r.remain {
		n = int(r.remain)
	}

	copy(p, r.buf[r.bufPos:r.bufPos+n])
	r.bufPos += n
	r.off += int64(n)
	r.remain -= int64(n)
	return n, nil
}

func (r *blockReader) Close() error {
	return nil
}
