package chainlog

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard/simcard"
)

// memDevice 纯内存块设备，测试专用
type memDevice struct {
	blocks     [][512]byte
	failWrites bool
	writes     int
}

func newMemDevice(n int) *memDevice {
	return &memDevice{blocks: make([][512]byte, n)}
}

func (d *memDevice) ReadBlock(index uint32, buf *[512]byte) error {
	if int(index) >= len(d.blocks) {
		return errors.New("memDevice: read out of range")
	}
	*buf = d.blocks[index]
	return nil
}

func (d *memDevice) WriteBlock(index uint32, buf *[512]byte) error {
	if d.failWrites {
		return errors.New("memDevice: injected write failure")
	}
	if int(index) >= len(d.blocks) {
		return errors.New("memDevice: write out of range")
	}
	d.blocks[index] = *buf
	d.writes++
	return nil
}

func (d *memDevice) BlockCount() uint64 {
	return uint64(len(d.blocks))
}

func readAll(t *testing.T, s Sink) []byte {
	t.Helper()
	r, err := s.NewReader()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return data
}

func TestBlockSinkFormatsBlankMedia(t *testing.T) {
	dev := newMemDevice(8)
	s, err := NewBlockSink(dev)
	if err != nil {
		t.Fatalf("NewBlockSink: %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("fresh sink size = %d", s.Size())
	}
	if !bytes.Equal(dev.blocks[0][:8], []byte(superMagic)) {
		t.Errorf("superblock magic not written: % x", dev.blocks[0][:8])
	}
}

func TestBlockSinkCommitsOnFlush(t *testing.T) {
	dev := newMemDevice(8)
	s, err := NewBlockSink(dev)
	if err != nil {
		t.Fatalf("NewBlockSink: %v", err)
	}

	payload := []byte("hello,block,world\n")
	if err := s.Append(payload); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("size advanced before Flush: %d", s.Size())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if s.Size() != int64(len(payload)) {
		t.Errorf("size = %d, want %d", s.Size(), len(payload))
	}
	if got := readAll(t, s); !bytes.Equal(got, payload) {
		t.Errorf("read back %q, want %q", got, payload)
	}

	// 重新打开：长度从超级块恢复
	s2, err := NewBlockSink(dev)
	if err != nil {
		t.Fatalf("reopen NewBlockSink: %v", err)
	}
	if s2.Size() != int64(len(payload)) {
		t.Errorf("reopened size = %d, want %d", s2.Size(), len(payload))
	}
	if got := readAll(t, s2); !bytes.Equal(got, payload) {
		t.Errorf("reopened read back %q, want %q", got, payload)
	}
}

func TestBlockSinkContinuesPartialBlock(t *testing.T) {
	dev := newMemDevice(8)
	s, err := NewBlockSink(dev)
	if err != nil {
		t.Fatalf("NewBlockSink: %v", err)
	}

	if err := s.Append([]byte("first\n")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Append([]byte("second\n")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got, want := readAll(t, s), []byte("first\nsecond\n"); !bytes.Equal(got, want) {
		t.Errorf("read back %q, want %q", got, want)
	}
}

func TestBlockSinkSpansBlocks(t *testing.T) {
	dev := newMemDevice(8)
	s, err := NewBlockSink(dev)
	if err != nil {
		t.Fatalf("NewBlockSink: %v", err)
	}

	payload := bytes.Repeat([]byte("0123456789abcdef"), 100) // 1600 字节，跨 4 个块
	if err := s.Append(payload); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := readAll(t, s); !bytes.Equal(got, payload) {
		t.Errorf("multi-block read back mismatch (%d vs %d bytes)", len(got), len(payload))
	}
}

func TestBlockSinkRefusesForeignMedia(t *testing.T) {
	dev := newMemDevice(8)
	copy(dev.blocks[0][:], "FAT32   ")

	if _, err := NewBlockSink(dev); !errors.Is(err, ErrForeignMedia) {
		t.Fatalf("err = %v, want ErrForeignMedia", err)
	}
}

func TestBlockSinkCapacityExhausted(t *testing.T) {
	dev := newMemDevice(3) // 数据区 1024 字节
	s, err := NewBlockSink(dev)
	if err != nil {
		t.Fatalf("NewBlockSink: %v", err)
	}

	if err := s.Append(make([]byte, 1024)); err != nil {
		t.Fatalf("Append at capacity: %v", err)
	}
	if err := s.Append([]byte{0x41}); !errors.Is(err, ErrLogFull) {
		t.Fatalf("err = %v, want ErrLogFull", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestBlockSinkFlushFailureKeepsPending(t *testing.T) {
	dev := newMemDevice(8)
	s, err := NewBlockSink(dev)
	if err != nil {
		t.Fatalf("NewBlockSink: %v", err)
	}

	payload := []byte("must survive the outage\n")
	if err := s.Append(payload); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dev.failWrites = true
	if err := s.Flush(); err == nil {
		t.Fatal("Flush succeeded despite write failure")
	}
	if s.Size() != 0 {
		t.Errorf("size advanced across failed flush: %d", s.Size())
	}

	// 故障恢复后重试必须幂等成功
	dev.failWrites = false
	if err := s.Flush(); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if got := readAll(t, s); !bytes.Equal(got, payload) {
		t.Errorf("read back %q, want %q", got, payload)
	}
}

// TestLogOverSimulatedCard 整条链路：SPI 模拟卡 → 驱动 → 块汇 → 链式日志
func TestLogOverSimulatedCard(t *testing.T) {
	sim := simcard.New(simcard.Config{Family: simcard.FamilySDHC, Blocks: 2048})
	card := sdcard.New(sim, sim, sdcard.Options{})
	if err := card.Init(); err != nil {
		t.Fatalf("card Init: %v", err)
	}

	sink, err := NewBlockSink(card)
	if err != nil {
		t.Fatalf("NewBlockSink: %v", err)
	}
	l, err := Open(sink, Options{Variant: model.VariantEvent})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i, ts := range []string{"2026-03-01 10:00:00", "2026-03-01 10:05:00"} {
		rec := &model.EventRecord{
			Timestamp:  mustTime(t, ts),
			EventType:  "AirRapier_Attack",
			DurationMs: int64(150 + i*50),
			AvgDeltaPa: -180.0,
			Activity:   model.ActivityStill,
		}
		if err := l.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// 像掉电重启一样重新挂载介质
	sink2, err := NewBlockSink(card)
	if err != nil {
		t.Fatalf("remount NewBlockSink: %v", err)
	}
	l2, err := Open(sink2, Options{})
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer l2.Close()

	if l2.Variant() != model.VariantEvent {
		t.Errorf("recovered variant = %s", l2.Variant())
	}
	if l2.Records() != 2 {
		t.Errorf("recovered %d records, want 2", l2.Records())
	}
	if n := verifyChain(t, l2, "sha256"); n != 2 {
		t.Errorf("replayed %d records, want 2", n)
	}
}
