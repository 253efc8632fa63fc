package chainlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// ==================== 链式追加日志 ====================

// ErrTornTail 介质尾部存在未完成的行且汇不支持截断
var ErrTornTail = errors.New("chainlog: torn tail and sink is not truncatable")

// Options 日志打开参数
type Options struct {
	// Variant 新建日志使用的记录变体；已有日志以表头为准
	Variant model.Variant
	// Digest 摘要算法名 (sha256/sm3)，空取 sha256
	Digest string
	// BatchBytes 缓冲达到该字节数自动 Flush；0 表示每条立即落盘
	BatchBytes int
}

// Log 追加式哈希链日志
// 每条记录的 prev 字段是前一条记录完整规范行的摘要，
// 首条记录使用全零哨兵。表头行不参与链
type Log struct {
	sink    Sink
	variant model.Variant
	hasher  HasherFactory
	chained bool

	prev    string // 滚动摘要：下一条记录的 prev 字段
	pending int    // 已追加未 Flush 的字节数
	batch   int
	records int64
}

// Open 打开(或初始化)汇上的日志并恢复链尾状态
//
// 恢复规则：逐行重放已提交内容，最后一条完整记录行的摘要
// 即为滚动摘要。尾部未以换行结尾的残行视为撕裂写，
// 通过截断丢弃后续链不受影响
func Open(sink Sink, opts Options) (*Log, error) {
	hasher, err := NewHasher(opts.Digest)
	if err != nil {
		return nil, err
	}

	l := &Log{
		sink:    sink,
		variant: opts.Variant,
		hasher:  hasher,
		batch:   opts.BatchBytes,
		prev:    model.GenesisDigest,
	}
	if l.variant == "" {
		l.variant = model.VariantEvent
	}

	if sink.Size() == 0 {
		l.chained = l.variant != model.VariantLegacyEvent
		if err := sink.Append([]byte(model.HeaderFor(l.variant) + "\n")); err != nil {
			return nil, err
		}
		if err := sink.Flush(); err != nil {
			return nil, err
		}
		return l, nil
	}

	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

// recover 重放已有内容，确定变体与滚动摘要
func (l *Log) recover() error {
	r, err := l.sink.NewReader()
	if err != nil {
		return err
	}
	defer r.Close()

	br := bufio.NewReader(r)

	var (
		offset   int64 // 最后一个换行之后的字节偏移
		lineNo   int
		lastLine string
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("chainlog: recover: %w", err)
		}

		if !strings.HasSuffix(line, "\n") {
			// 撕裂的尾行：截断回最后一个换行
			if line != "" {
				t, ok := l.sink.(Truncater)
				if !ok {
					return ErrTornTail
				}
				if terr := t.Truncate(offset); terr != nil {
					return fmt.Errorf("chainlog: truncate torn tail: %w", terr)
				}
			}
			break
		}

		text := strings.TrimSuffix(line, "\n")
		if lineNo == 0 {
			v, verr := model.DetectVariant(text)
			if verr != nil {
				return verr
			}
			l.variant = v
		} else {
			lastLine = text
			l.records++
		}
		lineNo++
		offset += int64(len(line))

		if err == io.EOF {
			break
		}
	}

	if lineNo == 0 {
		return errors.New("chainlog: media has bytes but no header line")
	}

	l.chained = l.variant != model.VariantLegacyEvent
	if lastLine != "" {
		l.prev = DigestHex(l.hasher, []byte(lastLine))
	}
	return nil
}

// Append 追加一条记录并推进哈希链
// 汇拒绝写入时链状态不前进，记录可安全重试
func (l *Log) Append(rec model.Record) error {
	if l.chained {
		rec.SetPrevDigest(l.prev)
	}

	line := l.canonical(rec)
	if err := l.sink.Append([]byte(line + "\n")); err != nil {
		return err
	}

	if l.chained {
		l.prev = DigestHex(l.hasher, []byte(line))
	}
	l.records++
	l.pending += len(line) + 1

	if l.batch <= 0 || l.pending >= l.batch {
		return l.Flush()
	}
	return nil
}

// canonical 按变体渲染规范行
func (l *Log) canonical(rec model.Record) string {
	if l.variant == model.VariantLegacyEvent {
		if er, ok := rec.(*model.EventRecord); ok {
			return er.LegacyLine()
		}
	}
	return rec.CanonicalLine()
}

// Flush 将缓冲记录提交到介质
func (l *Log) Flush() error {
	if err := l.sink.Flush(); err != nil {
		return err
	}
	l.pending = 0
	return nil
}

// Close 提交并关闭底层汇
func (l *Log) Close() error {
	if err := l.Flush(); err != nil {
		l.sink.Close()
		return err
	}
	return l.sink.Close()
}

// Variant 日志的记录变体
func (l *Log) Variant() model.Variant {
	return l.variant
}

// Records 已写入的记录总数 (含恢复的历史记录)
func (l *Log) Records() int64 {
	return l.records
}

// PrevDigest 当前滚动摘要 (下一条记录将携带的 prev 值)
func (l *Log) PrevDigest() string {
	return l.prev
}

// Replay 返回覆盖已提交记录的单遍迭代器
// 注意未 Flush 的缓冲记录不可见
func (l *Log) Replay() (*Replay, error) {
	r, err := l.sink.NewReader()
	if err != nil {
		return nil, err
	}
	return NewReplay(r)
}

// ==================== 重放迭代器 ====================

// Replay 按介质顺序逐条解码记录
type Replay struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	variant model.Variant
	index   int64
}

// NewReplay 从字节流构造迭代器；首行必须是已知表头
func NewReplay(rc io.ReadCloser) (*Replay, error) {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	if !sc.Scan() {
		rc.Close()
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("chainlog: empty stream (missing header)")
	}
	v, err := model.DetectVariant(sc.Text())
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &Replay{rc: rc, scanner: sc, variant: v}, nil
}

// Variant 流的记录变体
func (rp *Replay) Variant() model.Variant {
	return rp.variant
}

// Next 返回下一条记录；流结束返回 io.EOF
func (rp *Replay) Next() (model.Record, string, error) {
	if !rp.scanner.Scan() {
		if err := rp.scanner.Err(); err != nil {
			return nil, "", err
		}
		return nil, "", io.EOF
	}
	line := rp.scanner.Text()
	rp.index++

	var (
		rec model.Record
		err error
	)
	switch rp.variant {
	case model.VariantStream:
		rec, err = model.ParseStreamRecord(line)
	case model.VariantEvent:
		rec, err = model.ParseEventRecord(line, true)
	case model.VariantLegacyEvent:
		rec, err = model.ParseEventRecord(line, false)
	default:
		err = fmt.Errorf("chainlog: unknown variant %q", rp.variant)
	}
	if err != nil {
		return nil, "", fmt.Errorf("chainlog: record %d: %w", rp.index, err)
	}
	return rec, line, nil
}

// Close 关闭底层读取器
func (rp *Replay) Close() error {
	return rp.rc.Close()
}
