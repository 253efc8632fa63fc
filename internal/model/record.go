package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ==========================================
// 1. 格式常量
// ==========================================

const (
	// TimeLayout 记录时间戳格式，与原始固件一致
	TimeLayout = "2006-01-02 15:04:05"

	// DigestHexLen 链摘要的定宽十六进制长度 (256 位摘要)
	DigestHexLen = 64

	// HeaderLegacyEvent 初代事件日志表头 (无链摘要)
	HeaderLegacyEvent = "timestamp,event_type,duration_ms,avg_delta_pa,activity"

	// HeaderEvent 链式事件日志表头
	HeaderEvent = "timestamp,event_type,duration_ms,avg_delta_pa,activity,prev_hash"

	// HeaderStream 链式流式日志表头
	HeaderStream = "timestamp,delta_pa,dust_v,accel_mag_g,activity,prev_hash"
)

// GenesisDigest 创世记录的前驱摘要哨兵值 (64 个 '0')
var GenesisDigest = strings.Repeat("0", DigestHexLen)

// ==========================================
// 2. 记录接口
// ==========================================

// Record 链式日志记录的统一接口
// 规范序列化要求字段顺序固定、浮点精度固定，
// 保证重新序列化逐字节一致，摘要才可复现
type Record interface {
	// CanonicalLine 返回不含换行符的规范数据行
	CanonicalLine() string

	// PrevDigest 返回本记录存储的前驱摘要 (小写十六进制)
	PrevDigest() string

	// SetPrevDigest 写入前驱摘要，由日志层在 append 时填充
	SetPrevDigest(d string)
}

// ==========================================
// 3. 事件记录 (变体 B / 变体 A)
// ==========================================

// EventRecord 一次完整事件对应的日志记录
type EventRecord struct {
	Timestamp  time.Time
	EventType  string
	DurationMs int64
	AvgDeltaPa float64 // 固定两位小数
	Activity   Activity
	Prev       string
}

// NewEventRecord 从检测器事件构造记录
// 前驱摘要留空，由日志层 append 时填充
func NewEventRecord(e *Event) *EventRecord {
	return &EventRecord{
		Timestamp:  e.EndTime,
		EventType:  e.EventType,
		DurationMs: e.DurationMs(),
		AvgDeltaPa: e.MeanDeltaPa(),
		Activity:   e.Activity,
	}
}

func (r *EventRecord) CanonicalLine() string {
	return fmt.Sprintf("%s,%s,%d,%.2f,%s,%s",
		r.Timestamp.Format(TimeLayout), r.EventType, r.DurationMs, r.AvgDeltaPa, r.Activity, r.Prev)
}

// LegacyLine 初代格式数据行 (无链摘要字段)
func (r *EventRecord) LegacyLine() string {
	return fmt.Sprintf("%s,%s,%d,%.2f,%s",
		r.Timestamp.Format(TimeLayout), r.EventType, r.DurationMs, r.AvgDeltaPa, r.Activity)
}

func (r *EventRecord) PrevDigest() string     { return r.Prev }
func (r *EventRecord) SetPrevDigest(d string) { r.Prev = d }

// ==========================================
// 4. 流式记录 (变体 C)
// ==========================================

// StreamRecord 每个采样周期一条的流式日志记录
// 浮点精度: 压差 2 位、粉尘电压 3 位、加速度模长 6 位
type StreamRecord struct {
	Timestamp time.Time
	DeltaPa   float64
	DustV     float64
	AccelMagG float64
	Activity  Activity
	Prev      string
}

// NewStreamRecord 从采样构造流式记录
func NewStreamRecord(s *Sample) *StreamRecord {
	return &StreamRecord{
		Timestamp: s.Time,
		DeltaPa:   s.DeltaPa,
		DustV:     s.DustV,
		AccelMagG: s.AccelMagG,
		Activity:  s.Activity,
	}
}

func (r *StreamRecord) CanonicalLine() string {
	return fmt.Sprintf("%s,%.2f,%.3f,%.6f,%s,%s",
		r.Timestamp.Format(TimeLayout), r.DeltaPa, r.DustV, r.AccelMagG, r.Activity, r.Prev)
}

func (r *StreamRecord) PrevDigest() string     { return r.Prev }
func (r *StreamRecord) SetPrevDigest(d string) { r.Prev = d }

// ==========================================
// 5. 表头识别与解析
// ==========================================

// DetectVariant 根据表头行识别日志格式变体
func DetectVariant(header string) (Variant, error) {
	switch strings.TrimSpace(header) {
	case HeaderLegacyEvent:
		return VariantLegacyEvent, nil
	case HeaderEvent:
		return VariantEvent, nil
	case HeaderStream:
		return VariantStream, nil
	default:
		return "", fmt.Errorf("unrecognized log header: %q", header)
	}
}

// HeaderFor 返回指定变体的表头行
func HeaderFor(v Variant) string {
	switch v {
	case VariantLegacyEvent:
		return HeaderLegacyEvent
	case VariantStream:
		return HeaderStream
	default:
		return HeaderEvent
	}
}

// ParseEventRecord 解析事件记录数据行
// chained 为 false 时按初代格式 (5 字段) 解析
func ParseEventRecord(line string, chained bool) (*EventRecord, error) {
	want := 6
	if !chained {
		want = 5
	}

	fields := strings.Split(line, ",")
	if len(fields) != want {
		return nil, fmt.Errorf("event record has %d fields, want %d: %q", len(fields), want, line)
	}

	ts, err := time.Parse(TimeLayout, fields[0])
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", fields[0], err)
	}

	duration, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad duration_ms %q: %w", fields[2], err)
	}

	avg, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("bad avg_delta_pa %q: %w", fields[3], err)
	}

	r := &EventRecord{
		Timestamp:  ts,
		EventType:  fields[1],
		DurationMs: duration,
		AvgDeltaPa: avg,
		Activity:   Activity(fields[4]),
	}

	if chained {
		if err := checkDigestField(fields[5]); err != nil {
			return nil, err
		}
		r.Prev = fields[5]
	}
	return r, nil
}

// ParseStreamRecord 解析流式记录数据行
func ParseStreamRecord(line string) (*StreamRecord, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return nil, fmt.Errorf("stream record has %d fields, want 6: %q", len(fields), line)
	}

	ts, err := time.Parse(TimeLayout, fields[0])
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", fields[0], err)
	}

	delta, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("bad delta_pa %q: %w", fields[1], err)
	}

	dust, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("bad dust_v %q: %w", fields[2], err)
	}

	accel, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("bad accel_mag_g %q: %w", fields[3], err)
	}

	if err := checkDigestField(fields[5]); err != nil {
		return nil, err
	}

	return &StreamRecord{
		Timestamp: ts,
		DeltaPa:   delta,
		DustV:     dust,
		AccelMagG: accel,
		Activity:  Activity(fields[4]),
		Prev:      fields[5],
	}, nil
}

// checkDigestField 校验摘要字段为定宽小写十六进制
func checkDigestField(s string) error {
	if len(s) != DigestHexLen {
		return fmt.Errorf("prev_hash has %d chars, want %d", len(s), DigestHexLen)
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("prev_hash contains invalid char %q", c)
		}
	}
	return nil
}
