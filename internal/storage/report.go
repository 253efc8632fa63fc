package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/integrity"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// ==========================================
// 报告表结构
// ==========================================

// ImportSession 一次日志导入：一份校验通过的日志文件对应一行
type ImportSession struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	SessionID     string    `gorm:"uniqueIndex;size:36"` // 导入会话 UUID
	SourceFile    string    // 日志文件路径
	Variant       string    // 日志格式变体
	Digest        string    // 链摘要算法
	RecordCount   int       // 校验通过的记录数
	FlaggedCount  int       // 被打标为异常的记录数
	Contamination float64   // 打标使用的污染率
	ImportedAt    time.Time `gorm:"autoCreateTime"`
}

func (ImportSession) TableName() string { return "import_sessions" }

// EventRow 导出的事件记录
type EventRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"index;size:36"`
	RecordIdx  int    // 在日志中的下标 (0 起)
	Timestamp  time.Time
	EventType  string
	DurationMs int64
	AvgDeltaPa float64
	Activity   string `gorm:"index"`
	Score      float64
	Flagged    bool
}

func (EventRow) TableName() string { return "event_records" }

// StreamRow 导出的流式记录
type StreamRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:36"`
	RecordIdx int
	Timestamp time.Time
	DeltaPa   float64
	DustV     float64
	AccelMagG float64
	Activity  string `gorm:"index"`
	Score     float64
	Flagged   bool
}

func (StreamRow) TableName() string { return "stream_records" }

// ==========================================
// 导出
// ==========================================

// ExportReport 把校验通过并打完分的记录整体写入报告库
// scores 与 report.Records 等长；flagged 是被打标记录的下标集
func ExportReport(sessionID, sourceFile, digest string, contamination float64,
	report *integrity.Report, scores []float64, flagged []int) error {

	conn, err := GetDB()
	if err != nil {
		return err
	}
	if len(scores) != len(report.Records) {
		return fmt.Errorf("storage: %d scores for %d records", len(scores), len(report.Records))
	}

	flagSet := make(map[int]bool, len(flagged))
	for _, i := range flagged {
		flagSet[i] = true
	}

	session := &ImportSession{
		SessionID:     sessionID,
		SourceFile:    sourceFile,
		Variant:       string(report.Variant),
		Digest:        digest,
		RecordCount:   len(report.Records),
		FlaggedCount:  len(flagged),
		Contamination: contamination,
	}

	return conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("storage: create session: %w", err)
		}

		for i, rec := range report.Records {
			switch r := rec.(type) {
			case *model.EventRecord:
				row := &EventRow{
					SessionID:  sessionID,
					RecordIdx:  i,
					Timestamp:  r.Timestamp,
					EventType:  r.EventType,
					DurationMs: r.DurationMs,
					AvgDeltaPa: r.AvgDeltaPa,
					Activity:   string(r.Activity),
					Score:      scores[i],
					Flagged:    flagSet[i],
				}
				if err := tx.Create(row).Error; err != nil {
					return fmt.Errorf("storage: create event row %d: %w", i, err)
				}
			case *model.StreamRecord:
				row := &StreamRow{
					SessionID: sessionID,
					RecordIdx: i,
					Timestamp: r.Timestamp,
					DeltaPa:   r.DeltaPa,
					DustV:     r.DustV,
					AccelMagG: r.AccelMagG,
					Activity:  string(r.Activity),
					Score:     scores[i],
					Flagged:   flagSet[i],
				}
				if err := tx.Create(row).Error; err != nil {
					return fmt.Errorf("storage: create stream row %d: %w", i, err)
				}
			default:
				return fmt.Errorf("storage: record %d has unknown type %T", i, rec)
			}
		}
		return nil
	})
}

// ==========================================
// 聚合报告
// ==========================================

// Aggregate 事件日志的聚合统计，口径与现场分析脚本一致
type Aggregate struct {
	TotalEvents        int64
	AvgDurationMs      float64
	AvgDeltaPa         float64
	ActivityCounts     map[string]int64
	MostCommonActivity string
}

// AggregateEvents 统计一次导入会话中的事件记录
func AggregateEvents(sessionID string) (*Aggregate, error) {
	conn, err := GetDB()
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{ActivityCounts: make(map[string]int64)}

	if err := conn.Model(&EventRow{}).
		Where("session_id = ?", sessionID).
		Count(&agg.TotalEvents).Error; err != nil {
		return nil, fmt.Errorf("storage: count events: %w", err)
	}
	if agg.TotalEvents == 0 {
		return agg, nil
	}

	type means struct {
		AvgDuration float64
		AvgDelta    float64
	}
	var m means
	if err := conn.Model(&EventRow{}).
		Select("AVG(duration_ms) AS avg_duration, AVG(avg_delta_pa) AS avg_delta").
		Where("session_id = ?", sessionID).
		Scan(&m).Error; err != nil {
		return nil, fmt.Errorf("storage: average events: %w", err)
	}
	agg.AvgDurationMs = m.AvgDuration
	agg.AvgDeltaPa = m.AvgDelta

	type bucket struct {
		Activity string
		N        int64
	}
	var buckets []bucket
	if err := conn.Model(&EventRow{}).
		Select("activity, COUNT(*) AS n").
		Where("session_id = ?", sessionID).
		Group("activity").
		Order("n DESC").
		Scan(&buckets).Error; err != nil {
		return nil, fmt.Errorf("storage: activity histogram: %w", err)
	}
	for i, b := range buckets {
		agg.ActivityCounts[b.Activity] = b.N
		if i == 0 {
			agg.MostCommonActivity = b.Activity
		}
	}

	return agg, nil
}

// FlaggedEvents 返回一次会话中被打标的事件，按分数降序
func FlaggedEvents(sessionID string) ([]EventRow, error) {
	conn, err := GetDB()
	if err != nil {
		return nil, err
	}

	var rows []EventRow
	if err := conn.
		Where("session_id = ? AND flagged = ?", sessionID, true).
		Order("score DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: flagged events: %w", err)
	}
	return rows, nil
}
