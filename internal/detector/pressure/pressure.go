// Package pressure 差分气压事件检测器
//
// 双阈值迟滞状态机：压差低于进入阈值时进入 ACTIVE，
// 回升越过退出阈值时回到 IDLE 并产出一个事件。
// 两个阈值之间的间隙吸收信号在单一阈值附近的抖动，
// 避免一次真实事件被切碎成多条记录
package pressure

import (
	"time"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/logger"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// Config 检测器配置
type Config struct {
	// EnterPa 进入阈值 (Pa, 正数)：压差 < -EnterPa 进入 ACTIVE
	EnterPa float64

	// ExitPa 退出阈值 (Pa, 正数)：压差 > -ExitPa 回到 IDLE
	// 必须严格小于 EnterPa，否则迟滞间隙不存在
	ExitPa float64

	// MaxDuration 单个事件的最大持续时间，超过即强制收尾
	// 零值表示不限制 (传感器卡死时事件永不闭合，慎用)
	MaxDuration time.Duration

	// EventType 写入记录的事件类型标签
	EventType string
}

// DefaultConfig 原始固件的现场参数
func DefaultConfig() Config {
	return Config{
		EnterPa:     150,
		ExitPa:      50,
		MaxDuration: 30 * time.Second,
		EventType:   "AirRapier_Attack",
	}
}

// Detector 迟滞状态机本体
// 非并发安全：单个采样循环独占喂入
type Detector struct {
	cfg Config

	active bool
	open   *model.Event
}

// NewDetector 创建检测器，初始状态 IDLE
func NewDetector(cfg Config) *Detector {
	if cfg.EventType == "" {
		cfg.EventType = "AirRapier_Attack"
	}
	return &Detector{cfg: cfg}
}

// GetName 返回检测器名称
func (d *Detector) GetName() string {
	return "pressure"
}

// Feed 送入一个采样
//
// 进入采样计入累加器；退出采样只标记结束时刻，不计入。
// 事件持续时间 = 退出采样时刻 - 进入采样时刻
func (d *Detector) Feed(s *model.Sample) []*model.Event {
	if !d.active {
		if s.DeltaPa < -d.cfg.EnterPa {
			d.active = true
			d.open = &model.Event{
				StartTime: s.Time,
				Sum:       s.DeltaPa,
				Count:     1,
				EventType: d.cfg.EventType,
				Activity:  s.Activity,
			}
		}
		return nil
	}

	if s.DeltaPa > -d.cfg.ExitPa {
		ev := d.open
		ev.EndTime = s.Time
		d.reset()
		return []*model.Event{ev}
	}

	d.open.Sum += s.DeltaPa
	d.open.Count++

	// 传感器卡在 ACTIVE 区间时的安全阀
	if d.cfg.MaxDuration > 0 && s.Time.Sub(d.open.StartTime) >= d.cfg.MaxDuration {
		ev := d.open
		ev.EndTime = s.Time
		ev.Forced = true
		d.reset()
		logger.Warn("事件超过最大持续时间被强制收尾",
			"event_type", ev.EventType,
			"duration_ms", ev.DurationMs())
		return []*model.Event{ev}
	}
	return nil
}

// Flush 停机时强制关闭未完结事件
func (d *Detector) Flush(now time.Time) []*model.Event {
	if !d.active {
		return nil
	}
	ev := d.open
	ev.EndTime = now
	ev.Forced = true
	d.reset()
	return []*model.Event{ev}
}

// Active 当前是否处于 ACTIVE 状态
func (d *Detector) Active() bool {
	return d.active
}

func (d *Detector) reset() {
	d.active = false
	d.open = nil
}
