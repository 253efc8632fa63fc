package model

import "time"

// Sample 单个采样周期内的多传感器读数
// 这是一个"被动"的数据容器，由在线采样循环填充后喂给检测器
type Sample struct {
	// 采样时刻
	Time time.Time

	// 差分气压 (Pa)：目标传感器减去环境传感器
	// 事件检测的触发信号；负向尖峰代表一次攻击
	DeltaPa float64

	// 加速度矢量模长 (g)，用于活动分类
	AccelMagG float64

	// 粉尘传感器原始电压 (V)
	DustV float64

	// 活动分类 (由 AccelMagG 派生的次级信号)
	Activity Activity
}

// Event 一次完整的 IDLE→ACTIVE→IDLE 周期产生的事件
// 由检测器按值移交给日志层，检测器内部状态随即清空
type Event struct {
	// 事件起止时刻
	StartTime time.Time
	EndTime   time.Time

	// 触发信号累加器 (ACTIVE 期间的样本和与样本数)
	Sum   float64
	Count int

	// 事件类型标签
	EventType string

	// 进入 ACTIVE 时捕获的活动分类
	Activity Activity

	// 是否因超过最大持续时间被强制收尾
	Forced bool
}

// DurationMs 事件持续时间 (毫秒)
func (e *Event) DurationMs() int64 {
	return e.EndTime.Sub(e.StartTime).Milliseconds()
}

// MeanDeltaPa 事件期间触发信号的算术平均值
func (e *Event) MeanDeltaPa() float64 {
	if e.Count == 0 {
		return 0
	}
	return e.Sum / float64(e.Count)
}
