package model

// Activity 定义运动状态枚举 (全系统通用)
// 取值与原始固件的活动分类保持一致
type Activity string

const (
	ActivityStill   Activity = "Still"
	ActivityLow     Activity = "Low Activity"
	ActivityMoving  Activity = "Moving"
	ActivityUnknown Activity = "Unknown"
)

// Variant 定义日志文件的格式变体
// 三种格式均在现场观测到过，离线工具必须全部识别
type Variant string

const (
	// VariantLegacyEvent 初代事件日志，无链摘要字段，无法校验
	VariantLegacyEvent Variant = "legacy_event"

	// VariantEvent 带链摘要的事件日志 (每个完整事件一行)
	VariantEvent Variant = "event"

	// VariantStream 带链摘要的流式日志 (每个采样周期一行)
	VariantStream Variant = "stream"
)
