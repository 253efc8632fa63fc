package sensor

import "github.com/utahisnotastate/ufwairrapiertracker/internal/model"

// MPU6050 ±2g 量程下每 g 的原始计数
const countsPerG = 16384.0

// 活动分类阈值，沿用现场标定的原始计数值换算成 g
// 静止时模长在 1g 附近 (传感器只感受重力)
const (
	stillMinG  = 15000.0 / countsPerG
	stillMaxG  = 18000.0 / countsPerG
	movingMinG = 20000.0 / countsPerG
)

// ClassifyActivity 按加速度模长划分活动等级
func ClassifyActivity(magG float64) model.Activity {
	switch {
	case magG > stillMinG && magG < stillMaxG:
		return model.ActivityStill
	case magG > movingMinG:
		return model.ActivityMoving
	default:
		return model.ActivityLow
	}
}
