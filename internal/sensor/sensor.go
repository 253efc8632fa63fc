// Package sensor 传感器读数抽象
//
// 采样循环只依赖这里的能力接口；真实 I2C/ADC 驱动、
// 模拟源和日志回放源都是可互换的实现
package sensor

import "errors"

// ErrSensorFault 单次读取瞬时失败，可用上一次好值替代
var ErrSensorFault = errors.New("sensor: transient read fault")

// PressureSource 单个气压计 (Pa)
type PressureSource interface {
	PressurePa() (float64, error)
}

// AccelSource 加速度计，返回矢量模长 (g)
type AccelSource interface {
	MagnitudeG() (float64, error)
}

// DustSource 光学粉尘传感器，返回原始 ADC 电压 (V)
type DustSource interface {
	Voltage() (float64, error)
}

// Rig 整机传感器组：目标/环境气压计对 + 加速度计 + 粉尘
// 差分气压 = 目标 - 环境，共模气压波动 (天气、开关门) 被抵消
type Rig struct {
	Target  PressureSource
	Ambient PressureSource
	Accel   AccelSource
	Dust    DustSource
}

// DeltaPa 读取差分气压
func (r *Rig) DeltaPa() (float64, error) {
	target, err := r.Target.PressurePa()
	if err != nil {
		return 0, err
	}
	ambient, err := r.Ambient.PressurePa()
	if err != nil {
		return 0, err
	}
	return target - ambient, nil
}

// 粉尘传感器标定常数 (GP2Y1010AU0F 数据手册)
const (
	dustCleanAirV   = 0.5   // 洁净空气基线电压
	dustSensitivity = 0.005 // V per (µg/m³)·1000
)

// DustDensityMgM3 把原始电压换算成粉尘浓度 (mg/m³)
// 在线日志记录原始电压；换算只用于报表展示
func DustDensityMgM3(v float64) float64 {
	if v < dustCleanAirV {
		return 0
	}
	return (v - dustCleanAirV) / dustSensitivity
}
