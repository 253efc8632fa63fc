package sensor

import (
	"math"
	"math/rand"
)

// ==================== 模拟传感器 ====================
//
// 无硬件环境 (开发机、CI) 下驱动整条在线链路。
// 确定性伪随机：相同种子产生相同读数序列

// SimConfig 模拟源参数
type SimConfig struct {
	// Seed 随机种子
	Seed int64

	// AttackEvery 每隔多少个采样周期注入一次攻击；0 关闭注入
	AttackEvery int

	// AttackTicks 单次攻击持续的采样周期数
	AttackTicks int

	// AttackPa 攻击期间的压差幅度 (Pa, 正数)
	AttackPa float64

	// FaultRate 单次读取瞬时失败的概率 [0,1)
	FaultRate float64
}

// DefaultSimConfig 带周期性注入攻击的默认参数
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Seed:        1,
		AttackEvery: 200,
		AttackTicks: 4,
		AttackPa:    180,
	}
}

// NewSimRig 构造一整套模拟传感器
// 各源共享同一个时基：目标气压计每读一次推进一个周期
func NewSimRig(cfg SimConfig) *Rig {
	if cfg.AttackTicks <= 0 {
		cfg.AttackTicks = 4
	}
	st := &simState{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	return &Rig{
		Target:  &simTarget{st},
		Ambient: &simAmbient{st},
		Accel:   &simAccel{st},
		Dust:    &simDust{st},
	}
}

const baselinePa = 101_325.0

type simState struct {
	cfg  SimConfig
	rng  *rand.Rand
	tick int
}

// fault 按概率注入瞬时故障
func (st *simState) fault() bool {
	return st.cfg.FaultRate > 0 && st.rng.Float64() < st.cfg.FaultRate
}

// attacking 当前周期是否处于注入攻击窗口
func (st *simState) attacking() bool {
	if st.cfg.AttackEvery <= 0 {
		return false
	}
	return st.tick%st.cfg.AttackEvery < st.cfg.AttackTicks
}

type simTarget struct{ st *simState }

func (s *simTarget) PressurePa() (float64, error) {
	s.st.tick++
	if s.st.fault() {
		return 0, ErrSensorFault
	}
	p := baselinePa + s.st.rng.NormFloat64()*1.5
	if s.st.attacking() {
		p -= s.st.cfg.AttackPa + s.st.rng.NormFloat64()*15
	}
	return p, nil
}

type simAmbient struct{ st *simState }

func (s *simAmbient) PressurePa() (float64, error) {
	if s.st.fault() {
		return 0, ErrSensorFault
	}
	return baselinePa + s.st.rng.NormFloat64()*1.5, nil
}

type simAccel struct{ st *simState }

func (s *simAccel) MagnitudeG() (float64, error) {
	if s.st.fault() {
		return 0, ErrSensorFault
	}
	// 静止设备：重力 1g 附近的小幅抖动
	return math.Abs(1.0 + s.st.rng.NormFloat64()*0.01), nil
}

type simDust struct{ st *simState }

func (s *simDust) Voltage() (float64, error) {
	if s.st.fault() {
		return 0, ErrSensorFault
	}
	v := 0.55 + s.st.rng.NormFloat64()*0.02
	if s.st.attacking() {
		// 攻击搅动空气，粉尘读数抬升
		v += 0.3
	}
	if v < 0 {
		v = 0
	}
	return v, nil
}
