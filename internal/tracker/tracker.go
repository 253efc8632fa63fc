// Package tracker 在线采样服务
//
// 单协程定时循环：每个周期读取全部传感器、喂入检测引擎、
// 把完结事件和流式记录写进链式日志。
// 存储故障只影响持久化，检测永远不停
package tracker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/chainlog"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/detector/core"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/logger"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sdcard"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/sensor"
)

// Options 服务装配参数
type Options struct {
	// Rig 传感器组
	Rig *sensor.Rig

	// Engine 检测引擎
	Engine *core.DetectionEngine

	// EventLog 事件日志；nil 表示不记录事件
	EventLog *chainlog.Log

	// StreamLog 流式日志；nil 表示不记录每周期采样
	StreamLog *chainlog.Log

	// Period 采样周期，默认 50ms
	Period time.Duration

	// Reinit 存储介质拒绝写入后的重新初始化钩子 (SD 卡重新握手)
	Reinit func() error
}

// Counters 运行计数器快照
type Counters struct {
	Ticks         int64 // 已完成的采样周期数
	Events        int64 // 已完结的事件数
	SensorFaults  int64 // 被上一次好值替代的传感器读取次数
	DroppedWrites int64 // 因存储故障跳过持久化的周期数
	Reinits       int64 // 介质重新初始化次数
}

// Tracker 在线采样服务本体
type Tracker struct {
	opts Options

	ticker   *time.Ticker  // 周期定时器
	stopChan chan struct{} // 停止信号
	doneChan chan struct{} // 循环退出确认
	running  bool          // 运行状态标记
	mu       sync.Mutex    // 锁

	// 上一次好值，传感器瞬时故障时替代
	last model.Sample

	// 介质拒绝写入后置位，下次写入前必须重新初始化
	needReinit bool

	ticks         atomic.Int64
	events        atomic.Int64
	sensorFaults  atomic.Int64
	droppedWrites atomic.Int64
	reinits       atomic.Int64
}

// New 创建服务实例
func New(opts Options) *Tracker {
	if opts.Period <= 0 {
		opts.Period = 50 * time.Millisecond
	}
	return &Tracker{
		opts:     opts,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动采样循环
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}

	t.ticker = time.NewTicker(t.opts.Period)
	t.running = true

	go t.loop()

	logger.Info("采样循环已启动",
		"period", t.opts.Period.String(),
		"event_log", t.opts.EventLog != nil,
		"stream_log", t.opts.StreamLog != nil)
}

// Stop 停止循环并收尾
// 缓冲记录全部提交；仍处于 ACTIVE 的半截事件只记入运行日志，不落盘
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.ticker.Stop()
	close(t.stopChan)
	t.running = false
	t.mu.Unlock()

	<-t.doneChan
	t.shutdown(time.Now())
}

// loop 后台循环逻辑
func (t *Tracker) loop() {
	defer close(t.doneChan)
	for {
		select {
		case <-t.stopChan:
			return
		case now := <-t.ticker.C:
			t.step(now)
		}
	}
}

// step 执行一个采样周期
func (t *Tracker) step(now time.Time) {
	sample := t.readSample(now)
	events := t.opts.Engine.Feed(sample)

	for _, ev := range events {
		t.events.Add(1)
		if ev.Forced {
			logger.Warn("事件被强制收尾后落盘",
				"event_type", ev.EventType,
				"duration_ms", ev.DurationMs())
		}
		if t.opts.EventLog != nil {
			t.persist(t.opts.EventLog, model.NewEventRecord(ev))
		}
		logger.Info("检测到事件",
			"event_type", ev.EventType,
			"duration_ms", ev.DurationMs(),
			"avg_delta_pa", ev.MeanDeltaPa(),
			"activity", string(ev.Activity))
	}

	if t.opts.StreamLog != nil {
		t.persist(t.opts.StreamLog, model.NewStreamRecord(sample))
	}

	t.ticks.Add(1)
}

// readSample 读取全部传感器，瞬时故障用上一次好值替代
func (t *Tracker) readSample(now time.Time) *model.Sample {
	s := &model.Sample{Time: now}

	if delta, err := t.opts.Rig.DeltaPa(); err != nil {
		t.sensorFaults.Add(1)
		logger.Warn("压差读取失败，沿用上一次好值", "error", err.Error())
		s.DeltaPa = t.last.DeltaPa
	} else {
		s.DeltaPa = delta
	}

	if mag, err := t.opts.Rig.Accel.MagnitudeG(); err != nil {
		t.sensorFaults.Add(1)
		logger.Warn("加速度读取失败，沿用上一次好值", "error", err.Error())
		s.AccelMagG = t.last.AccelMagG
		s.Activity = model.ActivityUnknown
	} else {
		s.AccelMagG = mag
		s.Activity = sensor.ClassifyActivity(mag)
	}

	if dust, err := t.opts.Rig.Dust.Voltage(); err != nil {
		t.sensorFaults.Add(1)
		logger.Warn("粉尘读取失败，沿用上一次好值", "error", err.Error())
		s.DustV = t.last.DustV
	} else {
		s.DustV = dust
	}

	t.last = *s
	return s
}

// persist 写入一条记录
// 介质拒绝后先重新初始化再写；失败只计数，绝不中断采样
func (t *Tracker) persist(l *chainlog.Log, rec model.Record) {
	if t.needReinit {
		if t.opts.Reinit == nil {
			t.droppedWrites.Add(1)
			return
		}
		if err := t.opts.Reinit(); err != nil {
			t.droppedWrites.Add(1)
			logger.Warn("介质重新初始化失败，本周期跳过持久化", "error", err.Error())
			return
		}
		t.needReinit = false
		t.reinits.Add(1)
		logger.Info("介质重新初始化成功")
	}

	if err := l.Append(rec); err != nil {
		t.droppedWrites.Add(1)
		if errors.Is(err, sdcard.ErrIoRejected) {
			t.needReinit = true
		}
		logger.Warn("记录持久化失败", "error", err.Error())
	}
}

// shutdown 停机收尾
func (t *Tracker) shutdown(now time.Time) {
	for _, ev := range t.opts.Engine.Flush(now) {
		logger.Warn("停机丢弃未完结事件",
			"event_type", ev.EventType,
			"duration_ms", ev.DurationMs())
	}

	for _, l := range []*chainlog.Log{t.opts.EventLog, t.opts.StreamLog} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			logger.Error("日志关闭失败", "error", err.Error())
		}
	}

	c := t.Counters()
	logger.Info("采样循环已停止",
		"ticks", c.Ticks,
		"events", c.Events,
		"sensor_faults", c.SensorFaults,
		"dropped_writes", c.DroppedWrites,
		"reinits", c.Reinits)
}

// Counters 返回运行计数器快照
func (t *Tracker) Counters() Counters {
	return Counters{
		Ticks:         t.ticks.Load(),
		Events:        t.events.Load(),
		SensorFaults:  t.sensorFaults.Load(),
		DroppedWrites: t.droppedWrites.Load(),
		Reinits:       t.reinits.Load(),
	}
}
