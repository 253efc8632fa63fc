package sensor

import (
	"fmt"
	"os"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/chainlog"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// Replay 把流式日志文件当作采样源回放
// 离线复跑检测器用：同一份现场数据可以反复喂给不同参数的状态机
type Replay struct {
	rp *chainlog.Replay
}

// NewReplay 打开流式日志文件
func NewReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rp, err := chainlog.NewReplay(f)
	if err != nil {
		return nil, err
	}
	if rp.Variant() != model.VariantStream {
		rp.Close()
		return nil, fmt.Errorf("sensor: %s is a %s log, replay needs per-tick stream data", path, rp.Variant())
	}
	return &Replay{rp: rp}, nil
}

// Next 返回下一个采样；数据耗尽返回 io.EOF
func (r *Replay) Next() (*model.Sample, error) {
	rec, _, err := r.rp.Next()
	if err != nil {
		return nil, err
	}
	sr := rec.(*model.StreamRecord)
	return &model.Sample{
		Time:      sr.Timestamp,
		DeltaPa:   sr.DeltaPa,
		DustV:     sr.DustV,
		AccelMagG: sr.AccelMagG,
		Activity:  sr.Activity,
	}, nil
}

// Close 关闭底层文件
func (r *Replay) Close() error {
	return r.rp.Close()
}
