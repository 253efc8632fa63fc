// Package core 定义事件检测引擎的核心接口和结构
package core

import (
	"time"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// Detector 检测插件接口，所有检测子模块都需要实现此接口
// 实现必须是确定性状态机：相同采样序列产生相同事件序列
type Detector interface {
	// GetName 返回检测器名称
	GetName() string

	// Feed 送入一个采样，返回在该采样上完结的事件 (可能为空)
	Feed(s *model.Sample) []*model.Event

	// Flush 在停机或数据源断流时强制关闭未完结的事件
	Flush(now time.Time) []*model.Event
}
