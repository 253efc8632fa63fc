// Package core 检测引擎核心实现
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// DetectionEngine 检测引擎核心结构
// 把采样流扇出到全部已注册检测器并收集完结事件
type DetectionEngine struct {
	// 注册的检测器
	detectors map[string]Detector

	// 注册顺序，保证事件输出顺序稳定
	order []string

	// 互斥锁
	mu sync.RWMutex
}

// NewDetectionEngine 创建新的检测引擎
func NewDetectionEngine() *DetectionEngine {
	return &DetectionEngine{
		detectors: make(map[string]Detector),
	}
}

// RegisterDetector 注册检测器
func (e *DetectionEngine) RegisterDetector(detector Detector) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := detector.GetName()
	if _, exists := e.detectors[name]; exists {
		return fmt.Errorf("detector with name %s already registered", name)
	}

	e.detectors[name] = detector
	e.order = append(e.order, name)
	return nil
}

// UnregisterDetector 注销检测器
func (e *DetectionEngine) UnregisterDetector(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.detectors, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// GetDetector 获取检测器
func (e *DetectionEngine) GetDetector(name string) (Detector, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	detector, exists := e.detectors[name]
	if !exists {
		return nil, fmt.Errorf("detector with name %s not found", name)
	}

	return detector, nil
}

// Feed 把采样送入全部检测器，按注册顺序收集完结事件
func (e *DetectionEngine) Feed(s *model.Sample) []*model.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []*model.Event
	for _, name := range e.order {
		events = append(events, e.detectors[name].Feed(s)...)
	}
	return events
}

// Flush 强制关闭全部检测器的未完结事件
func (e *DetectionEngine) Flush(now time.Time) []*model.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []*model.Event
	for _, name := range e.order {
		events = append(events, e.detectors[name].Flush(now)...)
	}
	return events
}
