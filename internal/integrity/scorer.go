package integrity

import (
	"errors"
	"math"
	"sort"
)

// Model 拟合后的打分模型，由具体 Scorer 定义内部形态
type Model any

// Scorer 异常打分能力接口
// 两阶段协议：先 Fit 出模型，再用模型给任意向量集打分。
// 分数越高越异常；打分只在链校验通过的日志上运行
type Scorer interface {
	// GetName 返回打分器名称
	GetName() string

	// Fit 在特征向量集上拟合模型
	Fit(vectors [][]float64) (Model, error)

	// Score 返回与 vectors 等长的异常分数
	Score(model Model, vectors [][]float64) ([]float64, error)
}

// ErrNoVectors 空向量集无法拟合
var ErrNoVectors = errors.New("integrity: no vectors to fit")

// Flag 按污染率挑出最异常的记录下标
// 取分数最高的 ⌈contamination·N⌉ 条，返回的下标升序排列
func Flag(scores []float64, contamination float64) []int {
	if contamination <= 0 || len(scores) == 0 {
		return nil
	}
	if contamination > 1 {
		contamination = 1
	}

	k := int(math.Ceil(contamination * float64(len(scores))))
	if k > len(scores) {
		k = len(scores)
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	// 分数降序，同分按下标升序保证确定性
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	flagged := append([]int(nil), idx[:k]...)
	sort.Ints(flagged)
	return flagged
}
