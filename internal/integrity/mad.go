package integrity

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// madConsistency 正态分布下 MAD 到标准差的换算系数
const madConsistency = 1.4826

// MADScorer 逐特征 robust z-score 打分器 (中位数/MAD)
// 对离群值本身不敏感的基线估计，适合被攻击事件污染过的数据集。
// 分数 = 各特征 |z| 的最大值
type MADScorer struct{}

// madModel 拟合结果：每个特征维度的中位数与换算后的 MAD
type madModel struct {
	medians []float64
	scales  []float64
}

// GetName 返回打分器名称
func (MADScorer) GetName() string {
	return "mad"
}

// Fit 估计每个特征维度的中位数与 MAD
func (MADScorer) Fit(vectors [][]float64) (Model, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}

	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("integrity: vector %d has %d features, want %d", i, len(v), dims)
		}
	}

	m := &madModel{
		medians: make([]float64, dims),
		scales:  make([]float64, dims),
	}

	column := make([]float64, len(vectors))
	for d := 0; d < dims; d++ {
		for i, v := range vectors {
			column[i] = v[d]
		}
		m.medians[d] = median(column)

		for i, v := range vectors {
			column[i] = math.Abs(v[d] - m.medians[d])
		}
		m.scales[d] = madConsistency * median(column)
	}

	return m, nil
}

// Score 返回每个向量的异常分数
// 某维 MAD 为零 (常量特征) 时：等于中位数记 0 分，任何偏离记 +Inf
func (MADScorer) Score(model Model, vectors [][]float64) ([]float64, error) {
	m, ok := model.(*madModel)
	if !ok {
		return nil, errors.New("integrity: model was not produced by MADScorer.Fit")
	}

	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != len(m.medians) {
			return nil, fmt.Errorf("integrity: vector %d has %d features, want %d", i, len(v), len(m.medians))
		}

		var worst float64
		for d, x := range v {
			dev := math.Abs(x - m.medians[d])
			var z float64
			switch {
			case m.scales[d] > 0:
				z = dev / m.scales[d]
			case dev > 0:
				z = math.Inf(1)
			}
			if z > worst {
				worst = z
			}
		}
		scores[i] = worst
	}
	return scores, nil
}

// median 返回切片的中位数；会原地排序
func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
