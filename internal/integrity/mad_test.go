package integrity

import (
	"errors"
	"math"
	"testing"
)

func TestMADScoresOutlier(t *testing.T) {
	// 正常事件簇 + 一个持续时间异常的事件
	vectors := [][]float64{
		{150, -180},
		{160, -175},
		{155, -182},
		{148, -179},
		{152, -181},
		{158, -177},
		{3000, -178}, // 离群
	}

	s := MADScorer{}
	m, err := s.Fit(vectors)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	scores, err := s.Score(m, vectors)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(scores) != len(vectors) {
		t.Fatalf("got %d scores, want %d", len(scores), len(vectors))
	}

	worst := 0
	for i, sc := range scores {
		if sc > scores[worst] {
			worst = i
		}
	}
	if worst != 6 {
		t.Errorf("highest score at %d (%.2f), want outlier at 6", worst, scores[worst])
	}
	if scores[6] < 10 {
		t.Errorf("outlier score %.2f suspiciously low", scores[6])
	}
}

func TestMADConstantFeature(t *testing.T) {
	// 第二维恒定：偏离它的唯一样本必须拿到无穷分
	vectors := [][]float64{
		{150, -180},
		{160, -180},
		{155, -180},
		{152, -150},
	}

	s := MADScorer{}
	m, err := s.Fit(vectors)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	// 偏差序列 {0,0,0,30} 的中位数是 0，该维 MAD 为 0
	scores, err := s.Score(m, vectors)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !math.IsInf(scores[3], 1) {
		t.Errorf("deviant on constant feature scored %.2f, want +Inf", scores[3])
	}
	if math.IsInf(scores[0], 1) {
		t.Error("conforming sample scored +Inf")
	}
}

func TestMADFitRejectsBadInput(t *testing.T) {
	s := MADScorer{}
	if _, err := s.Fit(nil); !errors.Is(err, ErrNoVectors) {
		t.Errorf("empty fit err = %v, want ErrNoVectors", err)
	}
	if _, err := s.Fit([][]float64{{1, 2}, {1}}); err == nil {
		t.Error("ragged vectors accepted")
	}
}

func TestMADScoreRejectsForeignModel(t *testing.T) {
	s := MADScorer{}
	if _, err := s.Score("not a model", [][]float64{{1}}); err == nil {
		t.Error("foreign model accepted")
	}
}

func TestFlagPicksTopCeil(t *testing.T) {
	scores := []float64{0.1, 5.0, 0.2, 0.3, 4.0, 0.15, 0.25, 0.05, 0.12, 0.3}

	// ⌈0.05·10⌉ = 1
	got := Flag(scores, 0.05)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Flag(0.05) = %v, want [1]", got)
	}

	// ⌈0.2·10⌉ = 2，下标升序
	got = Flag(scores, 0.2)
	if len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Errorf("Flag(0.2) = %v, want [1 4]", got)
	}
}

func TestFlagEdgeCases(t *testing.T) {
	if got := Flag(nil, 0.1); got != nil {
		t.Errorf("Flag(nil) = %v", got)
	}
	if got := Flag([]float64{1, 2}, 0); got != nil {
		t.Errorf("Flag(contamination 0) = %v", got)
	}
	if got := Flag([]float64{1, 2, 3}, 5); len(got) != 3 {
		t.Errorf("Flag(contamination>1) = %v, want all indices", got)
	}
}
