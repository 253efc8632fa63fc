// Package integrity 链式日志的离线校验与异常打分
package integrity

import (
	"errors"
	"fmt"
	"io"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/chainlog"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// ErrUnverifiable 初代格式没有链摘要字段，无法校验
var ErrUnverifiable = errors.New("integrity: legacy log has no chain digests")

// TamperError 链校验失败：第 Index 条记录 (0 起) 的前驱摘要不匹配
// 由于摘要级联，篡改第 k 条记录会在第 k 条或其后第一条依赖记录处暴露
type TamperError struct {
	Index    int64
	Expected string
	Actual   string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("integrity: chain broken at record %d: expected prev %s, stored %s",
		e.Index, e.Expected, e.Actual)
}

// Report 校验通过后的结果，供打分与导出使用
type Report struct {
	Variant model.Variant
	Records []model.Record

	// Vectors 与 Records 一一对应的特征向量
	Vectors [][]float64
}

// Verify 全量重放并校验哈希链
//
// 校验规则：首条记录的前驱摘要必须等于创世哨兵；
// 此后每条记录的前驱摘要必须等于前一条规范行的摘要。
// 在第一处不匹配即停止并返回 *TamperError
func Verify(rp *chainlog.Replay, digestName string) (*Report, error) {
	if rp.Variant() == model.VariantLegacyEvent {
		return nil, ErrUnverifiable
	}

	hasher, err := chainlog.NewHasher(digestName)
	if err != nil {
		return nil, err
	}

	report := &Report{Variant: rp.Variant()}

	expected := model.GenesisDigest
	var index int64
	for {
		rec, line, err := rp.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if rec.PrevDigest() != expected {
			return nil, &TamperError{
				Index:    index,
				Expected: expected,
				Actual:   rec.PrevDigest(),
			}
		}

		report.Records = append(report.Records, rec)
		report.Vectors = append(report.Vectors, FeatureVector(rec))

		expected = chainlog.DigestHex(hasher, []byte(line))
		index++
	}

	return report, nil
}

// FeatureVector 按变体提取打分特征
//   - 事件记录: (duration_ms, avg_delta_pa)
//   - 流式记录: (delta_pa, dust_v, accel_mag_g)
func FeatureVector(rec model.Record) []float64 {
	switch r := rec.(type) {
	case *model.EventRecord:
		return []float64{float64(r.DurationMs), r.AvgDeltaPa}
	case *model.StreamRecord:
		return []float64{r.DeltaPa, r.DustV, r.AccelMagG}
	default:
		return nil
	}
}
