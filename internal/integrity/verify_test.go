package integrity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/chainlog"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

// writeChain 生成一份合法的链式流日志并返回文件路径
func writeChain(t *testing.T, digest string, deltas []float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.csv")

	sink, err := chainlog.NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	l, err := chainlog.Open(sink, chainlog.Options{Variant: model.VariantStream, Digest: digest})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, delta := range deltas {
		rec := &model.StreamRecord{
			Timestamp: base.Add(time.Duration(i) * 50 * time.Millisecond),
			DeltaPa:   delta,
			DustV:     0.4,
			AccelMagG: 1.0,
			Activity:  model.ActivityStill,
		}
		if err := l.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func replayFile(t *testing.T, path string) *chainlog.Replay {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	rp, err := chainlog.NewReplay(f)
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}
	return rp
}

func TestVerifyValidChain(t *testing.T) {
	path := writeChain(t, "sha256", []float64{-2.1, -161.4, -0.9, -3.3})

	rp := replayFile(t, path)
	defer rp.Close()

	report, err := Verify(rp, "sha256")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(report.Records) != 4 {
		t.Errorf("verified %d records, want 4", len(report.Records))
	}
	if len(report.Vectors) != 4 || len(report.Vectors[0]) != 3 {
		t.Errorf("vectors shape wrong: %v", report.Vectors)
	}
	if report.Variant != model.VariantStream {
		t.Errorf("variant = %s", report.Variant)
	}
}

func TestVerifyHeaderOnlyLogIsValid(t *testing.T) {
	path := writeChain(t, "sha256", nil)

	rp := replayFile(t, path)
	defer rp.Close()

	report, err := Verify(rp, "sha256")
	if err != nil {
		t.Fatalf("Verify on empty log: %v", err)
	}
	if len(report.Records) != 0 {
		t.Errorf("empty log verified %d records", len(report.Records))
	}
}

func TestVerifyDetectsFieldTamper(t *testing.T) {
	path := writeChain(t, "sha256", []float64{-2.1, -161.4, -0.9, -3.3})

	// 篡改第 2 条记录 (下标 1) 的压差字段
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), "-161.40", "-999.00", 1)
	if tampered == string(data) {
		t.Fatal("tamper did not change the file")
	}
	if err := os.WriteFile(path, []byte(tampered), 0644); err != nil {
		t.Fatal(err)
	}

	rp := replayFile(t, path)
	defer rp.Close()

	_, err = Verify(rp, "sha256")
	var te *TamperError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TamperError", err)
	}
	// 篡改记录 1 的正文：其后继记录 2 存储的摘要不再匹配
	if te.Index != 2 {
		t.Errorf("tamper surfaced at record %d, want 2", te.Index)
	}
	if te.Expected == te.Actual {
		t.Error("expected/actual digests are equal in TamperError")
	}
}

func TestVerifyDetectsGenesisTamper(t *testing.T) {
	path := writeChain(t, "sha256", []float64{-2.1, -161.4})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// 把首条记录的创世哨兵改成伪造摘要
	tampered := strings.Replace(string(data),
		model.GenesisDigest, strings.Repeat("ab", 32), 1)
	if err := os.WriteFile(path, []byte(tampered), 0644); err != nil {
		t.Fatal(err)
	}

	rp := replayFile(t, path)
	defer rp.Close()

	_, err = Verify(rp, "sha256")
	var te *TamperError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TamperError", err)
	}
	if te.Index != 0 {
		t.Errorf("tamper surfaced at record %d, want 0", te.Index)
	}
	if te.Expected != model.GenesisDigest {
		t.Errorf("expected digest = %s, want genesis sentinel", te.Expected)
	}
}

func TestVerifyDetectsDeletedRecord(t *testing.T) {
	path := writeChain(t, "sha256", []float64{-2.1, -161.4, -0.9})

	// 整行删除第 2 条记录
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.SplitAfter(string(data), "\n")
	trimmed := strings.Join(append(lines[:2], lines[3:]...), "")
	if err := os.WriteFile(path, []byte(trimmed), 0644); err != nil {
		t.Fatal(err)
	}

	rp := replayFile(t, path)
	defer rp.Close()

	_, err = Verify(rp, "sha256")
	var te *TamperError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TamperError", err)
	}
	if te.Index != 1 {
		t.Errorf("deletion surfaced at record %d, want 1", te.Index)
	}
}

func TestVerifyRejectsLegacyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.csv")
	content := model.HeaderLegacyEvent + "\n" +
		"2026-03-01 10:00:00,AirRapier_Attack,150,-180.00,Still\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rp := replayFile(t, path)
	defer rp.Close()

	if _, err := Verify(rp, "sha256"); !errors.Is(err, ErrUnverifiable) {
		t.Fatalf("err = %v, want ErrUnverifiable", err)
	}
}

func TestVerifySm3Chain(t *testing.T) {
	path := writeChain(t, "sm3", []float64{-2.1, -161.4, -0.9})

	rp := replayFile(t, path)
	defer rp.Close()

	report, err := Verify(rp, "sm3")
	if err != nil {
		t.Fatalf("Verify sm3: %v", err)
	}
	if len(report.Records) != 3 {
		t.Errorf("verified %d records, want 3", len(report.Records))
	}

	// 用错算法校验必须报篡改
	rp2 := replayFile(t, path)
	defer rp2.Close()
	var te *TamperError
	if _, err := Verify(rp2, "sha256"); !errors.As(err, &te) {
		t.Fatalf("wrong digest algorithm: err = %v, want *TamperError", err)
	}
}
