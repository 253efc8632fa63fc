package chainlog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(model.TimeLayout, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}

func streamRec(t *testing.T, ts string, delta float64) *model.StreamRecord {
	t.Helper()
	return &model.StreamRecord{
		Timestamp: mustTime(t, ts),
		DeltaPa:   delta,
		DustV:     0.412,
		AccelMagG: 1.003117,
		Activity:  model.ActivityStill,
	}
}

func openFileLog(t *testing.T, path string, opts Options) *Log {
	t.Helper()
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	l, err := Open(sink, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

// verifyChain 重放并重算整条链，返回记录数
func verifyChain(t *testing.T, l *Log, digest string) int {
	t.Helper()
	hasher, err := NewHasher(digest)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	rp, err := l.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	defer rp.Close()

	want := model.GenesisDigest
	n := 0
	for {
		rec, line, err := rp.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if rec.PrevDigest() != want {
			t.Fatalf("record %d prev digest = %s, want %s", n, rec.PrevDigest(), want)
		}
		if rec.CanonicalLine() != line {
			t.Fatalf("record %d does not re-serialize: got %q, media %q", n, rec.CanonicalLine(), line)
		}
		want = DigestHex(hasher, []byte(line))
		n++
	}
	return n
}

func TestOpenEmptyWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	l := openFileLog(t, path, Options{Variant: model.VariantStream})

	if l.PrevDigest() != model.GenesisDigest {
		t.Errorf("fresh log prev digest = %s", l.PrevDigest())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != model.HeaderStream+"\n" {
		t.Errorf("fresh log contents = %q", data)
	}
}

func TestAppendChainsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	l := openFileLog(t, path, Options{Variant: model.VariantStream})

	recs := []*model.StreamRecord{
		streamRec(t, "2026-03-01 10:00:00", -2.15),
		streamRec(t, "2026-03-01 10:00:05", -161.40),
		streamRec(t, "2026-03-01 10:00:10", -0.88),
	}
	for _, r := range recs {
		if err := l.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if recs[0].PrevDigest() != model.GenesisDigest {
		t.Errorf("first record prev = %s, want genesis sentinel", recs[0].PrevDigest())
	}
	hasher, _ := NewHasher("sha256")
	if want := DigestHex(hasher, []byte(recs[0].CanonicalLine())); recs[1].PrevDigest() != want {
		t.Errorf("second record prev = %s, want %s", recs[1].PrevDigest(), want)
	}

	if n := verifyChain(t, l, "sha256"); n != 3 {
		t.Errorf("replayed %d records, want 3", n)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l := openFileLog(t, path, Options{Variant: model.VariantStream})
	last := streamRec(t, "2026-03-01 10:00:05", -161.40)
	if err := l.Append(streamRec(t, "2026-03-01 10:00:00", -2.15)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(last); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l = openFileLog(t, path, Options{})
	if l.Variant() != model.VariantStream {
		t.Errorf("recovered variant = %s", l.Variant())
	}
	if l.Records() != 2 {
		t.Errorf("recovered %d records, want 2", l.Records())
	}
	hasher, _ := NewHasher("sha256")
	if want := DigestHex(hasher, []byte(last.CanonicalLine())); l.PrevDigest() != want {
		t.Errorf("recovered prev digest = %s, want %s", l.PrevDigest(), want)
	}

	if err := l.Append(streamRec(t, "2026-03-01 10:00:15", -3.02)); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if n := verifyChain(t, l, "sha256"); n != 3 {
		t.Errorf("replayed %d records, want 3", n)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTornTailTruncatedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l := openFileLog(t, path, Options{Variant: model.VariantStream})
	keep := streamRec(t, "2026-03-01 10:00:00", -2.15)
	if err := l.Append(keep); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// 模拟断电撕裂：追加半条没有换行的记录
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("2026-03-01 10:00:05,-161.40,0.4"); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	f.Close()

	l = openFileLog(t, path, Options{})
	if l.Records() != 1 {
		t.Errorf("recovered %d records, want 1", l.Records())
	}
	hasher, _ := NewHasher("sha256")
	if want := DigestHex(hasher, []byte(keep.CanonicalLine())); l.PrevDigest() != want {
		t.Errorf("recovered prev digest = %s, want %s", l.PrevDigest(), want)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Errorf("torn tail survived truncation: %q", data)
	}
	if strings.Contains(string(data), "-161.40") {
		t.Errorf("torn record bytes still present: %q", data)
	}
}

func TestLegacyVariantSkipsChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	l := openFileLog(t, path, Options{Variant: model.VariantLegacyEvent})

	rec := &model.EventRecord{
		Timestamp:  mustTime(t, "2026-03-01 10:00:00"),
		EventType:  "AirRapier_Attack",
		DurationMs: 150,
		AvgDeltaPa: -180.0,
		Activity:   model.ActivityStill,
	}
	if err := l.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.PrevDigest() != "" {
		t.Errorf("legacy record got a prev digest: %s", rec.PrevDigest())
	}
	if l.PrevDigest() != model.GenesisDigest {
		t.Errorf("legacy log advanced the chain: %s", l.PrevDigest())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := model.HeaderLegacyEvent + "\n" +
		"2026-03-01 10:00:00,AirRapier_Attack,150,-180.00,Still\n"
	if string(data) != want {
		t.Errorf("legacy log contents:\n got  %q\n want %q", data, want)
	}
}

func TestSm3DigestChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	l := openFileLog(t, path, Options{Variant: model.VariantStream, Digest: "sm3"})

	first := streamRec(t, "2026-03-01 10:00:00", -2.15)
	second := streamRec(t, "2026-03-01 10:00:05", -161.40)
	if err := l.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	hasher, err := NewHasher("sm3")
	if err != nil {
		t.Fatalf("NewHasher(sm3): %v", err)
	}
	if want := DigestHex(hasher, []byte(first.CanonicalLine())); second.PrevDigest() != want {
		t.Errorf("sm3 chain mismatch: got %s, want %s", second.PrevDigest(), want)
	}
	if n := verifyChain(t, l, "sm3"); n != 2 {
		t.Errorf("replayed %d records, want 2", n)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUnknownDigestRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	if _, err := Open(sink, Options{Digest: "md5"}); err == nil {
		t.Fatal("Open accepted unknown digest algorithm")
	}
}

func TestReplayRejectsGarbageHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(path, []byte("not,a,known,header\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := NewReplay(f); err == nil {
		t.Fatal("NewReplay accepted unknown header")
	}
}

func TestReplayRejectsCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	content := model.HeaderStream + "\n" +
		"2026-03-01 10:00:00,-2.15,0.412,1.003117,Still,zz\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rp, err := NewReplay(f)
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}
	defer rp.Close()

	if _, _, err := rp.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Next on corrupt record: err = %v", err)
	}
}
