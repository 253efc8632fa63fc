package storage

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/utahisnotastate/ufwairrapiertracker/internal/integrity"
	"github.com/utahisnotastate/ufwairrapiertracker/internal/model"
)

func resetForTest(t *testing.T) {
	t.Helper()
	if err := CloseDB(); err != nil {
		t.Logf("close previous db: %v", err)
	}
	db = nil
	once = sync.Once{}
}

func setupTestDB(t *testing.T) {
	t.Helper()
	resetForTest(t)
	err := Setup(Options{
		DataDir:      t.TempDir(),
		FileName:     "report.db",
		LogLevel:     "silent",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		JournalMode:  "WAL",
		Synchronous:  "NORMAL",
		TempStore:    "MEMORY",
		ForeignKeys:  true,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { resetForTest(t) })
}

func eventReport(t *testing.T) *integrity.Report {
	t.Helper()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mk := func(i int, duration int64, delta float64, act model.Activity) model.Record {
		return &model.EventRecord{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			EventType:  "AirRapier_Attack",
			DurationMs: duration,
			AvgDeltaPa: delta,
			Activity:   act,
		}
	}

	rep := &integrity.Report{Variant: model.VariantEvent}
	rep.Records = []model.Record{
		mk(0, 150, -180, model.ActivityStill),
		mk(1, 200, -200, model.ActivityStill),
		mk(2, 100, -160, model.ActivityMoving),
		mk(3, 3000, -170, model.ActivityStill),
	}
	for _, r := range rep.Records {
		rep.Vectors = append(rep.Vectors, integrity.FeatureVector(r))
	}
	return rep
}

func TestExportAndAggregate(t *testing.T) {
	setupTestDB(t)

	rep := eventReport(t)
	scores := []float64{0.1, 0.5, 0.4, 55.0}
	flagged := []int{3}

	err := ExportReport("sess-1", "attack_log.csv", "sha256", 0.05, rep, scores, flagged)
	if err != nil {
		t.Fatalf("ExportReport: %v", err)
	}

	agg, err := AggregateEvents("sess-1")
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if agg.TotalEvents != 4 {
		t.Errorf("total events = %d, want 4", agg.TotalEvents)
	}
	if math.Abs(agg.AvgDurationMs-862.5) > 1e-6 {
		t.Errorf("avg duration = %f, want 862.5", agg.AvgDurationMs)
	}
	if math.Abs(agg.AvgDeltaPa-(-177.5)) > 1e-6 {
		t.Errorf("avg delta = %f, want -177.5", agg.AvgDeltaPa)
	}
	if agg.ActivityCounts["Still"] != 3 || agg.ActivityCounts["Moving"] != 1 {
		t.Errorf("activity counts = %v", agg.ActivityCounts)
	}
	if agg.MostCommonActivity != "Still" {
		t.Errorf("most common activity = %s", agg.MostCommonActivity)
	}

	rows, err := FlaggedEvents("sess-1")
	if err != nil {
		t.Fatalf("FlaggedEvents: %v", err)
	}
	if len(rows) != 1 || rows[0].RecordIdx != 3 {
		t.Errorf("flagged rows = %+v, want record 3 only", rows)
	}

	// 会话元数据
	conn, err := GetDB()
	if err != nil {
		t.Fatal(err)
	}
	var sess ImportSession
	if err := conn.Where("session_id = ?", "sess-1").First(&sess).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.RecordCount != 4 || sess.FlaggedCount != 1 || sess.Variant != "event" {
		t.Errorf("session = %+v", sess)
	}
}

func TestExportStreamRecords(t *testing.T) {
	setupTestDB(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rep := &integrity.Report{Variant: model.VariantStream}
	for i, delta := range []float64{-1.5, -161.4} {
		rep.Records = append(rep.Records, &model.StreamRecord{
			Timestamp: base.Add(time.Duration(i) * 50 * time.Millisecond),
			DeltaPa:   delta,
			DustV:     0.55,
			AccelMagG: 1.0,
			Activity:  model.ActivityStill,
		})
	}

	err := ExportReport("sess-2", "stream.csv", "sha256", 0.5, rep, []float64{0.1, 9.0}, []int{1})
	if err != nil {
		t.Fatalf("ExportReport: %v", err)
	}

	conn, err := GetDB()
	if err != nil {
		t.Fatal(err)
	}
	var rows []StreamRow
	if err := conn.Where("session_id = ?", "sess-2").Order("record_idx").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d stream rows, want 2", len(rows))
	}
	if rows[1].DeltaPa != -161.4 || !rows[1].Flagged {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestExportRejectsScoreMismatch(t *testing.T) {
	setupTestDB(t)

	rep := eventReport(t)
	if err := ExportReport("sess-3", "x.csv", "sha256", 0.05, rep, []float64{1}, nil); err == nil {
		t.Fatal("mismatched scores accepted")
	}
}

func TestGetDBBeforeSetup(t *testing.T) {
	resetForTest(t)
	if _, err := GetDB(); err == nil {
		t.Fatal("GetDB succeeded before Setup")
	}
}
