package rates

import (
	"context"
	"errors"
	"testing"
)

func TestSchedulerRunOnceIsolatesFailures(t *testing.T) {
	repo := newTestRepo(t)
	ok := &fakeFetcher{repo: repo, batch: officialBatch()}
	bad := &fakeFetcher{repo: repo, err: errors.New("scrape failed")}

	s, err := NewScheduler("", []Source{{Name: "oxr", Fetcher: ok}, {Name: "ambito", Fetcher: bad}, {Name: "none"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := s.RunOnce(context.Background()); n != len(officialBatch()) {
		t.Errorf("RunOnce = %d, want %d", n, len(officialBatch()))
	}
	if ok.calls.Load() != 1 || bad.calls.Load() != 1 {
		t.Errorf("calls ok=%d bad=%d", ok.calls.Load(), bad.calls.Load())
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	if _, err := NewScheduler("every day", nil, nil); err == nil {
		t.Error("bad schedule accepted")
	}
}
