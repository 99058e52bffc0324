package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingStore records PruneHistory calls.
type countingStore struct {
	mu     sync.Mutex
	calls  int
	result int64
	err    error
}

func (s *countingStore) RecordStateChange(context.Context, string, map[string]any, string) error {
	return nil
}

func (s *countingStore) GetHistory(context.Context, string, int) ([]Entry, error) {
	return nil, nil
}

func (s *countingStore) PruneHistory(context.Context, time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

func (s *countingStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingLogger struct {
	mu    sync.Mutex
	infos int
	warns int
}

func (l *recordingLogger) Info(string, ...any) { l.mu.Lock(); l.infos++; l.mu.Unlock() }
func (l *recordingLogger) Warn(string, ...any) { l.mu.Lock(); l.warns++; l.mu.Unlock() }

func TestPrunerPruneNow(t *testing.T) {
	tests := []struct {
		name      string
		retention time.Duration
		result    int64
		err       error
		want      int64
		wantCalls int
		wantInfo  int
		wantWarn  int
	}{
		{"removes rows", time.Hour, 3, nil, 3, 1, 1, 0},
		{"nothing to remove", time.Hour, 0, nil, 0, 1, 0, 0},
		{"store error", time.Hour, 0, errors.New("locked"), 0, 1, 0, 1},
		{"disabled", 0, 5, nil, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &countingStore{result: tt.result, err: tt.err}
			log := &recordingLogger{}
			p := NewPruner(store, tt.retention, time.Hour)
			p.SetLogger(log)

			if got := p.PruneNow(context.Background()); got != tt.want {
				t.Errorf("PruneNow() = %d, want %d", got, tt.want)
			}
			if store.callCount() != tt.wantCalls {
				t.Errorf("PruneHistory calls = %d, want %d", store.callCount(), tt.wantCalls)
			}
			if log.infos != tt.wantInfo || log.warns != tt.wantWarn {
				t.Errorf("logs info=%d warn=%d, want %d/%d", log.infos, log.warns, tt.wantInfo, tt.wantWarn)
			}
		})
	}
}

func TestPrunerStartStop(t *testing.T) {
	store := &countingStore{}
	p := NewPruner(store, time.Hour, 10*time.Millisecond)

	p.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for store.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pruner ran %d times, want at least 2", store.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	p.Stop()

	calls := store.callCount()
	time.Sleep(30 * time.Millisecond)
	if store.callCount() != calls {
		t.Error("pruner kept running after Stop")
	}
}

func TestPrunerDisabledStartIsNoop(t *testing.T) {
	store := &countingStore{}
	p := NewPruner(store, 0, time.Millisecond)

	p.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	p.Stop()

	if store.callCount() != 0 {
		t.Errorf("PruneHistory calls = %d, want 0", store.callCount())
	}
}
