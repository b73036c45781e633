package systems

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewJobSystem(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("NewJobSystem(0, 1)\nhave %v\nwant %v", err, ErrNoWorkers)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Errorf("NewJobSystem(1, -1)\nhave %v\nwant %v", err, ErrNegativeChannelSize)
	}
}

func TestJobSystemRunsEveryJob(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	var ok, failed, done atomic.Int32
	boom := errors.New("boom")
	var mu sync.Mutex
	var errs []error
	for i := 0; i < 20; i++ {
		i := i
		err := js.Submit(JobTask{
			Name: "job",
			OnStart: func() error {
				if i%5 == 0 {
					return boom
				}
				return nil
			},
			OnComplete: func() { ok.Add(1) },
			OnFailure: func(err error) {
				failed.Add(1)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			},
			OnCompletionCallback: func() { done.Add(1) },
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if ok.Load() != 16 || failed.Load() != 4 || done.Load() != 20 {
		t.Errorf("job outcomes\nhave ok=%d failed=%d done=%d\nwant ok=16 failed=4 done=20", ok.Load(), failed.Load(), done.Load())
	}
	for _, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("OnFailure error\nhave %v\nwant %v", err, boom)
		}
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := js.Shutdown(); err != nil {
		t.Errorf("second Shutdown\nhave %v\nwant nil", err)
	}
	if err := js.Submit(JobTask{OnStart: func() error { return nil }}); !errors.Is(err, ErrJobSystemClosed) {
		t.Errorf("Submit after Shutdown\nhave %v\nwant %v", err, ErrJobSystemClosed)
	}
	if err := (&JobSystem{}).Submit(JobTask{Name: "empty"}); err == nil {
		t.Error("Submit without OnStart\nhave nil\nwant error")
	}
}
