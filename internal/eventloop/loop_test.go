package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/clock"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Discard()
	m.Run()
}

func TestPostRunsInOrder(t *testing.T) {
	l := New(nil)
	l.Start()
	defer l.Stop()

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Flush()

	if len(got) != 50 {
		t.Fatalf("expected 50 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestPostFromManyGoroutines(t *testing.T) {
	l := New(nil)
	l.Start()
	defer l.Stop()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	l.Flush()

	if counter != 200 {
		t.Fatalf("expected 200 increments, got %d", counter)
	}
}

func TestAfterFuncRunsOnLoop(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	l := New(mc)
	l.Start()
	defer l.Stop()

	fired := false
	l.AfterFunc(time.Second, func() { fired = true })

	mc.Advance(999 * time.Millisecond)
	l.Flush()
	if fired {
		t.Fatalf("timer fired early")
	}

	mc.Advance(time.Millisecond)
	l.Flush()
	if !fired {
		t.Fatalf("timer did not fire at deadline")
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := New(nil)
	l.Start()
	defer l.Stop()

	l.Post(func() { panic("boom") })
	ran := false
	l.Post(func() { ran = true })
	l.Flush()

	if !ran {
		t.Fatalf("loop stopped after panic")
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(nil)
	l.Start()
	l.Stop()

	if l.Post(func() {}) {
		t.Fatalf("expected Post to fail after Stop")
	}
	l.Flush()
}
