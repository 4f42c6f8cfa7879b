package live

import (
	"sync"
	"testing"
)

func TestLoadReturnsInitialValue(t *testing.T) {
	v := NewValue(1.5)
	if got := v.Load(); got != 1.5 {
		t.Fatalf("Load() = %v, want 1.5", got)
	}
	select {
	case x := <-v.Updates():
		t.Fatalf("unexpected update %v before Set", x)
	default:
	}
}

func TestSetKeepsOnlyLatestUpdate(t *testing.T) {
	v := NewValue(0)
	v.Set(1)
	v.Set(2)
	v.Set(3)

	if got := v.Load(); got != 3 {
		t.Fatalf("Load() = %d, want 3", got)
	}
	select {
	case x := <-v.Updates():
		if x != 3 {
			t.Fatalf("update = %d, want 3", x)
		}
	default:
		t.Fatal("expected a pending update")
	}
	select {
	case x := <-v.Updates():
		t.Fatalf("stale update %d left in channel", x)
	default:
	}
}

func TestConcurrentReaders(t *testing.T) {
	type snapshot struct{ a, b int }
	v := NewValue(snapshot{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s := v.Load()
				if s.a != s.b {
					t.Errorf("torn read %+v", s)
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		v.Set(snapshot{a: i, b: i})
	}
	wg.Wait()
}
