package monitoring

import (
	"fmt"
	"log"
	"sync"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(log.Printf)

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not have triggered the previous callback")
	}
}

func TestComponent_PrefixesAndResolvesLate(t *testing.T) {
	defer SetLogger(log.Printf)

	logger := Component("trainer")

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	logger("fitted %s in %d folds", "gbdt", 5)

	if len(got) != 1 {
		t.Fatalf("got %d lines, want 1", len(got))
	}
	if want := "[trainer] fitted gbdt in 5 folds"; got[0] != want {
		t.Errorf("got %q, want %q", got[0], want)
	}
}

func TestLogf_ConcurrentUse(t *testing.T) {
	defer SetLogger(log.Printf)

	var mu sync.Mutex
	count := 0
	SetLogger(func(string, ...interface{}) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Logf("branch")
		}()
	}
	wg.Wait()

	if count != 8 {
		t.Errorf("got %d calls, want 8", count)
	}
}
