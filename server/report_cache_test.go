// ABOUTME: Tests for the report cache: hits, distinct keys, TTL expiry, uncached errors and concurrent access.
package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRenderer counts invocations and returns a fixed page.
type fakeRenderer struct {
	calls atomic.Int64
	page  []byte
	err   error
}

func (f *fakeRenderer) render(markdown string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func TestReportCacheHit(t *testing.T) {
	r := &fakeRenderer{page: []byte("<html>ok</html>")}
	c := NewReportCache(r.render, time.Minute)

	for i := 0; i < 3; i++ {
		page, err := c.Render("# Run 1")
		if err != nil || string(page) != "<html>ok</html>" {
			t.Fatalf("Render = %q, %v", page, err)
		}
	}
	if r.calls.Load() != 1 {
		t.Errorf("renderer called %d times, want 1", r.calls.Load())
	}

	c.Render("# Run 2")
	if r.calls.Load() != 2 || c.Len() != 2 {
		t.Errorf("calls = %d len = %d, want 2 and 2", r.calls.Load(), c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func TestReportCacheExpiry(t *testing.T) {
	r := &fakeRenderer{page: []byte("p")}
	c := NewReportCache(r.render, 20*time.Millisecond)

	c.Render("# Run")
	time.Sleep(40 * time.Millisecond)
	c.Render("# Run")
	if r.calls.Load() != 2 {
		t.Errorf("renderer called %d times after expiry, want 2", r.calls.Load())
	}
	if c.Len() != 1 {
		t.Errorf("expired entry not pruned: len %d", c.Len())
	}
}

func TestReportCacheDoesNotCacheErrors(t *testing.T) {
	r := &fakeRenderer{err: errors.New("bad markdown")}
	c := NewReportCache(r.render, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := c.Render("# Run"); err == nil {
			t.Fatal("expected error")
		}
	}
	if r.calls.Load() != 2 || c.Len() != 0 {
		t.Errorf("calls = %d len = %d, want 2 and 0", r.calls.Load(), c.Len())
	}
}

func TestReportCacheConcurrent(t *testing.T) {
	r := &fakeRenderer{page: []byte("p")}
	c := NewReportCache(r.render, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Render([]string{"# A", "# B"}[i%2]); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}
