package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestInflightRegistryCancel(t *testing.T) {
	r := newInflightRegistry()
	cancelled := false
	r.register("exec_1", "", "s1", func() { cancelled = true })

	if r.cancel("exec_1", "other-tenant") {
		t.Error("cancel from another tenant should fail")
	}
	if !r.cancel("exec_1", "") {
		t.Fatal("cancel should find the execution")
	}
	if !cancelled {
		t.Error("cancel function should have been called")
	}
	if r.cancel("exec_1", "") {
		t.Error("second cancel should report not found")
	}
}

func TestInflightRegistryRemove(t *testing.T) {
	r := newInflightRegistry()
	cancelled := false
	r.register("exec_1", "", "s1", func() { cancelled = true })
	r.remove("exec_1")
	if cancelled {
		t.Error("remove must not cancel")
	}
	if r.cancel("exec_1", "") {
		t.Error("removed execution should not be cancellable")
	}
	r.remove("exec_unknown")
}

func TestInflightRegistryCancelSession(t *testing.T) {
	r := newInflightRegistry()
	var n atomic.Int32
	r.register("exec_a", "t", "s1", func() { n.Add(1) })
	r.register("exec_b", "t", "s1", func() { n.Add(1) })
	r.register("exec_c", "t", "s2", func() { n.Add(1) })
	r.register("exec_d", "u", "s1", func() { n.Add(1) })

	if got := r.list("t", "s1"); len(got) != 2 || got[0] != "exec_a" {
		t.Errorf("list = %v", got)
	}
	if got := r.cancelSession("t", "s1"); got != 2 || n.Load() != 2 {
		t.Errorf("cancelSession = %d, cancelled %d", got, n.Load())
	}
	if got := r.list("t", "s1"); len(got) != 0 {
		t.Errorf("list after cancel = %v", got)
	}
}

func TestInflightRegistryConcurrentAccess(t *testing.T) {
	r := newInflightRegistry()
	var wg sync.WaitGroup
	for i := range 100 {
		id := fmt.Sprintf("exec_%03d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.register(id, "", "s1", func() {})
			r.list("", "s1")
			if i%2 == 0 {
				r.cancel(id, "")
			} else {
				r.remove(id)
			}
		}()
	}
	wg.Wait()
	if got := r.list("", "s1"); len(got) != 0 {
		t.Errorf("entries left = %v", got)
	}
}
