package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type stubSub struct {
	id   string
	fail bool

	mu     sync.Mutex
	events []any
}

func (s *stubSub) ID() string { return s.id }

func (s *stubSub) Send(event any) error {
	if s.fail {
		return errors.New("connection closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestInproc_JoinBroadcastLeave(t *testing.T) {
	b := NewInproc()
	ctx := context.Background()
	a := &stubSub{id: "a"}
	c := &stubSub{id: "c"}

	b.Join("room_1_2", a)
	b.Join("room_1_2", c)
	b.Broadcast(ctx, "room_1_2", "hello")

	if a.count() != 1 || c.count() != 1 {
		t.Fatalf("delivery: a=%d c=%d, want 1/1", a.count(), c.count())
	}

	b.Leave("room_1_2", a)
	b.Broadcast(ctx, "room_1_2", "again")

	if a.count() != 1 {
		t.Fatalf("left subscriber still receives events")
	}
	if c.count() != 2 {
		t.Fatalf("remaining subscriber missed event")
	}
}

func TestInproc_DoubleJoinDeliversOnce(t *testing.T) {
	b := NewInproc()
	s := &stubSub{id: "s"}

	b.Join("g", s)
	b.Join("g", s)
	b.Broadcast(context.Background(), "g", 1)

	if s.count() != 1 {
		t.Fatalf("events=%d, want 1", s.count())
	}
}

func TestInproc_UnknownGroupNoop(t *testing.T) {
	b := NewInproc()
	b.Broadcast(context.Background(), "nobody_here", "x")
	b.Leave("nobody_here", &stubSub{id: "s"})
}

func TestInproc_LeaveAll(t *testing.T) {
	b := NewInproc()
	s := &stubSub{id: "s"}
	other := &stubSub{id: "other"}

	b.Join("room_1_2", s)
	b.Join("room_1_3", s)
	b.Join("notifications_1", s)
	b.Join("room_1_2", other)

	b.LeaveAll(s)

	if got := b.Groups(s); len(got) != 0 {
		t.Fatalf("still member of %v after LeaveAll", got)
	}
	if got := b.Groups(other); len(got) != 1 {
		t.Fatalf("other subscriber affected: %v", got)
	}
}

func TestInproc_DeadSubscriberDoesNotBreakDelivery(t *testing.T) {
	b := NewInproc()
	dead := &stubSub{id: "dead", fail: true}
	alive := &stubSub{id: "alive"}

	b.Join("g", dead)
	b.Join("g", alive)
	b.Broadcast(context.Background(), "g", "payload")

	if alive.count() != 1 {
		t.Fatalf("healthy subscriber missed event because of dead one")
	}
}

func TestInproc_ConcurrentUse(t *testing.T) {
	b := NewInproc()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &stubSub{id: fmt.Sprintf("s%d", i)}
			for j := 0; j < 50; j++ {
				b.Join("g", s)
				b.Broadcast(ctx, "g", j)
				b.Leave("g", s)
			}
			b.LeaveAll(s)
		}(i)
	}
	wg.Wait()

	if got := len(b.Groups(&stubSub{id: "probe"})); got != 0 {
		t.Fatalf("probe in %d groups", got)
	}
}
