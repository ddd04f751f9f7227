package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cwrk-planet/chat-service/internal/metrics"
)

// Inproc — брокер в памяти процесса: groupID -> множество подписчиков.
type Inproc struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

func NewInproc() *Inproc {
	return &Inproc{groups: make(map[string]map[Subscriber]struct{})}
}

func (b *Inproc) Join(groupID string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs, ok := b.groups[groupID]
	if !ok {
		gs = make(map[Subscriber]struct{})
		b.groups[groupID] = gs
	}
	gs[s] = struct{}{}
}

func (b *Inproc) Leave(groupID string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.leaveLocked(groupID, s)
}

func (b *Inproc) LeaveAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for groupID := range b.groups {
		b.leaveLocked(groupID, s)
	}
}

func (b *Inproc) leaveLocked(groupID string, s Subscriber) {
	if gs, ok := b.groups[groupID]; ok {
		delete(gs, s)
		if len(gs) == 0 {
			delete(b.groups, groupID)
		}
	}
}

func (b *Inproc) Broadcast(_ context.Context, groupID string, event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if gs, ok := b.groups[groupID]; ok {
		for s := range gs {
			// best-effort: мёртвый получатель не срывает доставку остальным
			if err := s.Send(event); err != nil {
				metrics.BroadcastDropped.Inc()
				slog.Debug("broker send failed", "group", groupID, "sub", s.ID(), "err", err)
			}
		}
	}
}

func (b *Inproc) Close() error { return nil }

// Groups возвращает группы, в которых состоит подписчик (для тестов и дебага).
func (b *Inproc) Groups(s Subscriber) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	for groupID, gs := range b.groups {
		if _, ok := gs[s]; ok {
			out = append(out, groupID)
		}
	}
	return out
}
