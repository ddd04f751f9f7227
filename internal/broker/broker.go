package broker

import "context"

// Subscriber — живое подключение, умеющее принимать события.
// Send не должен блокироваться: медленный получатель не задерживает группу.
type Subscriber interface {
	ID() string
	Send(event any) error
}

// Broker — шина fan-out по именованным группам. Экземпляр создаётся явно
// и передаётся всем компонентам через конструкторы, без глобального состояния.
type Broker interface {
	// Join добавляет подписчика в группу; повторный Join — no-op.
	Join(groupID string, s Subscriber)
	// Leave убирает из группы; no-op если подписчика там нет.
	Leave(groupID string, s Subscriber)
	// LeaveAll атомарно убирает подписчика из всех групп (дисконнект).
	LeaveAll(s Subscriber)
	// Broadcast доставляет событие всем членам группы на момент вызова.
	// Доставка best-effort: ошибка одного получателя не прерывает остальных.
	Broadcast(ctx context.Context, groupID string, event any)
	Close() error
}
