package service

import "fmt"

// RoomID — детерминированный id комнаты пары: сортировка по возрастанию,
// фиксированный шаблон. Любой процесс вычисляет его без обращения к базе.
func RoomID(a, b int64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("room_%d_%d", a, b)
}

// ContextualRoomID — комната пары в контексте оффера.
// Проверка статуса оффера — дело вызывающего, не резолвера.
func ContextualRoomID(a, b, offerID int64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("room_%d_%d_offer_%d", a, b, offerID)
}

// NotificationsGroup — персональная группа уведомлений пользователя.
func NotificationsGroup(userID int64) string {
	return fmt.Sprintf("notifications_%d", userID)
}
