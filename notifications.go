package main

import "sync"

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a transient, user-visible message.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	FieldID string            `json:"field_id,omitempty"`
}

type Notifier interface {
	Notify(n Notification)
}

// notificationList collects notifications for one response.
type notificationList struct {
	mu    sync.Mutex
	items []Notification
}

func (l *notificationList) Notify(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
}

func (l *notificationList) Items() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notification(nil), l.items...)
}
