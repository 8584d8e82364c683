// Package notify implements the notifications surface: per-recipient
// in-app notifications created by automation `system.notify` steps and
// listed/marked-read through the control-plane CLI (spec.md §6).
// Grounded on original_source/app/notifications.py's per-user inbox and on
// internal/records' tenant-scoped in-memory store idiom.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/manifest"
)

// Notification is a single in-app notification addressed to one recipient.
type Notification struct {
	ID          string
	WorkspaceID string
	RecipientID string
	Title       string
	Body        string
	Payload     manifest.Doc
	Read        bool
	CreatedAt   time.Time
	ReadAt      time.Time
}

type bucketKey struct {
	workspaceID, recipientID string
}

// Store is a tenant- and recipient-scoped notification inbox.
type Store struct {
	mu    sync.Mutex
	byKey map[bucketKey][]*Notification
}

// New returns an empty Store.
func New() *Store {
	return &Store{byKey: make(map[bucketKey][]*Notification)}
}

// Create appends a notification for recipientID, newest-last.
func (s *Store) Create(workspaceID, recipientID, title, body string, payload manifest.Doc) *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &Notification{
		ID: "notif_" + uuid.NewString(), WorkspaceID: workspaceID, RecipientID: recipientID,
		Title: title, Body: body, Payload: payload, CreatedAt: time.Now().UTC(),
	}
	key := bucketKey{workspaceID, recipientID}
	s.byKey[key] = append(s.byKey[key], n)
	return n
}

// List returns recipientID's notifications, newest first.
func (s *Store) List(workspaceID, recipientID string) []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.byKey[bucketKey{workspaceID, recipientID}]
	out := make([]*Notification, len(items))
	for i, n := range items {
		out[len(items)-1-i] = n
	}
	return out
}

// UnreadCount returns how many of recipientID's notifications are unread.
func (s *Store) UnreadCount(workspaceID, recipientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.byKey[bucketKey{workspaceID, recipientID}] {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead marks a single notification read.
func (s *Store) MarkRead(workspaceID, recipientID, notificationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.byKey[bucketKey{workspaceID, recipientID}] {
		if n.ID == notificationID {
			if !n.Read {
				n.Read = true
				n.ReadAt = time.Now().UTC()
			}
			return true
		}
	}
	return false
}

// MarkAllRead marks every notification for recipientID read.
func (s *Store) MarkAllRead(workspaceID, recipientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, n := range s.byKey[bucketKey{workspaceID, recipientID}] {
		if !n.Read {
			n.Read = true
			n.ReadAt = now
			count++
		}
	}
	return count
}
