package triggers

import (
	"time"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
)

type Kind string

const (
	KindDocumentWrite  Kind = "document.write"
	KindObjectFinalize Kind = "object.finalize"
	KindObjectDelete   Kind = "object.delete"
	KindIdentityCreate Kind = "identity.create"
	KindIdentityDelete Kind = "identity.delete"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDocumentWrite, KindObjectFinalize, KindObjectDelete, KindIdentityCreate, KindIdentityDelete:
		return true
	default:
		return false
	}
}

// Object identifies a stored object named by an object-store notification.
type Object struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Generation  string `json:"generation,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	// Metadata is the object's custom metadata as carried by the notification.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// User is an identity-provider record.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Event is one delivery from a watched source. Path is the document path for
// document writes, the object key for object events and users/{uid} for
// identity events.
type Event struct {
	ID     string             `json:"id"`
	Kind   Kind               `json:"kind"`
	Path   string             `json:"path"`
	Time   time.Time          `json:"time"`
	Before *docstore.Snapshot `json:"before,omitempty"`
	After  *docstore.Snapshot `json:"after,omitempty"`
	Object *Object            `json:"object,omitempty"`
	User   *User              `json:"user,omitempty"`
}

// DocumentEvent wraps a committed document change.
func DocumentEvent(ch docstore.Change) Event {
	return Event{
		ID:     ch.ID,
		Kind:   KindDocumentWrite,
		Path:   ch.Path.String(),
		Time:   ch.Time,
		Before: ch.Before,
		After:  ch.After,
	}
}

// Version is the sequence token of the document this event describes; zero for
// non-document events.
func (e Event) Version() int64 {
	switch {
	case e.After != nil:
		return e.After.Version
	case e.Before != nil:
		return e.Before.Version + 1
	default:
		return 0
	}
}
