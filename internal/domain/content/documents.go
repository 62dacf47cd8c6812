package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
)

var (
	// ErrMissingField marks a snapshot (or a required field of one) that is absent.
	ErrMissingField = errors.New("missing field")
	// ErrInvalidDocument wraps schema violations (wrong types, unknown enum values).
	ErrInvalidDocument = errors.New("document failed validation")
)

type Resource struct {
	ResourceType ResourceType `json:"resourceType" validate:"omitempty,oneof=lesson other"`
	Status       Status       `json:"status" validate:"omitempty,oneof=draft awaiting_review changes_requested published"`
	IsFeatured   bool         `json:"isFeatured"`
	Subtopic     string       `json:"subtopic"`
	Topic        string       `json:"topic"`
	AuthorID     string       `json:"authorId"`
	AuthorName   string       `json:"authorName"`
	Title        string       `json:"title"`
	Summary      string       `json:"summary"`
	DateUpdated  *time.Time   `json:"dateUpdated"`
}

// Location returns the (topic, subtopic) pair the resource's header lives under.
func (r *Resource) Location() (topic, subtopic string, err error) {
	if r == nil || r.Topic == "" || r.Subtopic == "" {
		return "", "", fmt.Errorf("%w: topic/subtopic", ErrMissingField)
	}
	return r.Topic, r.Subtopic, nil
}

// IsPublishedLesson is the candidate set for the featured lesson of a subtopic.
func (r *Resource) IsPublishedLesson() bool {
	return r != nil && r.ResourceType == ResourceTypeLesson && r.Status == StatusPublished && r.Subtopic != ""
}

type Card struct {
	Text                       string `json:"text"`
	AttachmentPath             string `json:"attachmentPath"`
	FeedbackPreviewComment     string `json:"feedbackPreviewComment"`
	FeedbackPreviewCommentPath string `json:"feedbackPreviewCommentPath"`
}

type Feedback struct {
	ReviewerComment bool       `json:"reviewerComment"`
	Locked          bool       `json:"locked"`
	DateUpdated     *time.Time `json:"dateUpdated"`
	CommentText     string     `json:"commentText"`
	AuthorID        string     `json:"authorId"`
}

type Subtopic struct {
	Name       string `json:"name"`
	IsFeatured bool   `json:"isFeatured"`
}

type Topic struct {
	Name      string          `json:"name"`
	Subtopics map[string]bool `json:"subtopics"`
}

// Members lists subtopic ids currently in the membership map.
func (t *Topic) Members() []string {
	out := make([]string, 0, len(t.Subtopics))
	for id, in := range t.Subtopics {
		if in {
			out = append(out, id)
		}
	}
	return out
}

type User struct {
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
}

func DecodeResource(s *docstore.Snapshot) (*Resource, error) { return decode[Resource](s) }
func DecodeCard(s *docstore.Snapshot) (*Card, error)         { return decode[Card](s) }
func DecodeFeedback(s *docstore.Snapshot) (*Feedback, error) { return decode[Feedback](s) }
func DecodeSubtopic(s *docstore.Snapshot) (*Subtopic, error) { return decode[Subtopic](s) }
func DecodeTopic(s *docstore.Snapshot) (*Topic, error)       { return decode[Topic](s) }

// ValidateUser checks a profile delivered by the identity provider.
func ValidateUser(u User) error {
	if err := validate().Struct(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

func validate() *validator.Validate {
	validateOnce.Do(func() {
		validateInst = validator.New(validator.WithRequiredStructEnabled())
	})
	return validateInst
}

func decode[T any](s *docstore.Snapshot) (*T, error) {
	if s == nil {
		return nil, ErrMissingField
	}
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, s.Path, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, s.Path, err)
	}
	if err := validate().Struct(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, s.Path, err)
	}
	return &out, nil
}
