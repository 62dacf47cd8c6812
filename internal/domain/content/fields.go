package content

// Field names as stored.
const (
	FieldResourceType   = "resourceType"
	FieldStatus         = "status"
	FieldIsFeatured     = "isFeatured"
	FieldSubtopic       = "subtopic"
	FieldTopic          = "topic"
	FieldAuthorID       = "authorId"
	FieldAuthorName     = "authorName"
	FieldTitle          = "title"
	FieldSummary        = "summary"
	FieldDateCreated    = "dateCreated"
	FieldDateUpdated    = "dateUpdated"
	FieldAwaitingReview = "isAwaitingReviewOrHasChangesRequested"
	FieldSubtopicCount  = "subtopicPublishedLessonCount"

	FieldText                 = "text"
	FieldAttachmentPath       = "attachmentPath"
	FieldAttachmentType       = "attachmentContentType"
	FieldAttachmentSize       = "attachmentSize"
	FieldPreviewComment       = "feedbackPreviewComment"
	FieldPreviewCommentPath   = "feedbackPreviewCommentPath"
	FieldReviewerComment      = "reviewerComment"
	FieldLocked               = "locked"
	FieldCommentText          = "commentText"
	FieldName                 = "name"
	FieldPublishedLessonCount = "publishedLessonCount"
	FieldSubtopics            = "subtopics"
	FieldFeaturedSubtopics    = "featuredSubtopicCount"
	FieldResourcePath         = "resourcePath"

	FieldDisplayName = "displayName"
	FieldEmail       = "email"
	FieldPhoneNumber = "phoneNumber"
)

type ResourceType string

const (
	ResourceTypeLesson ResourceType = "lesson"
	ResourceTypeOther  ResourceType = "other"
)

type Status string

const (
	StatusDraft            Status = "draft"
	StatusAwaitingReview   Status = "awaiting_review"
	StatusChangesRequested Status = "changes_requested"
	StatusPublished        Status = "published"
)

// AwaitingReviewOrChangesRequested backs the single-equality filter flag.
func (s Status) AwaitingReviewOrChangesRequested() bool {
	return s == StatusAwaitingReview || s == StatusChangesRequested
}

// ClearsFeedbackPreview reports whether entering this status hides feedback previews.
func (s Status) ClearsFeedbackPreview() bool {
	return s == StatusAwaitingReview || s == StatusPublished
}

// HeaderFields is the default subset mirrored from a resource into its header.
var HeaderFields = []string{
	FieldTitle,
	FieldSummary,
	FieldResourceType,
	FieldStatus,
	FieldIsFeatured,
	FieldAuthorID,
	FieldAuthorName,
	FieldSubtopic,
	FieldTopic,
	FieldDateUpdated,
}

// AuthoredResourceFields are edited by people; a change to one touches dateUpdated.
var AuthoredResourceFields = []string{
	FieldTitle,
	FieldSummary,
	FieldStatus,
	FieldSubtopic,
	FieldTopic,
	FieldResourceType,
}
