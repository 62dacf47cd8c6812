package content

import (
	"strings"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
)

// Watched path patterns.
const (
	ResourcePattern = "localizedContent/{languageCode}/resources/{resourceId}"
	CardPattern     = ResourcePattern + "/cards/{cardId}"
	FeedbackPattern = CardPattern + "/feedback/{feedbackId}"
	SubtopicPattern = "localizedContent/{languageCode}/subtopics/{subtopicId}"
	TopicPattern    = "localizedContent/{languageCode}/topics/{topicId}"
	UserPattern     = "users/{uid}"
	UploadPattern   = UploadsRoot + "/{authorId}/{resourceId}/{cardId}/{fileName}"

	UploadsRoot = "user_uploads"
)

func ResourcesCollection(languageCode string) docstore.Path {
	return docstore.Join("localizedContent", languageCode, "resources")
}

func ResourcePath(languageCode, resourceID string) docstore.Path {
	return ResourcesCollection(languageCode).Child(resourceID)
}

func CardsCollection(resource docstore.Path) docstore.Path {
	return resource.Child("cards")
}

func CardPath(languageCode, resourceID, cardID string) docstore.Path {
	return CardsCollection(ResourcePath(languageCode, resourceID)).Child(cardID)
}

func FeedbackCollection(card docstore.Path) docstore.Path {
	return card.Child("feedback")
}

func SubtopicsCollection(languageCode string) docstore.Path {
	return docstore.Join("localizedContent", languageCode, "subtopics")
}

func SubtopicPath(languageCode, subtopicID string) docstore.Path {
	return SubtopicsCollection(languageCode).Child(subtopicID)
}

func TopicsCollection(languageCode string) docstore.Path {
	return docstore.Join("localizedContent", languageCode, "topics")
}

func TopicPath(languageCode, topicID string) docstore.Path {
	return TopicsCollection(languageCode).Child(topicID)
}

// HeaderPath is keyed by (languageCode, topicId, subtopicId, resourceId).
func HeaderPath(languageCode, topicID, subtopicID, resourceID string) docstore.Path {
	return TopicPath(languageCode, topicID).Child("subtopics", subtopicID, "headers", resourceID)
}

func UserPath(uid string) docstore.Path {
	return docstore.Join("users", uid)
}

// UploadPrefix is the object-store folder holding one card's attachments.
func UploadPrefix(authorID, resourceID, cardID string) string {
	return strings.Join([]string{UploadsRoot, authorID, resourceID, cardID}, "/") + "/"
}

func UploadKey(authorID, resourceID, cardID, fileName string) string {
	return UploadPrefix(authorID, resourceID, cardID) + strings.TrimLeft(fileName, "/")
}
