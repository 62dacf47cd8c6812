package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/http/middleware"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/http/response"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// Publisher queues a trigger event.
type Publisher interface {
	Publish(ctx context.Context, ev triggers.Event) error
}

// EventHandler turns webhook deliveries from the identity provider and the
// object store into trigger events.
type EventHandler struct {
	log       *logger.Logger
	publisher Publisher
	bucket    string
	now       func() time.Time
}

func NewEventHandler(log *logger.Logger, publisher Publisher, uploadsBucket string) *EventHandler {
	return &EventHandler{
		log:       log.With("handler", "EventHandler"),
		publisher: publisher,
		bucket:    uploadsBucket,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type identityEventRequest struct {
	EventID     string     `json:"eventId"`
	Type        string     `json:"type" binding:"required,oneof=create delete"`
	UID         string     `json:"uid" binding:"required,excludesall=/"`
	DisplayName string     `json:"displayName"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phoneNumber"`
	Time        *time.Time `json:"time"`
}

// POST /v1/identity/events
func (h *EventHandler) Identity(c *gin.Context) {
	var req identityEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	kind := triggers.KindIdentityCreate
	if req.Type == "delete" {
		kind = triggers.KindIdentityDelete
	}
	ev := triggers.Event{
		ID:   req.EventID,
		Kind: kind,
		Path: content.UserPath(req.UID).String(),
		Time: h.eventTime(req.Time),
		User: &triggers.User{
			UID:         req.UID,
			DisplayName: req.DisplayName,
			Email:       req.Email,
			PhoneNumber: req.PhoneNumber,
		},
	}
	h.publish(c, ev)
}

// pushEnvelope is a Pub/Sub push delivery.
type pushEnvelope struct {
	Message struct {
		Attributes  map[string]string `json:"attributes"`
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime *time.Time        `json:"publishTime"`
	} `json:"message" binding:"required"`
	Subscription string `json:"subscription"`
}

// objectResource is the storage object JSON carried in the message data.
type objectResource struct {
	Name        string            `json:"name"`
	Bucket      string            `json:"bucket"`
	Generation  string            `json:"generation"`
	ContentType string            `json:"contentType"`
	Size        string            `json:"size"`
	Metadata    map[string]string `json:"metadata"`
}

// POST /v1/storage/events
// Unwatched event types, other buckets and keys outside the uploads folder are
// acknowledged with 204 so Pub/Sub does not redeliver them.
func (h *EventHandler) Storage(c *gin.Context) {
	var env pushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	attrs := env.Message.Attributes
	var kind triggers.Kind
	switch attrs["eventType"] {
	case "OBJECT_FINALIZE":
		kind = triggers.KindObjectFinalize
	case "OBJECT_DELETE":
		kind = triggers.KindObjectDelete
	default:
		c.Status(http.StatusNoContent)
		return
	}

	var obj objectResource
	if env.Message.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("message data: %w", err))
			return
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("object resource: %w", err))
			return
		}
	}
	key := firstNonEmpty(obj.Name, attrs["objectId"])
	bucket := firstNonEmpty(obj.Bucket, attrs["bucketId"])
	if key == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("object name missing"))
		return
	}
	if (h.bucket != "" && bucket != h.bucket) || !strings.HasPrefix(key, content.UploadsRoot+"/") {
		c.Status(http.StatusNoContent)
		return
	}
	size, _ := strconv.ParseInt(obj.Size, 10, 64)

	ev := triggers.Event{
		Kind: kind,
		Path: key,
		Time: h.eventTime(env.Message.PublishTime),
		Object: &triggers.Object{
			Bucket:      bucket,
			Key:         key,
			Generation:  firstNonEmpty(obj.Generation, attrs["objectGeneration"]),
			ContentType: obj.ContentType,
			Size:        size,
			Metadata:    obj.Metadata,
		},
	}
	if env.Message.MessageID != "" {
		ev.ID = "gcs-" + env.Message.MessageID
	}
	h.publish(c, ev)
}

func (h *EventHandler) publish(c *gin.Context, ev triggers.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	middleware.SetEventID(c, ev.ID)
	if err := h.publisher.Publish(c.Request.Context(), ev); err != nil {
		h.log.Error("publish trigger event failed", "event_id", ev.ID, "kind", ev.Kind, "path", ev.Path, "error", err)
		response.RespondError(c, http.StatusServiceUnavailable, "publish_failed", err)
		return
	}
	response.RespondAccepted(c, ev.ID)
}

func (h *EventHandler) eventTime(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return h.now()
	}
	return t.UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
