package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/dbctx"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

// Bucket is the uploads bucket. Deleting a missing object is not an error and
// ObjectAttrs returns nil, nil for a missing object.
type Bucket interface {
	// UploadFile is for seeding and tooling; the triggers only read and
	// delete. Clients upload directly to the bucket.
	UploadFile(dbc dbctx.Context, key string, file io.Reader, metadata map[string]string) error
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
}

type ObjectAttrs struct {
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
	Metadata    map[string]string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	emulatorHost  string
	name          string
}

// NewBucket opens the configured uploads bucket; memory mode needs no client.
func NewBucket(log *logger.Logger, storageCfg ObjectStorageConfig) (Bucket, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "UploadsBucket")
	if storageCfg.Mode == ObjectStorageModeMemory {
		serviceLog.Info("Object storage initialized", "mode", storageCfg.Mode)
		return NewMemoryBucket(), nil
	}

	stClient, err := newStorageClientForMode(context.Background(), storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"bucket", storageCfg.Bucket,
	)
	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"),
		name:          storageCfg.Bucket,
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

func (bs *bucketService) UploadFile(dbc dbctx.Context, key string, file io.Reader, metadata map[string]string) error {
	ctx, cancel := context.WithTimeout(dbc.Ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bs.name).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	w.Metadata = metadata
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case s == "":
		return ""
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	default:
		return ""
	}
}

func (bs *bucketService) DeleteObject(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := bs.storageClient.Bucket(bs.name).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bs.name, err)
	}
	return nil
}

func (bs *bucketService) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.storageClient.Bucket(bs.name).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

// DeletePrefix removes every object under prefix and reports the first failure
// after attempting all of them.
func (bs *bucketService) DeletePrefix(ctx context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("refusing to delete an empty prefix")
	}
	keys, err := bs.ListKeys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q: %w", prefix, err)
	}
	var firstErr error
	for _, k := range keys {
		if err := bs.DeleteObject(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if len(keys) > 0 {
		bs.log.Debug("deleted upload prefix", "prefix", prefix, "objects", len(keys))
	}
	return firstErr
}

func (bs *bucketService) ObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if bs.storageMode == ObjectStorageModeGCSEmulator && bs.emulatorHost != "" {
		return bs.emulatorObjectAttrs(ctx, key)
	}
	attrs, err := bs.storageClient.Bucket(bs.name).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return &ObjectAttrs{
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
		Metadata:    attrs.Metadata,
	}, nil
}

// emulatorObjectAttrs reads the JSON API directly; the emulator's metadata
// responses do not round-trip through the client library reliably.
func (bs *bucketService) emulatorObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", bs.emulatorHost, url.PathEscape(bs.name), url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed creating emulator attrs request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed emulator attrs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("emulator attrs failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Size        string            `json:"size"`
		ContentType string            `json:"contentType"`
		Updated     string            `json:"updated"`
		ETag        string            `json:"etag"`
		Metadata    map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode emulator attrs: %w", err)
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
	updated, _ := time.Parse(time.RFC3339, strings.TrimSpace(payload.Updated))
	return &ObjectAttrs{
		Key:         key,
		Size:        size,
		ContentType: payload.ContentType,
		Updated:     updated,
		ETag:        payload.ETag,
		Metadata:    payload.Metadata,
	}, nil
}
