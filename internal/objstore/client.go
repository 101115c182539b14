// Package objstore is the client for the S3-compatible store holding
// regulation text, keyed "{jurisdiction}/{name}" with folder-like prefixes
// grouping jurisdictions.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/minio/minio-go/v7"

	"lexroute/api/internal/gateway"
)

// IsTerminal classifies object-store errors for the gateway.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket", "InvalidArgument", "AccessDenied":
			return true
		}
	}
	return false
}

// ObjectInfo is regulation object metadata.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
}

// Extractor turns non-plain-text content (paginated documents and the like)
// into per-unit text. The default treats content as a single plain-text unit.
type Extractor interface {
	Extract(content []byte) ([]string, error)
}

type plainExtractor struct{}

func (plainExtractor) Extract(content []byte) ([]string, error) {
	return []string{decodeText(content)}, nil
}

type Client struct {
	mc        *minio.Client
	bucket    string
	policy    gateway.Policy
	cache     Cache
	extractor Extractor
}

// New creates an object store client. A zero Terminal on the policy is
// replaced with IsTerminal; a nil extractor falls back to plain text.
func New(mc *minio.Client, bucket string, policy gateway.Policy, cache Cache, extractor Extractor) *Client {
	if policy.Terminal == nil {
		policy.Terminal = IsTerminal
	}
	if extractor == nil {
		extractor = plainExtractor{}
	}
	return &Client{mc: mc, bucket: bucket, policy: policy, cache: cache, extractor: extractor}
}

// GetRegulation fetches regulation text by "{jurisdiction}/{name}". The
// second return is false when the key does not exist; that is not an error.
// With useCache, a non-expired cache entry short-circuits the fetch and a
// fresh fetch is cached on the way out.
func (c *Client) GetRegulation(ctx context.Context, jurisdiction, name string, useCache bool) (string, bool, error) {
	objectKey := jurisdiction + "/" + name

	if useCache && c.cache != nil {
		if content, ok := c.cache.Get(ctx, objectKey); ok {
			return content, true, nil
		}
	}

	type fetched struct {
		content string
		found   bool
	}
	result, err := gateway.Do(ctx, c.policy, "objstore.GetRegulation", func(ctx context.Context) (fetched, error) {
		obj, err := c.mc.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
		if err != nil {
			return fetched{}, fmt.Errorf("get object %s: %w", objectKey, err)
		}
		defer obj.Close()

		data, err := io.ReadAll(obj)
		if err != nil {
			var resp minio.ErrorResponse
			if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
				log.Printf("objstore: regulation not found: %s", objectKey)
				return fetched{}, nil
			}
			return fetched{}, fmt.Errorf("read object %s: %w", objectKey, err)
		}
		return fetched{content: decodeText(data), found: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	if !result.found {
		return "", false, nil
	}

	if useCache && c.cache != nil {
		c.cache.Set(ctx, objectKey, result.content)
	}
	return result.content, true, nil
}

// ListRegulations lists object metadata under "{jurisdiction}/" when a
// jurisdiction is given, else under the supplied prefix (or none).
func (c *Client) ListRegulations(ctx context.Context, jurisdiction, prefix string) ([]ObjectInfo, error) {
	listPrefix := prefix
	if jurisdiction != "" {
		listPrefix = jurisdiction + "/"
	}

	return gateway.Do(ctx, c.policy, "objstore.ListRegulations", func(ctx context.Context) ([]ObjectInfo, error) {
		var objects []ObjectInfo
		for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
			if obj.Err != nil {
				return nil, fmt.Errorf("list objects: %w", obj.Err)
			}
			objects = append(objects, ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				ETag:         obj.ETag,
			})
		}
		return objects, nil
	})
}

// ExtractText runs the pluggable extractor and joins the per-unit text with
// a blank-line separator.
func (c *Client) ExtractText(content []byte) (string, error) {
	units, err := c.extractor.Extract(content)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return strings.Join(units, "\n\n"), nil
}

// BucketStatus reports object-store health.
type BucketStatus struct {
	Bucket    string `json:"bucket"`
	CacheSize int    `json:"cache_size"`
}

// Health lists a single object to verify reachability.
func (c *Client) Health(ctx context.Context) (BucketStatus, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range c.mc.ListObjects(listCtx, c.bucket, minio.ListObjectsOptions{MaxKeys: 1}) {
		if obj.Err != nil {
			return BucketStatus{}, fmt.Errorf("list bucket %s: %w", c.bucket, obj.Err)
		}
		break
	}
	size := 0
	if c.cache != nil {
		size = c.cache.Len(ctx)
	}
	return BucketStatus{Bucket: c.bucket, CacheSize: size}, nil
}

// decodeText decodes content as UTF-8, dropping invalid sequences from
// binary or mis-encoded objects rather than failing.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}
