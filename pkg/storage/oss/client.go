package oss

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

const pingTimeout = 5 * time.Second

// ErrNotFound marks a missing object.
var ErrNotFound = errors.New("object not found")

// Client is a minimal object-store client speaking the OSS REST API
// with header-based HMAC-SHA1 request signing. Only the operations the
// publishing pipeline needs are implemented: stat, streaming reads,
// writes and presigned GET URLs.
type Client struct {
	httpClient *http.Client
	endpoint   string
	bucket     string
	accessID   string
	accessKey  string

	now func() time.Time
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

func NewClient(ctx context.Context, cfg config.OSSConfig, logg *logger.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("oss endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("oss bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("oss credentials are required")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   cfg.Endpoint,
		bucket:     cfg.Bucket,
		accessID:   cfg.AccessKeyID,
		accessKey:  cfg.AccessKeySecret,
		now:        time.Now,
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("oss health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "oss client initialized")
	}
	return client, nil
}

func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("oss client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "", "?max-keys=1", nil, "")
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if len(b) > 0 {
			return fmt.Errorf("oss bucket check failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
		}
		return fmt.Errorf("oss bucket check failed: %s", resp.Status)
	}
	return nil
}

// StatObject returns object metadata without fetching the payload.
func (c *Client) StatObject(ctx context.Context, key string) (*ObjectInfo, error) {
	if key == "" {
		return nil, errors.New("object key is required")
	}
	req, err := c.newRequest(ctx, http.MethodHead, key, "", nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stat object %s: %s", key, resp.Status)
	}

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return &ObjectInfo{
		Key:         key,
		Size:        size,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        strings.Trim(resp.Header.Get("Etag"), `"`),
	}, nil
}

// GetObject opens a streaming read of the object. The caller owns the
// returned body and must close it.
func (c *Client) GetObject(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	if key == "" {
		return nil, nil, errors.New("object key is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, key, "", nil, "")
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, nil, fmt.Errorf("get object %s: %s", key, resp.Status)
	}

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	info := &ObjectInfo{
		Key:         key,
		Size:        size,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        strings.Trim(resp.Header.Get("Etag"), `"`),
	}
	return resp.Body, info, nil
}

// PutObject writes the payload under key.
func (c *Client) PutObject(ctx context.Context, key string, payload io.Reader, size int64, contentType string) error {
	if key == "" {
		return errors.New("object key is required")
	}
	req, err := c.newRequest(ctx, http.MethodPut, key, "", payload, contentType)
	if err != nil {
		return err
	}
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("put object %s: %s: %s", key, resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}

// SignURL builds a presigned GET URL valid for the given duration.
func (c *Client) SignURL(key string, expires time.Duration) string {
	expiry := strconv.FormatInt(c.now().Add(expires).Unix(), 10)
	stringToSign := strings.Join([]string{
		http.MethodGet,
		"",
		"",
		expiry,
		c.resource(key),
	}, "\n")
	signature := c.sign(stringToSign)

	query := url.Values{}
	query.Set("OSSAccessKeyId", c.accessID)
	query.Set("Expires", expiry)
	query.Set("Signature", signature)
	return c.objectURL(key) + "?" + query.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, key, query string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.objectURL(key)+query, body)
	if err != nil {
		return nil, err
	}

	date := c.now().UTC().Format(http.TimeFormat)
	stringToSign := strings.Join([]string{
		method,
		"",
		contentType,
		date,
		c.resource(key),
	}, "\n")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Date", date)
	req.Header.Set("Authorization", "OSS "+c.accessID+":"+c.sign(stringToSign))
	return req, nil
}

// objectURL uses virtual-hosted addressing for bare endpoints and
// path-style addressing when the endpoint carries an explicit scheme,
// which is what local test servers use.
func (c *Client) objectURL(key string) string {
	escaped := escapeKey(key)
	if strings.Contains(c.endpoint, "://") {
		return strings.TrimSuffix(c.endpoint, "/") + "/" + c.bucket + "/" + escaped
	}
	return "https://" + c.bucket + "." + c.endpoint + "/" + escaped
}

func (c *Client) resource(key string) string {
	return "/" + c.bucket + "/" + key
}

func (c *Client) sign(stringToSign string) string {
	mac := hmac.New(sha1.New, []byte(c.accessKey))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
