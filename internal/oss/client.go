// Package oss uploads normalized call audio to an Aliyun-style object
// store so the recognition vendor can fetch it by URL.
package oss

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/yegors/callscribe/pkg/logger"
)

// ObjectStore is the minimal surface the ingestion pipeline needs from
// an object storage backend.
type ObjectStore interface {
	// Put uploads data under key and returns a URL the recognition
	// vendor can fetch the object from.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes an object. Best effort cleanup after transcription.
	Delete(ctx context.Context, key string) error
}

// ClientConfig contains configuration for the object storage client
type ClientConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	KeyPrefix       string
	PublicRead      bool
	SignedURLTTL    time.Duration
	Timeout         time.Duration
	RetryMaxElapsed time.Duration // 0 disables retries
}

// Client implements ObjectStore against a bucket-in-host OSS endpoint
// using signature v1 request signing.
type Client struct {
	endpoint        string
	bucket          string
	accessKeyID     string
	accessKeySecret string
	keyPrefix       string
	publicRead      bool
	signedURLTTL    time.Duration
	retryMaxElapsed time.Duration
	httpClient      *http.Client
	logger          *logger.Logger
}

// NewClient creates a new object storage client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	return &Client{
		endpoint:        config.Endpoint,
		bucket:          config.Bucket,
		accessKeyID:     config.AccessKeyID,
		accessKeySecret: config.AccessKeySecret,
		keyPrefix:       config.KeyPrefix,
		publicRead:      config.PublicRead,
		signedURLTTL:    config.SignedURLTTL,
		retryMaxElapsed: config.RetryMaxElapsed,
		httpClient:      &http.Client{Timeout: config.Timeout},
		logger:          log.Named("oss"),
	}
}

// KeyFor builds a collision-free object key for an uploaded recording,
// grouped by date for easy bucket housekeeping.
func (c *Client) KeyFor(filename string) string {
	ext := path.Ext(filename)
	if ext == "" {
		ext = ".wav"
	}
	return c.keyPrefix + time.Now().UTC().Format("2006/01/02") + "/" + uuid.New().String() + ext
}

// Put uploads data under key and returns the URL to hand to the
// recognition vendor: a plain object URL for public buckets, a signed
// GET URL otherwise.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	op := func() error {
		return c.putOnce(ctx, key, data, contentType)
	}

	var err error
	if c.retryMaxElapsed > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = c.retryMaxElapsed
		err = backoff.Retry(op, backoff.WithContext(bo, ctx))
	} else {
		err = op()
	}
	if err != nil {
		return "", err
	}

	c.logger.Debug("Uploaded object",
		logger.String("key", key),
		logger.Int("size_bytes", len(data)))

	if c.publicRead {
		return c.objectURL(key), nil
	}
	return c.SignedGetURL(key, c.signedURLTTL), nil
}

func (c *Client) putOnce(ctx context.Context, key string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)
	c.sign(req, key, contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("upload returned status %d: %s", resp.StatusCode, string(body))
		// Client-side errors will not heal on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// Delete removes an object from the bucket.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.sign(req, key, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete returned status %d", resp.StatusCode)
	}
	return nil
}

// SignedGetURL builds a pre-signed GET URL valid for ttl.
func (c *Client) SignedGetURL(key string, ttl time.Duration) string {
	expires := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	stringToSign := strings.Join([]string{
		http.MethodGet,
		"", // Content-MD5
		"", // Content-Type
		expires,
		c.canonicalResource(key),
	}, "\n")

	q := url.Values{}
	q.Set("OSSAccessKeyId", c.accessKeyID)
	q.Set("Expires", expires)
	q.Set("Signature", c.signature(stringToSign))
	return c.objectURL(key) + "?" + q.Encode()
}

// sign adds a signature v1 Authorization header to req.
func (c *Client) sign(req *http.Request, key, contentType string) {
	date := time.Now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)

	stringToSign := strings.Join([]string{
		req.Method,
		"", // Content-MD5
		contentType,
		date,
		c.canonicalResource(key),
	}, "\n")

	req.Header.Set("Authorization", "OSS "+c.accessKeyID+":"+c.signature(stringToSign))
}

func (c *Client) signature(stringToSign string) string {
	mac := hmac.New(sha1.New, []byte(c.accessKeySecret))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) canonicalResource(key string) string {
	return "/" + c.bucket + "/" + key
}

func (c *Client) objectURL(key string) string {
	// An endpoint with an explicit scheme is used path-style, which
	// covers self-hosted and local S3-compatible stores.
	if strings.Contains(c.endpoint, "://") {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.endpoint, "/"), c.bucket, key)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucket, c.endpoint, key)
}
