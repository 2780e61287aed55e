package oss

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/callscribe/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func newTestClient(t *testing.T, endpoint string, publicRead bool) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		Endpoint:        endpoint,
		Bucket:          "calls",
		AccessKeyID:     "test-ak",
		AccessKeySecret: "test-sk",
		KeyPrefix:       "recordings/",
		PublicRead:      publicRead,
		SignedURLTTL:    time.Hour,
		Timeout:         5 * time.Second,
	}, testLogger(t))
}

func TestPutUploadsAndReturnsPublicURL(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, true)
	fetchURL, err := c.Put(context.Background(), "recordings/2026/08/31/abc.wav", []byte("pcm-data"), "audio/wav")
	require.NoError(t, err)

	assert.Equal(t, "/calls/recordings/2026/08/31/abc.wav", gotPath)
	assert.Equal(t, []byte("pcm-data"), gotBody)
	assert.Equal(t, "audio/wav", gotContentType)
	assert.True(t, strings.HasPrefix(gotAuth, "OSS test-ak:"), "authorization header: %s", gotAuth)
	assert.Equal(t, srv.URL+"/calls/recordings/2026/08/31/abc.wav", fetchURL)
}

func TestPutReturnsSignedURLForPrivateBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, false)
	fetchURL, err := c.Put(context.Background(), "recordings/abc.wav", []byte("x"), "audio/wav")
	require.NoError(t, err)

	u, err := url.Parse(fetchURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "test-ak", q.Get("OSSAccessKeyId"))
	assert.NotEmpty(t, q.Get("Expires"))
	assert.NotEmpty(t, q.Get("Signature"))
}

func TestPutDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, true)
	c.retryMaxElapsed = 2 * time.Second

	_, err := c.Put(context.Background(), "recordings/abc.wav", []byte("x"), "audio/wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 1, calls)
}

func TestPutRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, true)
	c.retryMaxElapsed = 10 * time.Second

	_, err := c.Put(context.Background(), "recordings/abc.wav", []byte("x"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestKeyFor(t *testing.T) {
	c := newTestClient(t, "oss-cn-hangzhou.aliyuncs.com", true)

	key := c.KeyFor("华为-张三-13812345678.mp3")
	assert.True(t, strings.HasPrefix(key, "recordings/"))
	assert.True(t, strings.HasSuffix(key, ".mp3"))

	key = c.KeyFor("noextension")
	assert.True(t, strings.HasSuffix(key, ".wav"))
}

func TestObjectURLVirtualHostStyle(t *testing.T) {
	c := newTestClient(t, "oss-cn-hangzhou.aliyuncs.com", true)
	assert.Equal(t,
		"https://calls.oss-cn-hangzhou.aliyuncs.com/recordings/a.wav",
		c.objectURL("recordings/a.wav"))
}
