package asr

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/callscribe/pkg/logger"
)

// SubmitRequest carries everything the vendor needs to start a
// recognition task.
type SubmitRequest struct {
	AudioURL        string
	Filename        string
	DurationSeconds float64
}

// PollResult is one poll response from the vendor.
type PollResult struct {
	Status  int
	Message string
	Payload json.RawMessage // Transcription payload, present once Status is complete
}

// Vendor is the surface the polling runner needs from the recognition
// API.
type Vendor interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, vendorTaskID string) (*PollResult, error)
}

// FeatureFlags are recognition options passed through to the vendor.
type FeatureFlags struct {
	Diarization        bool
	Punctuation        bool
	TextNormalization  bool
	DisfluencyRemoval  bool
	VADSegmentation    bool
	ExpectedSpeakerNum int
}

// ClientConfig contains configuration for the recognition vendor client
type ClientConfig struct {
	BaseURL   string
	AppID     string
	SecretKey string
	Timeout   time.Duration
	Features  FeatureFlags
}

// Client implements Vendor against the long-form recognition HTTP API.
// Requests carry appId/ts/signa authentication, where signa is
// base64(HmacSHA1(secret, md5(appId+ts))).
type Client struct {
	baseURL    string
	appID      string
	secretKey  string
	features   FeatureFlags
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new recognition vendor client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		appID:      config.AppID,
		secretKey:  config.SecretKey,
		features:   config.Features,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("asr-client"),
	}
}

// Submit registers audio with the vendor and returns the vendor's task
// identifier.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	form := c.authParams()
	form.Set("audioUrl", req.AudioURL)
	form.Set("fileName", req.Filename)
	form.Set("duration", strconv.FormatFloat(req.DurationSeconds, 'f', 3, 64))

	if c.features.Diarization {
		form.Set("roleType", "1")
		if c.features.ExpectedSpeakerNum > 0 {
			form.Set("roleNum", strconv.Itoa(c.features.ExpectedSpeakerNum))
		}
	}
	setFlag(form, "punc", c.features.Punctuation)
	setFlag(form, "itn", c.features.TextNormalization)
	setFlag(form, "smoothproc", c.features.DisfluencyRemoval)
	setFlag(form, "vadMdn", c.features.VADSegmentation)

	var resp struct {
		OK      int    `json:"ok"`
		ErrNo   int    `json:"err_no"`
		Failed  string `json:"failed"`
		Data    string `json:"data"`
		OrderID string `json:"orderId"`
	}
	if err := c.postForm(ctx, "/submit", form, &resp); err != nil {
		return "", err
	}
	if resp.ErrNo != 0 {
		return "", fmt.Errorf("vendor rejected submission: err_no=%d failed=%s", resp.ErrNo, resp.Failed)
	}

	taskID := resp.OrderID
	if taskID == "" {
		taskID = resp.Data
	}
	if taskID == "" {
		return "", fmt.Errorf("vendor returned no task id")
	}

	c.logger.Debug("Submitted recognition task",
		logger.String("vendor_task_id", taskID),
		logger.String("filename", req.Filename))
	return taskID, nil
}

// Poll fetches the current status of a task and, once complete, the
// transcription payload.
func (c *Client) Poll(ctx context.Context, vendorTaskID string) (*PollResult, error) {
	form := c.authParams()
	form.Set("orderId", vendorTaskID)

	var resp struct {
		ErrNo  int    `json:"err_no"`
		Failed string `json:"failed"`
		Data   struct {
			Status  int             `json:"status"`
			Message string          `json:"message"`
			Result  json.RawMessage `json:"result"`
		} `json:"data"`
	}
	if err := c.postForm(ctx, "/getResult", form, &resp); err != nil {
		return nil, err
	}
	if resp.ErrNo != 0 {
		return nil, fmt.Errorf("vendor poll error: err_no=%d failed=%s", resp.ErrNo, resp.Failed)
	}

	return &PollResult{
		Status:  resp.Data.Status,
		Message: resp.Data.Message,
		Payload: resp.Data.Result,
	}, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// authParams builds the appId/ts/signa triple every vendor request
// carries.
func (c *Client) authParams() url.Values {
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	sum := md5.Sum([]byte(c.appID + ts))
	baseString := hex.EncodeToString(sum[:])

	mac := hmac.New(sha1.New, []byte(c.secretKey))
	mac.Write([]byte(baseString))
	signa := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	form := url.Values{}
	form.Set("appId", c.appID)
	form.Set("ts", ts)
	form.Set("signa", signa)
	return form
}

func setFlag(form url.Values, name string, enabled bool) {
	if enabled {
		form.Set(name, "true")
	}
}
