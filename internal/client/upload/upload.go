// Package upload is the client side of the upload-and-translate path:
// local validation, multipart submit, and status polling until a
// terminal job state.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/job"
)

// Validation errors, raised before any network call.
var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file exceeds the upload size limit")
)

// Status is one observed poll result for a job.
type Status struct {
	JobID         string `json:"job_id"`
	StateName     string `json:"state"`
	Progress      int    `json:"progress"`
	StatusText    string `json:"status_text"`
	Transcription string `json:"transcription"`
	Translation   string `json:"translation"`
	ResultID      string `json:"result_id"`
	Error         string `json:"error"`

	State job.State `json:"-"`
}

// Client talks to the relay's upload endpoints.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxBytes    int64
	allowedExts []string
}

// New creates an upload client for the relay at baseURL. A nil
// httpClient uses http.DefaultClient.
func New(baseURL string, cfg config.UploadConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		maxBytes:    cfg.MaxFileBytes,
		allowedExts: cfg.AllowedExts,
	}
}

// Submit validates the payload locally, then performs one multipart
// upload call. Validation failures never reach the network.
func (c *Client) Submit(ctx context.Context, filename string, fileBytes []byte, sourceLang, targetLang string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !c.extAllowed(ext) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if int64(len(fileBytes)) > c.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(fileBytes))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(fileBytes); err != nil {
		return "", err
	}
	mw.WriteField("source_language", sourceLang)
	mw.WriteField("target_language", targetLang)
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/audio/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", apiError(resp)
	}

	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if accepted.JobID == "" {
		return "", errors.New("upload response missing job id")
	}
	return accepted.JobID, nil
}

// Poll performs one status query for a job.
func (c *Client) Poll(ctx context.Context, jobID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/audio/status/"+jobID, nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, apiError(resp)
	}

	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	s.State, err = job.ParseState(s.StateName)
	if err != nil {
		return Status{}, err
	}
	return s, nil
}

// Download fetches the completed output audio for a result ID.
func (c *Client) Download(ctx context.Context, resultID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/audio/download/"+resultID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// PollUntilDone polls at a fixed interval until a terminal state is
// observed, then stops. onUpdate, if set, sees every observed status
// including the terminal one (exactly once).
func (c *Client) PollUntilDone(ctx context.Context, jobID string, interval time.Duration, onUpdate func(Status)) (Status, error) {
	tracker := NewTracker(jobID)
	for {
		s, err := c.Poll(ctx, jobID)
		if err != nil {
			return Status{}, err
		}
		if onUpdate != nil {
			onUpdate(s)
		}
		if tracker.Observe(s) {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) extAllowed(ext string) bool {
	for _, allowed := range c.allowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
