package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/models"
)

const maxErrorBody = 512

// UploadError is returned when the backend rejects or fails a file upload
type UploadError struct {
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload of %s failed: %v", filepath.Base(e.Path), e.Err)
	}
	return fmt.Sprintf("upload of %s failed with status %d: %s", filepath.Base(e.Path), e.Status, e.Body)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PostError is returned when the backend rejects or fails a post
type PostError struct {
	Status int
	Body   string
	Err    error
}

func (e *PostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("post failed: %v", e.Err)
	}
	return fmt.Sprintf("post failed with status %d: %s", e.Status, e.Body)
}

func (e *PostError) Unwrap() error { return e.Err }

// Client talks to a Mattermost-compatible REST API with a bearer token
type Client struct {
	apiBase string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a chat client for cfg
func NewClient(cfg config.ChatConfig) *Client {
	c := &Client{
		apiBase: cfg.APIBase(),
		token:   cfg.BearerToken,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

type fileUploadResponse struct {
	FileInfos []models.UploadedFile `json:"file_infos"`
	ClientIDs []string              `json:"client_ids"`
}

// UploadFile uploads the file at path to channelID and returns the first file
// info the backend reports. clientID correlates the upload with its digest;
// name is the filename shown in chat and defaults to the stored file's name.
func (c *Client) UploadFile(ctx context.Context, channelID, clientID, path, name string) (models.UploadedFile, error) {
	var uploaded models.UploadedFile

	if name == "" {
		name = filepath.Base(path)
	}
	body, contentType, err := multipartBody(channelID, clientID, path, name)
	if err != nil {
		return uploaded, &UploadError{Path: path, Err: err}
	}

	resp, err := c.do(ctx, c.apiBase+"/files", contentType, body)
	if err != nil {
		return uploaded, &UploadError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return uploaded, &UploadError{Path: path, Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	var parsed fileUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return uploaded, &UploadError{Path: path, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(parsed.FileInfos) == 0 || parsed.FileInfos[0].ID == "" {
		return uploaded, &UploadError{Path: path, Status: resp.StatusCode, Err: fmt.Errorf("response contained no file id")}
	}

	uploaded = parsed.FileInfos[0]
	uploaded.ClientID = clientID
	return uploaded, nil
}

// CreatePost submits post to the backend
func (c *Client) CreatePost(ctx context.Context, post models.ChatPost) error {
	if post.FileIDs == nil {
		post.FileIDs = []string{}
	}
	payload, err := json.Marshal(post)
	if err != nil {
		return &PostError{Err: err}
	}

	resp, err := c.do(ctx, c.apiBase+"/posts", "application/json", bytes.NewReader(payload))
	if err != nil {
		return &PostError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PostError{Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)

	return c.http.Do(req)
}

// multipartBody builds the channel_id, client_ids and files form fields
func multipartBody(channelID, clientID, path, name string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("channel_id", channelID); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("client_ids", clientID); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("files", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(bytes.TrimSpace(b))
}
