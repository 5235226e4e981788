package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrNoMessage reports that a thread holds no messages at all, as
// opposed to a newest message that carries no text blocks.
var ErrNoMessage = errors.New("thread has no messages")

// Run lifecycle statuses reported by the provider.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// File upload purposes. Vision files can be referenced as inline image
// blocks; assistants files are only reachable through file_search.
const (
	PurposeVision     = "vision"
	PurposeAssistants = "assistants"
)

type Config struct {
	BaseURL string
	APIKey  string
}

type Run struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError string `json:"-"`
}

type FileInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

// Client talks to an OpenAI Assistants style API over plain HTTP. It is
// constructed once at bootstrap and passed explicitly to its consumers.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var parsed struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &parsed); err != nil {
		return "", fmt.Errorf("create thread failed: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("create thread returned empty id")
	}
	return parsed.ID, nil
}

func (c *Client) CreateMessage(ctx context.Context, threadID string, input MessageInput) (string, error) {
	body, err := buildMessageBody(input)
	if err != nil {
		return "", err
	}

	var parsed struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/threads/%s/messages", threadID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &parsed); err != nil {
		return "", fmt.Errorf("create thread message failed: %w", err)
	}
	return parsed.ID, nil
}

func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	var parsed runPayload
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	body := map[string]interface{}{"assistant_id": assistantID}
	if err := c.doJSON(ctx, http.MethodPost, path, body, &parsed); err != nil {
		return Run{}, fmt.Errorf("create run failed: %w", err)
	}
	return parsed.toRun(), nil
}

func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	var parsed runPayload
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return Run{}, fmt.Errorf("retrieve run failed: %w", err)
	}
	return parsed.toRun(), nil
}

// LatestAssistantText fetches the newest thread message and concatenates
// its text blocks. An empty string means the newest message carries no
// text; a thread with no messages at all returns ErrNoMessage.
func (c *Client) LatestAssistantText(ctx context.Context, threadID string) (string, error) {
	var parsed struct {
		Data []struct {
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/threads/%s/messages?order=desc&limit=1", threadID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return "", fmt.Errorf("list thread messages failed: %w", err)
	}
	if len(parsed.Data) == 0 {
		return "", ErrNoMessage
	}

	var reply strings.Builder
	for _, block := range parsed.Data[0].Content {
		if block.Type == "text" {
			reply.WriteString(block.Text.Value)
		}
	}
	return reply.String(), nil
}

func (c *Client) RetrieveFile(ctx context.Context, fileID string) (*FileInfo, error) {
	var parsed FileInfo
	if err := c.doJSON(ctx, http.MethodGet, "/files/"+fileID, nil, &parsed); err != nil {
		return nil, fmt.Errorf("retrieve file failed: %w", err)
	}
	return &parsed, nil
}

// UploadFile streams one file into the provider store and returns the
// provider-assigned file id.
func (c *Client) UploadFile(ctx context.Context, filename, purpose string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("purpose", purpose); err != nil {
		return "", fmt.Errorf("write upload purpose failed: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create upload part failed: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("copy upload content failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload body failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/files"), &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse upload response failed: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("upload returned empty file id")
	}
	return parsed.ID, nil
}

type runPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

func (p runPayload) toRun() Run {
	run := Run{ID: p.ID, Status: p.Status}
	if p.LastError != nil {
		run.LastError = p.LastError.Message
	}
	return run
}

// buildMessageBody maps the closed block set onto the provider's wire
// shape: text and image_file entries in content, documents as
// file_search attachments.
func buildMessageBody(input MessageInput) (map[string]interface{}, error) {
	content := make([]map[string]interface{}, 0, len(input.Blocks))
	var attachments []map[string]interface{}

	for _, block := range input.Blocks {
		switch block.Kind {
		case BlockText:
			content = append(content, map[string]interface{}{
				"type": "text",
				"text": block.Text,
			})
		case BlockImage:
			content = append(content, map[string]interface{}{
				"type":       "image_file",
				"image_file": map[string]interface{}{"file_id": block.FileID},
			})
		case BlockDocument:
			attachments = append(attachments, map[string]interface{}{
				"file_id": block.FileID,
				"tools":   []map[string]interface{}{{"type": "file_search"}},
			})
		default:
			return nil, fmt.Errorf("unknown content block kind %d", block.Kind)
		}
	}

	body := map[string]interface{}{
		"role":    "user",
		"content": content,
	}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	return body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response failed: %w", err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}
