package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildMessageBody(t *testing.T) {
	input := MessageInput{Blocks: []ContentBlock{
		TextBlock("analise estes arquivos"),
		ImageBlock("file_img"),
		DocumentBlock("file_doc"),
	}}

	body, err := buildMessageBody(input)
	if err != nil {
		t.Fatalf("buildMessageBody failed: %v", err)
	}
	if body["role"] != "user" {
		t.Fatalf("role = %v, want user", body["role"])
	}

	content := body["content"].([]map[string]interface{})
	if len(content) != 2 {
		t.Fatalf("content entries = %d, want 2 (text + image)", len(content))
	}
	if content[0]["type"] != "text" || content[0]["text"] != "analise estes arquivos" {
		t.Fatalf("unexpected text entry: %+v", content[0])
	}
	if content[1]["type"] != "image_file" {
		t.Fatalf("unexpected image entry: %+v", content[1])
	}
	imageFile := content[1]["image_file"].(map[string]interface{})
	if imageFile["file_id"] != "file_img" {
		t.Fatalf("image file id = %v", imageFile["file_id"])
	}

	attachments := body["attachments"].([]map[string]interface{})
	if len(attachments) != 1 || attachments[0]["file_id"] != "file_doc" {
		t.Fatalf("unexpected attachments: %+v", attachments)
	}
	tools := attachments[0]["tools"].([]map[string]interface{})
	if len(tools) != 1 || tools[0]["type"] != "file_search" {
		t.Fatalf("document must ride with file_search: %+v", tools)
	}
}

func TestBuildMessageBodyTextOnlyOmitsAttachments(t *testing.T) {
	body, err := buildMessageBody(MessageInput{Blocks: []ContentBlock{TextBlock("oi")}})
	if err != nil {
		t.Fatalf("buildMessageBody failed: %v", err)
	}
	if _, ok := body["attachments"]; ok {
		t.Fatalf("attachments key must be absent without documents")
	}
}

func TestClientRunLifecycle(t *testing.T) {
	retrieves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
			t.Errorf("beta header = %q", got)
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/messages":
			var body struct {
				Role string `json:"role"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Role != "user" {
				t.Errorf("message role = %q", body.Role)
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
			var body struct {
				AssistantID string `json:"assistant_id"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.AssistantID != "asst_1" {
				t.Errorf("assistant_id = %q", body.AssistantID)
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "queued"})
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1":
			retrieves++
			status := "in_progress"
			if retrieves >= 2 {
				status = "completed"
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": status})
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/messages":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{
					"content": []map[string]interface{}{
						{"type": "text", "text": map[string]string{"value": "primeira parte. "}},
						{"type": "image_file"},
						{"type": "text", "text": map[string]string{"value": "segunda parte."}},
					},
				}},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
	ctx := context.Background()

	threadID, err := client.CreateThread(ctx)
	if err != nil || threadID != "thread_1" {
		t.Fatalf("CreateThread = %q, %v", threadID, err)
	}

	if _, err := client.CreateMessage(ctx, threadID, MessageInput{Blocks: []ContentBlock{TextBlock("oi")}}); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	run, err := client.CreateRun(ctx, threadID, "asst_1")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != RunStatusQueued {
		t.Fatalf("initial run status = %q", run.Status)
	}

	for run.Status == RunStatusQueued || run.Status == RunStatusInProgress {
		run, err = client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			t.Fatalf("RetrieveRun failed: %v", err)
		}
	}
	if run.Status != RunStatusCompleted {
		t.Fatalf("final run status = %q", run.Status)
	}

	text, err := client.LatestAssistantText(ctx, threadID)
	if err != nil {
		t.Fatalf("LatestAssistantText failed: %v", err)
	}
	if text != "primeira parte. segunda parte." {
		t.Fatalf("assistant text = %q", text)
	}
}

func TestLatestAssistantTextEmptyThread(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
	if _, err := client.LatestAssistantText(context.Background(), "thread_1"); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("empty thread must return ErrNoMessage, got %v", err)
	}
}

func TestClientSurfacesFailedRunError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "run_1",
			"status": "failed",
			"last_error": map[string]string{
				"code":    "rate_limit_exceeded",
				"message": "quota exhausted",
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
	run, err := client.RetrieveRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("RetrieveRun failed: %v", err)
	}
	if run.Status != RunStatusFailed || run.LastError != "quota exhausted" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-wrong"})
	if _, err := client.CreateThread(context.Background()); err == nil {
		t.Fatalf("expected error on 401 response")
	}
}

func TestUploadFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart failed: %v", err)
		}
		if purpose := r.FormValue("purpose"); purpose != PurposeVision {
			t.Errorf("purpose = %q", purpose)
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part missing: %v", err)
		} else if header.Filename != "foto.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "file_123"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
	fileID, err := client.UploadFile(context.Background(), "foto.png", PurposeVision, strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if fileID != "file_123" {
		t.Fatalf("file id = %q", fileID)
	}
}
