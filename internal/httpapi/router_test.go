package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/events"
	"github.com/guleriaishita/speech-translation/internal/job"
	"github.com/guleriaishita/speech-translation/internal/pipeline"
	"github.com/guleriaishita/speech-translation/internal/relay"
	"github.com/guleriaishita/speech-translation/internal/session"
)

func newTestServer(t *testing.T, upload config.UploadConfig) *httptest.Server {
	t.Helper()

	sessions := session.NewStore()
	jobs := job.NewStore()
	stub := pipeline.NewStub(&pipeline.StubConfig{
		Transcription: "Hello, can you hear me?",
		Dictionary: map[string]map[string]string{
			"es": {"Hello, can you hear me?": "Hola, ¿me escuchas?"},
		},
	})
	publisher := events.New(nil)
	pipe := pipeline.New(stub, stub, stub)
	rly := relay.New(config.RelayConfig{
		WriteTimeout:        time.Second,
		SendBuffer:          16,
		UtteranceFlushBytes: 1024,
	}, sessions, pipe, publisher)

	router := NewRouter(&API{
		Upload:   upload,
		Sessions: sessions,
		Jobs:     jobs,
		Runner:   job.NewRunner(stub, stub, stub, jobs, publisher),
		Relay:    rly,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func defaultUpload() config.UploadConfig {
	return config.UploadConfig{
		MaxFileBytes: 25 * 1024 * 1024,
		AllowedExts:  []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm"},
	}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()
	return resp, decoded
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, defaultUpload())

	resp, created := postJSON(t, srv.URL+"/api/sessions/create", map[string]string{
		"sender_name":     "Alice",
		"source_language": "en",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	roomCode, _ := created["room_code"].(string)
	senderID, _ := created["participant_id"].(string)
	if len(roomCode) != 6 || roomCode != strings.ToUpper(roomCode) {
		t.Errorf("unexpected room code %q", roomCode)
	}

	// Join is case-insensitive on the room code
	resp, joined := postJSON(t, srv.URL+"/api/sessions/join", map[string]string{
		"room_code":       strings.ToLower(roomCode),
		"name":            "Bob",
		"target_language": "es",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: expected 200, got %d (%v)", resp.StatusCode, joined)
	}
	if joined["source_language"] != "en" {
		t.Errorf("join response missing source language: %v", joined)
	}

	resp, detail := getJSON(t, srv.URL+"/api/sessions/"+roomCode)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", resp.StatusCode)
	}
	participants, _ := detail["participants"].([]any)
	if len(participants) != 2 {
		t.Errorf("expected 2 participants, got %d", len(participants))
	}

	resp, left := postJSON(t, srv.URL+"/api/sessions/"+roomCode+"/leave", map[string]string{
		"participant_id": senderID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d", resp.StatusCode)
	}
	if left["session_ended"] != true {
		t.Error("sender leaving should end the session")
	}

	// Joining a dead session is Gone
	resp, _ = postJSON(t, srv.URL+"/api/sessions/join", map[string]string{
		"room_code":       roomCode,
		"name":            "Carol",
		"target_language": "pt",
	})
	if resp.StatusCode != http.StatusGone {
		t.Errorf("join after end: expected 410, got %d", resp.StatusCode)
	}
}

func TestSessionDetail_NotFound(t *testing.T) {
	srv := newTestServer(t, defaultUpload())

	resp, _ := getJSON(t, srv.URL+"/api/sessions/ZZZZZZ")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func uploadFile(t *testing.T, url, filename string, content []byte) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(content)
	mw.WriteField("source_language", "en")
	mw.WriteField("target_language", "es")
	mw.Close()

	resp, err := http.Post(url+"/api/audio/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	resp.Body.Close()
	return resp, decoded
}

func TestUpload_JobRunsToCompletion(t *testing.T) {
	srv := newTestServer(t, defaultUpload())

	resp, accepted := uploadFile(t, srv.URL, "clip.wav", []byte("fake audio bytes"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%v)", resp.StatusCode, accepted)
	}
	jobID, _ := accepted["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected a job id")
	}

	var status map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, status = getJSON(t, srv.URL+"/api/audio/status/"+jobID)
		state, _ := status["state"].(string)
		if state == "SUCCEEDED" || state == "FAILED" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached a terminal state: %v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if status["state"] != "SUCCEEDED" {
		t.Fatalf("expected SUCCEEDED, got %v", status)
	}
	if status["translation"] != "Hola, ¿me escuchas?" {
		t.Errorf("unexpected translation: %v", status["translation"])
	}
	resultID, _ := status["result_id"].(string)
	if resultID == "" {
		t.Fatal("expected a result id")
	}

	dl, err := http.Get(srv.URL + "/api/audio/download/" + resultID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Errorf("download: expected 200, got %d", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestUpload_RejectsBadExtension(t *testing.T) {
	srv := newTestServer(t, defaultUpload())

	resp, body := uploadFile(t, srv.URL, "malware.xyz", []byte("nope"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d (%v)", resp.StatusCode, body)
	}
}

func TestUpload_RejectsOversizedFile(t *testing.T) {
	upload := defaultUpload()
	upload.MaxFileBytes = 1024
	srv := newTestServer(t, upload)

	resp, _ := uploadFile(t, srv.URL, "big.wav", make([]byte, 4096))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	srv := newTestServer(t, defaultUpload())

	resp, _ := getJSON(t, srv.URL+"/api/audio/status/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActiveSessions(t *testing.T) {
	srv := newTestServer(t, defaultUpload())

	_, first := postJSON(t, srv.URL+"/api/sessions/create", map[string]string{
		"sender_name": "Alice", "source_language": "en",
	})
	postJSON(t, srv.URL+"/api/sessions/create", map[string]string{
		"sender_name": "Carol", "source_language": "de",
	})

	resp, body := getJSON(t, srv.URL+"/api/sessions/active")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["count"].(float64) != 2 {
		t.Fatalf("expected 2 active sessions, got %v", body["count"])
	}

	// Ending one session removes it from the listing.
	postJSON(t, srv.URL+"/api/sessions/"+first["room_code"].(string)+"/leave", map[string]string{
		"participant_id": first["participant_id"].(string),
	})
	_, body = getJSON(t, srv.URL+"/api/sessions/active")
	if body["count"].(float64) != 1 {
		t.Errorf("expected 1 active session after sender leave, got %v", body["count"])
	}
	sessions := body["sessions"].([]any)
	if sessions[0].(map[string]any)["sender_name"] != "Carol" {
		t.Errorf("unexpected surviving session: %v", sessions[0])
	}
}

func TestJobDetail(t *testing.T) {
	srv := newTestServer(t, defaultUpload())

	resp, body := uploadFile(t, srv.URL, "clip.wav", []byte("fake audio"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload failed: %d %v", resp.StatusCode, body)
	}
	jobID := body["job_id"].(string)

	resp, detail := getJSON(t, srv.URL+"/api/audio/detail/"+jobID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if detail["job_id"] != jobID || detail["filename"] != "clip.wav" {
		t.Errorf("unexpected detail payload: %v", detail)
	}
	if detail["source_language"] != "en" || detail["target_language"] != "es" {
		t.Errorf("unexpected languages in detail: %v", detail)
	}
	if _, ok := detail["status"].(map[string]any); !ok {
		t.Errorf("expected embedded status, got %v", detail["status"])
	}

	resp, _ = getJSON(t, srv.URL+"/api/audio/detail/nosuch")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", resp.StatusCode)
	}
}
