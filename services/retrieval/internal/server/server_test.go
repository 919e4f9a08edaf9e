package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docchat/internal/servicetoken"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/services/retrieval/internal/app"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	st := store.NewMemoryStore(8)
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	provider, err := ai.NewProvider(ai.ProviderConfig{Dimension: 8, FallbackOnly: true})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	a, err := app.New(app.Config{
		Store:              st,
		Objects:            objects,
		Provider:           provider,
		EmbeddingDim:       8,
		ChunkSize:          100,
		ChunkOverlap:       20,
		PrimaryThreshold:   0.3,
		SecondaryThreshold: 0.1,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		Secret:         testSecret,
		Audience:       "retrieval",
		AllowedIssuers: []string{"gateway"},
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	srv, err := New(Config{App: a, Verifier: verifier})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	signer, err := servicetoken.NewSignerWithOptions(servicetoken.SignerOptions{
		Secret: testSecret,
		Issuer: "gateway",
	})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, err := signer.Sign("retrieval")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, token
}

func doRequest(t *testing.T, method, url, token string, contentType string, body *bytes.Buffer) *http.Response {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func uploadDocument(t *testing.T, ts *httptest.Server, token, content string) domain.Document {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("userId", "u1"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.WriteField("conversationId", "c1"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mw.Close()

	resp := doRequest(t, http.MethodPost, ts.URL+"/documents", token, mw.FormDataContentType(), &buf)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d, want 202", resp.StatusCode)
	}
	var doc domain.Document
	decodeBody(t, resp, &doc)
	if doc.ID == "" {
		t.Fatalf("upload returned no document ID")
	}
	return doc
}

func waitCompleted(t *testing.T, ts *httptest.Server, token, documentID string) domain.ProcessingStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/documents/"+documentID+"/status", token, "", nil)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			t.Fatalf("status endpoint = %d, want 200", resp.StatusCode)
		}
		var status domain.ProcessingStatus
		decodeBody(t, resp, &status)
		if status.Status.Terminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("document %s never reached a terminal status", documentID)
	return domain.ProcessingStatus{}
}

func TestRequiresServiceToken(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, path := range []string{"/documents", "/search", "/history"} {
		resp := doRequest(t, http.MethodGet, ts.URL+path, "", "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s without token = %d, want 401", path, resp.StatusCode)
		}
	}
	resp := doRequest(t, http.MethodGet, ts.URL+"/documents?userId=u&conversationId=c", "garbage.token.here", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", resp.StatusCode)
	}
}

func TestHealthzIsOpen(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", "", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", resp.StatusCode)
	}
}

func TestUploadSearchAndDelete(t *testing.T) {
	ts, token := newTestServer(t)

	doc := uploadDocument(t, ts, token, "the patient was prescribed aspirin 81mg daily for cardiac health")
	status := waitCompleted(t, ts, token, doc.ID)
	if status.Status != domain.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", status.Status, status.ErrorMessage)
	}

	searchBody := bytes.NewBufferString(`{"userId":"u1","conversationId":"c1","query":"aspirin dosage"}`)
	resp := doRequest(t, http.MethodPost, ts.URL+"/search", token, "application/json", searchBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d, want 200", resp.StatusCode)
	}
	var searchOut struct {
		Results []app.SearchResult `json:"results"`
	}
	decodeBody(t, resp, &searchOut)
	if len(searchOut.Results) == 0 {
		t.Fatalf("search over an ingested scope returned no results")
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/documents/"+doc.ID, token, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d, want 200", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, ts.URL+"/documents/"+doc.ID, token, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestSearchScopeMismatchIsEmpty(t *testing.T) {
	ts, token := newTestServer(t)
	doc := uploadDocument(t, ts, token, "content that belongs to conversation c1 only")
	waitCompleted(t, ts, token, doc.ID)

	searchBody := bytes.NewBufferString(`{"userId":"u1","conversationId":"other","query":"content"}`)
	resp := doRequest(t, http.MethodPost, ts.URL+"/search", token, "application/json", searchBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Results []app.SearchResult `json:"results"`
	}
	decodeBody(t, resp, &out)
	if len(out.Results) != 0 {
		t.Fatalf("cross-scope search returned %d results, want 0", len(out.Results))
	}
}

func TestHistoryEndpoints(t *testing.T) {
	ts, token := newTestServer(t)

	for i := 0; i < 3; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		body := bytes.NewBufferString(fmt.Sprintf(
			`{"userId":"u1","conversationId":"c1","role":%q,"content":"turn %d"}`, role, i))
		resp := doRequest(t, http.MethodPost, ts.URL+"/history", token, "application/json", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("append %d = %d, want 201", i, resp.StatusCode)
		}
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/history?userId=u1&conversationId=c1&offset=0&limit=2", token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history = %d, want 200", resp.StatusCode)
	}
	var page app.HistoryPage
	decodeBody(t, resp, &page)
	if page.Total != 3 || len(page.Messages) != 2 {
		t.Fatalf("page = total %d with %d messages, want 3 and 2", page.Total, len(page.Messages))
	}
	if !strings.Contains(page.Messages[0].Content, "turn 0") {
		t.Fatalf("first message = %q, want oldest first", page.Messages[0].Content)
	}
}

func TestDeleteConversation(t *testing.T) {
	ts, token := newTestServer(t)
	doc := uploadDocument(t, ts, token, "conversation scoped content for deletion")
	waitCompleted(t, ts, token, doc.ID)

	resp := doRequest(t, http.MethodDelete, ts.URL+"/conversations/c1?userId=mallory", token, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete with mismatched user = %d, want 404", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, ts.URL+"/documents?userId=u1&conversationId=c1", token, "", nil)
	var kept struct {
		Documents []domain.Document `json:"documents"`
	}
	decodeBody(t, resp, &kept)
	if len(kept.Documents) != 1 {
		t.Fatalf("documents after refused delete = %d, want 1", len(kept.Documents))
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/conversations/c1?userId=u1", token, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete conversation = %d, want 200", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/documents?userId=u1&conversationId=c1", token, "", nil)
	var out struct {
		Documents []domain.Document `json:"documents"`
	}
	decodeBody(t, resp, &out)
	if len(out.Documents) != 0 {
		t.Fatalf("documents after conversation delete = %d, want 0", len(out.Documents))
	}
}
