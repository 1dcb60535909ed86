// Package testutil provides common test utilities and helpers for DeskPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/DeskPipe/internal/messaging"
	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/store"
)

// LocalRemoteAddr is the peer address given to requests built here, inside
// every default allow-list.
const LocalRemoteAddr = "127.0.0.1:40000"

// FilePart is one file field of a multipart request.
type FilePart struct {
	Field    string
	FileName string
	Data     []byte
}

// NewTestStore creates a file-backed store in a temporary directory, closed on cleanup.
func NewTestStore(t testing.TB) *store.FileStore {
	t.Helper()
	st, err := store.NewFileStore(store.WithFilePath(filepath.Join(t.TempDir(), "history.json")))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// NewConnectedConnector returns a connected mock connector knowing the given chats.
func NewConnectedConnector(chats ...models.Chat) *messaging.MockConnector {
	conn := messaging.NewMockConnector()
	conn.Chats = chats
	return conn
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an API envelope and validates its status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != string(expectedStatus) {
		t.Errorf("expected response status %q, got %q (message %q)", expectedStatus, resp.Status, resp.Message)
	}
	return resp
}

// CreateHTTPRequest creates a request from a local peer with an optional JSON body.
func CreateHTTPRequest(t testing.TB, method, url string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(MustMarshalJSON(t, body))
	}
	req := httptest.NewRequest(method, url, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = LocalRemoteAddr
	return req
}

// NewMultipartRequest builds a multipart/form-data POST from a local peer.
func NewMultipartRequest(t testing.TB, url string, fields map[string]string, file *FilePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile(file.Field, file.FileName)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := fw.Write(file.Data); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = LocalRemoteAddr
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
