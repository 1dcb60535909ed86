package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/testutil"
)

func TestWriteJSONResponseFallsBackOnEncodingFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]any{"bad": make(chan int)})

	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusError)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if resp.Message != msgInternalError {
		t.Errorf("expected fallback message, got %q", resp.Message)
	}
}

func TestWritePNGResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	png := []byte("\x89PNG\r\n\x1a\nrest")
	writePNGResponse(rr, png)

	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type %q", ct)
	}
	if cl := rr.Header().Get("Content-Length"); cl != "12" {
		t.Errorf("unexpected content length %q", cl)
	}
	if !bytes.Equal(rr.Body.Bytes(), png) {
		t.Error("body mismatch")
	}
}
