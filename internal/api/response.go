package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

const msgInternalError = "Erro interno do servidor."

// fallbackBody is served when an envelope cannot be encoded. It is built
// once so the error path never depends on the encoder.
var fallbackBody = mustEncode(models.Error(msgInternalError))

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("api: encoding fallback envelope: " + err.Error())
	}
	return b
}

// writeJSONResponse encodes body before touching headers so an encoding
// failure can still change the status to 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server.writeJSONResponse: encoding failed", "error", err)
		payload, statusCode = fallbackBody, http.StatusInternalServerError
	}
	writeBody(w, statusCode, "application/json", payload)
}

// writePNGResponse serves a rendered pairing code.
func writePNGResponse(w http.ResponseWriter, png []byte) {
	writeBody(w, http.StatusOK, "image/png", png)
}

func writeBody(w http.ResponseWriter, statusCode int, contentType string, payload []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(statusCode)
	if _, err := w.Write(payload); err != nil {
		slog.Error("Server.writeBody: write failed", "content_type", contentType, "error", err)
	}
}
