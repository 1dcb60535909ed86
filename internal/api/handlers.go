package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"rsc.io/qr"

	"github.com/BTreeMap/DeskPipe/internal/dispatch"
	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/util"
)

// User-facing messages.
const (
	msgNotConnected   = "Cliente não está conectado ao WhatsApp. Por favor, aguarde."
	msgSent           = "Mensagem enviada!"
	msgPartial        = "Mensagem enviada para parte dos destinatários."
	msgSendFailed     = "Erro ao enviar mensagem."
	msgBatchFailed    = "Erro ao processar o envio."
	msgAlreadyPaired  = "Cliente já está conectado"
	msgQRPending      = "QR Code ainda não foi gerado, por favor tente novamente em alguns segundos"
	msgQRFailed       = "Erro ao gerar QR Code"
	msgDisconnected   = "Desconectado com sucesso!"
	msgDisconnectFail = "Erro ao desconectar."
)

var digitsOnly = regexp.MustCompile(`^\d+$`)

// StatusResponse is the body of GET /api/status and the JSON variants of GET /api/qr.
type StatusResponse struct {
	Status  models.APIStatus `json:"status"`
	Number  string           `json:"number,omitempty"`
	Message string           `json:"message,omitempty"`
}

// SendRequest is the JSON form of POST /api/send.
type SendRequest struct {
	Recipients string `json:"recipients"`
	Message    string `json:"message"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	state := s.conn.ConnectionState()
	resp := StatusResponse{Status: models.APIStatus(state)}
	if state == models.ConnectionConnected {
		resp.Number = phoneNumber(s.conn.SelfID())
	}
	slog.Debug("Server.statusHandler: status requested", "state", state)
	writeJSONResponse(w, http.StatusOK, resp)
}

// phoneNumber extracts the user part of a chat ID, dropping any device suffix.
func phoneNumber(id string) string {
	user, _, _ := strings.Cut(id, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

func (s *Server) qrHandler(w http.ResponseWriter, r *http.Request) {
	if s.conn.ConnectionState() == models.ConnectionConnected {
		writeJSONResponse(w, http.StatusOK, StatusResponse{Status: models.APIStatusConnected, Message: msgAlreadyPaired})
		return
	}
	code := ""
	if s.pairing != nil {
		code = s.pairing.LatestQR()
	}
	if code == "" {
		writeJSONResponse(w, http.StatusOK, StatusResponse{Status: models.APIStatusWaiting, Message: msgQRPending})
		return
	}

	img, err := qr.Encode(code, qr.M)
	if err != nil {
		slog.Error("Server.qrHandler: failed to encode QR code", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.ErrorWithCause(msgQRFailed, err))
		return
	}
	writePNGResponse(w, img.PNG())
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sendHandler: processing send request", "content_type", r.Header.Get("Content-Type"))
	if s.conn.ConnectionState() != models.ConnectionConnected {
		slog.Warn("Server.sendHandler: session not connected")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgNotConnected))
		return
	}

	req, att, err := s.parseSendRequest(r)
	if err != nil {
		slog.Warn("Server.sendHandler: invalid request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorWithCause("Requisição inválida.", err))
		return
	}
	recipients := util.SplitList(req.Recipients)
	slog.Info("Server.sendHandler: batch requested", "recipients", len(recipients), "attachment", att != nil)

	results, err := s.batch.Send(r.Context(), recipients, req.Message, att)
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(msgSent, results))
	case errors.Is(err, dispatch.ErrBatchPartial):
		slog.Warn("Server.sendHandler: batch partially failed", "recipients", len(recipients))
		writeJSONResponse(w, http.StatusMultiStatus, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusPartial).
			WithMessage(msgPartial).
			WithError(err).
			WithResult(results).
			Build())
	case errors.Is(err, dispatch.ErrBatchFailed):
		slog.Error("Server.sendHandler: no recipient was sent to", "recipients", len(recipients))
		writeJSONResponse(w, http.StatusInternalServerError, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithMessage(msgBatchFailed).
			WithError(err).
			WithResult(results).
			Build())
	case errors.Is(err, dispatch.ErrNotConnected):
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgNotConnected))
	case errors.Is(err, models.ErrEmptyRecipient), errors.Is(err, models.ErrEmptyBody), errors.Is(err, models.ErrTooManyRecipients):
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorWithCause(msgBatchFailed, err))
	default:
		slog.Error("Server.sendHandler: batch failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.ErrorWithCause(msgBatchFailed, err))
	}
}

// parseSendRequest accepts multipart forms (with an optional "file" part),
// urlencoded forms and JSON bodies.
func (s *Server) parseSendRequest(r *http.Request) (SendRequest, *models.Attachment, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req SendRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxUploadBytes)).Decode(&req); err != nil {
			return SendRequest{}, nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return req, nil, nil
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(nil, r.Body, s.cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			return SendRequest{}, nil, fmt.Errorf("invalid multipart form: %w", err)
		}
		req := SendRequest{Recipients: r.FormValue("recipients"), Message: r.FormValue("message")}
		att, err := formAttachment(r)
		return req, att, err
	default:
		if err := r.ParseForm(); err != nil {
			return SendRequest{}, nil, fmt.Errorf("invalid form: %w", err)
		}
		return SendRequest{Recipients: r.FormValue("recipients"), Message: r.FormValue("message")}, nil, nil
	}
}

func formAttachment(r *http.Request) (*models.Attachment, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading file part: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading file part: %w", err)
	}
	return &models.Attachment{
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if s.conn.ConnectionState() != models.ConnectionConnected {
		slog.Warn("Server.sendMessageHandler: session not connected")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgNotConnected))
		return
	}
	recipient := r.PathValue("recipient")
	message := r.PathValue("message")
	slog.Debug("Server.sendMessageHandler: processing single send", "recipient", recipient)

	var target string
	if digitsOnly.MatchString(recipient) {
		target = dispatch.PhoneTarget(dispatch.NormalizeBrazilianMobile(recipient))
	} else {
		chats, err := s.conn.ListChats(r.Context())
		if err != nil {
			slog.Error("Server.sendMessageHandler: failed to list chats", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.ErrorWithCause(msgSendFailed, err))
			return
		}
		group, ok := dispatch.FindGroup(chats, recipient)
		if !ok {
			slog.Warn("Server.sendMessageHandler: group not found", "group", recipient)
			writeJSONResponse(w, http.StatusNotFound, models.Error(fmt.Sprintf("Grupo %q não encontrado.", recipient)))
			return
		}
		target = group.ID
	}

	res, err := s.guard.Reply(r.Context(), target, message)
	if err != nil {
		slog.Error("Server.sendMessageHandler: send failed", "target", target, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.ErrorWithCause(msgSendFailed, err))
		return
	}
	slog.Info("Server.sendMessageHandler: message sent", "target", target, "dispatch_id", res.ID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(msgSent, res))
}

func (s *Server) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgDisconnectFail))
		return
	}
	slog.Info("Server.disconnectHandler: resetting session")
	// pairing outlives the request
	if err := s.pairing.Reset(context.WithoutCancel(r.Context())); err != nil {
		slog.Error("Server.disconnectHandler: reset failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.ErrorWithCause(msgDisconnectFail, err))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(msgDisconnected, nil))
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts := []models.Receipt{}
	if s.receipts != nil {
		got, err := s.receipts.GetReceipts()
		if err != nil {
			slog.Error("Server.receiptsHandler: failed to read receipts", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.ErrorWithCause("Failed to read receipts", err))
			return
		}
		if got != nil {
			receipts = got
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}
