package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/DeskPipe/internal/config"
	"github.com/BTreeMap/DeskPipe/internal/dispatch"
	"github.com/BTreeMap/DeskPipe/internal/messaging"
	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/store"
	"github.com/BTreeMap/DeskPipe/internal/testutil"
)

type fakePairing struct {
	mu       sync.Mutex
	code     string
	resetErr error
	resets   int
}

func (p *fakePairing) LatestQR() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakePairing) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return p.resetErr
}

type testServer struct {
	server  *Server
	handler http.Handler
	conn    *messaging.MockConnector
	pairing *fakePairing
	store   *store.FileStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn := testutil.NewConnectedConnector(
		models.Chat{ID: "120363000000000001@g.us", Name: "Suporte TI", IsGroup: true},
	)
	conn.Self = "5511999990000:12@s.whatsapp.net"
	st := testutil.NewTestStore(t)
	guard := dispatch.NewGuard(conn, dispatch.WithReceiptRepo(st), dispatch.WithScratchDir(t.TempDir()))
	batch := dispatch.NewBatchSender(guard, conn, dispatch.WithPacing(0))

	nets, err := config.ParseNetworks(config.DefaultAllowedNetworks)
	if err != nil {
		t.Fatalf("ParseNetworks failed: %v", err)
	}
	pairing := &fakePairing{}
	srv := NewServer(conn, pairing, guard, batch, st, WithAllowedNetworks(nets))
	return &testServer{server: srv, handler: srv.Handler(), conn: conn, pairing: pairing, store: st}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestStatusHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/status", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "status connected")
	var resp StatusResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Status != models.APIStatusConnected || resp.Number != "5511999990000" {
		t.Errorf("unexpected status response %+v", resp)
	}

	ts.conn.SetState(models.ConnectionConnecting)
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/status", nil))
	resp = StatusResponse{}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Status != "connecting" || resp.Number != "" {
		t.Errorf("unexpected status response %+v", resp)
	}
}

func TestQRHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/qr", nil))
	var resp StatusResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Status != models.APIStatusConnected {
		t.Errorf("expected connected, got %+v", resp)
	}

	ts.conn.SetState(models.ConnectionDisconnected)
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/qr", nil))
	resp = StatusResponse{}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Status != models.APIStatusWaiting {
		t.Errorf("expected waiting, got %+v", resp)
	}

	ts.pairing.code = "2@abcdef,ghijk,lmnop"
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/qr", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "qr image")
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected PNG signature")
	}
}

func TestAllowList(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name      string
		remote    string
		forwarded string
		want      int
	}{
		{"loopback", "127.0.0.1:5000", "", http.StatusOK},
		{"lan", "192.168.10.20:5000", "", http.StatusOK},
		{"ipv6 loopback", "[::1]:5000", "", http.StatusOK},
		{"outside", "10.0.0.1:5000", "", http.StatusForbidden},
		{"forwarded allowed", "10.0.0.1:5000", "38.224.195.7, 10.0.0.1", http.StatusOK},
		{"forwarded denied", "127.0.0.1:5000", "8.8.8.8", http.StatusForbidden},
		{"mapped ipv4", "[::ffff:192.168.0.9]:5000", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			rr := ts.do(req)
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			if tt.want == http.StatusForbidden && rr.Body.String() != DeniedMessage {
				t.Errorf("expected denial body, got %q", rr.Body.String())
			}
		})
	}
}

func TestAllowListDisabledWhenEmpty(t *testing.T) {
	conn := testutil.NewConnectedConnector()
	guard := dispatch.NewGuard(conn)
	srv := NewServer(conn, nil, guard, dispatch.NewBatchSender(guard, conn), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "203.0.113.5:80"
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "no allow-list")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::ffff:127.0.0.1]:1234"
	if got := clientIP(req); got != "127.0.0.1" {
		t.Errorf("expected 127.0.0.1, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 192.168.1.1 ,10.0.0.1")
	if got := clientIP(req); got != "192.168.1.1" {
		t.Errorf("expected first forwarded hop, got %q", got)
	}

	srv := &Server{cfg: Opts{AllowedNetworks: []netip.Prefix{netip.MustParsePrefix("192.168.0.0/16")}}}
	if srv.allowed("not-an-ip") {
		t.Error("unparseable address must be denied")
	}
}

func TestSendHandlerMultipartWithFile(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewMultipartRequest(t, "/api/send",
		map[string]string{"recipients": "+5511987654321, Suporte TI", "message": "Segue o relatório"},
		&testutil.FilePart{Field: "file", FileName: "relatorio.pdf", Data: []byte("%PDF-1.4 test")})
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "multipart send")
	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusOK)
	if resp.Message != msgSent {
		t.Errorf("unexpected message %q", resp.Message)
	}

	sent := ts.conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if sent[0].Target != "5511987654321@s.whatsapp.net" {
		t.Errorf("batch numbers keep the ninth digit, got %s", sent[0].Target)
	}
	if sent[1].Target != "120363000000000001@g.us" {
		t.Errorf("expected group target, got %s", sent[1].Target)
	}
	for _, m := range sent {
		if m.Media == nil || m.Media.Kind != models.MediaDocument || m.Body != "Segue o relatório" {
			t.Errorf("expected document with caption, got %+v", m)
		}
	}
}

func TestSendHandlerFormAndJSON(t *testing.T) {
	ts := newTestServer(t)

	form := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader("recipients=Grupo+Inexistente,5511911112222&message=oi"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	form.RemoteAddr = testutil.LocalRemoteAddr
	rr := ts.do(form)
	testutil.AssertHTTPStatus(t, http.StatusMultiStatus, rr.Code, "form send with an unknown group")
	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusPartial)
	if resp.Message != msgPartial {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if got := len(ts.conn.Sent()); got != 1 {
		t.Fatalf("unknown group must be skipped, expected 1 send, got %d", got)
	}

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send", SendRequest{Recipients: "Suporte TI", Message: "olá"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "json send")
	if got := len(ts.conn.Sent()); got != 2 {
		t.Fatalf("expected 2 sends, got %d", got)
	}
}

func TestSendHandlerEveryDispatchFailed(t *testing.T) {
	ts := newTestServer(t)
	ts.conn.SendErr = errors.New("rejected")

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send", SendRequest{Recipients: "5511911112222", Message: "oi"}))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "all recipients failed")
	var body struct {
		Status  string                     `json:"status"`
		Message string                     `json:"message"`
		Result  []dispatch.RecipientResult `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	if body.Status != string(models.APIStatusError) || body.Message != msgBatchFailed {
		t.Errorf("unexpected envelope %q / %q", body.Status, body.Message)
	}
	if len(body.Result) != 1 || body.Result[0].Error == "" {
		t.Fatalf("expected the failed recipient in the result, got %+v", body.Result)
	}
	if body.Result[0].Result.Receipt.Status != models.MessageStatusFailed || body.Result[0].Result.Receipt.Time == 0 {
		t.Errorf("expected a stamped failed receipt, got %+v", body.Result[0].Result.Receipt)
	}
}

func TestSendHandlerErrors(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send", SendRequest{Recipients: " , ", Message: "oi"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "no recipients")
	testutil.AssertJSONResponse(t, rr, models.APIStatusError)

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send", SendRequest{Recipients: "5511911112222"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "no message")

	bad := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader("{"))
	bad.Header.Set("Content-Type", "application/json")
	bad.RemoteAddr = testutil.LocalRemoteAddr
	rr = ts.do(bad)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed JSON")

	ts.conn.SetState(models.ConnectionDisconnected)
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send", SendRequest{Recipients: "5511911112222", Message: "oi"}))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "not connected")
	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusError)
	if resp.Message != msgNotConnected {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if len(ts.conn.Sent()) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestSendMessageHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sendMessage/5511987654321/Bom%20dia", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "phone send")
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sendMessage/Suporte%20TI/Chamado%20aberto", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "group send")

	sent := ts.conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if sent[0].Target != "551187654321@s.whatsapp.net" || sent[0].Body != "Bom dia" {
		t.Errorf("expected ninth digit dropped and decoded body, got %+v", sent[0])
	}
	if sent[1].Target != "120363000000000001@g.us" || sent[1].Media != nil || sent[1].Body != "Chamado aberto" {
		t.Errorf("expected plain text to the group, got %+v", sent[1])
	}
}

func TestSendMessageHandlerErrors(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sendMessage/Grupo%20X/oi", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown group")
	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusError)
	if !strings.Contains(resp.Message, "Grupo X") {
		t.Errorf("expected group name in message, got %q", resp.Message)
	}

	ts.conn.SendErr = errors.New("boom")
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sendMessage/5511911112222/oi", nil))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "send failure")

	ts.conn.SetState(models.ConnectionDisconnected)
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sendMessage/5511911112222/oi", nil))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "not connected")
}

func TestDisconnectHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/disconnect", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "disconnect")
	testutil.AssertJSONResponse(t, rr, models.APIStatusOK)
	if ts.pairing.resets != 1 {
		t.Errorf("expected 1 reset, got %d", ts.pairing.resets)
	}

	ts.pairing.resetErr = errors.New("logout failed")
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/disconnect", nil))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "disconnect failure")
	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusError)
	if resp.Error != "logout failed" {
		t.Errorf("expected cause in response, got %q", resp.Error)
	}
}

func TestReceiptsHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/receipts", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "empty receipts")

	ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sendMessage/5511911112222/oi", nil))

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/api/receipts", nil))
	var body struct {
		Status string           `json:"status"`
		Result []models.Receipt `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	if len(body.Result) != 1 || body.Result[0].Status != models.MessageStatusSent {
		t.Fatalf("expected one sent receipt, got %+v", body.Result)
	}
	// single sends drop the ninth digit
	if body.Result[0].To != "551111112222@s.whatsapp.net" {
		t.Errorf("unexpected receipt target %s", body.Result[0].To)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/api/status", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "POST status")
}

func TestPhoneNumber(t *testing.T) {
	tests := map[string]string{
		"5511999990000:12@s.whatsapp.net": "5511999990000",
		"5511999990000@s.whatsapp.net":    "5511999990000",
		"":                                "",
	}
	for in, want := range tests {
		if got := phoneNumber(in); got != want {
			t.Errorf("phoneNumber(%q) = %q, want %q", in, got, want)
		}
	}
}
