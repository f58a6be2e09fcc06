package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/compose"
	"github.com/ezmail/ezmail/internal/config"
	"github.com/ezmail/ezmail/internal/database"
	"github.com/ezmail/ezmail/internal/delivery"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/middleware"
	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/quota"
	"github.com/ezmail/ezmail/internal/repository"
	"github.com/ezmail/ezmail/internal/storage"
	"github.com/ezmail/ezmail/internal/usage"
	"github.com/ezmail/ezmail/internal/validate"
)

const (
	testAccount      = "acct-1"
	testServiceToken = "billing-secret"
)

// memorySent is an in-memory sent log and lister
type memorySent struct {
	mu       sync.Mutex
	messages []model.SentMessage
}

func (s *memorySent) Append(ctx context.Context, msg *model.SentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memorySent) List(ctx context.Context, f repository.SentFilter) ([]model.SentMessage, error) {
	if f.Order != repository.OrderLatest && f.Order != repository.OrderOldest {
		return nil, fmt.Errorf("%w: unknown order %q", repository.ErrInvalidInput, f.Order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SentMessage
	for _, m := range s.messages {
		if m.AccountID == f.AccountID && strings.Contains(strings.ToLower(m.Subject), strings.ToLower(f.Query)) {
			out = append(out, m)
		}
	}
	return out, nil
}

type memoryAudit struct {
	mu     sync.Mutex
	events []model.AuditLog
}

func (a *memoryAudit) Create(ctx context.Context, log *model.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *log)
	return nil
}

func (a *memoryAudit) ListByAccount(ctx context.Context, accountID string, limit int) ([]model.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.AuditLog
	for _, e := range a.events {
		if e.AccountID != nil && *e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

type testServer struct {
	mux    http.Handler
	ledger *quota.MemoryLedger
	sent   *memorySent
	audit  *memoryAudit
	store  *storage.MemoryStore
}

func newTestServer(t *testing.T, transport delivery.Transport) *testServer {
	t.Helper()
	log := logger.Nop()

	cfg := &config.Config{}
	cfg.Attachments.MaxTotalBytes = 4096
	cfg.Delivery.Timeout = time.Second
	cfg.Security.ServiceToken = testServiceToken

	ts := &testServer{
		ledger: quota.NewMemoryLedger(quota.Options{
			DefaultPlan: model.Resources{MonthlyMessages: 10, StorageBytes: 1 << 20},
		}, log),
		sent:  &memorySent{},
		audit: &memoryAudit{},
		store: storage.NewMemoryStore(log),
	}
	agg := usage.NewAggregator(usage.Options{}, log)
	svc := compose.NewService(compose.Deps{
		Ledger:     ts.ledger,
		Validator:  validate.NewAttachmentValidator(cfg.Attachments.MaxTotalBytes, nil),
		Store:      ts.store,
		Dispatcher: delivery.NewDispatcher(transport, ts.store, cfg.Delivery, log),
		SentLog:    ts.sent,
		Recorder:   agg,
		Auditor:    ts.audit,
	}, compose.Config{MaxAttempts: 2}, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	h := New(nil, nil, log, cfg, svc, ts.ledger, agg, ts.sent, ts.audit)
	mw := middleware.New(nil, log, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("POST /compose", mw.Account(http.HandlerFunc(h.CreateDraft)))
	mux.Handle("GET /compose/{id}", mw.Account(http.HandlerFunc(h.GetDraft)))
	mux.Handle("PATCH /compose/{id}", mw.Account(http.HandlerFunc(h.UpdateDraft)))
	mux.Handle("DELETE /compose/{id}", mw.Account(http.HandlerFunc(h.DiscardDraft)))
	mux.Handle("POST /compose/{id}/attachments", mw.Account(http.HandlerFunc(h.AddAttachment)))
	mux.Handle("DELETE /compose/{id}/attachments/{name}", mw.Account(http.HandlerFunc(h.RemoveAttachment)))
	mux.Handle("POST /compose/{id}/send", mw.Account(http.HandlerFunc(h.SendDraft)))
	mux.Handle("GET /usage/{accountId}", mw.Account(http.HandlerFunc(h.GetUsage)))
	mux.Handle("GET /sent/{accountId}", mw.Account(http.HandlerFunc(h.ListSent)))
	mux.Handle("GET /quota/{accountId}", mw.Account(http.HandlerFunc(h.GetQuota)))
	mux.Handle("PUT /admin/quota/{accountId}/plan", mw.ServiceToken(http.HandlerFunc(h.SetPlan)))
	mux.Handle("PUT /admin/quota/{accountId}/contacts", mw.ServiceToken(http.HandlerFunc(h.SetContacts)))
	mux.Handle("GET /audit/{accountId}", mw.Account(http.HandlerFunc(h.ListAudit)))
	ts.mux = mux
	return ts
}

func ackTransport() delivery.Transport {
	return delivery.TransportFunc(func(ctx context.Context, msg *delivery.Message) error { return nil })
}

func (ts *testServer) do(t *testing.T, method, path, account string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(middleware.AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

// admin calls an admin route the way the billing service does
func (ts *testServer) admin(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPut, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ServiceTokenHeader, testServiceToken)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, id, name, mimeType string, size int) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), size))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/compose/"+id+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.AccountHeader, testAccount)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Kind    string                 `json:"kind"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func (ts *testServer) createDraft(t *testing.T, recipients interface{}) compose.Snapshot {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/compose", testAccount, map[string]interface{}{
		"recipients": recipients,
		"subject":    "Quarterly report",
		"bodyHtml":   "<p>Hello</p>",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[compose.Snapshot](t, rec)
}

func TestCreateAndGetDraft(t *testing.T) {
	ts := newTestServer(t, ackTransport())

	snap := ts.createDraft(t, "alice@example.com, bob@example.org")
	assert.Equal(t, model.StateDraft, snap.State)
	assert.Equal(t, testAccount, snap.AccountID)
	assert.Equal(t, []string{"alice@example.com", "bob@example.org"}, snap.Recipients)
	assert.Equal(t, int64(4096), snap.AttachmentSummary.LimitBytes)

	rec := ts.do(t, http.MethodGet, "/compose/"+snap.ID, testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snap.ID, decode[compose.Snapshot](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/compose/"+snap.ID, "acct-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(apperr.ReasonNotOwner), decode[errorBody](t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/compose/missing", testAccount, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/compose/"+snap.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateDraft_Rejections(t *testing.T) {
	ts := newTestServer(t, ackTransport())

	rec := ts.do(t, http.MethodPost, "/compose", testAccount, map[string]interface{}{"accountId": "acct-2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/compose", testAccount, map[string]interface{}{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/compose", testAccount, map[string]interface{}{"recipients": 42})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateDraft(t *testing.T) {
	ts := newTestServer(t, ackTransport())
	snap := ts.createDraft(t, []string{"alice@example.com"})

	rec := ts.do(t, http.MethodPatch, "/compose/"+snap.ID, testAccount, map[string]interface{}{
		"recipients": []string{"carol@example.com"},
		"bodyHtml":   `<p>Hi</p><script>alert(1)</script>`,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[compose.Snapshot](t, rec)
	assert.Equal(t, []string{"carol@example.com"}, got.Recipients)
	assert.Equal(t, "Quarterly report", got.Subject)
	assert.NotContains(t, got.BodyHTML, "script")
}

func TestAttachments(t *testing.T) {
	ts := newTestServer(t, ackTransport())
	snap := ts.createDraft(t, "alice@example.com")

	rec := ts.upload(t, snap.ID, "report.pdf", "application/pdf", 1024)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[compose.Snapshot](t, rec)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, int64(1024), got.AttachmentSummary.TotalBytes)
	assert.Equal(t, int64(3072), got.AttachmentSummary.RemainingBytes)
	assert.Equal(t, 1, ts.store.Len())

	rec = ts.upload(t, snap.ID, "setup.exe", "application/x-msdownload", 10)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, string(apperr.ReasonUnsupportedType), body.Error.Code)
	assert.Equal(t, string(apperr.KindValidation), body.Error.Kind)
	assert.Len(t, body.Error.Details["attachments"], 1)

	rec = ts.upload(t, snap.ID, "photo.png", "image/png", 3073)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, string(apperr.ReasonSizeLimitExceeded), decode[errorBody](t, rec).Error.Code)
	assert.Equal(t, 1, ts.store.Len())

	rec = ts.do(t, http.MethodDelete, "/compose/"+snap.ID+"/attachments/report.pdf", testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[compose.Snapshot](t, rec).Attachments)
	assert.Equal(t, 0, ts.store.Len())

	rec = ts.do(t, http.MethodDelete, "/compose/"+snap.ID+"/attachments/report.pdf", testAccount, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttachments_GuessesTypeFromExtension(t *testing.T) {
	ts := newTestServer(t, ackTransport())
	snap := ts.createDraft(t, "alice@example.com")

	rec := ts.upload(t, snap.ID, "scan.pdf", "application/octet-stream", 16)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", decode[compose.Snapshot](t, rec).Attachments[0].MimeType)
}

func TestSendDraft(t *testing.T) {
	ts := newTestServer(t, ackTransport())
	snap := ts.createDraft(t, "alice@example.com")

	rec := ts.do(t, http.MethodPost, "/compose/"+snap.ID+"/send", testAccount, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/compose/"+snap.ID, rec.Header().Get("Location"))

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/compose/"+snap.ID, testAccount, nil)
		return decode[compose.Snapshot](t, rec).State == model.StateSent
	}, 2*time.Second, 10*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/usage/"+testAccount, testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[UsageResponse](t, rec)
	assert.Equal(t, int64(1), u.TotalSent)
	assert.Equal(t, int64(1), u.Quota.Used.MonthlyMessages)
	assert.Equal(t, int64(9), u.Quota.Remaining.MonthlyMessages)
	assert.Equal(t, int64(10), u.Quota.PlanLimits.MonthlyMessages)

	rec = ts.do(t, http.MethodGet, "/sent/"+testAccount+"?q=quarterly", testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Messages []model.SentMessage `json:"messages"`
		Count    int                 `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, []string{"alice@example.com"}, list.Messages[0].Recipients)

	// A sent session cannot be sent again
	rec = ts.do(t, http.MethodPost, "/compose/"+snap.ID+"/send", testAccount, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendDraft_InvalidRecipients(t *testing.T) {
	ts := newTestServer(t, ackTransport())
	snap := ts.createDraft(t, "not-an-address")

	rec := ts.do(t, http.MethodPost, "/compose/"+snap.ID+"/send", testAccount, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.ReasonInvalidRecipients), decode[errorBody](t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/compose/"+snap.ID, testAccount, nil)
	got := decode[compose.Snapshot](t, rec)
	assert.Equal(t, model.StateDraft, got.State)
	require.NotNil(t, got.LastError)
	assert.Equal(t, apperr.ReasonInvalidRecipients, got.LastError.Reason)
}

func TestSendDraft_QuotaExceeded(t *testing.T) {
	ts := newTestServer(t, ackTransport())

	rec := ts.admin(t, "/admin/quota/"+testAccount+"/plan", SetPlanRequest{
		MonthlyMessages: 0,
		StorageBytes:    1 << 20,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(0), decode[QuotaResponse](t, rec).PlanLimits.MonthlyMessages)

	snap := ts.createDraft(t, "alice@example.com")
	rec = ts.do(t, http.MethodPost, "/compose/"+snap.ID+"/send", testAccount, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, string(apperr.ReasonQuotaExceeded), body.Error.Code)
	assert.Equal(t, string(apperr.KindQuotaExceeded), body.Error.Kind)

	rec = ts.do(t, http.MethodGet, "/compose/"+snap.ID, testAccount, nil)
	assert.Equal(t, model.StateDraft, decode[compose.Snapshot](t, rec).State)
}

func TestSendDraft_NackBecomesRetriableFailure(t *testing.T) {
	ts := newTestServer(t, delivery.TransportFunc(func(ctx context.Context, msg *delivery.Message) error {
		return errors.New("550 mailbox unavailable")
	}))
	snap := ts.createDraft(t, "alice@example.com")

	rec := ts.do(t, http.MethodPost, "/compose/"+snap.ID+"/send", testAccount, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got compose.Snapshot
	require.Eventually(t, func() bool {
		got = decode[compose.Snapshot](t, ts.do(t, http.MethodGet, "/compose/"+snap.ID, testAccount, nil))
		return got.State == model.StateFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, got.Retriable)
	require.NotNil(t, got.LastError)
	assert.Equal(t, apperr.KindTransportFailure, got.LastError.Kind)

	acct, err := ts.ledger.Account(context.Background(), testAccount)
	require.NoError(t, err)
	assert.True(t, acct.Used.IsZero())
	assert.True(t, acct.Reserved.IsZero())
}

func TestDiscardDraft(t *testing.T) {
	ts := newTestServer(t, ackTransport())
	snap := ts.createDraft(t, "alice@example.com")

	rec := ts.do(t, http.MethodDelete, "/compose/"+snap.ID, testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StateDiscarded, decode[compose.Snapshot](t, rec).State)

	rec = ts.do(t, http.MethodDelete, "/compose/"+snap.ID, testAccount, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.ReasonInvalidTransition), decode[errorBody](t, rec).Error.Code)
}

func TestAccountScopedReads(t *testing.T) {
	ts := newTestServer(t, ackTransport())

	for _, path := range []string{"/usage/acct-2", "/sent/acct-2", "/quota/acct-2", "/audit/acct-2"} {
		rec := ts.do(t, http.MethodGet, path, testAccount, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	rec := ts.do(t, http.MethodGet, "/sent/"+testAccount+"?limit=abc", testAccount, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/sent/"+testAccount+"?order=sideways", testAccount, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/quota/"+testAccount, testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(10), decode[QuotaResponse](t, rec).Remaining.MonthlyMessages)
}

func TestSetPlan(t *testing.T) {
	ts := newTestServer(t, ackTransport())

	rec := ts.admin(t, "/admin/quota/"+testAccount+"/plan", SetPlanRequest{MonthlyMessages: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(t, "/admin/quota/"+testAccount+"/plan", SetPlanRequest{MonthlyMessages: 50, StorageBytes: 1024, Contacts: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Resources{MonthlyMessages: 50, StorageBytes: 1024, Contacts: 5}, decode[QuotaResponse](t, rec).PlanLimits)

	rec = ts.do(t, http.MethodGet, "/audit/"+testAccount, testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[struct {
		Events []model.AuditLog `json:"events"`
	}](t, rec).Events
	require.Len(t, events, 1)
	assert.Equal(t, model.AuditActionPlanChanged, events[0].Action)
}

func TestSetPlan_AccountCannotRaiseOwnLimits(t *testing.T) {
	ts := newTestServer(t, ackTransport())

	rec := ts.do(t, http.MethodPut, "/admin/quota/"+testAccount+"/plan", testAccount,
		SetPlanRequest{MonthlyMessages: 1 << 40, StorageBytes: 1 << 40})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPut, "/quota/"+testAccount+"/plan", testAccount,
		SetPlanRequest{MonthlyMessages: 1 << 40, StorageBytes: 1 << 40})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	acct, err := ts.ledger.Account(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.PlanLimits.MonthlyMessages)
}

func TestSetContacts(t *testing.T) {
	ts := newTestServer(t, ackTransport())

	rec := ts.admin(t, "/admin/quota/"+testAccount+"/contacts", SetContactsRequest{Contacts: -3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(t, "/admin/quota/"+testAccount+"/contacts", SetContactsRequest{Contacts: 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(7), decode[QuotaResponse](t, rec).Used.Contacts)

	rec = ts.do(t, http.MethodGet, "/usage/"+testAccount, testAccount, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), decode[UsageResponse](t, rec).Quota.Used.Contacts)

	events, err := ts.audit.ListByAccount(context.Background(), testAccount, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.AuditActionContactsReported, events[0].Action)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, ackTransport())
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[HealthResponse](t, rec).Status)
}

func TestHealth_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	h := New(nil, &database.Redis{Client: client}, logger.Nop(), &config.Config{}, nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[HealthResponse](t, rec).Services["redis"])

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, "OK", rec.Body.String())

	mr.Close()
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	got := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, "unhealthy", got.Services["redis"])

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrSizeLimitExceeded, http.StatusRequestEntityTooLarge},
		{apperr.ErrUnsupportedType, http.StatusUnsupportedMediaType},
		{apperr.ErrInvalidRecipients, http.StatusBadRequest},
		{apperr.ErrInvalidAttachment, http.StatusBadRequest},
		{apperr.ErrQuotaExceeded, http.StatusConflict},
		{apperr.ErrInvalidTransition, http.StatusConflict},
		{apperr.ErrNotRetriable, http.StatusConflict},
		{apperr.ErrSessionNotFound, http.StatusNotFound},
		{apperr.ErrNotOwner, http.StatusForbidden},
		{apperr.ErrReservationNotFound, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", repository.ErrInvalidInput), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRecipientList(t *testing.T) {
	var l RecipientList
	require.NoError(t, json.Unmarshal([]byte(`"a@x.com; b@y.com ,"`), &l))
	assert.Equal(t, RecipientList{"a@x.com", "b@y.com"}, l)

	require.NoError(t, json.Unmarshal([]byte(`["a@x.com"]`), &l))
	assert.Equal(t, RecipientList{"a@x.com"}, l)

	assert.Error(t, json.Unmarshal([]byte(`{"to":"a@x.com"}`), &l))
}
