package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpy-dev-ml/scopegate/internal/coordinator"
	"github.com/mpy-dev-ml/scopegate/internal/journal"
	"github.com/mpy-dev-ml/scopegate/internal/ledger"
	"github.com/mpy-dev-ml/scopegate/internal/log"
	"github.com/mpy-dev-ml/scopegate/internal/metrics"
	"github.com/mpy-dev-ml/scopegate/internal/queue"
)

type stubQueue struct {
	counts queue.Counts
}

func (s *stubQueue) Status() queue.Counts { return s.counts }

type stubGrants struct {
	grants []ledger.Grant
}

func (s *stubGrants) Grants() []ledger.Grant { return s.grants }

type stubJournal struct {
	entries []journal.Entry
	err     error
}

func (s *stubJournal) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	m.Run()
}

type stubSubmitter struct {
	result coordinator.Result
	err    error
	gotReq coordinator.CommandSpec
}

func (s *stubSubmitter) Submit(ctx context.Context, spec coordinator.CommandSpec, paths []string) (coordinator.Result, error) {
	s.gotReq = spec
	return s.result, s.err
}

func newTestServer(q *stubQueue, g *stubGrants, j *stubJournal) *Server {
	return New(Config{Listen: "127.0.0.1:0"}, q, g, j, &stubSubmitter{}, metrics.NewCollector(), log.Get())
}

func TestHealthz(t *testing.T) {
	s := newTestServer(
		&stubQueue{counts: queue.Counts{Pending: 2, Completed: 5}},
		&stubGrants{grants: []ledger.Grant{{Path: "/data", Count: 1}}},
		&stubJournal{},
	)

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.QueuePending)
	assert.Equal(t, 1, resp.ActiveGrants)
}

func TestQueueEndpoint(t *testing.T) {
	s := newTestServer(
		&stubQueue{counts: queue.Counts{Pending: 1, InProgress: 1, Failed: 3}},
		&stubGrants{},
		&stubJournal{},
	)

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Counts.Failed)
}

func TestGrantsEndpointEmpty(t *testing.T) {
	s := newTestServer(&stubQueue{}, &stubGrants{}, &stubJournal{})

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/grants", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"grants":[]}`, rec.Body.String())
}

func TestJournalEndpoint(t *testing.T) {
	msg := "helper exited with status 1"
	s := newTestServer(&stubQueue{}, &stubGrants{}, &stubJournal{
		entries: []journal.Entry{
			{ID: "cmd-1", Status: "completed", CompletedAt: time.Now()},
			{ID: "cmd-2", Status: "failed", Retries: 2, LastError: &msg, CompletedAt: time.Now()},
		},
	})

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/journal", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JournalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "cmd-1", resp.Entries[0].ID)
	assert.Equal(t, msg, resp.Entries[1].LastError)
}

func TestJournalEndpointBadLimit(t *testing.T) {
	s := newTestServer(&stubQueue{}, &stubGrants{}, &stubJournal{})

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/journal?limit=abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJournalEndpointLimit(t *testing.T) {
	s := newTestServer(&stubQueue{}, &stubGrants{}, &stubJournal{
		entries: []journal.Entry{
			{ID: "cmd-1", Status: "completed", CompletedAt: time.Now()},
			{ID: "cmd-2", Status: "completed", CompletedAt: time.Now()},
		},
	})

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/journal?limit=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JournalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 1)
}

func TestSubmitEndpoint(t *testing.T) {
	sub := &stubSubmitter{result: coordinator.Result{
		CommandID: "cmd-1",
		Status:    queue.StatusCompleted,
		Retries:   1,
	}}
	s := New(Config{APIKey: "test-key"}, &stubQueue{}, &stubGrants{}, &stubJournal{}, sub, metrics.NewCollector(), log.Get())

	body := strings.NewReader(`{"op":"backup","args":["--tag","nightly"],"paths":["/data"]}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", body)
	req.Header.Set("Authorization", "Bearer test-key")
	s.setupRoutes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cmd-1", resp.CommandID)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 1, resp.Retries)
	assert.Equal(t, "backup", sub.gotReq.Op)
}

func TestSubmitEndpointAccessDenied(t *testing.T) {
	sub := &stubSubmitter{err: &ledger.AccessDeniedError{Path: "/secret"}}
	s := New(Config{APIKey: "test-key"}, &stubQueue{}, &stubGrants{}, &stubJournal{}, sub, metrics.NewCollector(), log.Get())

	body := strings.NewReader(`{"op":"backup","paths":["/secret"]}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", body)
	req.Header.Set("Authorization", "Bearer test-key")
	s.setupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitEndpointAuth(t *testing.T) {
	s := New(Config{APIKey: "test-key"}, &stubQueue{}, &stubGrants{}, &stubJournal{}, &stubSubmitter{}, metrics.NewCollector(), log.Get())

	// No key presented.
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	s.setupRoutes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitEndpointDisabledWithoutKey(t *testing.T) {
	s := newTestServer(&stubQueue{}, &stubGrants{}, &stubJournal{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer anything")
	s.setupRoutes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitEndpointValidation(t *testing.T) {
	s := New(Config{APIKey: "test-key"}, &stubQueue{}, &stubGrants{}, &stubJournal{}, &stubSubmitter{}, metrics.NewCollector(), log.Get())

	for _, body := range []string{
		`not json`,
		`{"paths":["/data"]}`,
		`{"op":"backup"}`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer test-key")
		s.setupRoutes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestSubmitEndpointTerminalFailure(t *testing.T) {
	sub := &stubSubmitter{
		result: coordinator.Result{CommandID: "cmd-9", Status: queue.StatusFailed, Retries: 2},
		err:    errors.New("terminal after 2 retries: helper exited"),
	}
	s := New(Config{APIKey: "test-key"}, &stubQueue{}, &stubGrants{}, &stubJournal{}, sub, metrics.NewCollector(), log.Get())

	body := strings.NewReader(`{"op":"backup","paths":["/data"]}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", body)
	req.Header.Set("Authorization", "Bearer test-key")
	s.setupRoutes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, 2, resp.Retries)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&stubQueue{}, &stubGrants{}, &stubJournal{})
	s.collector.RecordEnqueue()

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scopegate_commands_enqueued_total")
}
