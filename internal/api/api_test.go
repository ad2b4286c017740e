package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statekit/internal/api"
	"github.com/dmitrymomot/statekit/internal/document"
	"github.com/dmitrymomot/statekit/pkg/requestid"
	"github.com/dmitrymomot/statekit/pkg/transition"
	"github.com/dmitrymomot/statekit/pkg/transition/promobserver"
)

type fixture struct {
	srv *httptest.Server
	svc *document.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	registry := transition.NewRegistry(transition.NewMemoryRuleStore())
	manifest, err := document.DefaultRules()
	require.NoError(t, err)
	require.NoError(t, registry.RegisterManifest(ctx, manifest))

	reg := prometheus.NewRegistry()
	engine := transition.NewEngine(registry, transition.NewMemoryAuditLog(),
		transition.WithObserver(promobserver.New(reg)),
	)
	svc := document.NewService(document.NewMemoryRepository(), engine)

	srv := httptest.NewServer(api.Router(svc, api.RouterOptions{Gatherer: reg}))
	t.Cleanup(srv.Close)
	return fixture{srv: srv, svc: svc}
}

func (f fixture) do(t *testing.T, method, path, body string, header map[string]string) (int, envelope) {
	t.Helper()

	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

type envelope struct {
	Data  any `json:"data"`
	Error *struct {
		Code    string              `json:"code"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func (e envelope) object() map[string]any {
	m, _ := e.Data.(map[string]any)
	return m
}

func (e envelope) list() []any {
	l, _ := e.Data.([]any)
	return l
}

func (e envelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

func (f fixture) create(t *testing.T, title string) string {
	t.Helper()
	d, err := f.svc.Create(context.Background(), title)
	require.NoError(t, err)
	return d.ID
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/documents", `{"title":"Contract"}`, nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "draft", body.object()["status"])
	assert.Equal(t, "pending", body.object()["verification_status"])

	id, _ := body.object()["id"].(string)
	code, body = f.do(t, http.MethodGet, "/documents/"+id, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Contract", body.object()["title"])

	code, body = f.do(t, http.MethodPost, "/documents", `{"title":""}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "validation_failed", body.code())

	code, body = f.do(t, http.MethodPost, "/documents", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", body.code())

	code, body = f.do(t, http.MethodGet, "/documents/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body.code())
}

func TestApplyTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.create(t, "Document 1")

	code, body := f.do(t, http.MethodPost, "/documents/"+id+"/transitions/publish", "", map[string]string{api.ActorHeader: "user-9"})
	require.Equal(t, http.StatusOK, code)
	doc, _ := body.object()["document"].(map[string]any)
	rec, _ := body.object()["record"].(map[string]any)
	assert.Equal(t, "published", doc["status"])
	assert.Equal(t, "draft", rec["from_state"])
	assert.Equal(t, "published", rec["to_state"])
	assert.Equal(t, "user-9", rec["actor_id"])

	t.Run("invalid state is a conflict", func(t *testing.T) {
		code, body := f.do(t, http.MethodPost, "/documents/"+id+"/transitions/publish", "", nil)
		require.Equal(t, http.StatusConflict, code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "invalid_state", body.Error.Code)
		assert.Equal(t, []string{"published"}, body.Error.Details["current_state"])
		assert.Equal(t, []string{"draft"}, body.Error.Details["expected_states"])
	})

	t.Run("unknown transition is not found", func(t *testing.T) {
		code, body := f.do(t, http.MethodPost, "/documents/"+id+"/transitions/teleport", "", nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "unknown_transition", body.code())
	})

	t.Run("second status field", func(t *testing.T) {
		code, body := f.do(t, http.MethodPost, "/documents/"+id+"/transitions/submit?field=verification_status", "", nil)
		require.Equal(t, http.StatusOK, code)
		doc, _ := body.object()["document"].(map[string]any)
		assert.Equal(t, "submitted", doc["verification_status"])
		assert.Equal(t, "published", doc["status"])
	})
}

func TestTransitionsAndHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.create(t, "Document 2")

	code, body := f.do(t, http.MethodGet, "/documents/"+id+"/transitions?field=verification_status", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"reject", "submit"}, body.list())

	code, body = f.do(t, http.MethodGet, "/documents/"+id+"/transitions?field=priority", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_status_field", body.code())

	code, _ = f.do(t, http.MethodPost, "/documents/"+id+"/transitions/publish", "", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/documents/"+id+"/transitions/archive", "", nil)
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, "/documents/"+id+"/history", "", nil)
	require.Equal(t, http.StatusOK, code)
	history := body.list()
	require.Len(t, history, 2)
	first, _ := history[0].(map[string]any)
	assert.Equal(t, "publish", first["transition_name"])

	code, body = f.do(t, http.MethodGet, "/documents/"+id+"/history?field=verification_status", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body.list())
}

func TestRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/rules/verification_status", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body.list(), 3)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.create(t, "Document 3")
	f.do(t, http.MethodPost, "/documents/"+id+"/transitions/publish", "", nil)

	code, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, code)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(requestid.Header, "trace-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-1", resp.Header.Get(requestid.Header))
}
