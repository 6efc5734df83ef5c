package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/service"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/summarizer"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	backends := Backends{
		Hot: store.NewMemory(domain.Capabilities{
			SupportsVectorSearch: false, TypicalLatencyMS: 2, Durability: domain.DurabilitySession,
		}),
		Warm: store.NewMemory(domain.Capabilities{
			SupportsVectorSearch: true, TypicalLatencyMS: 15, Durability: domain.DurabilityDurable,
		}),
		Cold: store.NewMemory(domain.Capabilities{
			SupportsVectorSearch: false, TypicalLatencyMS: 40, Durability: domain.DurabilityArchival,
		}),
	}

	embedder, err := embedding.NewClient(embedding.ProviderMock, "", 8)
	require.NoError(t, err)

	overflow, err := service.NewOverflowLog(filepath.Join(t.TempDir(), "overflow.ndjson"))
	require.NoError(t, err)

	return NewApp(backends, embedder, summarizer.NewExtractive(), overflow, zap.NewNop())
}

func doJSON(t *testing.T, app *App, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func createMemory(t *testing.T, app *App, content string) string {
	t.Helper()

	rec, body := doJSON(t, app, http.MethodPost, "/v1/memories",
		`{"content": "`+content+`", "type": "semantic"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	record, ok := body["record"].(map[string]any)
	require.True(t, ok)
	id, _ := record["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAPI_CreateAndGet(t *testing.T) {
	app := newTestApp(t)

	rec, body := doJSON(t, app, http.MethodPost, "/v1/memories",
		`{"content": "the deploy pipeline uses blue-green rollouts", "type": "semantic", "tags": ["infra"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "stored", body["durability"])
	assert.NotEmpty(t, body["tier"])

	record := body["record"].(map[string]any)
	id := record["id"].(string)
	assert.Regexp(t, `^mem_\d+_[0-9a-f]{8}$`, id)

	rec, body = doJSON(t, app, http.MethodGet, "/v1/memories/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["id"])

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAPI_CreateRejectsBadInput(t *testing.T) {
	app := newTestApp(t)

	rec, _ := doJSON(t, app, http.MethodPost, "/v1/memories", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, app, http.MethodPost, "/v1/memories", `{"content": "x", "type": "telepathic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, app, http.MethodPost, "/v1/memories", `{"content": "", "type": "semantic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetUnknownID(t *testing.T) {
	app := newTestApp(t)

	rec, _ := doJSON(t, app, http.MethodGet, "/v1/memories/mem_1_deadbeef", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Search(t *testing.T) {
	app := newTestApp(t)

	createMemory(t, app, "the deploy pipeline uses blue-green rollouts")
	createMemory(t, app, "lunch was a burrito")

	rec, body := doJSON(t, app, http.MethodGet, "/v1/memories/search?q=deploy+pipeline&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	records, ok := body["records"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, records)
	assert.Equal(t, false, body["partial"])

	first := records[0].(map[string]any)
	assert.Contains(t, first["content"], "deploy pipeline")
}

func TestAPI_SearchValidation(t *testing.T) {
	app := newTestApp(t)

	rec, _ := doJSON(t, app, http.MethodGet, "/v1/memories/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, app, http.MethodGet, "/v1/memories/search?q=x&limit=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, app, http.MethodGet, "/v1/memories/search?q=x&type=telepathic", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, app, http.MethodGet, "/v1/memories/search?q=x&min_importance=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Update(t *testing.T) {
	app := newTestApp(t)
	id := createMemory(t, app, "the deploy pipeline uses blue-green rollouts")

	rec, body := doJSON(t, app, http.MethodPatch, "/v1/memories/"+id,
		`{"tags": ["infra", "protected"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tags, ok := body["tags"].([]any)
	require.True(t, ok)
	assert.Contains(t, tags, "protected")
}

func TestAPI_SoftDeleteThenGone(t *testing.T) {
	app := newTestApp(t)
	id := createMemory(t, app, "the deploy pipeline uses blue-green rollouts")

	rec, _ := doJSON(t, app, http.MethodDelete, "/v1/memories/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Tombstoned, not purged.
	rec, _ = doJSON(t, app, http.MethodGet, "/v1/memories/"+id, "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestAPI_ForceDelete(t *testing.T) {
	app := newTestApp(t)
	id := createMemory(t, app, "the deploy pipeline uses blue-green rollouts")

	rec, _ := doJSON(t, app, http.MethodDelete, "/v1/memories/"+id+"?force=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, app, http.MethodGet, "/v1/memories/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Stats(t *testing.T) {
	app := newTestApp(t)
	createMemory(t, app, "the deploy pipeline uses blue-green rollouts")

	rec, body := doJSON(t, app, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tiers, ok := body["tiers"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, tiers, 3)
}

func TestAPI_MaintenanceTrigger(t *testing.T) {
	app := newTestApp(t)
	createMemory(t, app, "the deploy pipeline uses blue-green rollouts")

	rec, body := doJSON(t, app, http.MethodPost, "/v1/maintenance/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, body, "decay")
	assert.Contains(t, body, "placement")

	rec, _ = doJSON(t, app, http.MethodGet, "/v1/maintenance/last", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	app := newTestApp(t)

	rec, body := doJSON(t, app, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_Metrics(t *testing.T) {
	app := newTestApp(t)
	createMemory(t, app, "the deploy pipeline uses blue-green rollouts")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mnemo_http_requests_total")
}
