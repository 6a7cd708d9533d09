package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence/file"
	"github.com/callwise/callflow/pkg/registry"
)

// stubHandler answers every action immediately; suspend marks the action as
// waiting for an external event.
type stubHandler struct {
	suspend bool
}

func (h *stubHandler) Execute(_ context.Context, node *models.Node, _ map[string]any) (*dispatcher.Result, error) {
	return &dispatcher.Result{
		Output:    map[string]any{"handled": node.Subtype},
		Suspended: h.suspend,
	}, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, *models.Node, map[string]any) (string, error) {
	return "", dispatcher.ErrAsyncCompletion
}

func setupTestApp(tempDir string) *fiber.App {
	persistence := file.NewPersistence(tempDir)

	actions := registry.NewRegistry(slog.Default())
	actions.Register(models.SubtypeTextToSpeech, &stubHandler{})
	actions.Register(models.SubtypePlayAudio, &stubHandler{})
	actions.Register(models.SubtypeCollectInput, &stubHandler{suspend: true})

	api := NewAPI(
		slog.Default(),
		persistence,
		actions,
		stubClassifier{},
		nil,
	)

	return api.App()
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &parsed), "body: %s", raw)
	}

	return resp.StatusCode, parsed
}

const menuFlowBody = `{
	"name": "support line",
	"nodes": [
		{"id": "entry", "kind": "trigger", "subtype": "inbound_call"},
		{"id": "collect", "kind": "action", "subtype": "collect_input", "config": {"max_digits": 1}},
		{"id": "menu", "kind": "conditional", "subtype": "ivr_menu", "config": {"digits": ["1"]}},
		{"id": "end", "kind": "terminal", "subtype": "hangup"}
	],
	"edges": [
		{"id": "e1", "source": "entry", "target": "collect"},
		{"id": "e2", "source": "collect", "target": "menu"},
		{"id": "e3", "source": "menu", "target": "end", "label": "1"},
		{"id": "e4", "source": "menu", "target": "collect", "label": "default"}
	]
}`

func createAndPublishFlow(t *testing.T, app *fiber.App) (documentID, flowID string) {
	t.Helper()

	status, created := doJSON(t, app, http.MethodPost, "/flows", menuFlowBody)
	require.Equal(t, http.StatusCreated, status)

	documentID = created["id"].(string)
	flowID = created["flow_id"].(string)

	status, published := doJSON(t, app, http.MethodPost, "/flows/"+documentID+"/publish", "")
	require.Equal(t, http.StatusOK, status, "publish response: %v", published)

	return documentID, flowID
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Callflow API", string(body))
}

func TestAPI_CreateAndValidateFlow(t *testing.T) {
	app := setupTestApp(t.TempDir())

	status, created := doJSON(t, app, http.MethodPost, "/flows", menuFlowBody)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "draft", created["status"])

	documentID := created["id"].(string)

	status, result := doJSON(t, app, http.MethodPost, "/flows/"+documentID+"/validate", "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, result["errors"])
}

func TestAPI_CreateFlowRejectsMalformedShape(t *testing.T) {
	app := setupTestApp(t.TempDir())

	status, _ := doJSON(t, app, http.MethodPost, "/flows", `{"name": "bad", "nodes": "not an array"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, app, http.MethodPost, "/flows", `{"name": "bad", "nodes": [{"id": "x"}]}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_GetFlowNotFound(t *testing.T) {
	app := setupTestApp(t.TempDir())

	status, _ := doJSON(t, app, http.MethodGet, "/flows/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_PublishInvalidFlowConflict(t *testing.T) {
	app := setupTestApp(t.TempDir())

	// No terminal is reachable, so publishing must be refused.
	body := `{
		"name": "broken flow",
		"nodes": [
			{"id": "entry", "kind": "trigger", "subtype": "inbound_call"},
			{"id": "speak", "kind": "action", "subtype": "text_to_speech", "config": {"text": "hi"}}
		],
		"edges": [
			{"id": "e1", "source": "entry", "target": "speak"},
			{"id": "e2", "source": "speak", "target": "speak"}
		]
	}`

	status, created := doJSON(t, app, http.MethodPost, "/flows", body)
	require.Equal(t, http.StatusCreated, status)

	documentID := created["id"].(string)

	status, response := doJSON(t, app, http.MethodPost, "/flows/"+documentID+"/publish", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.NotNil(t, response["validation"])
}

func TestAPI_ExecutionLifecycle(t *testing.T) {
	app := setupTestApp(t.TempDir())
	_, flowID := createAndPublishFlow(t, app)

	status, execution := doJSON(t, app, http.MethodPost, "/executions",
		`{"flow_id": "`+flowID+`", "call_id": "call-1", "from": "+15551230001", "to": "+15551239999"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "suspended", execution["status"])
	assert.Equal(t, "collect_input", execution["waiting_on"])

	executionID := execution["id"].(string)

	status, resumed := doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/resume",
		`{"event": {"digits": "1"}}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", resumed["status"])

	status, steps := doJSON(t, app, http.MethodGet, "/executions/"+executionID+"/steps", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 4, steps["total_steps"])

	status, fetched := doJSON(t, app, http.MethodGet, "/executions/"+executionID, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", fetched["status"])
}

func TestAPI_StartExecutionWithoutPublishedVersion(t *testing.T) {
	app := setupTestApp(t.TempDir())

	status, _ := doJSON(t, app, http.MethodPost, "/executions",
		`{"flow_id": "nothing-published", "call_id": "call-1"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_ResumeRequiresEvent(t *testing.T) {
	app := setupTestApp(t.TempDir())

	status, _ := doJSON(t, app, http.MethodPost, "/executions/whatever/resume", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_Simulate(t *testing.T) {
	app := setupTestApp(t.TempDir())
	_, flowID := createAndPublishFlow(t, app)

	status, result := doJSON(t, app, http.MethodPost, "/simulations",
		`{"flow_id": "`+flowID+`", "call_id": "sim-1", "script": {"inputs": {"collect": {"digits": "1"}}}}`)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, true, result["successful"])
	assert.Equal(t, "hangup", result["final_outcome"])
}

func TestAPI_SimulateRequiresTarget(t *testing.T) {
	app := setupTestApp(t.TempDir())

	status, _ := doJSON(t, app, http.MethodPost, "/simulations", `{"call_id": "sim-1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_CreateDraftAndActiveVersion(t *testing.T) {
	app := setupTestApp(t.TempDir())
	documentID, flowID := createAndPublishFlow(t, app)

	status, active := doJSON(t, app, http.MethodGet, "/flows/groups/"+flowID+"/active", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, documentID, active["id"])

	status, draft := doJSON(t, app, http.MethodPost, "/flows/groups/"+flowID+"/draft", "")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "draft", draft["status"])
	assert.EqualValues(t, 2, draft["version"])
}
