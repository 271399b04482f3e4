package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"tenderestimate/estimate"
	"tenderestimate/store"
	"tenderestimate/testhelpers"
)

// newTestRequestEvent creates a RequestEvent suitable for handler tests.
func newTestRequestEvent(app core.App, req *http.Request, rec *httptest.ResponseRecorder) *core.RequestEvent {
	e := &core.RequestEvent{}
	e.App = app
	e.Request = req
	e.Response = rec
	return e
}

// testEnv is a position with a screed work consuming a mix, a primer work
// with nothing linked and an unlinked mesh.
//
// Totals: works 4500 + 120, linked mix 30 × 103 = 3090, mesh 4500.
type testEnv struct {
	app    core.App
	engine *estimate.Engine
	log    *zap.Logger

	position string
	screed   string
	primer   string
	mix      string
	mesh     string
	link     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	app := testhelpers.NewTestApp(t)

	tender := testhelpers.CreateTestTender(t, app, "ЖК Северный")
	position := testhelpers.CreateTestPosition(t, app, tender.Id, "Устройство стяжки пола", 10)
	screed := testhelpers.CreateTestWork(t, app, position.Id, "Устройство стяжки", 10, 450)
	primer := testhelpers.CreateTestWork(t, app, position.Id, "Грунтование", 2, 60)
	mix := testhelpers.CreateTestMaterial(t, app, position.Id, "Смесь М150", 10, 100, map[string]any{
		"consumption_coefficient": "2",
		"conversion_coefficient":  "1,5",
		"delivery_policy":         "not_included",
	})
	mesh := testhelpers.CreateTestMaterial(t, app, position.Id, "Сетка", 5, 900, nil)
	link := testhelpers.CreateTestLink(t, app, position.Id, screed.Id, mix.Id)

	log := zaptest.NewLogger(t)
	return &testEnv{
		app:      app,
		engine:   estimate.New(store.New(app), estimate.WithLogger(log)),
		log:      log,
		position: position.Id,
		screed:   screed.Id,
		primer:   primer.Id,
		mix:      mix.Id,
		mesh:     mesh.Id,
		link:     link.Id,
	}
}

// serve runs handler against a request with the given path values and an
// optional JSON body.
func (env *testEnv) serve(t *testing.T, handler func(*core.RequestEvent) error, method, target, body string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	if err := handler(newTestRequestEvent(env.app, req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func expectCode(t *testing.T, body map[string]any, want string) {
	t.Helper()
	if body["code"] != want {
		t.Errorf("code = %v, want %q (%v)", body["code"], want, body["error"])
	}
}

// expectMoney compares a decimal rendered as a JSON string.
func expectMoney(t *testing.T, what string, got any, want string) {
	t.Helper()
	s, ok := got.(string)
	if !ok {
		t.Errorf("%s: expected decimal string, got %T %v", what, got, got)
		return
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", what, s, want)
	}
}

func totalsOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	totals, ok := body["totals"].(map[string]any)
	if !ok {
		t.Fatalf("response has no totals: %v", body)
	}
	return totals
}
