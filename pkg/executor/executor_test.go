package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"the-dev-tools/apidiff/pkg/idwrap"
	"the-dev-tools/apidiff/pkg/model/mcase"
	"the-dev-tools/apidiff/pkg/model/mresponse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T, handlerA, handlerB http.HandlerFunc, opts Options) *Executor {
	t.Helper()
	srvA := httptest.NewServer(handlerA)
	srvB := httptest.NewServer(handlerB)
	t.Cleanup(srvA.Close)
	t.Cleanup(srvB.Close)

	exec, err := New(
		TargetConfig{Name: "a", BaseURL: srvA.URL},
		TargetConfig{Name: "b", BaseURL: srvB.URL},
		opts,
	)
	require.NoError(t, err)
	return exec
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func simpleCase(method, path string) mcase.RequestCase {
	return mcase.RequestCase{
		CaseID:       idwrap.NewNow(),
		OperationID:  "op",
		Method:       method,
		PathTemplate: path,
	}
}

func TestExecuteDispatchesAThenB(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		}
	}
	exec := newPair(t, record("a"), record("b"), Options{})

	pair, err := exec.Execute(context.Background(), simpleCase(http.MethodGet, "/ping"))
	require.NoError(t, err)
	require.True(t, pair.A.OK())
	require.True(t, pair.B.OK())
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestExecuteCapturesResponse(t *testing.T) {
	exec := newPair(t,
		jsonHandler(200, `{"id":7}`),
		jsonHandler(200, `{"id":7}`),
		Options{},
	)

	pair, err := exec.Execute(context.Background(), simpleCase(http.MethodGet, "/users/7"))
	require.NoError(t, err)
	require.True(t, pair.A.OK())

	resp := pair.A.Response
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, mresponse.BodyKindStructured, resp.Body.Kind)
	assert.Equal(t, map[string]any{"id": float64(7)}, resp.Body.Structured)
	// header keys are lowercased at capture
	assert.Equal(t, []string{"application/json"}, resp.Headers["content-type"])
	assert.NotEmpty(t, resp.HTTPVersion)
}

func TestExecuteSendsCaseHeadersAndBody(t *testing.T) {
	var got struct {
		auth, contentType, body string
	}
	capture := func(w http.ResponseWriter, r *http.Request) {
		got.auth = r.Header.Get("Authorization")
		got.contentType = r.Header.Get("Content-Type")
		buf, _ := io.ReadAll(r.Body)
		got.body = string(buf)
		w.WriteHeader(http.StatusOK)
	}
	exec := newPair(t, capture, jsonHandler(200, `{}`), Options{})

	rc := simpleCase(http.MethodPost, "/things")
	rc.Headers = map[string][]string{"Authorization": {"Bearer t"}}
	rc.Body = mcase.Body{
		Kind:       mcase.BodyKindStructured,
		Structured: map[string]any{"name": "x"},
		MediaType:  "application/json",
	}

	pair, err := exec.Execute(context.Background(), rc)
	require.NoError(t, err)
	require.True(t, pair.A.OK())
	assert.Equal(t, "Bearer t", got.auth)
	assert.Equal(t, "application/json", got.contentType)
	assert.JSONEq(t, `{"name":"x"}`, got.body)
}

func TestExecuteRateLimit(t *testing.T) {
	exec := newPair(t,
		jsonHandler(204, ""),
		jsonHandler(204, ""),
		Options{RequestsPerSecond: 20},
	)

	start := time.Now()
	pair, err := exec.Execute(context.Background(), simpleCase(http.MethodGet, "/ping"))
	require.NoError(t, err)
	require.True(t, pair.A.OK())
	require.True(t, pair.B.OK())
	// two requests at 20 rps: the second waits at least one 50ms interval
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestExecuteConnectionError(t *testing.T) {
	srvA := httptest.NewServer(jsonHandler(200, `{}`))
	t.Cleanup(srvA.Close)
	srvB := httptest.NewServer(jsonHandler(200, `{}`))
	deadURL := srvB.URL
	srvB.Close()

	exec, err := New(
		TargetConfig{Name: "a", BaseURL: srvA.URL},
		TargetConfig{Name: "b", BaseURL: deadURL},
		Options{},
	)
	require.NoError(t, err)

	pair, err := exec.Execute(context.Background(), simpleCase(http.MethodGet, "/ping"))
	require.NoError(t, err)
	assert.True(t, pair.A.OK())
	require.False(t, pair.B.OK())
	assert.Equal(t, ErrKindConnection, pair.B.Err.Kind)
	assert.Equal(t, "b", pair.B.Err.Target)
}

func TestExecuteOperationTimeout(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}
	exec := newPair(t, slow, jsonHandler(200, `{}`), Options{
		Timeout:           5 * time.Second,
		OperationTimeouts: map[string]time.Duration{"op": 50 * time.Millisecond},
	})

	pair, err := exec.Execute(context.Background(), simpleCase(http.MethodGet, "/slow"))
	require.NoError(t, err)
	require.False(t, pair.A.OK())
	assert.Equal(t, ErrKindTimeout, pair.A.Err.Kind)
}

func TestNewRejectsUnknownCipher(t *testing.T) {
	_, err := New(
		TargetConfig{Name: "a", BaseURL: "http://localhost:1", TLS: TLSConfig{Ciphers: []string{"TLS_NOT_A_CIPHER"}}},
		TargetConfig{Name: "b", BaseURL: "http://localhost:1"},
		Options{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cipher suite")
}

func TestRenderCasePathParams(t *testing.T) {
	rc := simpleCase(http.MethodGet, "/users/{id}/orders/{order_id}")
	rc.PathParams = map[string][]string{"id": {"7"}, "order_id": {"42"}}

	rendered := RenderCase(rc, nil)
	assert.Equal(t, "/users/7/orders/42", rendered.Path)
	assert.Equal(t, "/users/{id}/orders/{order_id}", rendered.PathTemplate)
}

func TestRenderCaseLongestNameFirst(t *testing.T) {
	rc := simpleCase(http.MethodGet, "/x/{id}{identifier}")

	rendered := RenderCase(rc, map[string]any{"id": "short", "identifier": "long"})
	assert.Equal(t, "/x/shortlong", rendered.Path)
}

func TestRenderCaseEncodesControlBytes(t *testing.T) {
	rc := simpleCase(http.MethodGet, "/items/{name}")

	rendered := RenderCase(rc, map[string]any{"name": "a\nb"})
	assert.Equal(t, "/items/a%0Ab", rendered.Path)
}

func TestRenderCaseBodyAndQuery(t *testing.T) {
	rc := simpleCase(http.MethodPost, "/orders")
	rc.Query = map[string][]string{"token": {"{session}"}}
	rc.Body = mcase.Body{
		Kind: mcase.BodyKindStructured,
		Structured: map[string]any{
			"session": "{session}",
			"count":   float64(3),
			"nested":  map[string]any{"ref": "{session}"},
		},
	}

	rendered := RenderCase(rc, map[string]any{"session": "s-1"})
	assert.Equal(t, []string{"s-1"}, rendered.Query["token"])
	body := rendered.Body.Structured.(map[string]any)
	assert.Equal(t, "s-1", body["session"])
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, "s-1", body["nested"].(map[string]any)["ref"])
}

func TestRenderCaseStringifiesNumericVars(t *testing.T) {
	rc := simpleCase(http.MethodGet, "/users/{id}")

	rendered := RenderCase(rc, map[string]any{"id": float64(42)})
	assert.Equal(t, "/users/42", rendered.Path)
}

func TestExtractLinks(t *testing.T) {
	resp := mresponse.ResponseCase{
		Status: 200,
		Headers: map[string][]string{
			"set-cookie": {"first=1", "second=2"},
		},
		Body: mresponse.Body{
			Kind:       mresponse.BodyKindStructured,
			Structured: map[string]any{"auth": map[string]any{"token": "tok-1"}},
		},
	}

	vars, err := ExtractLinks([]mcase.LinkField{
		{Name: "token", Source: mcase.LinkSourceBody, Pointer: "/auth/token"},
		{Name: "cookie", Source: mcase.LinkSourceHeader, Header: "Set-Cookie", Occurrence: 1},
	}, resp)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", vars["token"])
	assert.Equal(t, "second=2", vars["cookie"])
}

func TestExtractLinksMissingPointer(t *testing.T) {
	resp := mresponse.ResponseCase{
		Status: 200,
		Body:   mresponse.Body{Kind: mresponse.BodyKindStructured, Structured: map[string]any{}},
	}

	_, err := ExtractLinks([]mcase.LinkField{
		{Name: "token", Source: mcase.LinkSourceBody, Pointer: "/auth/token"},
	}, resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExecuteChainThreadsVariablesPerTarget(t *testing.T) {
	makeHandler := func(token string, seen *[]string, mu *sync.Mutex) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			*seen = append(*seen, r.URL.Path)
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"` + token + `"}`))
		}
	}
	var mu sync.Mutex
	var seenA, seenB []string
	exec := newPair(t,
		makeHandler("A-tok", &seenA, &mu),
		makeHandler("B-tok", &seenB, &mu),
		Options{},
	)

	login := simpleCase(http.MethodPost, "/login")
	use := simpleCase(http.MethodGet, "/use/{token}")
	chain := mcase.ChainCase{
		ChainID: idwrap.NewNow(),
		Steps: []mcase.ChainStep{
			{Request: login, Extract: []mcase.LinkField{
				{Name: "token", Source: mcase.LinkSourceBody, Pointer: "/token"},
			}},
			{Request: use},
		},
	}

	execA, execB, err := exec.ExecuteChain(context.Background(), chain, nil)
	require.NoError(t, err)
	require.Len(t, execA.Steps, 2)
	require.Len(t, execB.Steps, 2)

	// each target threads its own extracted value
	assert.Equal(t, []string{"/login", "/use/A-tok"}, seenA)
	assert.Equal(t, []string{"/login", "/use/B-tok"}, seenB)
	assert.Equal(t, map[string]any{"token": "A-tok"}, execA.Steps[0].Variables)
	assert.Equal(t, map[string]any{"token": "B-tok"}, execB.Steps[0].Variables)
	assert.Equal(t, "/use/A-tok", execA.Steps[1].Request.Path)
	assert.Equal(t, "/use/B-tok", execB.Steps[1].Request.Path)
}

func TestExecuteChainRecordsDispatchedRequestWhenStepReextractsSameName(t *testing.T) {
	// each response carries a fresh token, so a step that consumes {token}
	// and extracts token again must record the value it actually sent, not
	// the one it just received
	makeHandler := func(prefix string, seen *[]string, mu *sync.Mutex) http.HandlerFunc {
		n := 0
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			n++
			*seen = append(*seen, r.URL.Path)
			token := fmt.Sprintf("%s%d", prefix, n)
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"` + token + `"}`))
		}
	}
	var mu sync.Mutex
	var seenA, seenB []string
	exec := newPair(t,
		makeHandler("A", &seenA, &mu),
		makeHandler("B", &seenB, &mu),
		Options{},
	)

	extractToken := []mcase.LinkField{
		{Name: "token", Source: mcase.LinkSourceBody, Pointer: "/token"},
	}
	chain := mcase.ChainCase{
		ChainID: idwrap.NewNow(),
		Steps: []mcase.ChainStep{
			{Request: simpleCase(http.MethodPost, "/login"), Extract: extractToken},
			{Request: simpleCase(http.MethodGet, "/use/{token}"), Extract: extractToken},
		},
	}

	execA, execB, err := exec.ExecuteChain(context.Background(), chain, nil)
	require.NoError(t, err)
	require.Len(t, execA.Steps, 2)
	require.Len(t, execB.Steps, 2)

	assert.Equal(t, []string{"/login", "/use/A1"}, seenA)
	assert.Equal(t, []string{"/login", "/use/B1"}, seenB)

	// the recorded request is the one that went on the wire
	assert.Equal(t, "/use/A1", execA.Steps[1].Request.Path)
	assert.Equal(t, "/use/B1", execB.Steps[1].Request.Path)

	// while the step's own extraction holds the fresh value
	assert.Equal(t, map[string]any{"token": "A2"}, execA.Steps[1].Variables)
	assert.Equal(t, map[string]any{"token": "B2"}, execB.Steps[1].Variables)
}

func TestExecuteChainHaltsWhenStepCallbackSaysStop(t *testing.T) {
	exec := newPair(t, jsonHandler(200, `{}`), jsonHandler(200, `{}`), Options{})

	chain := mcase.ChainCase{
		ChainID: idwrap.NewNow(),
		Steps: []mcase.ChainStep{
			{Request: simpleCase(http.MethodGet, "/one")},
			{Request: simpleCase(http.MethodGet, "/two")},
			{Request: simpleCase(http.MethodGet, "/three")},
		},
	}

	execA, execB, err := exec.ExecuteChain(context.Background(), chain,
		func(step int, a, b mresponse.ChainStepExecution) bool {
			return step < 1
		})
	require.NoError(t, err)
	assert.Len(t, execA.Steps, 2)
	assert.Len(t, execB.Steps, 2)
}

func TestExecuteChainHaltsOnMissingLink(t *testing.T) {
	exec := newPair(t, jsonHandler(200, `{}`), jsonHandler(200, `{}`), Options{})

	chain := mcase.ChainCase{
		Steps: []mcase.ChainStep{
			{Request: simpleCase(http.MethodGet, "/one"), Extract: []mcase.LinkField{
				{Name: "token", Source: mcase.LinkSourceBody, Pointer: "/token"},
			}},
			{Request: simpleCase(http.MethodGet, "/never")},
		},
	}

	execA, _, err := exec.ExecuteChain(context.Background(), chain, nil)
	require.Error(t, err)
	assert.Empty(t, execA.Steps, "the failing step is not recorded as completed")
}
