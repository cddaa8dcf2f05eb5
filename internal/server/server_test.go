package server

import (
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"decodelm/internal/logger"
	"decodelm/pkg/model"
)

func newTestEcho(t *testing.T) (*echo.Echo, *Server) {
	t.Helper()
	m, err := model.New(model.Presets["tiny"], rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	s := New(m, logger.Discard())
	e := echo.New()
	s.Register(e)
	return e, s
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error ResponseError `json:"error"`
}

func TestModelInfo(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	rec := doJSON(t, e, http.MethodGet, "/v1/model", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ModelResponse](t, rec)
	if resp.ParameterCount != 1260 {
		t.Errorf("parameter_count: got %d, want 1260", resp.ParameterCount)
	}
	if resp.Config.VocabSize != 100 || resp.Config.DFF != 8 {
		t.Errorf("unexpected config: %+v", resp.Config)
	}
}

func TestForward(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	t.Run("logits", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"tokens":[1,2,3],"return_logits":true}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
		}
		resp := decodeBody[ForwardResponse](t, rec)
		if !slices.Equal(resp.Shape, []int{3, 100}) {
			t.Errorf("shape: got %v", resp.Shape)
		}
		if len(resp.Logits) != 3 || len(resp.Logits[0]) != 100 {
			t.Errorf("logits rows: got %d", len(resp.Logits))
		}
		if resp.Probabilities != nil {
			t.Error("probabilities should be omitted when logits are requested")
		}
		if !strings.HasPrefix(resp.ID, "fwd_") {
			t.Errorf("id: got %q", resp.ID)
		}
	})

	t.Run("probabilities", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"tokens":[5,6]}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
		}
		resp := decodeBody[ForwardResponse](t, rec)
		if len(resp.Probabilities) != 2 {
			t.Fatalf("probability rows: got %d", len(resp.Probabilities))
		}
		for i, row := range resp.Probabilities {
			var sum float64
			for _, p := range row {
				sum += float64(p)
			}
			if math.Abs(sum-1) > 1e-4 {
				t.Errorf("row %d sums to %v", i, sum)
			}
		}
	})
}

func TestForwardErrors(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"token out of range", `{"tokens":[1,100]}`, http.StatusBadRequest, "token_out_of_range"},
		{"negative token", `{"tokens":[-1]}`, http.StatusBadRequest, "token_out_of_range"},
		{"too long", `{"tokens":[1,2,3,4,5,6,7,8,9,10,11]}`, http.StatusBadRequest, "sequence_too_long"},
		{"empty", `{"tokens":[]}`, http.StatusBadRequest, "empty_sequence"},
		{"malformed", `{"tokens":`, http.StatusBadRequest, ""},
		{"unknown field", `{"tokens":[1],"foo":1}`, http.StatusBadRequest, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/forward", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status: got %d, want %d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			resp := decodeBody[errorBody](t, rec)
			if resp.Error.Code != tc.code {
				t.Errorf("code: got %q, want %q", resp.Error.Code, tc.code)
			}
			if resp.Error.Message == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	body := `{"tokens":[1,2,3],"max_length":5,"temperature":1.0,"top_k":10,"seed":42}`
	first := doJSON(t, e, http.MethodPost, "/v1/generate", body)
	if first.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", first.Code, first.Body.String())
	}
	a := decodeBody[GenerateResponse](t, first)
	if len(a.Tokens) != 8 || len(a.Generated) != 5 {
		t.Fatalf("lengths: tokens=%d generated=%d", len(a.Tokens), len(a.Generated))
	}
	if !slices.Equal(a.Tokens[:3], []int{1, 2, 3}) {
		t.Errorf("prefix not preserved: %v", a.Tokens)
	}
	for _, tok := range a.Generated {
		if tok < 0 || tok >= 100 {
			t.Errorf("token %d out of vocabulary", tok)
		}
	}
	if a.Seed != 42 {
		t.Errorf("seed: got %d", a.Seed)
	}

	b := decodeBody[GenerateResponse](t, doJSON(t, e, http.MethodPost, "/v1/generate", body))
	if !slices.Equal(a.Tokens, b.Tokens) {
		t.Errorf("same seed gave different tokens: %v vs %v", a.Tokens, b.Tokens)
	}
	if a.ID == b.ID {
		t.Error("request ids should be unique")
	}
}

func TestGenerateGreedy(t *testing.T) {
	t.Parallel()
	e, s := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"tokens":[7],"max_length":3,"greedy":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[GenerateResponse](t, rec)

	out, err := s.model.Forward([]int{7}, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := argmax(out.Logits.Row(0))
	if resp.Generated[0] != want {
		t.Errorf("first greedy token: got %d, want %d", resp.Generated[0], want)
	}
}

func TestGenerateErrors(t *testing.T) {
	t.Parallel()
	e, s := newTestEcho(t)
	s.MaxGenerate = 16

	tests := []struct {
		name string
		body string
		code string
	}{
		{"zero temperature", `{"tokens":[1],"max_length":2,"temperature":0}`, "invalid_temperature"},
		{"negative temperature", `{"tokens":[1],"max_length":2,"temperature":-1}`, "invalid_temperature"},
		{"empty prompt", `{"tokens":[],"max_length":2}`, "empty_sequence"},
		{"bad token", `{"tokens":[1000],"max_length":2,"seed":1}`, "token_out_of_range"},
		{"negative length", `{"tokens":[1],"max_length":-1}`, ""},
		{"length over limit", `{"tokens":[1],"max_length":17}`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/generate", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
			}
			if got := decodeBody[errorBody](t, rec).Error.Code; got != tc.code {
				t.Errorf("code: got %q, want %q", got, tc.code)
			}
		})
	}
}

func TestNewEchoRoutes(t *testing.T) {
	t.Parallel()
	_, s := newTestEcho(t)
	e := NewEcho(s)

	rec := doJSON(t, e, http.MethodGet, "/v1/model", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodGet, "/v1/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route: got %d", rec.Code)
	}
}

func argmax(v []float32) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
