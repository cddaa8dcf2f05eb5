// Package server exposes a loaded model over a small JSON HTTP API.
package server

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"decodelm/internal/logger"
	"decodelm/pkg/model"
	"decodelm/pkg/tensor"
)

// DefaultMaxGenerate caps max_length on /v1/generate.
const DefaultMaxGenerate = 1024

// Server serves a single model. Model calls are serialized.
type Server struct {
	mu    sync.Mutex
	model *model.GPT2Model
	log   logger.Logger

	// MaxGenerate is the largest max_length a client may request.
	MaxGenerate int

	clock func() time.Time
}

// New returns a server for m. A nil log discards output.
func New(m *model.GPT2Model, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		model:       m,
		log:         log,
		MaxGenerate: DefaultMaxGenerate,
		clock:       time.Now,
	}
}

// Register mounts the API routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/forward", s.handleForward)
	e.POST("/v1/generate", s.handleGenerate)
}

// NewEcho builds an echo instance with request logging, panic recovery and
// the API routes.
func NewEcho(s *Server) *echo.Echo {
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	s.Register(e)
	return e
}

// ModelResponse describes the served model.
type ModelResponse struct {
	Config         model.Config `json:"config"`
	ParameterCount int          `json:"parameter_count"`
}

// ForwardRequest is the body of POST /v1/forward.
type ForwardRequest struct {
	Tokens       []int `json:"tokens"`
	ReturnLogits bool  `json:"return_logits"`
}

// ForwardResponse carries either logits or probabilities, one row per
// input position.
type ForwardResponse struct {
	ID            string      `json:"id"`
	Created       int64       `json:"created"`
	Shape         []int       `json:"shape"`
	Logits        [][]float32 `json:"logits,omitempty"`
	Probabilities [][]float32 `json:"probabilities,omitempty"`
}

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Tokens    []int `json:"tokens"`
	MaxLength int   `json:"max_length"`
	// Temperature defaults to 1 when omitted.
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	// Seed makes sampling reproducible. A missing seed uses the clock.
	Seed   *int64 `json:"seed,omitempty"`
	Greedy bool   `json:"greedy,omitempty"`
}

// GenerateResponse returns the full sequence and the generated suffix.
type GenerateResponse struct {
	ID        string `json:"id"`
	Created   int64  `json:"created"`
	Tokens    []int  `json:"tokens"`
	Generated []int  `json:"generated"`
	Seed      int64  `json:"seed"`
}

func (s *Server) handleModel(c *echo.Context) error {
	s.mu.Lock()
	resp := ModelResponse{
		Config:         s.model.Config,
		ParameterCount: s.model.ParameterCount(),
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	s.mu.Lock()
	out, err := s.model.Forward(req.Tokens, req.ReturnLogits)
	s.mu.Unlock()
	if err != nil {
		return writeModelError(c, err)
	}

	resp := ForwardResponse{
		ID:      "fwd_" + uuid.NewString(),
		Created: s.clock().Unix(),
		Shape:   out.Logits.Shape,
	}
	if req.ReturnLogits {
		resp.Logits = rows(out.Logits)
	} else {
		resp.Probabilities = rows(out.Probabilities)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.MaxLength < 0 || req.MaxLength > s.MaxGenerate {
		return writeBadRequest(c, fmt.Sprintf("max_length must be between 0 and %d", s.MaxGenerate))
	}

	temperature := 1.0
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	seed := s.clock().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	id := "gen_" + uuid.NewString()
	log := s.log.With("id", id)
	started := s.clock()

	s.mu.Lock()
	tokens, err := s.model.GenerateContext(c.Request().Context(), req.Tokens, req.MaxLength, model.GenerateOptions{
		Temperature: temperature,
		TopK:        req.TopK,
		Rand:        rand.New(rand.NewSource(seed)),
		Greedy:      req.Greedy,
	})
	s.mu.Unlock()
	if err != nil {
		log.Warn("generation failed", "error", err)
		return writeModelError(c, err)
	}

	log.Info("generated",
		"prompt_tokens", len(req.Tokens),
		"new_tokens", req.MaxLength,
		"duration", s.clock().Sub(started),
	)

	return c.JSON(http.StatusOK, GenerateResponse{
		ID:        id,
		Created:   started.Unix(),
		Tokens:    tokens,
		Generated: tokens[len(req.Tokens):],
		Seed:      seed,
	})
}

func rows(t *tensor.Tensor) [][]float32 {
	out := make([][]float32, t.Shape[0])
	for i := range out {
		out[i] = t.Row(i)
	}
	return out
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("invalid request body: %w", err)
	}
	return out, nil
}
