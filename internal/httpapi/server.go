package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"onnxd/internal/common/fsutil"
	"onnxd/internal/registry"
	"onnxd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	LoadModel(ctx context.Context, req types.LoadModelRequest) types.Envelope
	UnloadModel(ctx context.Context) types.Envelope
	ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) <-chan types.Envelope
	Embedding(ctx context.Context, req types.EmbeddingRequest) types.Envelope
	ModelStatus(ctx context.Context) types.Envelope
	ListModels(ctx context.Context) types.Envelope
	Ready() bool
}

type server struct {
	svc      Service
	catalog  []types.Model
	validate *validator.Validate
}

// NewMux builds the HTTP router. catalog lists the models found on disk and
// lets /loadmodel accept a catalog id instead of a path.
func NewMux(svc Service, catalog []types.Model) http.Handler {
	s := &server{
		svc:      svc,
		catalog:  append([]types.Model(nil), catalog...),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// text/event-stream is not in the default compressible set, so streams pass through.
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/loadmodel", s.loadModel)
	r.Post("/unloadmodel", s.unloadModel)
	r.Get("/modelstatus", s.modelStatus)
	r.Get("/models", s.listModels)
	r.Get("/models/available", s.availableModels)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.chatCompletions)
		r.Post("/embeddings", s.embeddings)
		r.Get("/models", s.listModels)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no model loaded"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

// decodeJSON checks the content type, bounds the body and validates v.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return requestError{code: http.StatusUnsupportedMediaType, msg: "Content-Type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return requestError{code: http.StatusRequestEntityTooLarge, msg: "request body too large"}
		}
		return badRequest("invalid JSON body")
	}
	if err := s.validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return badRequest("invalid field " + ve[0].Namespace() + ": " + ve[0].Tag())
		}
		return badRequest(err.Error())
	}
	return nil
}

// resolveLoad fills in model_path from the catalog when only a model id is
// given and expands the path.
func (s *server) resolveLoad(req *types.LoadModelRequest) error {
	if strings.TrimSpace(req.ModelPath) == "" {
		if strings.TrimSpace(req.Model) == "" {
			return badRequest("model_path or model is required")
		}
		m, ok := registry.Find(s.catalog, req.Model)
		if !ok {
			return requestError{code: http.StatusNotFound, msg: "model not found: " + req.Model}
		}
		req.ModelPath = m.Path
		req.Model = m.ID
	}
	p, err := fsutil.ResolveModelPath(req.ModelPath)
	if err != nil {
		return badRequest("invalid model_path: " + err.Error())
	}
	req.ModelPath = p
	return nil
}

// writeEnvelope maps an envelope onto an HTTP response. An aborted job
// carries code 200 with has_error set and is reported as 503.
func writeEnvelope(w http.ResponseWriter, env types.Envelope) {
	code := env.Status.StatusCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	if env.Status.HasError && code < http.StatusBadRequest {
		code = http.StatusServiceUnavailable
	}
	payload := env.Payload
	if sd, ok := payload.(types.StreamData); ok && env.Status.HasError && sd.Data == "" {
		payload = types.MessageResponse{Message: msgAborted}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// loadModel godoc
// @Summary      Load a model
// @Description  Opens a model and makes it available for chat completions. Either model_path or a catalog model id is required.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        request  body      types.LoadModelRequest  true  "Load request"
// @Success      200      {object}  types.MessageResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      409      {object}  types.MessageResponse
// @Failure      500      {object}  types.MessageResponse
// @Router       /loadmodel [post]
func (s *server) loadModel(w http.ResponseWriter, r *http.Request) {
	lvl := requestLogLevel(r)
	var req types.LoadModelRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.resolveLoad(&req); err != nil {
		logRequest(r, lvl, "load rejected", nil, err)
		writeError(w, err)
		return
	}
	// loading is not tied to the client connection, only to shutdown
	start := time.Now()
	env := s.svc.LoadModel(serverBaseCtx, req)
	logRequest(r, lvl, "load", map[string]any{"model_path": req.ModelPath, "status": env.Status.StatusCode, "dur": time.Since(start).String()}, nil)
	writeEnvelope(w, env)
}

// unloadModel godoc
// @Summary      Unload the model
// @Description  Releases the loaded model. Jobs still running end with an aborted envelope.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.MessageResponse
// @Failure      409  {object}  types.MessageResponse
// @Router       /unloadmodel [post]
func (s *server) unloadModel(w http.ResponseWriter, r *http.Request) {
	env := s.svc.UnloadModel(r.Context())
	logRequest(r, requestLogLevel(r), "unload", map[string]any{"status": env.Status.StatusCode}, nil)
	writeEnvelope(w, env)
}

// modelStatus godoc
// @Summary      Model status
// @Description  Not supported by this engine; always answers 409.
// @Tags         models
// @Produce      json
// @Failure      409  {object}  types.MessageResponse
// @Router       /modelstatus [get]
func (s *server) modelStatus(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, s.svc.ModelStatus(r.Context()))
}

// listModels godoc
// @Summary      List loaded models
// @Description  Returns the loaded model in OpenAI list form, or an empty list.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelList
// @Router       /v1/models [get]
// @Router       /models [get]
func (s *server) listModels(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, s.svc.ListModels(r.Context()))
}

// availableModels godoc
// @Summary      List models on disk
// @Description  Returns the models discovered in the configured models directory.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models/available [get]
func (s *server) availableModels(w http.ResponseWriter, r *http.Request) {
	models := s.catalog
	if models == nil {
		models = []types.Model{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: models}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// embeddings godoc
// @Summary      Create embeddings
// @Description  Not supported by this engine; always answers 409.
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request  body      types.EmbeddingRequest  true  "Embedding request"
// @Failure      409      {object}  types.MessageResponse
// @Router       /v1/embeddings [post]
func (s *server) embeddings(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeEnvelope(w, s.svc.Embedding(r.Context(), req))
}

// chatCompletions godoc
// @Summary      Create a chat completion
// @Description  OpenAI-compatible chat completion. With stream=true the response is a text/event-stream of chat.completion.chunk objects ending in [DONE].
// @Tags         inference
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        request  body      types.ChatCompletionRequest  true  "Chat request"
// @Success      200      {object}  types.ChatCompletion
// @Failure      400      {object}  types.ErrorResponse
// @Failure      409      {object}  types.MessageResponse
// @Failure      500      {object}  types.MessageResponse
// @Failure      503      {object}  types.MessageResponse
// @Router       /v1/chat/completions [post]
func (s *server) chatCompletions(w http.ResponseWriter, r *http.Request) {
	lvl := requestLogLevel(r)
	var req types.ChatCompletionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := completionContext(r)
	defer cancel()

	start := time.Now()
	logRequest(r, lvl, "chat start", map[string]any{"stream": req.Stream, "messages": len(req.Messages)}, nil)
	ch := s.svc.ChatCompletion(ctx, req)
	if req.Stream {
		out := io.Writer(w)
		if lvl >= LevelDebug {
			out = io.MultiWriter(w, &loggingLineWriter{rid: middleware.GetReqID(r.Context())})
		}
		outcome := streamEnvelopes(ctx, w, out, ch)
		logRequest(r, lvl, "chat end", map[string]any{"stream": true, "outcome": outcome, "dur": time.Since(start).String()}, nil)
		return
	}

	select {
	case env, ok := <-ch:
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "completion ended without a result")
			return
		}
		writeEnvelope(w, env)
		logRequest(r, lvl, "chat end", map[string]any{"stream": false, "status": env.Status.StatusCode, "dur": time.Since(start).String()}, nil)
	case <-ctx.Done():
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		writeJSONError(w, http.StatusGatewayTimeout, "completion timed out")
	}
}
