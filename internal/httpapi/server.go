package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/texican/chess-tracker/internal/metrics"
	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/service/sessions"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const maxBodySize = 64 * 1024

// Server exposes the session engine over HTTP.
type Server struct {
	svc     *sessions.Service
	metrics fasthttp.RequestHandler
	srv     *fasthttp.Server
}

type Option func(*Server)

// WithMetrics serves the registry of m on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m == nil {
			return
		}
		s.metrics = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
}

func New(svc *sessions.Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Handler:            s.logRequests(s.route),
		Name:               "chess-tracker",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       30 * time.Second,
		MaxRequestBodySize: maxBodySize,
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() fasthttp.RequestHandler { return s.srv.Handler }

func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

// Shutdown stops accepting connections and waits for open requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

func (s *Server) logRequests(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		obslog.L().Debug("http_request",
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	parts := strings.Split(strings.Trim(string(ctx.Path()), "/"), "/")
	method := string(ctx.Method())

	switch {
	case len(parts) == 1 && parts[0] == "healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case len(parts) == 1 && parts[0] == "metrics" && s.metrics != nil:
		s.metrics(ctx)
	case len(parts) < 2 || parts[0] != "api":
		writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
	case parts[1] == "matches":
		s.routeMatches(ctx, method, parts[2:])
	case parts[1] == "sessions":
		s.routeSessions(ctx, method, parts[2:])
	default:
		writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
	}
}

func (s *Server) routeMatches(ctx *fasthttp.RequestCtx, method string, rest []string) {
	if len(rest) == 0 {
		if method != fasthttp.MethodPost {
			methodNotAllowed(ctx)
			return
		}
		s.submitMatch(ctx)
		return
	}
	if len(rest) != 1 {
		writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
		return
	}
	row, err := strconv.Atoi(rest[0])
	if err != nil || row < 1 {
		writeError(ctx, fasthttp.StatusBadRequest, errors.New("row must be a positive integer"))
		return
	}
	switch method {
	case fasthttp.MethodDelete:
		s.deleteMatch(ctx, row)
	case fasthttp.MethodPut:
		s.updateMatch(ctx, row)
	default:
		methodNotAllowed(ctx)
	}
}

func (s *Server) routeSessions(ctx *fasthttp.RequestCtx, method string, rest []string) {
	switch {
	case len(rest) == 0 && method == fasthttp.MethodGet:
		s.listSessions(ctx)
	case len(rest) == 1 && rest[0] == "recompute" && method == fasthttp.MethodPost:
		writeJSON(ctx, fasthttp.StatusOK, bulkView(s.svc.RecomputeAll(ctx)))
	case len(rest) == 2 && rest[1] == "players" && method == fasthttp.MethodGet:
		s.listPlayers(ctx, rest[0])
	case len(rest) == 2 && rest[1] == "recompute" && method == fasthttp.MethodPost:
		writeJSON(ctx, fasthttp.StatusOK, reconcileView(s.svc.RecomputeSessionStats(ctx, rest[0])))
	case len(rest) == 0,
		len(rest) == 1 && rest[0] == "recompute",
		len(rest) == 2 && (rest[1] == "players" || rest[1] == "recompute"):
		methodNotAllowed(ctx)
	default:
		writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
	}
}

func (s *Server) decodeInput(ctx *fasthttp.RequestCtx) (sessions.MatchInput, bool) {
	var in sessions.MatchInput
	if err := json.Unmarshal(ctx.PostBody(), &in); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, errors.New("invalid JSON body"))
		return in, false
	}
	return in, true
}

func (s *Server) submitMatch(ctx *fasthttp.RequestCtx) {
	in, ok := s.decodeInput(ctx)
	if !ok {
		return
	}
	res, err := s.svc.SubmitMatch(ctx, in)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, submitView(res))
}

func (s *Server) deleteMatch(ctx *fasthttp.RequestCtx, row int) {
	res, err := s.svc.DeleteMatch(ctx, row)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, reconcileView(*res))
}

func (s *Server) updateMatch(ctx *fasthttp.RequestCtx, row int) {
	in, ok := s.decodeInput(ctx)
	if !ok {
		return
	}
	results, err := s.svc.UpdateMatch(ctx, row, in)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	out := make([]ReconcileView, 0, len(results))
	for _, r := range results {
		out = append(out, reconcileView(r))
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) listSessions(ctx *fasthttp.RequestCtx) {
	list, err := s.svc.Sessions(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	out := make([]SessionView, 0, len(list))
	for _, v := range list {
		out = append(out, sessionView(v))
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) listPlayers(ctx *fasthttp.RequestCtx, sessionID string) {
	list, err := s.svc.SessionPlayers(ctx, sessionID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	out := make([]PlayerView, 0, len(list))
	for _, p := range list {
		out = append(out, playerView(p))
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func writeServiceError(ctx *fasthttp.RequestCtx, err error) {
	var verr *sessions.ValidationError
	switch {
	case errors.As(err, &verr):
		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		_ = json.NewEncoder(ctx).Encode(errorView{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, sessions.ErrMatchNotFound):
		writeError(ctx, fasthttp.StatusNotFound, err)
	default:
		obslog.L().Error("http_handler_error", zap.ByteString("path", ctx.Path()), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, err)
	}
}

func methodNotAllowed(ctx *fasthttp.RequestCtx) {
	writeError(ctx, fasthttp.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(ctx *fasthttp.RequestCtx, status int, err error) {
	writeJSON(ctx, status, errorView{Error: err.Error()})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		obslog.L().Warn("http_encode_error", zap.Error(err))
	}
}
