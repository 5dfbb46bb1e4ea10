// Package api exposes the supervisor over HTTP. Requests and responses are
// JSON, errors are problem details and TaskInfo timestamps are epoch
// milliseconds.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/Overseer/internal/log"
	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/registry"
)

const shutdownTimeout = 5 * time.Second

// Supervisor is the part of *supervisor.Supervisor the server needs.
type Supervisor interface {
	Submit(ctx context.Context, spec model.TaskSpec) (string, error)
	Status(id string) (model.TaskInfo, error)
	List(f registry.Filter) []model.TaskInfo
	Cancel(ctx context.Context, id string) (model.TaskInfo, error)
}

type Option func(*Server)

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

type Server struct {
	app     *fiber.App
	sup     Supervisor
	metrics http.Handler
}

func New(sup Supervisor, opts ...Option) *Server {
	s := &Server{sup: sup}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "overseer",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          errorHandler,
		UnescapePath:          true,
	})

	s.app.Use(fiberrecover.New())
	s.app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	s.app.Use(accessLog)

	s.app.Get(HealthPath, s.health)
	if s.metrics != nil {
		s.app.Get(MetricsPath, adaptor.HTTPHandler(s.metrics))
	}

	tasks := s.app.Group(TasksPath)
	tasks.Post("", s.submit)
	tasks.Get("", s.list)
	tasks.Get("/:id", s.status)
	tasks.Post("/:id/cancel", s.cancel)
	return s
}

// App returns the underlying fiber app, useful for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Do listens on addr until ctx is done.
func (s *Server) Do(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts the server
// down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.InfoContext(ctx, "api listening", "addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok"})
}

func (s *Server) submit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		if !errors.Is(err, model.ErrInvalidSpec) {
			err = fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
		}
		return fmt.Errorf("decoding request: %w", err)
	}
	ctx := c.UserContext()
	if req.RequestID != "" {
		ctx = log.ContextAttrs(ctx, slog.String("submission_id", req.RequestID))
	}

	id, err := s.sup.Submit(ctx, req.Spec)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(SubmitResponse{TaskID: id})
}

func (s *Server) status(c *fiber.Ctx) error {
	info, err := s.sup.Status(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(InfoResponse{Info: info})
}

func (s *Server) list(c *fiber.Ctx) error {
	var f registry.Filter
	f.Slot = c.Query("slot")
	if raw := c.Query("status"); raw != "" {
		st, err := model.ParseStatus(raw)
		if err != nil {
			return err
		}
		f.Status = &st
	}
	if f.Slot != "" && f.Status != nil {
		return fmt.Errorf("%w: filter either by slot or by status", model.ErrInvalidArgument)
	}

	tasks := s.sup.List(f)
	if tasks == nil {
		tasks = []model.TaskInfo{}
	}
	return c.JSON(ListResponse{Tasks: tasks})
}

func (s *Server) cancel(c *fiber.Ctx) error {
	if _, err := s.sup.Cancel(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func errorHandler(c *fiber.Ctx, err error) error {
	p := ToProblem(err)
	p.RequestID = requestID(c)
	if p.Status >= fiber.StatusInternalServerError {
		slog.ErrorContext(c.UserContext(), "request failed", "error", err)
	}
	c.Set(fiber.HeaderContentType, ProblemContentType)
	b, mErr := json.Marshal(p)
	if mErr != nil {
		return mErr
	}
	return c.Status(p.Status).Send(b)
}

// accessLog stores the request id in the user context, so every log line
// of the request carries it.
func accessLog(c *fiber.Ctx) error {
	ctx := log.ContextAttrs(c.UserContext(), slog.String("request_id", requestID(c)))
	c.SetUserContext(ctx)

	start := time.Now()
	err := c.Next()
	if err != nil {
		// the error handler runs after us otherwise and the status would be wrong
		if hErr := c.App().ErrorHandler(c, err); hErr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}
	slog.DebugContext(ctx, "http request",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("status", c.Response().StatusCode()),
		slog.Duration("latency", time.Since(start)),
	)
	return nil
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		return id
	}
	return ""
}
