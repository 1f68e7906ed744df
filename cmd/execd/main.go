// Command execd is a thin, runnable demo of the execution core: it wires a
// gorm-backed persister/checkpoint store, the default FIFO scheduler, and
// the two demo actions Double and AlwaysFails (chosen by FQN in the submit
// handler), and exposes a minimal HTTP surface over it. The RPC layer itself is out of core scope
// (spec §1); this binary exists so the core has somewhere to run.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	core "github.com/coredb/execore/internal/jobs/core"
	"github.com/coredb/execore/internal/jobs/core/actions"
	"github.com/coredb/execore/internal/jobs/core/checkpoint"
	"github.com/coredb/execore/internal/jobs/core/observer"
	"github.com/coredb/execore/internal/jobs/core/persister"
	"github.com/coredb/execore/internal/jobs/core/scheduler"
	"github.com/coredb/execore/internal/observability"
	"github.com/coredb/execore/internal/platform/apierr"
	"github.com/coredb/execore/internal/platform/ctxutil"
	"github.com/coredb/execore/internal/platform/envutil"
	"github.com/coredb/execore/internal/platform/logger"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "prod"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "execore",
		Environment: envutil.String("ENVIRONMENT", "development"),
		Version:     envutil.String("VERSION", "dev"),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(shutdownCtx)
	}()

	db, err := openDB(log)
	if err != nil {
		log.Fatal("failed to open database", "error", err)
	}

	checkpoints := checkpoint.NewStore(db, actions.Double.FQN())

	var statusObserver core.StatusObserver = observer.Noop{}
	if addr := envutil.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		statusObserver = observer.NewRedis(rdb, log)
	}

	sched := scheduler.NewFIFOScheduler()
	executor := core.NewExecutor(sched, checkpoints, statusObserver, log, func() (core.Persister, error) {
		return persister.NewGormPersister(db), nil
	})
	core.SetDefault(executor)

	if err := executor.Start(ctx); err != nil {
		log.Fatal("failed to start executor", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    ":" + envutil.String("PORT", "8080"),
		Handler: newRouter(executor, log),
	}

	g.Go(func() error {
		log.Info("execd listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown error", "error", err)
		}
		if err := executor.Shutdown(); err != nil {
			log.Error("executor shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("execd exited with error", "error", err)
	}
}

func openDB(log *logger.Logger) (*gorm.DB, error) {
	dsn := envutil.String("POSTGRES_DSN", "")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
}

type submitRequest struct {
	Action string `json:"action" binding:"required"`
	Arg    int    `json:"arg"`
}

func newRouter(executor *core.Executor, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(traceMiddleware())

	r.POST("/procedures", func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErr(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
			return
		}

		var action core.Action
		switch req.Action {
		case actions.Double.FQN():
			action = actions.Double
		case actions.AlwaysFails.FQN():
			action = actions.AlwaysFails
		default:
			writeErr(c, apierr.New(http.StatusNotFound, "unknown_action", nil))
			return
		}

		td := ctxutil.GetTraceData(c.Request.Context())
		log.Info("submitting procedure", "action", req.Action, "request_id", td.RequestID)

		p, err := executor.Enqueue(c.Request.Context(), false, core.ActionSpec{
			Action:      action,
			Description: "submitted via execd",
			Args:        []any{req.Arg},
		})
		if err != nil {
			writeErr(c, mapExecErr(err))
			return
		}
		c.Header("X-Request-Id", td.RequestID)
		c.JSON(http.StatusAccepted, gin.H{"procedure_id": p.ID()})
	})

	r.GET("/procedures/:id", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			writeErr(c, apierr.New(http.StatusBadRequest, "invalid_id", err))
			return
		}
		p, ok := executor.GetProcedure(id)
		if !ok {
			writeErr(c, apierr.New(http.StatusNotFound, "not_found", nil))
			return
		}
		if !p.Complete() {
			c.JSON(http.StatusOK, gin.H{"procedure_id": p.ID(), "complete": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"procedure_id": p.ID(),
			"complete":     true,
			"result":       p.Result(),
			"status":       p.Status(),
		})
	})

	r.POST("/procedures/:id/wait", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			writeErr(c, apierr.New(http.StatusBadRequest, "invalid_id", err))
			return
		}
		p, ok := executor.GetProcedure(id)
		if !ok {
			writeErr(c, apierr.New(http.StatusNotFound, "not_found", nil))
			return
		}
		if err := executor.WaitForProcedure(c.Request.Context(), p); err != nil {
			writeErr(c, mapExecErr(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"procedure_id": p.ID(),
			"result":       p.Result(),
			"status":       p.Status(),
		})
	})

	return r
}

// traceMiddleware stamps each request with a TraceData carrying the
// caller-supplied request ID (or a generated one) and the active span's
// trace ID, the way the teacher's request middleware makes both available
// to handlers and log lines without threading them as extra parameters.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		td := &ctxutil.TraceData{
			RequestID: reqID,
			TraceID:   trace.SpanContextFromContext(c.Request.Context()).TraceID().String(),
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Next()
	}
}

func writeErr(c *gin.Context, e *apierr.Error) {
	c.JSON(e.Status, gin.H{"code": e.Code, "error": e.Error()})
}

func mapExecErr(err error) *apierr.Error {
	switch {
	case core.IsKind(err, core.KindExecutorNotRunning):
		return apierr.New(http.StatusServiceUnavailable, "executor_not_running", err)
	case core.IsKind(err, core.KindExecutorAlreadyRunning):
		return apierr.New(http.StatusConflict, "executor_already_running", err)
	case core.IsKind(err, core.KindProgrammingError):
		return apierr.New(http.StatusBadRequest, "programming_error", err)
	case core.IsKind(err, core.KindNotCallable):
		return apierr.New(http.StatusBadRequest, "not_callable", err)
	default:
		return apierr.New(http.StatusInternalServerError, "internal_error", err)
	}
}
