// Package api contains the HTTP API.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bluenviron/mp4pipe/internal/httpserv"
	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/pipeline"
)

type sessionLogger struct {
	id     string
	parent logger.Writer
}

func (l *sessionLogger) Log(level logger.Level, format string, args ...any) {
	l.parent.Log(level, "[export "+l.id+"] "+format, args...)
}

// API is the HTTP API.
type API struct {
	Address     string
	ReadTimeout time.Duration
	PPROF       bool
	ExportName  string
	NewPipeline func(parent logger.Writer) *pipeline.Pipeline
	Parent      logger.Writer

	httpServer *httpserv.WrappedServer
}

// Initialize initializes API.
func (a *API) Initialize() error {
	router := gin.New()
	router.Use(httpserv.MiddlewareServerHeader)
	router.Use(httpserv.MiddlewareLogger(a))

	group := router.Group("/v1")

	group.POST("/export", a.onExport)
	group.GET("/export/ws", a.onExportWS)

	if a.PPROF {
		pprof.Register(router)
	}

	a.httpServer = &httpserv.WrappedServer{
		Address:     a.Address,
		ReadTimeout: a.ReadTimeout,
		Handler:     router,
		Parent:      a,
	}
	err := a.httpServer.Initialize()
	if err != nil {
		return err
	}

	a.Log(logger.Info, "listener opened on "+a.httpServer.Addr().String())

	return nil
}

// Close closes API.
func (a *API) Close() {
	a.Log(logger.Info, "listener is closing")
	a.httpServer.Close()
}

// Log implements logger.Writer.
func (a *API) Log(level logger.Level, format string, args ...any) {
	a.Parent.Log(level, "[API] "+format, args...)
}

func (a *API) newSession() (*pipeline.Pipeline, *sessionLogger) {
	l := &sessionLogger{
		id:     uuid.New().String()[:8],
		parent: a,
	}
	return a.NewPipeline(l), l
}

func (a *API) writeError(ctx *gin.Context, status int, err error) {
	ctx.JSON(status, gin.H{"error": err.Error()})
}

func errorStatus(err error) int {
	if errors.Is(err, pipeline.ErrUnsupportedCodec) || errors.Is(err, pipeline.ErrNotLoaded) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

type flushWriter struct {
	w gin.ResponseWriter
}

func (w *flushWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		return n, err
	}
	w.w.Flush()
	return n, nil
}

func (a *API) onExport(ctx *gin.Context) {
	p, l := a.newSession()

	l.Log(logger.Info, "started by %s", ctx.ClientIP())

	err := p.Load(ctx.Request.Context(), ctx.Request.Body)
	if err != nil {
		l.Log(logger.Warn, "unable to load: %v", err)
		a.writeError(ctx, errorStatus(err), err)
		return
	}

	ctx.Header("Content-Type", "video/mp4")
	ctx.Header("Content-Disposition", `attachment; filename="`+a.ExportName+`"`)
	ctx.Status(http.StatusOK)

	n, err := p.Export(ctx.Request.Context(), &flushWriter{w: ctx.Writer})
	if err != nil {
		// headers are already sent, the response is truncated
		l.Log(logger.Warn, "export interrupted: %v", err)
		return
	}

	p.OnExportComplete("", a.ExportName, n)
}
