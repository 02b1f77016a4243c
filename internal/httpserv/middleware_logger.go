package httpserv

import (
	"net/http/httputil"

	"code.cloudfoundry.org/bytefmt"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mp4pipe/internal/logger"
)

type countingWriter struct {
	gin.ResponseWriter
	n uint64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.n += uint64(n)
	return n, err
}

func (w *countingWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.n += uint64(n)
	return n, err
}

// MiddlewareLogger is a middleware that logs requests and responses.
// Bodies are not dumped, since they contain media.
func MiddlewareLogger(p logger.Writer) func(*gin.Context) {
	return func(ctx *gin.Context) {
		p.Log(logger.Debug, "[conn %v] %s %s", ctx.Request.RemoteAddr, ctx.Request.Method, ctx.Request.URL.Path)

		byts, _ := httputil.DumpRequest(ctx.Request, false)
		p.Log(logger.Debug, "[conn %v] [c->s] %s", ctx.Request.RemoteAddr, string(byts))

		cw := &countingWriter{ResponseWriter: ctx.Writer}
		ctx.Writer = cw

		ctx.Next()

		p.Log(logger.Debug, "[conn %v] [s->c] %d, body of %s", ctx.Request.RemoteAddr,
			cw.Status(), bytefmt.ByteSize(cw.n))
	}
}
