package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/pipeline"
	"github.com/bluenviron/mp4pipe/internal/websocket"
)

type wsWriter struct {
	c *websocket.ServerConn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	err := w.c.WriteMessage(websocket.MessageBinary, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// onExportWS receives the source file as binary messages followed by the text message "end",
// then sends the exported file, one serialized chunk per message.
func (a *API) onExportWS(ctx *gin.Context) {
	c, err := websocket.NewServerConn(ctx.Writer, ctx.Request)
	if err != nil {
		return
	}
	defer c.Close()

	p, l := a.newSession()

	l.Log(logger.Info, "started by %v", c.RemoteAddr())

	n, err := a.exportWS(ctx, c, p)
	if err != nil {
		l.Log(logger.Warn, "%v", err)
		c.WriteMessage(websocket.MessageText, []byte("error: "+err.Error())) //nolint:errcheck
		return
	}

	p.OnExportComplete("", a.ExportName, n)
}

func (a *API) exportWS(ctx *gin.Context, c *websocket.ServerConn, p *pipeline.Pipeline) (int64, error) {
	w, err := p.NewLoadWriter(ctx.Request.Context())
	if err != nil {
		return 0, err
	}

	err = readUntilEnd(c, w)
	if err != nil {
		w.Close() //nolint:errcheck
		return 0, err
	}

	err = w.Close()
	if err != nil {
		return 0, err
	}

	return p.Export(ctx.Request.Context(), &wsWriter{c: c})
}

func readUntilEnd(c *websocket.ServerConn, w interface{ Write([]byte) (int, error) }) error {
	for {
		typ, byts, err := c.ReadMessage()
		if err != nil {
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			_, err = w.Write(byts)
			if err != nil {
				return err
			}

		case websocket.MessageText:
			if string(byts) == "end" {
				return nil
			}
			return fmt.Errorf("unexpected message: %s", byts)
		}
	}
}
