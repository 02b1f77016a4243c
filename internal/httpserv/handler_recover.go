package httpserv

import (
	"net/http"
	"runtime"

	"github.com/bluenviron/mp4pipe/internal/logger"
)

// a panic inside an export must not take down the other sessions.
type handlerRecover struct {
	http.Handler
	parent logger.Writer
}

func (h *handlerRecover) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		err := recover()
		if err != nil {
			if err == http.ErrAbortHandler { //nolint:errorlint
				panic(err)
			}

			buf := make([]byte, 1<<16)
			n := runtime.Stack(buf, false)
			h.parent.Log(logger.Error, "panic in handler of %s: %v\n%s", r.URL.Path, err, buf[:n])
			w.WriteHeader(http.StatusInternalServerError)
		}
	}()
	h.Handler.ServeHTTP(w, r)
}
