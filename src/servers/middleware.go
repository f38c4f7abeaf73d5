package servers

import (
	"net"
	"net/http"

	applog "github.com/schemaflow/schemaflow/src/log"
)

func log(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applog.GetLogger().WithFields(map[string]any{
			"Method":     r.Method,
			"Path":       r.RequestURI,
			"RemoteAddr": r.RemoteAddr,
		}).Debug("Http Request")
		handler.ServeHTTP(w, r)
	})
}

func newListener(bind string) (net.Listener, error) {
	return net.Listen("tcp", bind)
}
