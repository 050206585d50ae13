package commands

import (
	"net/http"
	"time"
)

// newHTTPServer builds the admin http.Server with the same conservative
// timeouts the rest of this module applies to network-facing listeners.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
