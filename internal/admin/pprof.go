package admin

import (
	"net/http"
	netpprof "net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// handlePprof routes /debug/pprof/<name> to the runtime profile handlers.
// Named profiles (heap, goroutine, block, mutex, ...) and the index are
// served by Index.
func handlePprof(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("name") {
	case "/cmdline":
		netpprof.Cmdline(w, r)
	case "/profile":
		netpprof.Profile(w, r)
	case "/symbol":
		netpprof.Symbol(w, r)
	case "/trace":
		netpprof.Trace(w, r)
	default:
		netpprof.Index(w, r)
	}
}
