package routers

import (
	"forkwatch/handlers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all the HTTP routes of the fork monitor
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Status, version and last tips of every polled node
	r.HandleFunc("/api/nodes", h.GetNodes).Methods("GET")

	// Highest headers in the tree, optionally limited with ?limit=N
	r.HandleFunc("/api/headers", h.GetHeaders).Methods("GET")

	// A single header by hash
	r.HandleFunc("/api/headers/{hash}", h.GetHeader).Methods("GET")

	// Headers with more than one child
	r.HandleFunc("/api/forks", h.GetForks).Methods("GET")

	// Last header of every branch in the tree
	r.HandleFunc("/api/leaves", h.GetLeaves).Methods("GET")

	// Tips of all nodes grouped by hash
	r.HandleFunc("/api/tips", h.GetTips).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
