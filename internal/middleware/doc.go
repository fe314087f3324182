// Package middleware wraps the status server's handlers with request
// logging and request metrics.
//
// Both are plain func(http.Handler) http.Handler values and can be passed
// to a gorilla/mux router's Use method:
//
//	r := mux.NewRouter()
//	r.Use(middleware.Metrics(m), middleware.Logger(log))
package middleware
