package httpapi

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger logs method, path and duration for every request; the response
// status is not logged.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.RequestURI,
			"duration": time.Since(start),
		}).Info("httpapi request")
	})
}
