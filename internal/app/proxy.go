package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
)

// upstreamProxy forwards unmatched requests to target. Upstream connection
// errors answer 502 so the capture middleware records them.
func upstreamProxy(target string, logger *slog.Logger) (gin.HandlerFunc, error) {
	if target == "" {
		return func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		}, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		origin := req.Host
		director(req)
		req.Header.Set("X-Forwarded-Host", origin)
		req.Host = u.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		logger.Warn("upstream request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}

	return func(c *gin.Context) {
		// ReverseProxy only uses CloseNotify when the request context has no
		// Done channel; gin's writer panics there unless the underlying writer
		// implements it.
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}, nil
}
