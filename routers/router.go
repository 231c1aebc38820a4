package routers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"StoryReel-server/routers/api"
)

// HTTPMetrics records one served request.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, status int, d time.Duration)
}

// Options configure the router. A nil Gatherer disables the metrics route.
type Options struct {
	Metrics     HTTPMetrics
	Gatherer    prometheus.Gatherer
	MetricsPath string
}

func InitRouter(h *api.Handler, opts Options) *gin.Engine {
	r := gin.Default()
	if opts.Metrics != nil {
		r.Use(metricsMiddleware(opts.Metrics))
	}

	v1 := r.Group("/v1/api")
	{
		v1.POST("/storyboards", h.CreateStoryboard)
		v1.GET("/storyboards/:id", h.GetStoryboard)
		v1.POST("/storyboards/:id/advance", h.Advance)
		v1.POST("/storyboards/:id/scenes/:number/regenerate", h.Regenerate)
		v1.POST("/storyboards/:id/finalize", h.Finalize)
		v1.POST("/estimate", h.Estimate)
		v1.GET("/tasks/:id", h.GetTask)
	}
	r.GET("/storyboards/:id/wss", h.ProgressWebSocket)

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func metricsMiddleware(m HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
