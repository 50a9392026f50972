package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// HTTPObs instruments HTTP handlers with metrics.
type HTTPObs struct {
	Metrics *HTTPMetrics
}

// Middleware counts requests and observes their latency once the handler
// chain has finished, so the labels reflect the resolved route and the
// authenticated branch.
func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	if o.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, principal := common.TrackPrincipal(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		o.Metrics.InFlight.Inc()
		start := time.Now()
		defer func() {
			o.Metrics.InFlight.Dec()
			route := routeOf(r, "unknown")
			o.Metrics.ReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(statusOf(ww)), branchLabel(principal())).Inc()
			o.Metrics.ReqDur.WithLabelValues(r.Method, route).Observe(DurationMillis(time.Since(start)))
		}()
		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

// TracingMiddleware opens a server span per request through otelhttp and
// renames it after the route once chi has matched one. Probe and scrape
// endpoints are not traced.
func TracingMiddleware(next http.Handler) http.Handler {
	named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, principal := common.TrackPrincipal(r.Context())
		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(ctx)
		if route := RoutePatternFromContext(ctx); route != "" {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		if p := principal(); p != nil {
			span.SetAttributes(
				attribute.String("enduser.role", p.Role),
				attribute.String("pos.branch_id", p.BranchID),
			)
		}
	})
	return otelhttp.NewHandler(named, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && !strings.HasPrefix(r.URL.Path, "/health/")
		}),
	)
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

func branchLabel(p *common.Principal) string {
	switch {
	case p == nil:
		return "public"
	case p.BranchID == "":
		return "all"
	default:
		return p.BranchID
	}
}
