package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"api-gateway/internal/route"
)

const tracerName = "api-gateway/http"

// Tracing returns an Echo middleware that continues any incoming W3C trace
// and wraps the request in a server span. Liveness probes are not traced.
// The propagator is read per request, so the middleware can be installed
// before tracing starts.
func Tracing(tp trace.TracerProvider, table *route.Table) echo.MiddlewareFunc {
	tracer := tp.Tracer(tracerName)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			kind := table.Classify(req.URL.Path)
			if kind == route.KindLiveness {
				return next(c)
			}

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tracer.Start(ctx, req.Method+" "+routeLabel(kind),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.path", req.URL.Path),
					attribute.String("client.address", c.RealIP()),
				),
			)
			defer span.End()

			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			if err != nil {
				span.RecordError(err)
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, strconv.Itoa(status))
			}

			return err
		}
	}
}
