package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/promptmart/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "promptmart/http"

// routeParamAttributes maps path parameters to span attributes.
var routeParamAttributes = map[string]attribute.Key{
	"owner_id": "marketplace.owner_id",
	"id":       "marketplace.resource_id",
	"provider": "payment.provider",
}

// GinMiddleware starts a server span per request. Probe routes are not traced.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isUntraced(c.Request.URL.Path) {
			c.Next()
			return
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.Tracer(tracerName).Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestIDBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Bool("marketplace.idempotent", strings.TrimSpace(c.GetHeader("Idempotency-Key")) != ""),
		}
		for _, param := range c.Params {
			if key, ok := routeParamAttributes[param.Key]; ok {
				attrs = append(attrs, key.String(param.Value))
			}
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		lastErr := c.Errors.Last()
		switch {
		case status >= http.StatusInternalServerError:
			if lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		case status >= http.StatusBadRequest && lastErr != nil:
			span.AddEvent("request.rejected", trace.WithAttributes(attribute.String("error", SafeError(lastErr.Err).Error())))
		}
	}
}

func isUntraced(path string) bool {
	return path == "/health" || path == "/metrics"
}

func withRequestIDBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
