package middleware

import (
	"strconv"

	"cuisine/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware starts a server span per request, continuing any trace
// propagated by the caller. Spans are renamed to the matched route once
// routing is done so that /posts/17 and /posts/18 share a name.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Method()),
			attribute.String("http.target", c.OriginalURL()),
			attribute.String("http.client_ip", c.IP()),
		}
		if c.Query("lat") != "" && c.Query("lng") != "" {
			attrs = append(attrs, attribute.Bool("cuisine.viewer_located", true))
		}

		ctx, span := observability.Tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Locals("traceID", traceID)
		c.Set("X-Trace-ID", traceID)
		c.SetUserContext(ctx)

		err := c.Next()

		if route := c.Route(); route != nil && route.Path != "" {
			span.SetName(c.Method() + " " + route.Path)
			span.SetAttributes(attribute.String("http.route", route.Path))
		}
		if rid, ok := c.Locals("requestid").(string); ok {
			span.SetAttributes(attribute.String("request.id", rid))
		}
		if uid := SessionFrom(c).UserID; uid != 0 {
			span.SetAttributes(attribute.String("user.id", strconv.FormatUint(uint64(uid), 10)))
		}

		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case status >= fiber.StatusInternalServerError:
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}

		return err
	}
}
