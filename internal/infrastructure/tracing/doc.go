/*
Package tracing provides lightweight request tracing.

Every provider request and every HTTP request gets a span. Spans carry a
trace id, an optional parent and free-form tags, and are logged through
zap by a background collector once finished. Trace context travels in
context.Context and, over HTTP, in the X-Trace-ID and X-Span-ID headers.

	tracer := tracing.New("smartcard-connector", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "establishContext")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
