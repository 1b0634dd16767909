package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/config"
	"github.com/openkcm/session-gateway/internal/session"
)

var (
	counter     metric.Int64Counter
	hist        metric.Int64Histogram
	resolutions metric.Int64Counter
)

func initMeters(ctx context.Context, cfg *config.Config) error {
	meter := otel.Meter(
		"kms20/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	var err error

	counter, err = meter.Int64Counter(
		"http.request_count",
		metric.WithDescription("Incoming request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	hist, err = meter.Int64Histogram(
		"http.duration",
		metric.WithDescription("Incoming end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	resolutions, err = meter.Int64Counter(
		"session.resolutions",
		metric.WithDescription("Session cookie resolutions by outcome"),
		metric.WithUnit("resolution"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating session resolutions meter")
	}

	return nil
}

// newTraceMiddleware returns a constructor of per operation middlewares that
// attach a request id, start a span and record the request metrics.
func newTraceMiddleware(cfg *config.Config) func(operation string) func(http.Handler) http.Handler {
	return func(operation string) func(http.Handler) http.Handler {
		traceAttrs := otlp.CreateAttributesFrom(cfg.Application, attribute.String(commoncfg.AttrOperation, operation))
		tracer := otel.Tracer(operation, trace.WithInstrumentationAttributes(traceAttrs...))

		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := slogctx.With(r.Context(),
					commoncfg.AttrRequestID, uuid.NewString(),
					commoncfg.AttrOperation, operation,
				)

				parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

				ctx, span := tracer.Start(parentCtx, operation+"-span", trace.WithAttributes(traceAttrs...))
				defer span.End()

				ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
				requestStartTime := time.Now()

				defer func() {
					elapsedTime := time.Since(requestStartTime)

					attrs := metric.WithAttributes(
						otlp.CreateAttributesFrom(cfg.Application,
							attribute.String("userAgent", r.UserAgent()),
							attribute.String(commoncfg.AttrOperation, operation),
							attribute.String("status", strconv.Itoa(ww.Status())),
						)...,
					)

					counter.Add(ctx, 1, attrs)
					hist.Record(ctx, elapsedTime.Milliseconds(), attrs)
				}()

				slogctx.Info(ctx, fmt.Sprintf("Processing %s request", operation))
				next.ServeHTTP(ww, r.WithContext(ctx))
				slogctx.Info(ctx, fmt.Sprintf("Finished %s request", operation), "status", ww.Status())
			})
		}
	}
}

// observeResolution counts session resolutions by outcome.
func observeResolution(cfg *config.Config) session.Observer {
	return func(ctx context.Context, res session.Resolution) {
		if res.Status == session.Unauthenticated && res.Reason != nil {
			slogctx.Debug(ctx, "Request is unauthenticated", "reason", res.Reason)
		}

		resolutions.Add(ctx, 1, metric.WithAttributes(
			otlp.CreateAttributesFrom(cfg.Application,
				attribute.String("outcome", res.Status.String()),
			)...,
		))
	}
}
