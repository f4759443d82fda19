package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"registry-service/internal/core"
)

// TracerName is the instrumentation scope of service spans.
const TracerName = "registry-service/service"

const (
	AttrCountry   = attribute.Key("company.country")
	AttrCompanyID = attribute.Key("company.id")
	AttrErrorKind = attribute.Key("error.kind")
)

// startSpan returns a no-op span from ctx when no tracer is configured.
func (s *CompanyService) startSpan(ctx context.Context, name, country, companyID string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		AttrCountry.String(country),
		AttrCompanyID.String(companyID),
	))
}

// recordError keeps upstream and SQL details out of the span status; they
// are still available on the recorded event.
func recordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(AttrErrorKind.String(core.KindOf(err).String()))
	span.SetStatus(codes.Error, "lookup failed")
}
