// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shelfhost/shelf/pkg/errutil"
)

// Linker calls into extensions known only by id. It is how an extension
// integrates with a soft dependency without referencing it at compile time.
type Linker struct {
	host *Host
}

// Available reports whether target is enabled.
func (l *Linker) Available(target string) bool {
	return l.host.IsEnabled(target)
}

// Invoke calls operation op exported by target.
//
// When target is not enabled Invoke returns ok == false and a nil error: the
// optional feature is simply absent. When target is enabled, its entry point
// is resolved through its own scope and op is looked up and called; any
// failure on that path is an integration bug and comes back as an error
// coded CodeIntegrationFailed, with ok == true.
func (l *Linker) Invoke(ctx context.Context, target, op string, args ...any) (result any, ok bool, err error) {
	rec, enabled := l.host.Record(target)
	if !enabled {
		l.host.metrics.invocation(target, OutcomeNotAvailable)
		return nil, false, nil
	}

	ctx, span := l.host.tracer.Start(ctx, "extension.invoke",
		trace.WithAttributes(
			attribute.String("extension.target", rec.Descriptor.ID),
			attribute.String("extension.operation", op),
		))
	defer span.End()

	result, err = l.call(ctx, rec, op, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "integration failed")
		l.host.metrics.invocation(target, OutcomeFailed)
		errutil.LogError(l.host.logger, "extension integration failed", err)
		return nil, true, err
	}
	l.host.metrics.invocation(target, OutcomeOK)
	return result, true, nil
}

func (l *Linker) call(ctx context.Context, rec *Record, op string, args []any) (any, error) {
	id := rec.Descriptor.ID
	if _, ok := rec.Scope.Locate(rec.Descriptor.Entry); !ok {
		return nil, integrationError(id, op).Errorf("entry point %q of %s cannot be resolved", rec.Descriptor.Entry, id)
	}

	fn, ok := rec.Instance.Operation(op)
	if !ok {
		return nil, integrationError(id, op).Errorf("%s does not export operation %q", id, op)
	}

	var result any
	err := guard(id, op, func() error {
		var err error
		result, err = fn(ctx, args...)
		return err
	})
	if err != nil {
		return nil, integrationError(id, op).Wrapf(err, "call %s.%s", id, op)
	}
	return result, nil
}
