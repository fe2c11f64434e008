package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// config holds the options shared by the telemetry decorators.
type config struct {
	// Attributes holds static attributes added to every span created by the
	// decorator.
	Attributes []attribute.KeyValue

	// GetAttributes is an optional function that extracts extra attributes
	// from the context at span start.
	GetAttributes func(ctx context.Context) []attribute.KeyValue
}

// Option configures a telemetry decorator.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithAttributes sets static attributes for the spans created by a decorator.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.Attributes = attrs
	})
}

// WithAttributeGetter extracts additional attributes from the context.
func WithAttributeGetter(fn func(ctx context.Context) []attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.GetAttributes = fn
	})
}
