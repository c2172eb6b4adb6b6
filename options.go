// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package blocking

import "time"

// options holds configuration for an Executor.
type options struct {
	maxThreads     int
	idleTimeout    time.Duration
	logger         Logger
	name           string
	metricsEnabled bool
}

// Option configures an Executor.
type Option interface {
	applyExecutor(*options)
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*options)
}

func (o *optionImpl) applyExecutor(opts *options) {
	o.applyFunc(opts)
}

// WithMaxThreads overrides the maximum number of concurrently live
// worker goroutines (default DefaultMaxThreads).
func WithMaxThreads(n int) Option {
	return &optionImpl{func(opts *options) {
		opts.maxThreads = n
	}}
}

// WithIdleTimeout overrides how long an idle worker goroutine waits
// for new work before exiting (default DefaultIdleTimeout).
func WithIdleTimeout(d time.Duration) Option {
	return &optionImpl{func(opts *options) {
		opts.idleTimeout = d
	}}
}

// WithLogger attaches a Logger an Executor reports pool events to.
// Defaults to the package's global logger (see SetStructuredLogger).
func WithLogger(logger Logger) Option {
	return &optionImpl{func(opts *options) {
		opts.logger = logger
	}}
}

// WithName attaches a name to an Executor, included in its log
// entries; useful when a program runs more than one Executor.
func WithName(name string) Option {
	return &optionImpl{func(opts *options) {
		opts.name = name
	}}
}

// WithMetrics enables latency metrics collection on the Executor.
// When enabled, metrics can be read via Executor.Metrics(). This adds
// a small amount of overhead per Runnable (recording its duration);
// leave disabled (the default) for zero-overhead pools.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *options) {
		opts.metricsEnabled = enabled
	}}
}

// resolveOptions applies Option instances over the package defaults.
func resolveOptions(opts []Option) *options {
	cfg := &options{
		maxThreads:  DefaultMaxThreads,
		idleTimeout: DefaultIdleTimeout,
		logger:      getGlobalLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyExecutor(cfg)
	}
	return cfg
}
