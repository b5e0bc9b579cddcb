// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

// Package periodic re-enqueues every KafkaRebalance resource on a fixed
// interval. Sessions outstanding at Cruise Control are polled on these ticks
// instead of being waited on in-process, so a pending proposal survives
// operator restarts.
package periodic

import (
	"context"
	"errors"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/log"

	kafkav1alpha1 "github.com/streamhub/rebalance-operator/api/v1alpha1"
)

type Runner struct {
	client       client.Client
	interval     time.Duration
	eventChannel chan event.GenericEvent
}

type Option func(c *Runner) error

func NewRunner(opts ...Option) (*Runner, error) {
	r := &Runner{}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.client == nil {
		return nil, errors.New("client is required")
	}
	if r.interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if r.eventChannel == nil {
		return nil, errors.New("event channel is required")
	}

	return r, nil
}

func WithClient(c client.Client) Option {
	opt := func(r *Runner) error {
		r.client = c
		return nil
	}

	return opt
}

// WithInterval configures the [Runner] with the given tick interval.
func WithInterval(interval time.Duration) Option {
	opt := func(r *Runner) error {
		r.interval = interval
		return nil
	}

	return opt
}

func WithEventChannel(channel chan event.GenericEvent) Option {
	opt := func(r *Runner) error {
		r.eventChannel = channel
		return nil
	}

	return opt
}

// Start ticks until the context is cancelled, emitting one generic event per
// KafkaRebalance per tick. It implements manager.Runnable.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.eventChannel)

	for {
		select {
		case <-ticker.C:
			r.emitEvents(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Runner) emitEvents(ctx context.Context) {
	logger := log.FromContext(ctx)

	rebalanceList := &kafkav1alpha1.KafkaRebalanceList{}
	if err := r.client.List(ctx, rebalanceList); err != nil {
		logger.Error(err, "unable to list KafkaRebalance resources")
		return
	}

	for i := range rebalanceList.Items {
		select {
		case r.eventChannel <- event.GenericEvent{Object: &rebalanceList.Items[i]}:
		case <-ctx.Done():
			return
		}
	}
}
