// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package controller

import "time"

// RateLimiter bundles the workqueue rate limiter settings for the rebalance
// controller: a token bucket for the overall reconcile frequency plus an
// exponential backoff for failing items.
type RateLimiter struct {
	Burst           int
	Frequency       int
	BaseDelay       time.Duration
	FailureMaxDelay time.Duration
}
