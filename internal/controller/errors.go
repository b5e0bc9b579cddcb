// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package controller

// NoSuchResourceError reports that the KafkaCluster a rebalance is bound to
// does not exist.
type NoSuchResourceError struct {
	Message string
}

func (e *NoSuchResourceError) Error() string {
	return e.Message
}

func (e *NoSuchResourceError) Reason() string {
	return "NoSuchResourceException"
}

// InvalidResourceError reports a precondition failure in the rebalance spec
// or in the referenced cluster definition. It recurs identically until the
// user fixes the resource.
type InvalidResourceError struct {
	Message string
}

func (e *InvalidResourceError) Error() string {
	return e.Message
}

func (e *InvalidResourceError) Reason() string {
	return "InvalidResourceException"
}

// reasoner is implemented by every error in the closed taxonomy, both the
// local validation errors above and the engine errors from the
// cruisecontrol package. The reason becomes the status condition's reason.
type reasoner interface {
	error
	Reason() string
}
