// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

// ClusterLabel binds a KafkaRebalance to the KafkaCluster it operates on.
// The binding is immutable after creation.
const ClusterLabel = "kafka.streamhub.io/cluster"

// Annotation keys recognized on KafkaRebalance resources.
const (
	// RebalanceAnnotation carries the one-shot control signal
	// (approve, stop, refresh).
	RebalanceAnnotation = "kafka.streamhub.io/rebalance"
	// AutoApprovalAnnotation skips the manual approval gate. Read once when
	// the resource is first reconciled.
	AutoApprovalAnnotation = "kafka.streamhub.io/rebalance-auto-approval"
	// PauseReconciliationAnnotation suspends all processing of the resource.
	PauseReconciliationAnnotation = "kafka.streamhub.io/pause-reconciliation"
)

// RebalanceSignal is a parsed value of the rebalance annotation.
type RebalanceSignal string

const (
	SignalNone    RebalanceSignal = ""
	SignalApprove RebalanceSignal = "approve"
	SignalStop    RebalanceSignal = "stop"
	SignalRefresh RebalanceSignal = "refresh"
	// SignalUnknown stands for any unrecognized annotation value.
	SignalUnknown RebalanceSignal = "unknown"
)

// Signal returns the pending control signal. A value equal to the last
// consumed one recorded in status is reported as SignalNone: the annotation
// is a one-shot trigger, consumed at most once per distinct value.
func (k *KafkaRebalance) Signal() RebalanceSignal {
	raw := k.Annotations[RebalanceAnnotation]
	if raw == "" || raw == k.Status.HandledAnnotation {
		return SignalNone
	}
	switch RebalanceSignal(raw) {
	case SignalApprove, SignalStop, SignalRefresh:
		return RebalanceSignal(raw)
	default:
		return SignalUnknown
	}
}

// RawSignal returns the annotation value as written by the user, ignoring
// the consumption marker.
func (k *KafkaRebalance) RawSignal() string {
	return k.Annotations[RebalanceAnnotation]
}

// AutoApprovalRequested reports the creation-time auto-approval annotation.
func (k *KafkaRebalance) AutoApprovalRequested() bool {
	return k.Annotations[AutoApprovalAnnotation] == "true"
}

// Paused reports whether reconciliation is suspended for the resource.
func (k *KafkaRebalance) Paused() bool {
	return k.Annotations[PauseReconciliationAnnotation] == "true"
}
