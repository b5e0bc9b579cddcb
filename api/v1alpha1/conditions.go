// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// State is the rebalance state machine position, carried as the type of the
// state condition in status.
type State string

const (
	// StateNew means no proposal has been requested yet.
	StateNew State = "New"
	// StatePendingProposal means a proposal was requested and the engine is
	// still computing it.
	StatePendingProposal State = "PendingProposal"
	// StateProposalReady means a proposal is computed and awaiting approval.
	StateProposalReady State = "ProposalReady"
	// StateRebalancing means the engine is executing the approved proposal.
	StateRebalancing State = "Rebalancing"
	// StateReady means the execution completed successfully.
	StateReady State = "Ready"
	// StateStopped means the user aborted a pending proposal or an execution.
	StateStopped State = "Stopped"
	// StateNotReady means the last attempted action failed; it is retried on
	// every reconcile.
	StateNotReady State = "NotReady"
	// StateReconciliationPaused means the user suspended processing.
	StateReconciliationPaused State = "ReconciliationPaused"
)

// Condition reasons surfaced to the user. The error-class names mirror the
// closed error taxonomy of the orchestrator.
const (
	ReasonNoSuchResource      = "NoSuchResourceException"
	ReasonInvalidResource     = "InvalidResourceException"
	ReasonEngineRejected      = "CruiseControlRestException"
	ReasonEngineUnreachable   = "CruiseControlRetriableConnectionException"
	ReasonEngineTimeout       = "TimeoutException"
	ReasonUnknownFields       = "UnknownFields"
	ReasonReconciliationPause = "ReconciliationPaused"
)

var states = map[State]struct{}{
	StateNew:                  {},
	StatePendingProposal:      {},
	StateProposalReady:        {},
	StateRebalancing:          {},
	StateReady:                {},
	StateStopped:              {},
	StateNotReady:             {},
	StateReconciliationPaused: {},
}

// IsState reports whether the condition type names a rebalance state rather
// than an advisory condition.
func IsState(conditionType string) bool {
	_, ok := states[State(conditionType)]
	return ok
}

// NewStateCondition builds the single state condition for status. An empty
// reason is normalized to the state name, as metav1.Condition requires one.
func NewStateCondition(state State, reason, message string) metav1.Condition {
	if reason == "" {
		reason = string(state)
	}
	return metav1.Condition{
		Type:               string(state),
		Status:             metav1.ConditionTrue,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: metav1.Now(),
	}
}

// StateCondition returns the state condition from status, or nil when the
// resource has not been reconciled yet.
func (k *KafkaRebalance) StateCondition() *metav1.Condition {
	for i := range k.Status.Conditions {
		if IsState(k.Status.Conditions[i].Type) {
			return &k.Status.Conditions[i]
		}
	}
	return nil
}

// CurrentState returns the resource's state, defaulting to New for a
// resource whose status has never been written.
func (k *KafkaRebalance) CurrentState() State {
	if cond := k.StateCondition(); cond != nil {
		return State(cond.Type)
	}
	return StateNew
}
