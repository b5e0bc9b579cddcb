// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	kafkav1alpha1 "github.com/streamhub/rebalance-operator/api/v1alpha1"
	"github.com/streamhub/rebalance-operator/internal/cruisecontrol"
)

// Action is the single externally observable engine call a reconcile may
// perform.
type Action int

const (
	// ActionNone transitions without talking to the engine.
	ActionNone Action = iota
	// ActionRequestProposal asks the engine to compute a new proposal.
	ActionRequestProposal
	// ActionPollTask polls the state of the outstanding session.
	ActionPollTask
	// ActionRequestExecution asks the engine to execute the ready proposal.
	ActionRequestExecution
	// ActionStopExecution aborts the in-progress execution.
	ActionStopExecution
)

// Signals are the user-controlled inputs the classifier decides on, already
// reduced to their effective values (a consumed one-shot annotation reads as
// SignalNone).
type Signals struct {
	Signal       kafkav1alpha1.RebalanceSignal
	AutoApproval bool
}

// Decision is the classifier's verdict: which engine call to make, or which
// state to settle in when no call is due. ConsumeSignal marks that the
// one-shot annotation value has been acted on.
type Decision struct {
	Action        Action
	NextState     kafkav1alpha1.State
	ConsumeSignal bool
}

// Classify maps the current state and the pending user signals to the next
// action. It is a pure function: all I/O happens in the reconciler. The
// pause annotation is handled before classification and never reaches here.
func Classify(state kafkav1alpha1.State, signals Signals) Decision {
	switch state {
	case kafkav1alpha1.StateNew, kafkav1alpha1.StateNotReady, kafkav1alpha1.StateReconciliationPaused:
		// New and NotReady always retry the proposal request; a resumed
		// ReconciliationPaused resource re-enters the same path.
		return Decision{Action: ActionRequestProposal}

	case kafkav1alpha1.StatePendingProposal:
		if signals.Signal == kafkav1alpha1.SignalStop {
			// Nothing is executing yet; the pending session is discarded.
			return Decision{Action: ActionNone, NextState: kafkav1alpha1.StateStopped, ConsumeSignal: true}
		}
		return Decision{Action: ActionPollTask}

	case kafkav1alpha1.StateProposalReady:
		switch {
		case signals.Signal == kafkav1alpha1.SignalApprove:
			return Decision{Action: ActionRequestExecution, ConsumeSignal: true}
		case signals.AutoApproval:
			return Decision{Action: ActionRequestExecution}
		case signals.Signal == kafkav1alpha1.SignalRefresh:
			return Decision{Action: ActionRequestProposal, ConsumeSignal: true}
		default:
			return Decision{Action: ActionNone, NextState: kafkav1alpha1.StateProposalReady}
		}

	case kafkav1alpha1.StateRebalancing:
		if signals.Signal == kafkav1alpha1.SignalStop {
			return Decision{Action: ActionStopExecution, ConsumeSignal: true}
		}
		return Decision{Action: ActionPollTask}

	case kafkav1alpha1.StateReady, kafkav1alpha1.StateStopped:
		if signals.Signal == kafkav1alpha1.SignalRefresh {
			return Decision{Action: ActionRequestProposal, ConsumeSignal: true}
		}
		return Decision{Action: ActionNone, NextState: state}
	}

	return Decision{Action: ActionNone, NextState: state}
}

// onProposalResponse maps the engine's answer to a proposal or execution
// request onto the waiting state (session returned) or the settled one
// (synchronous answer).
func onProposalResponse(resp *cruisecontrol.ProposalResponse, waiting, settled kafkav1alpha1.State) (kafkav1alpha1.State, string) {
	if resp.Ready {
		return settled, ""
	}
	return waiting, resp.SessionID
}

// onTaskStatus maps a poll result onto the next state. waiting is the state
// to stay in while the engine is still working, settled the state reached on
// completion. A task that completed with an error is surfaced as NotReady by
// the caller.
func onTaskStatus(status *cruisecontrol.TaskStatusResponse, waiting, settled kafkav1alpha1.State) kafkav1alpha1.State {
	switch status.State {
	case cruisecontrol.TaskStateActive, cruisecontrol.TaskStateInExecution:
		return waiting
	case cruisecontrol.TaskStateCompleted:
		return settled
	default:
		return kafkav1alpha1.StateNotReady
	}
}
