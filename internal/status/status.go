// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

// Package status provides helper functionality for updating status of the
// KafkaRebalance CR.
package status

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	kafkav1alpha1 "github.com/streamhub/rebalance-operator/api/v1alpha1"
)

type RebalanceStatus interface {
	Update(ctx context.Context, rebalance *kafkav1alpha1.KafkaRebalance) error

	SetState(rebalance *kafkav1alpha1.KafkaRebalance, state kafkav1alpha1.State, reason, message string)
	SetAdvisory(rebalance *kafkav1alpha1.KafkaRebalance, reason, message string)
}

func NewRebalanceStatusHandler(k8sClient client.Client) RebalanceStatus {
	return RebalanceStatusHandler{
		k8sClient: k8sClient,
	}
}

type RebalanceStatusHandler struct {
	k8sClient client.Client
}

// Update persists the status computed during the reconcile. A resource
// deleted underneath the reconcile is not an error: the write is skipped.
func (h RebalanceStatusHandler) Update(ctx context.Context, rebalance *kafkav1alpha1.KafkaRebalance) error {
	newStatus := rebalance.Status
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if getErr := h.k8sClient.Get(ctx, client.ObjectKeyFromObject(rebalance), rebalance); getErr != nil {
			if apierrors.IsNotFound(getErr) {
				return nil
			}
			return getErr
		}
		rebalance.Status = newStatus
		rebalance.Status.ObservedGeneration = rebalance.Generation
		if updateErr := h.k8sClient.Status().Update(ctx, rebalance); updateErr != nil {
			return updateErr
		}
		return nil
	})
}

// SetState replaces the single state condition, dropping the previous state
// and any advisory conditions from the last reconcile. The condition type is
// the state name; reason and message carry the error class and text when the
// state is NotReady. LastTransitionTime only moves when the state actually
// changes, so poll ticks that stay in the same state do not churn it.
func (h RebalanceStatusHandler) SetState(rebalance *kafkav1alpha1.KafkaRebalance, state kafkav1alpha1.State, reason, message string) {
	condition := kafkav1alpha1.NewStateCondition(state, reason, message)
	if previous := rebalance.StateCondition(); previous != nil && previous.Type == condition.Type {
		condition.LastTransitionTime = previous.LastTransitionTime
	}
	rebalance.Status.Conditions = []metav1.Condition{condition}
}

// SetAdvisory appends an advisory condition (e.g. UnknownFields) without
// changing the state condition.
func (h RebalanceStatusHandler) SetAdvisory(rebalance *kafkav1alpha1.KafkaRebalance, reason, message string) {
	meta.SetStatusCondition(&rebalance.Status.Conditions, metav1.Condition{
		Type:    reason,
		Status:  metav1.ConditionTrue,
		Reason:  reason,
		Message: message,
	})
}
