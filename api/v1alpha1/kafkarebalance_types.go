// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RebalanceMode selects which kind of proposal is requested from Cruise Control.
type RebalanceMode string

const (
	// RebalanceModeFull rebalances partition replicas across all brokers.
	RebalanceModeFull RebalanceMode = "full"
	// RebalanceModeAddBrokers moves replicas onto newly added brokers.
	RebalanceModeAddBrokers RebalanceMode = "add-brokers"
	// RebalanceModeRemoveBrokers drains replicas off brokers about to be removed.
	RebalanceModeRemoveBrokers RebalanceMode = "remove-brokers"
)

// KafkaRebalanceSpec defines the desired rebalance operation.
type KafkaRebalanceSpec struct {
	// +kubebuilder:validation:Optional
	// +kubebuilder:validation:Enum=full;add-brokers;remove-brokers
	// +kubebuilder:default=full
	Mode RebalanceMode `json:"mode,omitempty"`
	// Brokers lists the broker IDs the proposal applies to. Required for
	// add-brokers and remove-brokers modes, ignored for full mode.
	// +kubebuilder:validation:Optional
	Brokers []int32 `json:"brokers,omitempty"`
	// Goals overrides the engine's default optimization goal list.
	// +kubebuilder:validation:Optional
	Goals []string `json:"goals,omitempty"`
	// +kubebuilder:validation:Optional
	SkipHardGoalCheck bool `json:"skipHardGoalCheck,omitempty"`
	// RebalanceDisk requests an intra-broker disk rebalance. Only valid for
	// clusters with a multi-disk JBOD storage configuration.
	// +kubebuilder:validation:Optional
	RebalanceDisk bool `json:"rebalanceDisk,omitempty"`
}

// KafkaRebalanceStatus defines the observed state of a KafkaRebalance.
type KafkaRebalanceStatus struct {
	// +kubebuilder:validation:Optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
	// Conditions holds exactly one state condition (its type is the current
	// state name) plus optional advisory conditions such as UnknownFields.
	Conditions []metav1.Condition `json:"conditions,omitempty"`
	// SessionID correlates the resource with an in-flight engine task. Set
	// only while a proposal or an execution is outstanding.
	SessionID string `json:"sessionId,omitempty"`
	// OptimizationResult summarizes the last computed proposal.
	OptimizationResult map[string]string `json:"optimizationResult,omitempty"`
	// HandledAnnotation records the last consumed value of the rebalance
	// annotation so re-applying the same value is a no-op.
	HandledAnnotation string `json:"handledAnnotation,omitempty"`
	// AutoApproval mirrors the rebalance-auto-approval annotation as read
	// when the resource was first reconciled.
	AutoApproval bool `json:"autoApproval,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:JSONPath=".spec.mode",name="Mode",type="string"
// +kubebuilder:printcolumn:JSONPath=".status.conditions[0].type",name="State",type="string"

// KafkaRebalance is the Schema for the kafkarebalances API.
type KafkaRebalance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   KafkaRebalanceSpec   `json:"spec,omitempty"`
	Status KafkaRebalanceStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// KafkaRebalanceList contains a list of KafkaRebalance.
type KafkaRebalanceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []KafkaRebalance `json:"items"`
}

func init() {
	SchemeBuilder.Register(&KafkaRebalance{}, &KafkaRebalanceList{})
}
