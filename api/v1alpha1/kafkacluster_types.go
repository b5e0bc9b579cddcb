// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// StorageType names the broker storage layout of a cluster.
type StorageType string

const (
	StorageTypeEphemeral       StorageType = "ephemeral"
	StorageTypePersistentClaim StorageType = "persistent-claim"
	StorageTypeJBOD            StorageType = "jbod"
)

// Storage describes the broker storage configuration. Intra-broker disk
// rebalancing requires a JBOD layout with more than one volume.
type Storage struct {
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Enum=ephemeral;persistent-claim;jbod
	Type StorageType `json:"type"`
	// +kubebuilder:validation:Optional
	Volumes []Volume `json:"volumes,omitempty"`
}

type Volume struct {
	// +kubebuilder:validation:Required
	ID int32 `json:"id"`
	// +kubebuilder:validation:Optional
	Size string `json:"size,omitempty"`
}

// CruiseControlSpec declares the Cruise Control deployment for a cluster.
// Its presence is what enables rebalancing for that cluster.
type CruiseControlSpec struct {
	// +kubebuilder:validation:Optional
	Image string `json:"image,omitempty"`
	// +kubebuilder:validation:Optional
	Config map[string]string `json:"config,omitempty"`
}

// KafkaClusterSpec defines the subset of the cluster definition the
// rebalance operator consults. The cluster itself is reconciled elsewhere.
type KafkaClusterSpec struct {
	// +kubebuilder:validation:Optional
	Replicas int32 `json:"replicas,omitempty"`
	// +kubebuilder:validation:Optional
	Storage *Storage `json:"storage,omitempty"`
	// +kubebuilder:validation:Optional
	CruiseControl *CruiseControlSpec `json:"cruiseControl,omitempty"`
}

// KafkaClusterStatus defines the observed state of a KafkaCluster.
type KafkaClusterStatus struct {
	// +kubebuilder:validation:Optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// KafkaCluster is the Schema for the kafkaclusters API.
type KafkaCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   KafkaClusterSpec   `json:"spec,omitempty"`
	Status KafkaClusterStatus `json:"status,omitempty"`
}

// HasCruiseControl reports whether the cluster declares a Cruise Control
// deployment.
func (k *KafkaCluster) HasCruiseControl() bool {
	return k.Spec.CruiseControl != nil
}

// HasMultiDiskStorage reports whether the cluster uses a JBOD storage layout
// with more than one volume.
func (k *KafkaCluster) HasMultiDiskStorage() bool {
	return k.Spec.Storage != nil && k.Spec.Storage.Type == StorageTypeJBOD && len(k.Spec.Storage.Volumes) > 1
}

// +kubebuilder:object:root=true

// KafkaClusterList contains a list of KafkaCluster.
type KafkaClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []KafkaCluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&KafkaCluster{}, &KafkaClusterList{})
}
