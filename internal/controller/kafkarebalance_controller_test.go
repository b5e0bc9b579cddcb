// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	kafkav1alpha1 "github.com/streamhub/rebalance-operator/api/v1alpha1"
	"github.com/streamhub/rebalance-operator/internal/config"
	"github.com/streamhub/rebalance-operator/internal/controller/mock"
	"github.com/streamhub/rebalance-operator/internal/cruisecontrol"
	"github.com/streamhub/rebalance-operator/internal/status"
)

var _ = Describe("KafkaRebalance Controller", func() {
	const (
		rebalanceName = "my-rebalance"
		clusterName   = "my-cluster"
		namespace     = "kafka"
	)

	var (
		ctx            context.Context
		scheme         *runtime.Scheme
		k8sClient      client.Client
		ccMock         *mock.CruiseControlMock
		reconciler     *KafkaRebalanceReconciler
		fileReaderMock *mock.FileReaderMock
	)

	typeNamespacedName := types.NamespacedName{
		Name:      rebalanceName,
		Namespace: namespace,
	}

	newCluster := func() *kafkav1alpha1.KafkaCluster {
		return &kafkav1alpha1.KafkaCluster{
			ObjectMeta: metav1.ObjectMeta{
				Name:      clusterName,
				Namespace: namespace,
			},
			Spec: kafkav1alpha1.KafkaClusterSpec{
				Replicas: 3,
				Storage: &kafkav1alpha1.Storage{
					Type: kafkav1alpha1.StorageTypeJBOD,
					Volumes: []kafkav1alpha1.Volume{
						{ID: 0, Size: "100Gi"},
						{ID: 1, Size: "100Gi"},
					},
				},
				CruiseControl: &kafkav1alpha1.CruiseControlSpec{},
			},
		}
	}

	newRebalance := func() *kafkav1alpha1.KafkaRebalance {
		return &kafkav1alpha1.KafkaRebalance{
			ObjectMeta: metav1.ObjectMeta{
				Name:      rebalanceName,
				Namespace: namespace,
				Labels: map[string]string{
					kafkav1alpha1.ClusterLabel: clusterName,
				},
			},
			Spec: kafkav1alpha1.KafkaRebalanceSpec{
				Mode: kafkav1alpha1.RebalanceModeFull,
			},
		}
	}

	createFakeClient := func(objects ...client.Object) client.Client {
		return fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(objects...).
			WithStatusSubresource(&kafkav1alpha1.KafkaRebalance{}, &kafkav1alpha1.KafkaCluster{}).
			Build()
	}

	newReconciler := func(k8sClient client.Client) *KafkaRebalanceReconciler {
		cfg := config.NewDefaultConfiguration(fileReaderMock)
		ccFactory := func(cluster *kafkav1alpha1.KafkaCluster, timeout time.Duration, logger logr.Logger) cruisecontrol.API {
			return ccMock
		}
		return NewKafkaRebalanceReconciler(k8sClient, scheme, cfg,
			status.NewRebalanceStatusHandler(k8sClient), ccFactory, 30*time.Second)
	}

	reconcile := func() (ctrl.Result, error) {
		return reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: typeNamespacedName})
	}

	getRebalance := func() *kafkav1alpha1.KafkaRebalance {
		rebalance := &kafkav1alpha1.KafkaRebalance{}
		Expect(k8sClient.Get(ctx, typeNamespacedName, rebalance)).To(Succeed())
		return rebalance
	}

	annotate := func(key, value string) {
		rebalance := getRebalance()
		if rebalance.Annotations == nil {
			rebalance.Annotations = map[string]string{}
		}
		rebalance.Annotations[key] = value
		Expect(k8sClient.Update(ctx, rebalance)).To(Succeed())
	}

	pendingResponse := func(sessionID string) *cruisecontrol.ProposalResponse {
		return &cruisecontrol.ProposalResponse{SessionID: sessionID}
	}

	readyResponse := func(result map[string]string) *cruisecontrol.ProposalResponse {
		return &cruisecontrol.ProposalResponse{Ready: true, Result: result}
	}

	BeforeEach(func() {
		ctx = context.Background()
		scheme = runtime.NewScheme()
		Expect(clientgoscheme.AddToScheme(scheme)).To(Succeed())
		Expect(kafkav1alpha1.AddToScheme(scheme)).To(Succeed())

		fileReaderMock = &mock.FileReaderMock{
			FileContent: map[string]string{
				"/etc/config/config.json": `{
					"cruiseControlPort": 9090,
					"requestTimeoutSeconds": 30
				}`,
			},
		}
		ccMock = &mock.CruiseControlMock{}
	})

	Context("when a new rebalance is created", func() {
		BeforeEach(func() {
			k8sClient = createFakeClient(newCluster(), newRebalance())
			reconciler = newReconciler(k8sClient)
		})

		It("should request a dry-run proposal and wait for the session", func() {
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.Endpoint()).To(Equal(cruisecontrol.EndpointRebalance))
				Expect(req.BuildQuery().Get("dryrun")).To(Equal("true"))
				return pendingResponse("session-1"), nil
			}

			result, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(30 * time.Second))
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))

			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
			Expect(rebalance.Status.SessionID).To(Equal("session-1"))
		})

		It("should settle in ProposalReady on a synchronous proposal", func() {
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return readyResponse(map[string]string{"numReplicaMovements": "12"}), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))
			Expect(rebalance.Status.SessionID).To(BeEmpty())
			Expect(rebalance.Status.OptimizationResult).To(HaveKeyWithValue("numReplicaMovements", "12"))
		})

		It("should persist the proposal in an owner-referenced config map", func() {
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return readyResponse(map[string]string{"numReplicaMovements": "12"}), nil
			}

			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())

			configMap := &corev1.ConfigMap{}
			Expect(k8sClient.Get(ctx, typeNamespacedName, configMap)).To(Succeed())
			Expect(configMap.Data).To(HaveKey("proposal.yaml"))
			Expect(configMap.Data["proposal.yaml"]).To(ContainSubstring("numReplicaMovements"))
			Expect(configMap.OwnerReferences).To(HaveLen(1))
			Expect(configMap.OwnerReferences[0].Name).To(Equal(rebalanceName))
		})

		It("should record the auto-approval annotation in status on first reconcile", func() {
			annotate(kafkav1alpha1.AutoApprovalAnnotation, "true")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return pendingResponse("session-1"), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().Status.AutoApproval).To(BeTrue())
		})

		It("should fail the reconcile when the configuration cannot be read", func() {
			fileReaderMock.ReturnError = true

			_, err := reconcile()

			Expect(err).To(HaveOccurred())
			Expect(ccMock.EngineCalls()).To(BeZero())
		})
	})

	Context("when validation fails", func() {
		It("should report NotReady when the cluster label is missing", func() {
			rebalance := newRebalance()
			rebalance.Labels = nil
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.EngineCalls()).To(BeZero())

			got := getRebalance()
			Expect(got.CurrentState()).To(Equal(kafkav1alpha1.StateNotReady))
			condition := got.StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonInvalidResource))
			Expect(condition.Message).To(Equal("Resource lacks label 'kafka.streamhub.io/cluster': No cluster related to a possible rebalance."))
		})

		It("should report NotReady when the cluster does not exist", func() {
			k8sClient = createFakeClient(newRebalance())
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.EngineCalls()).To(BeZero())

			got := getRebalance()
			Expect(got.CurrentState()).To(Equal(kafkav1alpha1.StateNotReady))
			condition := got.StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonNoSuchResource))
			Expect(condition.Message).To(Equal("KafkaCluster resource 'my-cluster' identified by label 'kafka.streamhub.io/cluster' does not exist in namespace kafka."))
		})

		It("should report NotReady when the cluster has no cruise control", func() {
			cluster := newCluster()
			cluster.Spec.CruiseControl = nil
			k8sClient = createFakeClient(cluster, newRebalance())
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.EngineCalls()).To(BeZero())

			condition := getRebalance().StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonInvalidResource))
			Expect(condition.Message).To(Equal("KafkaCluster resource lacks 'cruiseControl' declaration"))
		})

		It("should reject rebalanceDisk on a non-JBOD cluster", func() {
			cluster := newCluster()
			cluster.Spec.Storage = &kafkav1alpha1.Storage{Type: kafkav1alpha1.StorageTypePersistentClaim}
			rebalance := newRebalance()
			rebalance.Spec.RebalanceDisk = true
			k8sClient = createFakeClient(cluster, rebalance)
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.EngineCalls()).To(BeZero())

			condition := getRebalance().StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonInvalidResource))
			Expect(condition.Message).To(Equal("Cannot set rebalanceDisk=true for Kafka clusters with a non-JBOD storage config. " +
				"Intra-broker balancing only applies to Kafka deployments that use JBOD storage with multiple disks."))
		})

		It("should require brokers for the add-brokers mode", func() {
			rebalance := newRebalance()
			rebalance.Spec.Mode = kafkav1alpha1.RebalanceModeAddBrokers
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			condition := getRebalance().StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonInvalidResource))
			Expect(condition.Message).To(Equal("The 'brokers' list is required when using the 'add-brokers' rebalancing mode"))
		})

		It("should flag an ignored brokers list in full mode without failing", func() {
			rebalance := newRebalance()
			rebalance.Spec.Brokers = []int32{1, 2}
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.BuildQuery().Has("brokerid")).To(BeFalse())
				return pendingResponse("session-1"), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))

			got := getRebalance()
			Expect(got.CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
			advisory := meta.FindStatusCondition(got.Status.Conditions, kafkav1alpha1.ReasonUnknownFields)
			Expect(advisory).NotTo(BeNil())
			Expect(advisory.Message).To(ContainSubstring("ignored"))
		})
	})

	Context("when a proposal is pending", func() {
		BeforeEach(func() {
			k8sClient = createFakeClient(newCluster(), newRebalance())
			reconciler = newReconciler(k8sClient)
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return pendingResponse("session-1"), nil
			}
			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
		})

		It("should poll instead of re-requesting the proposal", func() {
			ccMock.UserTaskStatusFunc = func(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error) {
				Expect(sessionID).To(Equal("session-1"))
				return &cruisecontrol.TaskStatusResponse{State: cruisecontrol.TaskStateActive}, nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))
			Expect(ccMock.UserTaskStatusCalls).To(Equal(1))
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
		})

		It("should settle in ProposalReady once the task completes", func() {
			ccMock.UserTaskStatusFunc = func(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error) {
				return &cruisecontrol.TaskStatusResponse{
					State:  cruisecontrol.TaskStateCompleted,
					Result: map[string]string{"numReplicaMovements": "7"},
				}, nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))
			Expect(rebalance.Status.SessionID).To(BeEmpty())
			Expect(rebalance.Status.OptimizationResult).To(HaveKeyWithValue("numReplicaMovements", "7"))
		})

		It("should stop without calling the engine", func() {
			annotate(kafkav1alpha1.RebalanceAnnotation, "stop")

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.StopExecutionCalls).To(BeZero())
			Expect(ccMock.UserTaskStatusCalls).To(BeZero())

			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateStopped))
			Expect(rebalance.Status.SessionID).To(BeEmpty())
			Expect(rebalance.Status.HandledAnnotation).To(Equal("stop"))
		})

		It("should abandon the session when paused", func() {
			annotate(kafkav1alpha1.PauseReconciliationAnnotation, "true")

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateReconciliationPaused))
			Expect(rebalance.Status.SessionID).To(BeEmpty())
		})

		It("should report NotReady when the task completed with an error", func() {
			ccMock.UserTaskStatusFunc = func(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error) {
				return &cruisecontrol.TaskStatusResponse{
					State:        cruisecontrol.TaskStateCompletedWithError,
					ErrorMessage: "broker 2 is dead",
				}, nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateNotReady))
			Expect(rebalance.Status.SessionID).To(BeEmpty())
			condition := rebalance.StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonEngineRejected))
			Expect(condition.Message).To(ContainSubstring("broker 2 is dead"))
		})
	})

	Context("when a proposal is ready", func() {
		BeforeEach(func() {
			k8sClient = createFakeClient(newCluster(), newRebalance())
			reconciler = newReconciler(k8sClient)
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return readyResponse(map[string]string{"numReplicaMovements": "12"}), nil
			}
			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))
		})

		It("should hold the proposal until it is approved", func() {
			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))
		})

		It("should start the execution on approval", func() {
			annotate(kafkav1alpha1.RebalanceAnnotation, "approve")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.BuildQuery().Get("dryrun")).To(Equal("false"))
				return pendingResponse("session-2"), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateRebalancing))
			Expect(rebalance.Status.SessionID).To(Equal("session-2"))
			Expect(rebalance.Status.HandledAnnotation).To(Equal("approve"))
		})

		It("should refresh the proposal on request", func() {
			annotate(kafkav1alpha1.RebalanceAnnotation, "refresh")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.BuildQuery().Get("dryrun")).To(Equal("true"))
				return pendingResponse("session-3"), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
			Expect(rebalance.Status.SessionID).To(Equal("session-3"))
			Expect(rebalance.Status.HandledAnnotation).To(Equal("refresh"))
		})

		It("should overwrite the proposal config map on a refreshed proposal", func() {
			annotate(kafkav1alpha1.RebalanceAnnotation, "refresh")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return readyResponse(map[string]string{"numReplicaMovements": "25"}), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))

			configMap := &corev1.ConfigMap{}
			Expect(k8sClient.Get(ctx, typeNamespacedName, configMap)).To(Succeed())
			Expect(configMap.Data["proposal.yaml"]).To(ContainSubstring("25"))
			Expect(configMap.Data["proposal.yaml"]).NotTo(ContainSubstring("12"))
			Expect(configMap.OwnerReferences).To(HaveLen(1))
			Expect(configMap.OwnerReferences[0].Name).To(Equal(rebalanceName))
		})

		It("should pause over any other pending annotation", func() {
			annotate(kafkav1alpha1.RebalanceAnnotation, "approve")
			annotate(kafkav1alpha1.PauseReconciliationAnnotation, "true")

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateReconciliationPaused))
		})

		It("should ignore an unrecognized annotation value", func() {
			annotate(kafkav1alpha1.RebalanceAnnotation, "aprove")

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))
		})
	})

	Context("when auto-approval is enabled", func() {
		It("should execute the proposal without a manual approve", func() {
			rebalance := newRebalance()
			rebalance.Annotations = map[string]string{
				kafkav1alpha1.AutoApprovalAnnotation: "true",
			}
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.BuildQuery().Get("dryrun")).To(Equal("true"))
				return readyResponse(map[string]string{"numReplicaMovements": "3"}), nil
			}
			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))

			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.BuildQuery().Get("dryrun")).To(Equal("false"))
				return pendingResponse("session-2"), nil
			}
			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateRebalancing))
		})
	})

	Context("when a rebalance is executing", func() {
		BeforeEach(func() {
			k8sClient = createFakeClient(newCluster(), newRebalance())
			reconciler = newReconciler(k8sClient)

			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return readyResponse(map[string]string{"numReplicaMovements": "12"}), nil
			}
			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())

			annotate(kafkav1alpha1.RebalanceAnnotation, "approve")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return pendingResponse("session-2"), nil
			}
			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateRebalancing))
		})

		It("should keep polling while the execution is in progress", func() {
			ccMock.UserTaskStatusFunc = func(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error) {
				Expect(sessionID).To(Equal("session-2"))
				return &cruisecontrol.TaskStatusResponse{State: cruisecontrol.TaskStateInExecution}, nil
			}

			result, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(30 * time.Second))
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateRebalancing))
		})

		It("should settle in Ready once the execution completes", func() {
			ccMock.UserTaskStatusFunc = func(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error) {
				return &cruisecontrol.TaskStatusResponse{State: cruisecontrol.TaskStateCompleted}, nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateReady))
			Expect(rebalance.Status.SessionID).To(BeEmpty())
		})

		It("should stop the execution with exactly one engine call", func() {
			annotate(kafkav1alpha1.RebalanceAnnotation, "stop")
			ccMock.StopExecutionFunc = func(ctx context.Context, sessionID string) error {
				Expect(sessionID).To(Equal("session-2"))
				return nil
			}

			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.StopExecutionCalls).To(Equal(1))

			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StateStopped))
			Expect(rebalance.Status.SessionID).To(BeEmpty())
			Expect(rebalance.Status.HandledAnnotation).To(Equal("stop"))

			// the same annotation value is consumed: no second stop call
			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.StopExecutionCalls).To(Equal(1))
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateStopped))
		})

		It("should request a fresh proposal after Ready on refresh", func() {
			ccMock.UserTaskStatusFunc = func(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error) {
				return &cruisecontrol.TaskStatusResponse{State: cruisecontrol.TaskStateCompleted}, nil
			}
			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateReady))

			annotate(kafkav1alpha1.RebalanceAnnotation, "refresh")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.BuildQuery().Get("dryrun")).To(Equal("true"))
				return pendingResponse("session-4"), nil
			}

			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			rebalance := getRebalance()
			Expect(rebalance.CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
			Expect(rebalance.Status.SessionID).To(Equal("session-4"))
		})
	})

	Context("when the engine rejects the request", func() {
		BeforeEach(func() {
			k8sClient = createFakeClient(newCluster(), newRebalance())
			reconciler = newReconciler(k8sClient)
		})

		It("should report NotReady and recover once hard goals are skipped", func() {
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				if req.BuildQuery().Get("skip_hard_goal_check") != "true" {
					return nil, &cruisecontrol.RestError{
						Method:     "POST",
						Path:       cruisecontrol.EndpointRebalance,
						StatusCode: 500,
						Message:    "Missing hard goals RackAwareGoal in the provided goals",
					}
				}
				return pendingResponse("session-1"), nil
			}

			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())

			got := getRebalance()
			Expect(got.CurrentState()).To(Equal(kafkav1alpha1.StateNotReady))
			condition := got.StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonEngineRejected))
			Expect(condition.Message).To(ContainSubstring("Missing hard goals"))

			got.Spec.SkipHardGoalCheck = true
			Expect(k8sClient.Update(ctx, got)).To(Succeed())

			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
		})

		It("should surface a connection failure as retriable", func() {
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return nil, &cruisecontrol.ConnectionError{Err: context.Canceled}
			}

			result, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(30 * time.Second))
			condition := getRebalance().StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonEngineUnreachable))
		})

		It("should surface a timeout with its own reason", func() {
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return nil, &cruisecontrol.TimeoutError{Method: "POST", Path: cruisecontrol.EndpointRebalance, Timeout: 30 * time.Second}
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			condition := getRebalance().StateCondition()
			Expect(condition.Reason).To(Equal(kafkav1alpha1.ReasonEngineTimeout))
			Expect(condition.Message).To(Equal("The timeout period of 30000ms has been exceeded while executing POST /kafkacruisecontrol/rebalance"))
		})
	})

	Context("when reconciliation is paused", func() {
		It("should not call the engine even with a pending approval", func() {
			rebalance := newRebalance()
			rebalance.Annotations = map[string]string{
				kafkav1alpha1.PauseReconciliationAnnotation: "true",
				kafkav1alpha1.RebalanceAnnotation:           "approve",
			}
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.EngineCalls()).To(BeZero())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateReconciliationPaused))
		})

		It("should keep auto-approval pinned across a paused first reconcile", func() {
			rebalance := newRebalance()
			rebalance.Annotations = map[string]string{
				kafkav1alpha1.AutoApprovalAnnotation:        "true",
				kafkav1alpha1.PauseReconciliationAnnotation: "true",
			}
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateReconciliationPaused))
			Expect(getRebalance().Status.AutoApproval).To(BeTrue())

			annotate(kafkav1alpha1.PauseReconciliationAnnotation, "false")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return readyResponse(map[string]string{"numReplicaMovements": "3"}), nil
			}
			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateProposalReady))

			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.BuildQuery().Get("dryrun")).To(Equal("false"))
				return pendingResponse("session-2"), nil
			}
			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateRebalancing))
		})

		It("should resume through the proposal path once unpaused", func() {
			rebalance := newRebalance()
			rebalance.Annotations = map[string]string{
				kafkav1alpha1.PauseReconciliationAnnotation: "true",
			}
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StateReconciliationPaused))

			annotate(kafkav1alpha1.PauseReconciliationAnnotation, "false")
			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				return pendingResponse("session-1"), nil
			}

			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(getRebalance().CurrentState()).To(Equal(kafkav1alpha1.StatePendingProposal))
		})
	})

	Context("when the resource is deleted", func() {
		It("should do nothing without an error", func() {
			k8sClient = createFakeClient(newCluster())
			reconciler = newReconciler(k8sClient)

			result, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
			Expect(ccMock.EngineCalls()).To(BeZero())
		})
	})

	Context("when brokers are scaled", func() {
		It("should target the add_broker endpoint with the broker list", func() {
			rebalance := newRebalance()
			rebalance.Spec.Mode = kafkav1alpha1.RebalanceModeAddBrokers
			rebalance.Spec.Brokers = []int32{3, 4}
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.Endpoint()).To(Equal(cruisecontrol.EndpointAddBroker))
				Expect(req.BuildQuery().Get("brokerid")).To(Equal("3,4"))
				return pendingResponse("session-1"), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))
		})

		It("should target the remove_broker endpoint with the broker list", func() {
			rebalance := newRebalance()
			rebalance.Spec.Mode = kafkav1alpha1.RebalanceModeRemoveBrokers
			rebalance.Spec.Brokers = []int32{5}
			k8sClient = createFakeClient(newCluster(), rebalance)
			reconciler = newReconciler(k8sClient)

			ccMock.RebalanceProposalFunc = func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
				Expect(req.Endpoint()).To(Equal(cruisecontrol.EndpointRemoveBroker))
				Expect(req.BuildQuery().Get("brokerid")).To(Equal("5"))
				return pendingResponse("session-1"), nil
			}

			_, err := reconcile()

			Expect(err).NotTo(HaveOccurred())
			Expect(ccMock.RebalanceProposalCalls).To(Equal(1))
		})
	})
})
