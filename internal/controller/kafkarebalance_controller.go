// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/source"

	kafkav1alpha1 "github.com/streamhub/rebalance-operator/api/v1alpha1"
	"github.com/streamhub/rebalance-operator/internal/config"
	"github.com/streamhub/rebalance-operator/internal/controller/periodic"
	"github.com/streamhub/rebalance-operator/internal/cruisecontrol"
	"github.com/streamhub/rebalance-operator/internal/status"
)

const proposalConfigMapKey = "proposal.yaml"

// CruiseControlFactory builds the engine client for the Cruise Control
// deployment of one cluster. Injected so tests can substitute a mock.
type CruiseControlFactory func(cluster *kafkav1alpha1.KafkaCluster, timeout time.Duration, logger logr.Logger) cruisecontrol.API

// DefaultCruiseControlFactory addresses the engine through its in-cluster
// service.
func DefaultCruiseControlFactory(port int32) CruiseControlFactory {
	return func(cluster *kafkav1alpha1.KafkaCluster, timeout time.Duration, logger logr.Logger) cruisecontrol.API {
		return cruisecontrol.NewClient(cruisecontrol.ServerURL(cluster.Name, cluster.Namespace, port), timeout, logger)
	}
}

// KafkaRebalanceReconciler drives the rebalance state machine: it reads the
// KafkaRebalance resource and its bound KafkaCluster, classifies the state,
// performs at most one Cruise Control call and persists the resulting
// condition. Reconciles for one resource are serialized by the controller
// runtime; this reconciler provides no mutual exclusion of its own.
type KafkaRebalanceReconciler struct {
	k8sClient         client.Client
	scheme            *runtime.Scheme
	cfg               *config.Config
	statusHandler     status.RebalanceStatus
	ccFactory         CruiseControlFactory
	reconcileInterval time.Duration
	eventChannel      chan event.GenericEvent
}

func NewKafkaRebalanceReconciler(k8sClient client.Client, scheme *runtime.Scheme, cfg *config.Config,
	statusHandler status.RebalanceStatus, ccFactory CruiseControlFactory, reconcileInterval time.Duration) *KafkaRebalanceReconciler {
	return &KafkaRebalanceReconciler{
		k8sClient:         k8sClient,
		scheme:            scheme,
		cfg:               cfg,
		statusHandler:     statusHandler,
		ccFactory:         ccFactory,
		reconcileInterval: reconcileInterval,
		eventChannel:      make(chan event.GenericEvent),
	}
}

// +kubebuilder:rbac:groups=kafka.streamhub.io,resources=kafkarebalances,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=kafka.streamhub.io,resources=kafkarebalances/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=kafka.streamhub.io,resources=kafkaclusters,verbs=get;list;watch
// +kubebuilder:rbac:groups=core,resources=configmaps,verbs=get;list;watch;create;update;patch;delete

func (r *KafkaRebalanceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	logger.Info("reconciling kafka rebalance")

	if err := r.cfg.Reload(); err != nil {
		logger.Error(err, "unable to reload configuration")
		return ctrl.Result{}, err
	}

	rebalance := &kafkav1alpha1.KafkaRebalance{}
	if err := r.k8sClient.Get(ctx, req.NamespacedName, rebalance); err != nil {
		if apierrors.IsNotFound(err) {
			// deleted underneath us, possibly mid-poll
			logger.Info("rebalance resource is gone, nothing to reconcile")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "unable to get KafkaRebalance CR")
		return ctrl.Result{}, err
	}

	if rebalance.StateCondition() == nil {
		// first time we see the resource: the auto-approval annotation is
		// read once and pinned in status, even when it arrives paused
		rebalance.Status.AutoApproval = rebalance.AutoApprovalRequested()
	}

	if rebalance.Paused() {
		if rebalance.CurrentState() != kafkav1alpha1.StateReconciliationPaused {
			logger.Info("reconciliation paused by user")
			// any outstanding session is abandoned; unpausing re-enters the
			// proposal path with a fresh one
			rebalance.Status.SessionID = ""
			r.statusHandler.SetState(rebalance, kafkav1alpha1.StateReconciliationPaused, "",
				"Reconciliation suspended via the pause-reconciliation annotation")
			return ctrl.Result{}, r.statusHandler.Update(ctx, rebalance)
		}
		return ctrl.Result{}, nil
	}

	state := rebalance.CurrentState()

	signals := Signals{
		Signal:       rebalance.Signal(),
		AutoApproval: rebalance.Status.AutoApproval,
	}
	if signals.Signal == kafkav1alpha1.SignalUnknown {
		logger.Info("ignoring unrecognized rebalance annotation value", "value", rebalance.RawSignal())
		signals.Signal = kafkav1alpha1.SignalNone
	}

	decision := Classify(state, signals)
	logger = logger.WithValues("state", state, "signal", signals.Signal)

	if decision.Action == ActionNone {
		if decision.NextState == state && !decision.ConsumeSignal {
			return ctrl.Result{}, nil
		}
		if decision.ConsumeSignal {
			rebalance.Status.HandledAnnotation = rebalance.RawSignal()
		}
		if decision.NextState == kafkav1alpha1.StateStopped {
			// the pending session is simply discarded, nothing was executing
			rebalance.Status.SessionID = ""
		}
		r.statusHandler.SetState(rebalance, decision.NextState, "", "")
		logger.Info("state settled without engine call", "nextState", decision.NextState)
		return ctrl.Result{}, r.statusHandler.Update(ctx, rebalance)
	}

	cluster, err := r.resolveCluster(ctx, rebalance)
	if err != nil {
		return r.markNotReady(ctx, logger, rebalance, decision, err)
	}

	advisories, err := validateRebalanceSpec(rebalance, cluster)
	if err != nil {
		return r.markNotReady(ctx, logger, rebalance, decision, err)
	}

	api := r.ccFactory(cluster, r.cfg.RequestTimeout(), logger)

	nextState, err := r.execute(ctx, logger, rebalance, decision, api)
	if err != nil {
		return r.markNotReady(ctx, logger, rebalance, decision, err)
	}

	if decision.ConsumeSignal {
		rebalance.Status.HandledAnnotation = rebalance.RawSignal()
	}
	r.statusHandler.SetState(rebalance, nextState, "", "")
	for _, advisory := range advisories {
		r.statusHandler.SetAdvisory(rebalance, kafkav1alpha1.ReasonUnknownFields, advisory)
	}
	if err := r.statusHandler.Update(ctx, rebalance); err != nil {
		logger.Error(err, "unable to update status")
		return ctrl.Result{}, err
	}

	logger.Info("reconcile completed", "nextState", nextState)

	switch nextState {
	case kafkav1alpha1.StatePendingProposal, kafkav1alpha1.StateRebalancing:
		return ctrl.Result{RequeueAfter: r.reconcileInterval}, nil
	default:
		return ctrl.Result{}, nil
	}
}

// execute performs the one engine call the classifier decided on and maps
// the response onto the next state.
func (r *KafkaRebalanceReconciler) execute(ctx context.Context, logger logr.Logger,
	rebalance *kafkav1alpha1.KafkaRebalance, decision Decision, api cruisecontrol.API) (kafkav1alpha1.State, error) {
	switch decision.Action {
	case ActionRequestProposal:
		resp, err := api.RebalanceProposal(ctx, proposalRequest(&rebalance.Spec, true))
		if err != nil {
			return "", err
		}
		next, session := onProposalResponse(resp, kafkav1alpha1.StatePendingProposal, kafkav1alpha1.StateProposalReady)
		rebalance.Status.SessionID = session
		if resp.Ready {
			rebalance.Status.OptimizationResult = resp.Result
			if err := r.ensureProposalConfigMap(ctx, rebalance); err != nil {
				return "", err
			}
		}
		return next, nil

	case ActionRequestExecution:
		resp, err := api.RebalanceProposal(ctx, proposalRequest(&rebalance.Spec, false))
		if err != nil {
			return "", err
		}
		next, session := onProposalResponse(resp, kafkav1alpha1.StateRebalancing, kafkav1alpha1.StateReady)
		rebalance.Status.SessionID = session
		if resp.Ready {
			rebalance.Status.OptimizationResult = resp.Result
		}
		return next, nil

	case ActionPollTask:
		waiting := rebalance.CurrentState()
		settled := kafkav1alpha1.StateProposalReady
		if waiting == kafkav1alpha1.StateRebalancing {
			settled = kafkav1alpha1.StateReady
		}

		taskStatus, err := api.UserTaskStatus(ctx, rebalance.Status.SessionID)
		if err != nil {
			return "", err
		}
		next := onTaskStatus(taskStatus, waiting, settled)
		if next == kafkav1alpha1.StateNotReady {
			return "", &cruisecontrol.RestError{
				Method:  "GET",
				Path:    cruisecontrol.EndpointUserTasks,
				Message: taskStatus.ErrorMessage,
			}
		}
		if next == settled {
			rebalance.Status.SessionID = ""
			if taskStatus.Result != nil {
				rebalance.Status.OptimizationResult = taskStatus.Result
			}
			if next == kafkav1alpha1.StateProposalReady {
				if err := r.ensureProposalConfigMap(ctx, rebalance); err != nil {
					return "", err
				}
			}
		}
		return next, nil

	case ActionStopExecution:
		if err := api.StopExecution(ctx, rebalance.Status.SessionID); err != nil {
			return "", err
		}
		logger.Info("proposal execution stopped")
		rebalance.Status.SessionID = ""
		return kafkav1alpha1.StateStopped, nil
	}

	return rebalance.CurrentState(), nil
}

// markNotReady converts any validation or engine error into a NotReady
// condition. Nothing propagates out of Reconcile as an error: NotReady is
// retried on every tick anyway.
func (r *KafkaRebalanceReconciler) markNotReady(ctx context.Context, logger logr.Logger,
	rebalance *kafkav1alpha1.KafkaRebalance, decision Decision, cause error) (ctrl.Result, error) {
	reason := ""
	if typed, ok := cause.(reasoner); ok { //nolint:errorlint
		reason = typed.Reason()
	}

	logger.Info("rebalance not ready", "reason", reason, "cause", cause.Error())

	if decision.ConsumeSignal {
		rebalance.Status.HandledAnnotation = rebalance.RawSignal()
	}
	rebalance.Status.SessionID = ""
	r.statusHandler.SetState(rebalance, kafkav1alpha1.StateNotReady, reason, cause.Error())
	if err := r.statusHandler.Update(ctx, rebalance); err != nil {
		logger.Error(err, "unable to update status")
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: r.reconcileInterval}, nil
}

// resolveCluster loads the KafkaCluster the rebalance is bound to via its
// cluster label and checks the engine is declared on it.
func (r *KafkaRebalanceReconciler) resolveCluster(ctx context.Context, rebalance *kafkav1alpha1.KafkaRebalance) (*kafkav1alpha1.KafkaCluster, error) {
	clusterName := rebalance.Labels[kafkav1alpha1.ClusterLabel]
	if clusterName == "" {
		return nil, &InvalidResourceError{
			Message: fmt.Sprintf("Resource lacks label '%s': No cluster related to a possible rebalance.", kafkav1alpha1.ClusterLabel),
		}
	}

	cluster := &kafkav1alpha1.KafkaCluster{}
	if err := r.k8sClient.Get(ctx, client.ObjectKey{Namespace: rebalance.Namespace, Name: clusterName}, cluster); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &NoSuchResourceError{
				Message: fmt.Sprintf("KafkaCluster resource '%s' identified by label '%s' does not exist in namespace %s.",
					clusterName, kafkav1alpha1.ClusterLabel, rebalance.Namespace),
			}
		}
		return nil, fmt.Errorf("unable to get KafkaCluster: %w", err)
	}

	if !cluster.HasCruiseControl() {
		return nil, &InvalidResourceError{Message: "KafkaCluster resource lacks 'cruiseControl' declaration"}
	}

	return cluster, nil
}

// validateRebalanceSpec checks the spec preconditions before any engine
// call. Ignored fields are not hard failures: they come back as advisory
// messages and processing continues.
func validateRebalanceSpec(rebalance *kafkav1alpha1.KafkaRebalance, cluster *kafkav1alpha1.KafkaCluster) ([]string, error) {
	spec := rebalance.Spec
	mode := spec.Mode
	if mode == "" {
		mode = kafkav1alpha1.RebalanceModeFull
	}

	var advisories []string

	switch mode {
	case kafkav1alpha1.RebalanceModeFull:
		if len(spec.Brokers) > 0 {
			advisories = append(advisories, "The 'brokers' list is ignored when the rebalance mode is 'full'")
		}
	case kafkav1alpha1.RebalanceModeAddBrokers, kafkav1alpha1.RebalanceModeRemoveBrokers:
		if len(spec.Brokers) == 0 {
			return nil, &InvalidResourceError{
				Message: fmt.Sprintf("The 'brokers' list is required when using the '%s' rebalancing mode", mode),
			}
		}
	default:
		return nil, &InvalidResourceError{Message: fmt.Sprintf("Unknown rebalance mode '%s'", mode)}
	}

	if spec.RebalanceDisk && !cluster.HasMultiDiskStorage() {
		return nil, &InvalidResourceError{
			Message: "Cannot set rebalanceDisk=true for Kafka clusters with a non-JBOD storage config. " +
				"Intra-broker balancing only applies to Kafka deployments that use JBOD storage with multiple disks.",
		}
	}

	return advisories, nil
}

// proposalRequest renders the spec into an engine request. dryRun selects
// between proposal generation and execution of the ready proposal.
func proposalRequest(spec *kafkav1alpha1.KafkaRebalanceSpec, dryRun bool) *cruisecontrol.RebalanceRequest {
	endpoint := cruisecontrol.EndpointRebalance
	opts := []cruisecontrol.RebalanceRequestOption{
		cruisecontrol.WithGoals(spec.Goals),
		cruisecontrol.WithSkipHardGoalCheck(spec.SkipHardGoalCheck),
	}

	switch spec.Mode {
	case kafkav1alpha1.RebalanceModeAddBrokers:
		endpoint = cruisecontrol.EndpointAddBroker
		opts = append(opts, cruisecontrol.WithBrokers(spec.Brokers))
	case kafkav1alpha1.RebalanceModeRemoveBrokers:
		endpoint = cruisecontrol.EndpointRemoveBroker
		opts = append(opts, cruisecontrol.WithBrokers(spec.Brokers))
	default:
		opts = append(opts, cruisecontrol.WithRebalanceDisk(spec.RebalanceDisk))
	}

	return cruisecontrol.NewRebalanceRequest(endpoint, dryRun, opts...)
}

// ensureProposalConfigMap persists the full optimization result in a
// ConfigMap named after the rebalance resource, owner-referenced so it is
// garbage collected with it.
func (r *KafkaRebalanceReconciler) ensureProposalConfigMap(ctx context.Context, rebalance *kafkav1alpha1.KafkaRebalance) error {
	proposalYaml, err := yaml.Marshal(rebalance.Status.OptimizationResult)
	if err != nil {
		return fmt.Errorf("unable to marshal optimization result: %w", err)
	}

	configMap := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      rebalance.Name,
			Namespace: rebalance.Namespace,
		},
	}

	if _, err := controllerutil.CreateOrUpdate(ctx, r.k8sClient, configMap, func() error {
		if configMap.Labels == nil {
			configMap.Labels = map[string]string{}
		}
		configMap.Labels[kafkav1alpha1.ClusterLabel] = rebalance.Labels[kafkav1alpha1.ClusterLabel]
		configMap.Data = map[string]string{
			proposalConfigMapKey: string(proposalYaml),
		}
		return controllerutil.SetControllerReference(rebalance, configMap, r.scheme)
	}); err != nil {
		return fmt.Errorf("unable to persist proposal config map: %w", err)
	}

	return nil
}

// SetupWithManager sets up the controller with the Manager. A periodic
// runner re-enqueues every KafkaRebalance on a fixed interval so that
// pending proposals and executions are polled without in-process waiting.
func (r *KafkaRebalanceReconciler) SetupWithManager(mgr manager.Manager, rateLimiter RateLimiter) error {
	runner, err := periodic.NewRunner(
		periodic.WithClient(mgr.GetClient()),
		periodic.WithInterval(r.reconcileInterval),
		periodic.WithEventChannel(r.eventChannel),
	)
	if err != nil {
		return fmt.Errorf("unable to create periodic runner: %w", err)
	}

	if err := mgr.Add(runner); err != nil {
		return fmt.Errorf("unable to add periodic runner: %w", err)
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&kafkav1alpha1.KafkaRebalance{}).
		WithEventFilter(predicate.Or(predicate.GenerationChangedPredicate{}, predicate.AnnotationChangedPredicate{})).
		WithOptions(controller.Options{
			RateLimiter: workqueue.NewTypedMaxOfRateLimiter(
				workqueue.NewTypedItemExponentialFailureRateLimiter[ctrl.Request](rateLimiter.BaseDelay,
					rateLimiter.FailureMaxDelay),
				&workqueue.TypedBucketRateLimiter[ctrl.Request]{
					Limiter: rate.NewLimiter(rate.Limit(rateLimiter.Frequency), rateLimiter.Burst),
				},
			),
		}).
		WatchesRawSource(source.Channel(r.eventChannel, &handler.EnqueueRequestForObject{})).
		Named("kafkaRebalance").
		Complete(r)
}
