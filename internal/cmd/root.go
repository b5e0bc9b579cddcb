// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	corev1 "k8s.io/api/core/v1"

	"k8s.io/apimachinery/pkg/runtime"

	"github.com/ironcore-dev/controller-utils/cmdutils/switches"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	clientconfig "sigs.k8s.io/controller-runtime/pkg/client/config"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	kafkav1alpha1 "github.com/streamhub/rebalance-operator/api/v1alpha1"
	"github.com/streamhub/rebalance-operator/internal/config"
	"github.com/streamhub/rebalance-operator/internal/controller"
	"github.com/streamhub/rebalance-operator/internal/status"
)

var RootCmd = &cobra.Command{
	Use:     "rebalance-operator",
	Short:   "Operator reconciling KafkaRebalance resources against Cruise Control",
	RunE:    RunRootCmd,
	Version: bininfo.Version(),
}

var (
	scheme            = runtime.NewScheme()
	setupLog          = ctrl.Log.WithName("setup")
	controllers       switches.Switches
	metricsAddr       string
	probeAddr         string
	secureMetrics     bool
	enableHTTP2       bool
	reconcileInterval time.Duration
)

const (
	// controllers
	kafkaRebalanceController = "kafkaRebalanceController"
)

func init() {
	RootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	RootCmd.PersistentFlags().StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	RootCmd.PersistentFlags().BoolVar(&secureMetrics, "metrics-secure", false, "If set the metrics endpoint is served securely")
	RootCmd.PersistentFlags().BoolVar(&enableHTTP2, "enable-http2", false, "If set, HTTP/2 will be enabled for the metrics and webhook servers")
	RootCmd.PersistentFlags().DurationVar(&reconcileInterval, "reconcile-interval", 30*time.Second, "Interval at which pending rebalance sessions are polled")

	controllers = *switches.New(
		kafkaRebalanceController,
	)

	RootCmd.PersistentFlags().Var(&controllers, "controllers",
		fmt.Sprintf("Controllers to enable. All controllers: %v. Disabled-by-default controllers: %v",
			controllers.All(),
			controllers.DisabledByDefault(),
		),
	)
}

func RunRootCmd(cmd *cobra.Command, args []string) error {
	ctrl.SetLogger(zap.New())

	// if the enable-http2 flag is false (the default), http/2 should be disabled
	// due to its vulnerabilities. More specifically, disabling http/2 will
	// prevent from being vulnerable to the HTTP/2 Stream Cancelation and
	// Rapid Reset CVEs. For more information see:
	// - https://github.com/advisories/GHSA-qppj-fm5r-hxr3
	// - https://github.com/advisories/GHSA-4374-p667-p6c8
	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}

	tlsOpts := []func(*tls.Config){}
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	mgr, err := ctrl.NewManager(clientconfig.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress:   metricsAddr,
			SecureServing: secureMetrics,
			TLSOpts:       tlsOpts,
		},
		HealthProbeBindAddress: probeAddr,
	})
	if err != nil {
		setupLog.Error(err, "unable to create manager")
		return err
	}
	err = corev1.AddToScheme(mgr.GetScheme())
	if err != nil {
		setupLog.Error(err, "unable to register core API scheme")
		return err
	}
	err = kafkav1alpha1.AddToScheme(mgr.GetScheme())
	if err != nil {
		setupLog.Error(err, "unable to register kafka API scheme")
		return err
	}

	cfg := config.NewDefaultConfiguration(&config.ConfigReader{})
	if err := cfg.Reload(); err != nil {
		setupLog.Error(err, "unable to load configuration")
		return err
	}
	setupLog.Info("configuration loaded", "config", cfg.String())

	if controllers.Enabled(kafkaRebalanceController) {
		reconciler := controller.NewKafkaRebalanceReconciler(
			mgr.GetClient(),
			mgr.GetScheme(),
			cfg,
			status.NewRebalanceStatusHandler(mgr.GetClient()),
			controller.DefaultCruiseControlFactory(cfg.CruiseControlPort),
			reconcileInterval,
		)
		if err = reconciler.SetupWithManager(mgr, controller.RateLimiter{
			Burst:           10,
			Frequency:       5,
			BaseDelay:       time.Second,
			FailureMaxDelay: 5 * time.Minute,
		}); err != nil {
			setupLog.Error(err, "unable to create controller", "controller", "KafkaRebalance")
			os.Exit(1)
		}
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		return err
	}

	setupLog.Info("starting manager", "version", bininfo.Version())
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "unable to start manager")
		return err
	}

	return nil
}
