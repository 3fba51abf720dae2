// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ci-capacity/pkg/engine"
	pkgevents "ci-capacity/pkg/events"
	"ci-capacity/pkg/introspection"
	"ci-capacity/pkg/metrics"
)

var runMetricsPort int

// runCmd represents the run command (long-running tracker).
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track CI capacity until interrupted",
	Long: `Run the capacity tracker.

The tracker watches nodes, CI pods, the cost ConfigMap and the build
deployment, logs a capacity summary whenever one of them changes, and serves
Prometheus metrics, health probes and debug variables under /debug/vars.

Example usage:
  # Run in-cluster with defaults
  capacityctl run

  # Run against a remote cluster with a config file
  capacityctl run --kubeconfig ~/.kube/config --config capacity.yaml

  # Serve metrics on another port
  capacityctl run --metrics-port 9191`,
	RunE: runTracker,
}

func init() {
	runCmd.Flags().IntVar(&runMetricsPort, "metrics-port", 0,
		"Port for metrics and health probes (env: METRICS_PORT)")
}

func runTracker(cmd *cobra.Command, _ []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	logger := env.logger

	// Metrics port: flag > env > config file
	port := runMetricsPort
	if port == 0 {
		if v := os.Getenv(envMetrics); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				port = p
			}
		}
	}
	if port == 0 {
		port = env.cfg.Controller.MetricsPort
	}

	logResourceLimits(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.New(env.client, env.cfg, logger, registry)
	if err != nil {
		return err
	}
	defer eng.Stop()

	server := metrics.NewServer(fmt.Sprintf(":%d", port), registry, eng.Ready, logger)

	debugVars := introspection.NewRegistry()
	eng.RegisterDebugVars(debugVars)
	debugHandler := introspection.Handler(debugVars)
	server.Handle(introspection.PathPrefix, debugHandler)
	server.Handle(introspection.PathPrefix+"/", debugHandler)

	logger.Info("CI capacity tracker starting",
		"metrics_port", port,
		"pod_namespace", env.cfg.Tracking.PodNamespace,
		"configmap", env.cfg.Tracking.ConfigMapNamespace+"/"+env.cfg.Tracking.ConfigMapName,
		"deployment", env.cfg.Tracking.DeploymentNamespace+"/"+env.cfg.Tracking.DeploymentName)

	ctx := cmd.Context()
	sub := eng.Subscribe(64)
	defer sub.Unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Start(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		reportChanges(gctx, eng, sub.Events(), logger)
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tracker failed: %w", err)
	}

	logger.Info("CI capacity tracker shutdown complete")
	return nil
}

// reportChanges logs a capacity summary after every mirror change.
func reportChanges(ctx context.Context, eng *engine.Engine, events <-chan pkgevents.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch e := event.(type) {
			case *engine.MirrorSyncedEvent:
				logger.Info("Mirror synced", "resource", e.Resource, "records", e.Count)
			case *engine.MirrorResyncedEvent:
				logger.Info("Mirror resynced", "resource", e.Resource, "records", e.Count)
			case *engine.MirrorChangedEvent:
				logger.Debug("Mirror changed",
					"resource", e.Resource,
					"created", e.Stats.Created,
					"modified", e.Stats.Modified,
					"deleted", e.Stats.Deleted)
			default:
				continue
			}

			if !eng.Ready() {
				continue
			}
			summary := eng.Summary()
			logger.Info("Capacity",
				"available", summary.Available,
				"used", summary.Used,
				"free", summary.Free(),
				"e2e_pods", summary.E2EPods,
				"pr_pods", summary.PRPods,
				"unscheduled", summary.Unscheduled)
		}
	}
}
