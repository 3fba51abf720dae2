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

// Package main provides the capacityctl CLI.
//
// capacityctl mirrors the CI nodes, pods, cost config and build deployment of a
// cluster and reports how much of the labelled node capacity the running CI
// pods consume. It also submits the few edits operators make by hand: toggling
// node labels, setting a node's capacity, editing a cost and scaling the build
// deployment.
//
// Global settings are resolved with the priority flag > environment variable >
// config file > default:
//
//   - Kubeconfig: --kubeconfig flag or KUBECONFIG env var (in-cluster when empty)
//   - Config file: --config flag or CAPACITY_CONFIG env var (built-in defaults when empty)
//   - Verbosity: --verbose flag, VERBOSE env var, or logging.verbose from the config file
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/cobra"

	"ci-capacity/pkg/core/config"
	"ci-capacity/pkg/core/logging"
	"ci-capacity/pkg/k8s/client"
)

const (
	envKubeconfig = "KUBECONFIG"
	envConfig     = "CAPACITY_CONFIG"
	envVerbose    = "VERBOSE"
	envMetrics    = "METRICS_PORT"
)

var (
	globalKubeconfig string
	globalConfigFile string
	globalVerbose    int
)

var rootCmd = &cobra.Command{
	Use:   "capacityctl",
	Short: "Track and adjust CI capacity in a Kubernetes cluster",
	Long: `capacityctl keeps a live mirror of the CI nodes, pods, cost ConfigMap and
build deployment, and reports the available and used CI capacity.

Available capacity is the sum of the capacity label of every node. Used
capacity is the cost of every scheduled CI pod, where end-to-end pods and
pull-request pods are charged the costs stored in the cost ConfigMap.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalKubeconfig, "kubeconfig", "",
		"Path to kubeconfig file (env: KUBECONFIG, in-cluster when empty)")
	rootCmd.PersistentFlags().StringVar(&globalConfigFile, "config", "",
		"Path to the YAML configuration file (env: CAPACITY_CONFIG)")
	rootCmd.PersistentFlags().IntVarP(&globalVerbose, "verbose", "v", config.DefaultVerbose,
		"Log level: 0=WARNING, 1=INFO, 2=DEBUG (env: VERBOSE)")

	rootCmd.AddCommand(runCmd, statusCmd, labelCmd, capacityCmd, configCmd, replicasCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1) //nolint:gocritic // exitAfterDefer: cancel() called explicitly before exit
	}
}

// environment is everything a subcommand needs to talk to the cluster.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	client *client.Client
}

// setup resolves the global settings, loads the config file and creates the
// Kubernetes client.
func setup(cmd *cobra.Command) (*environment, error) {
	configFile := globalConfigFile
	if configFile == "" {
		configFile = os.Getenv(envConfig)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateStructure(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	verbose := cfg.Logging.Verbose
	if env := os.Getenv(envVerbose); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			verbose = v
		}
	}
	if cmd.Flags().Changed("verbose") {
		verbose = globalVerbose
	}

	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), logging.LevelFromVerbose(verbose))
	slog.SetDefault(logger)

	kubeconfig := globalKubeconfig
	if kubeconfig == "" {
		kubeconfig = os.Getenv(envKubeconfig)
	}

	k8sClient, err := client.New(client.Config{Kubeconfig: kubeconfig})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	logger.Debug("Kubernetes client created",
		"in_cluster", kubeconfig == "",
		"config_file", configFile)

	return &environment{cfg: cfg, logger: logger, client: k8sClient}, nil
}

// logResourceLimits logs the detected CPU and memory limits.
func logResourceLimits(logger *slog.Logger) {
	gomaxprocs := runtime.GOMAXPROCS(0)
	var gomemlimit string
	if limit := debug.SetMemoryLimit(-1); limit != math.MaxInt64 {
		gomemlimit = fmt.Sprintf("%d bytes (%.2f MiB)", limit, float64(limit)/(1024*1024))
	} else {
		gomemlimit = "unlimited"
	}

	logger.Info("Resource limits detected",
		"gomaxprocs", gomaxprocs,
		"gomemlimit", gomemlimit)
}
