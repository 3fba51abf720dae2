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
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ci-capacity/pkg/engine"
	"ci-capacity/pkg/k8s/types"
)

var (
	statusTimeout time.Duration
	statusOutput  string
)

// statusCmd represents the status command (one-shot report).
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current CI capacity",
	Long: `Load nodes, CI pods, the cost ConfigMap and the build deployment once and
print the available and used capacity with a per-node breakdown.

Example usage:
  capacityctl status
  capacityctl status --output yaml`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 30*time.Second,
		"Maximum time to wait for the initial listings")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text",
		"Output format: text or yaml")
}

// statusReport is the serialized form of a status snapshot.
type statusReport struct {
	Available int64            `yaml:"available"`
	Used      int64            `yaml:"used"`
	Free      int64            `yaml:"free"`
	Costs     map[string]int64 `yaml:"costs"`
	Replicas  *int32           `yaml:"replicas,omitempty"`
	Pods      podCounts        `yaml:"pods"`
	Nodes     []nodeReport     `yaml:"nodes"`
}

type podCounts struct {
	E2E         int `yaml:"e2e"`
	PR          int `yaml:"pr"`
	Unscheduled int `yaml:"unscheduled"`
}

type nodeReport struct {
	Name     string          `yaml:"name"`
	Capacity int64           `yaml:"capacity"`
	Used     int64           `yaml:"used"`
	Pods     int             `yaml:"pods"`
	Toggles  map[string]bool `yaml:"toggles"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if statusOutput != "text" && statusOutput != "yaml" {
		return fmt.Errorf("unsupported output format %q (want text or yaml)", statusOutput)
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}

	eng, err := engine.New(env.client, env.cfg, env.logger, nil)
	if err != nil {
		return err
	}
	defer eng.Stop()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	startErr := make(chan error, 1)
	go func() {
		startErr <- eng.Start(ctx)
	}()

	syncCtx, syncCancel := context.WithTimeout(ctx, statusTimeout)
	defer syncCancel()
	if err := eng.WaitForSync(syncCtx); err != nil {
		cancel()
		if startFailure := <-startErr; startFailure != nil {
			return startFailure
		}
		return fmt.Errorf("initial listing incomplete: %w", err)
	}

	report := buildReport(eng, env.cfg.Tracking.E2ECostKey, env.cfg.Tracking.PRCostKey)

	if statusOutput == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	}
	return writeStatusText(cmd.OutOrStdout(), report, eng.ToggleLabels())
}

func buildReport(eng *engine.Engine, e2eKey, prKey string) statusReport {
	summary := eng.Summary()
	report := statusReport{
		Available: summary.Available,
		Used:      summary.Used,
		Free:      summary.Free(),
		Costs:     map[string]int64{e2eKey: summary.E2ECost, prKey: summary.PRCost},
		Pods: podCounts{
			E2E:         summary.E2EPods,
			PR:          summary.PRPods,
			Unscheduled: summary.Unscheduled,
		},
	}
	if replicas, ok := eng.DeploymentReplicas(); ok {
		report.Replicas = &replicas
	}

	records := make(map[string]types.NodeRecord)
	for _, node := range eng.Nodes() {
		records[node.Name] = node
	}

	toggles := eng.ToggleLabels()
	for _, usage := range summary.Nodes {
		report.Nodes = append(report.Nodes, nodeReport{
			Name:     usage.Name,
			Capacity: usage.Capacity,
			Used:     usage.Used,
			Pods:     usage.Pods,
			Toggles:  toggleStates(records[usage.Name], toggles),
		})
	}
	return report
}

func toggleStates(node types.NodeRecord, toggles []string) map[string]bool {
	states := make(map[string]bool, len(toggles))
	for _, key := range toggles {
		states[key] = node.HasLabel(key)
	}
	return states
}

func writeStatusText(out io.Writer, report statusReport, toggles []string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Available:\t%d\n", report.Available)
	fmt.Fprintf(w, "Used:\t%d\n", report.Used)
	fmt.Fprintf(w, "Free:\t%d\n", report.Free)
	for _, key := range slices.Sorted(maps.Keys(report.Costs)) {
		fmt.Fprintf(w, "Cost %s:\t%d\n", key, report.Costs[key])
	}
	if report.Replicas != nil {
		fmt.Fprintf(w, "Replicas:\t%d\n", *report.Replicas)
	}
	fmt.Fprintf(w, "Pods:\te2e=%d pr=%d unscheduled=%d\n",
		report.Pods.E2E, report.Pods.PR, report.Pods.Unscheduled)
	fmt.Fprintln(w)

	header := []string{"NODE", "CAPACITY", "USED", "PODS"}
	for _, key := range toggles {
		header = append(header, strings.ToUpper(key))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, node := range report.Nodes {
		row := []string{
			node.Name,
			fmt.Sprint(node.Capacity),
			fmt.Sprint(node.Used),
			fmt.Sprint(node.Pods),
		}
		for _, key := range toggles {
			if node.Toggles[key] {
				row = append(row, "yes")
			} else {
				row = append(row, "no")
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	return w.Flush()
}
