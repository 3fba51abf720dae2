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

	"github.com/spf13/cobra"

	"ci-capacity/pkg/engine"
)

var labelEnabled bool

var labelCmd = &cobra.Command{
	Use:   "label <node> <key>",
	Short: "Switch a presence-only node label on or off",
	Long: `Set a toggle label on a node to an empty value, or remove it with
--enabled=false. Only the labels listed under tracking.toggle_labels may be
toggled.

Example usage:
  capacityctl label worker-1 docker/buildkit
  capacityctl label worker-1 jenkins/worker --enabled=false`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.ToggleNodeLabel(ctx, args[0], args[1], labelEnabled); err != nil {
				return err
			}
			state := "removed"
			if labelEnabled {
				state = "set"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node/%s label %s %s\n", args[0], args[1], state)
			return nil
		})
	},
}

var capacityCmd = &cobra.Command{
	Use:   "capacity <node> <value>",
	Short: "Set the capacity label of a node",
	Long: `Set the capacity label of a node to a non-negative integer.

Example usage:
  capacityctl capacity worker-1 6`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.SetNodeCapacity(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node/%s %s=%s\n", args[0], eng.CapacityLabel(), args[1])
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit the cost ConfigMap",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one key of the cost ConfigMap",
	Long: `Merge a single key into the cost ConfigMap. Other keys are left untouched.

Example usage:
  capacityctl config set e2e-resource 3`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.EditConfig(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s=%s\n", args[0], args[1])
			return nil
		})
	},
}

var replicasCmd = &cobra.Command{
	Use:   "replicas <count>",
	Short: "Scale the build deployment",
	Long: `Set the desired replica count of the build deployment.

Example usage:
  capacityctl replicas 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.SetReplicas(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deployment scaled to %s\n", args[0])
			return nil
		})
	},
}

func init() {
	labelCmd.Flags().BoolVar(&labelEnabled, "enabled", true,
		"Set the label (true) or remove it (false)")
	configCmd.AddCommand(configSetCmd)
}

// withEngine runs fn against an engine that is never started: mutations do
// not need the mirrors.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}

	eng, err := engine.New(env.client, env.cfg, env.logger, nil)
	if err != nil {
		return err
	}
	defer eng.Stop()

	return fn(cmd.Context(), eng)
}
