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

package engine

import (
	"fmt"
	"time"

	pkgevents "ci-capacity/pkg/events"
	"ci-capacity/pkg/introspection"
)

// debugEventLimit caps the events variable.
const debugEventLimit = 100

// DebugEvent is the journal entry shape served by the events variable.
type DebugEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
}

// RegisterDebugVars publishes the engine state on registry:
//
//   - summary: totals, costs and the per-node breakdown
//   - nodes, pods: mirrored records
//   - config: cost ConfigMap values
//   - deployment: desired replica count of the build deployment
//   - sessions: sync state and terminal failure per resource
//   - events: the most recent journal entries
//   - uptime: time since registration
func (e *Engine) RegisterDebugVars(registry *introspection.Registry) {
	registry.Publish("summary", introspection.Func(func() (any, error) {
		s := e.aggregator.Summarize()
		nodes := make([]map[string]any, 0, len(s.Nodes))
		for _, n := range s.Nodes {
			nodes = append(nodes, map[string]any{
				"name":     n.Name,
				"capacity": n.Capacity,
				"used":     n.Used,
				"pods":     n.Pods,
			})
		}
		return map[string]any{
			"available":   s.Available,
			"used":        s.Used,
			"free":        s.Free(),
			"e2e_cost":    s.E2ECost,
			"pr_cost":     s.PRCost,
			"e2e_pods":    s.E2EPods,
			"pr_pods":     s.PRPods,
			"unscheduled": s.Unscheduled,
			"nodes":       nodes,
		}, nil
	}))

	registry.Publish("nodes", introspection.Func(func() (any, error) {
		records := e.Nodes()
		out := make([]map[string]any, 0, len(records))
		for _, n := range records {
			out = append(out, map[string]any{"name": n.Name, "labels": n.Labels})
		}
		return out, nil
	}))

	registry.Publish("pods", introspection.Func(func() (any, error) {
		records := e.Pods()
		out := make([]map[string]any, 0, len(records))
		for _, p := range records {
			out = append(out, map[string]any{
				"name":      p.Name,
				"namespace": p.Namespace,
				"node":      p.NodeName,
			})
		}
		return out, nil
	}))

	registry.Publish("config", introspection.Func(func() (any, error) {
		values, found := e.ConfigValues()
		return map[string]any{
			"name":      e.cfg.Tracking.ConfigMapName,
			"namespace": e.cfg.Tracking.ConfigMapNamespace,
			"found":     found,
			"data":      values,
		}, nil
	}))

	registry.Publish("deployment", introspection.Func(func() (any, error) {
		out := map[string]any{
			"name":      e.cfg.Tracking.DeploymentName,
			"namespace": e.cfg.Tracking.DeploymentNamespace,
		}
		if replicas, ok := e.DeploymentReplicas(); ok {
			out["replicas"] = replicas
		}
		return out, nil
	}))

	registry.Publish("sessions", introspection.Func(func() (any, error) {
		failures := e.Failures()
		out := make(map[string]any, len(e.sessions))
		for _, s := range e.sessions {
			state := map[string]any{"synced": s.IsSynced()}
			if err, ok := failures[s.resource]; ok {
				state["error"] = err.Error()
			}
			out[s.resource] = state
		}
		return out, nil
	}))

	registry.Publish("events", introspection.Func(func() (any, error) {
		recent := e.journal.GetLast(debugEventLimit)
		out := make([]DebugEvent, 0, len(recent))
		for _, event := range recent {
			out = append(out, DebugEvent{
				Timestamp: event.Timestamp(),
				Type:      event.EventType(),
				Summary:   describeEvent(event),
			})
		}
		return out, nil
	}))

	startTime := time.Now()
	registry.Publish("uptime", introspection.Func(func() (any, error) {
		uptime := time.Since(startTime)
		return map[string]any{
			"started":        startTime,
			"uptime_seconds": uptime.Seconds(),
			"uptime_string":  uptime.Round(time.Second).String(),
		}, nil
	}))
}

// describeEvent renders a one-line summary of an engine event.
func describeEvent(event pkgevents.Event) string {
	switch e := event.(type) {
	case *MirrorSyncedEvent:
		return fmt.Sprintf("%s synced with %d records", e.Resource, e.Count)
	case *MirrorResyncedEvent:
		return fmt.Sprintf("%s resynced with %d records", e.Resource, e.Count)
	case *MirrorChangedEvent:
		return fmt.Sprintf("%s changed: created=%d modified=%d deleted=%d",
			e.Resource, e.Stats.Created, e.Stats.Modified, e.Stats.Deleted)
	case *SessionFailedEvent:
		return fmt.Sprintf("%s session failed: %v", e.Resource, e.Err)
	case *MutationAppliedEvent:
		return fmt.Sprintf("%s %s: %s=%s", e.Operation, e.Target, e.Key, e.Value)
	case *MutationFailedEvent:
		return fmt.Sprintf("%s %s failed: %v", e.Operation, e.Target, e.Err)
	default:
		return event.EventType()
	}
}
