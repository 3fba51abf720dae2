// Package capacity derives the cluster's CI capacity accounting from the
// node, pod and config mirrors.
//
// Every value is recomputed from the current mirror contents on each call.
// Mirrors are read one after another without a shared lock, so a result may
// combine node and pod snapshots taken at slightly different moments.
package capacity

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"ci-capacity/pkg/k8s/types"
)

// Default classification settings.
const (
	DefaultCapacityLabel = "scheduler/jenkins"
	DefaultConfigName    = "ci-resources"
	DefaultE2ECostKey    = "e2e-resource"
	DefaultPRCostKey     = "pr-resource"
	DefaultE2EMatch      = "e2e"
)

// NodeLister returns a point-in-time copy of all nodes.
type NodeLister interface {
	List() []types.NodeRecord
}

// PodLister returns a point-in-time copy of all pods.
type PodLister interface {
	List() []types.PodRecord
}

// ConfigGetter looks up the config object by name.
type ConfigGetter interface {
	Get(name string) (types.ConfigRecord, bool)
}

// Settings selects the label and config keys the aggregator reads.
type Settings struct {
	// CapacityLabel is the node label holding the node's capacity as an integer string.
	CapacityLabel string

	// ConfigName is the name of the config object holding the per-class costs.
	ConfigName string

	// E2ECostKey and PRCostKey are the config keys holding the cost per pod class.
	E2ECostKey string
	PRCostKey  string

	// E2EMatch classifies a pod as end-to-end when its name contains it.
	E2EMatch string
}

func (s *Settings) setDefaults() {
	if s.CapacityLabel == "" {
		s.CapacityLabel = DefaultCapacityLabel
	}
	if s.ConfigName == "" {
		s.ConfigName = DefaultConfigName
	}
	if s.E2ECostKey == "" {
		s.E2ECostKey = DefaultE2ECostKey
	}
	if s.PRCostKey == "" {
		s.PRCostKey = DefaultPRCostKey
	}
	if s.E2EMatch == "" {
		s.E2EMatch = DefaultE2EMatch
	}
}

// PodClass is the cost class of a pod.
type PodClass int

const (
	// ClassPR is the default class for pull-request builds.
	ClassPR PodClass = iota

	// ClassE2E is the class for end-to-end test runs.
	ClassE2E
)

func (c PodClass) String() string {
	if c == ClassE2E {
		return "e2e"
	}
	return "pr"
}

// Aggregator computes available and used capacity over the mirrors.
// It holds no state of its own.
type Aggregator struct {
	settings Settings
	nodes    NodeLister
	pods     PodLister
	config   ConfigGetter
}

// New creates an aggregator over the given mirrors. Empty settings fall back
// to the defaults.
func New(settings Settings, nodes NodeLister, pods PodLister, config ConfigGetter) *Aggregator {
	settings.setDefaults()
	return &Aggregator{
		settings: settings,
		nodes:    nodes,
		pods:     pods,
		config:   config,
	}
}

// Settings returns the effective settings.
func (a *Aggregator) Settings() Settings {
	return a.settings
}

// ParseQuantity parses a label or config value as a base-10 integer.
// Surrounding whitespace is ignored. Missing and malformed values yield 0.
func ParseQuantity(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Classify returns the cost class of the named pod.
func (a *Aggregator) Classify(podName string) PodClass {
	if strings.Contains(podName, a.settings.E2EMatch) {
		return ClassE2E
	}
	return ClassPR
}

// NodeCapacity returns the capacity advertised by one node.
func (a *Aggregator) NodeCapacity(node types.NodeRecord) int64 {
	value, ok := node.Label(a.settings.CapacityLabel)
	if !ok {
		return 0
	}
	return ParseQuantity(value)
}

// Available sums the capacity label over all nodes.
func (a *Aggregator) Available() int64 {
	var total int64
	for _, node := range a.nodes.List() {
		total = addSaturating(total, a.NodeCapacity(node))
	}
	return total
}

// Costs returns the configured cost of an end-to-end pod and a pull-request pod.
// Both are 0 while the config object has not been observed.
func (a *Aggregator) Costs() (e2e, pr int64) {
	cfg, ok := a.config.Get(a.settings.ConfigName)
	if !ok {
		return 0, 0
	}
	e2eValue, _ := cfg.Setting(a.settings.E2ECostKey)
	prValue, _ := cfg.Setting(a.settings.PRCostKey)
	return ParseQuantity(e2eValue), ParseQuantity(prValue)
}

// Used sums the cost of every scheduled pod. Unscheduled pods cost nothing.
func (a *Aggregator) Used() int64 {
	e2eCost, prCost := a.Costs()

	var total int64
	for _, pod := range a.pods.List() {
		if !pod.Scheduled() {
			continue
		}
		total = addSaturating(total, a.cost(pod.Name, e2eCost, prCost))
	}
	return total
}

func (a *Aggregator) cost(podName string, e2eCost, prCost int64) int64 {
	if a.Classify(podName) == ClassE2E {
		return e2eCost
	}
	return prCost
}

// NodeUsage is the accounting of a single node.
type NodeUsage struct {
	Name     string
	Capacity int64
	Used     int64
	Pods     int
}

// Summary is a combined accounting view.
type Summary struct {
	Available int64
	Used      int64
	E2ECost   int64
	PRCost    int64

	Nodes       []NodeUsage
	E2EPods     int
	PRPods      int
	Unscheduled int
}

// Free returns the remaining capacity. It is negative when the cluster is overcommitted.
func (s Summary) Free() int64 {
	if s.Used == math.MinInt64 {
		return math.MaxInt64
	}
	return addSaturating(s.Available, -s.Used)
}

// addSaturating returns a+b clamped to the int64 range.
func addSaturating(a, b int64) int64 {
	sum := a + b
	switch {
	case b > 0 && sum < a:
		return math.MaxInt64
	case b < 0 && sum > a:
		return math.MinInt64
	}
	return sum
}

// Summarize computes the totals along with a per-node breakdown sorted by
// node name. Pods scheduled onto nodes that are not in the node mirror are
// counted in Used but have no NodeUsage entry.
func (a *Aggregator) Summarize() Summary {
	e2eCost, prCost := a.Costs()
	summary := Summary{E2ECost: e2eCost, PRCost: prCost}

	byNode := make(map[string]*NodeUsage)
	for _, node := range a.nodes.List() {
		capacity := a.NodeCapacity(node)
		summary.Available = addSaturating(summary.Available, capacity)
		byNode[node.Name] = &NodeUsage{Name: node.Name, Capacity: capacity}
	}

	for _, pod := range a.pods.List() {
		if !pod.Scheduled() {
			summary.Unscheduled++
			continue
		}
		if a.Classify(pod.Name) == ClassE2E {
			summary.E2EPods++
		} else {
			summary.PRPods++
		}

		cost := a.cost(pod.Name, e2eCost, prCost)
		summary.Used = addSaturating(summary.Used, cost)
		if usage, ok := byNode[pod.NodeName]; ok {
			usage.Used = addSaturating(usage.Used, cost)
			usage.Pods++
		}
	}

	summary.Nodes = make([]NodeUsage, 0, len(byNode))
	for _, usage := range byNode {
		summary.Nodes = append(summary.Nodes, *usage)
	}
	sort.Slice(summary.Nodes, func(i, j int) bool {
		return summary.Nodes[i].Name < summary.Nodes[j].Name
	})

	return summary
}
