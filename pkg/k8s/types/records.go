package types

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// NodeRecord is the mirrored view of a cluster node.
//
// Labels carry both capability flags (a key present with an empty value) and
// the string-encoded capacity value. A key that is present with an empty value
// and a key that is absent are different states and are kept distinct.
type NodeRecord struct {
	Name   string
	Labels map[string]string
}

// Key returns the node name.
func (n NodeRecord) Key() string { return n.Name }

// DeepCopy returns a copy with its own label map.
func (n NodeRecord) DeepCopy() NodeRecord {
	return NodeRecord{Name: n.Name, Labels: copyStringMap(n.Labels)}
}

// Label returns the value stored under key and whether the key is present at all.
func (n NodeRecord) Label(key string) (string, bool) {
	v, ok := n.Labels[key]
	return v, ok
}

// HasLabel reports whether key is present, regardless of its value.
func (n NodeRecord) HasLabel(key string) bool {
	_, ok := n.Labels[key]
	return ok
}

// PodRecord is the mirrored view of a pod.
type PodRecord struct {
	Name      string
	Namespace string

	// NodeName is the node the pod was assigned to. Empty means unscheduled.
	NodeName string
}

// Key returns the pod name.
func (p PodRecord) Key() string { return p.Name }

// DeepCopy returns a copy of the record.
func (p PodRecord) DeepCopy() PodRecord { return p }

// Scheduled reports whether the pod has been assigned to a node.
func (p PodRecord) Scheduled() bool { return p.NodeName != "" }

// ConfigRecord is the mirrored view of the settings ConfigMap.
type ConfigRecord struct {
	Name      string
	Namespace string
	Data      map[string]string
}

// Key returns the ConfigMap name.
func (c ConfigRecord) Key() string { return c.Name }

// DeepCopy returns a copy with its own data map.
func (c ConfigRecord) DeepCopy() ConfigRecord {
	return ConfigRecord{Name: c.Name, Namespace: c.Namespace, Data: copyStringMap(c.Data)}
}

// Setting returns the value stored under key and whether it is present.
func (c ConfigRecord) Setting(key string) (string, bool) {
	v, ok := c.Data[key]
	return v, ok
}

// DeploymentRecord is the mirrored view of a deployment.
type DeploymentRecord struct {
	Name      string
	Namespace string

	// Replicas is the desired replica count from the deployment spec.
	Replicas int32
}

// Key returns the deployment name.
func (d DeploymentRecord) Key() string { return d.Name }

// DeepCopy returns a copy of the record.
func (d DeploymentRecord) DeepCopy() DeploymentRecord { return d }

// NodeFromObject converts a typed Node into a NodeRecord.
func NodeFromObject(node *corev1.Node) NodeRecord {
	return NodeRecord{
		Name:   node.Name,
		Labels: copyStringMap(node.Labels),
	}
}

// PodFromObject converts a typed Pod into a PodRecord.
func PodFromObject(pod *corev1.Pod) PodRecord {
	return PodRecord{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		NodeName:  pod.Spec.NodeName,
	}
}

// ConfigFromObject converts a typed ConfigMap into a ConfigRecord.
func ConfigFromObject(cm *corev1.ConfigMap) ConfigRecord {
	return ConfigRecord{
		Name:      cm.Name,
		Namespace: cm.Namespace,
		Data:      copyStringMap(cm.Data),
	}
}

// DeploymentFromObject converts a typed Deployment into a DeploymentRecord.
// A nil spec.replicas defaults to 1, matching the API server default.
func DeploymentFromObject(d *appsv1.Deployment) DeploymentRecord {
	replicas := int32(1)
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	return DeploymentRecord{
		Name:      d.Name,
		Namespace: d.Namespace,
		Replicas:  replicas,
	}
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
