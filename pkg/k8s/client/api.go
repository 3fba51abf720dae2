package client

import (
	"context"
	"fmt"
	"reflect"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	apitypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"ci-capacity/pkg/k8s/types"
)

// Ref identifies a single named resource. Namespace is empty for cluster-scoped kinds.
type Ref struct {
	Name      string
	Namespace string
}

func (r Ref) String() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "/" + r.Name
}

// ResourceAPI is the cluster boundary for one resource kind.
//
// Implementations return records converted from the typed API objects, so that
// nothing above this package handles runtime.Object values except through Convert.
type ResourceAPI[T any] interface {
	// Resource returns the plural resource name, e.g. "nodes".
	Resource() string

	// List returns all items and the list resource version to resume watching from.
	List(ctx context.Context, namespace string, opts metav1.ListOptions) ([]T, string, error)

	// Get fetches one item. A missing item yields an error satisfying apierrors.IsNotFound.
	Get(ctx context.Context, ref Ref) (T, error)

	// Watch opens a change stream. The caller owns the returned handle and must Stop it.
	Watch(ctx context.Context, namespace string, opts metav1.ListOptions) (watch.Interface, error)

	// Patch submits a partial update and returns the updated item.
	Patch(ctx context.Context, ref Ref, patchType apitypes.PatchType, data []byte) (T, error)

	// Convert turns a watch event object into a record. It returns false for
	// objects of another type and for empty (heartbeat) payloads.
	Convert(obj runtime.Object) (T, bool)
}

// typedAPI adapts one typed client-go resource interface to ResourceAPI.
type typedAPI[O runtime.Object, T any] struct {
	resource string
	list     func(ctx context.Context, namespace string, opts metav1.ListOptions) ([]O, string, error)
	get      func(ctx context.Context, namespace, name string) (O, error)
	watch    func(ctx context.Context, namespace string, opts metav1.ListOptions) (watch.Interface, error)
	patch    func(ctx context.Context, namespace, name string, pt apitypes.PatchType, data []byte) (O, error)
	convert  func(O) T
}

func (a *typedAPI[O, T]) Resource() string { return a.resource }

func (a *typedAPI[O, T]) List(ctx context.Context, namespace string, opts metav1.ListOptions) ([]T, string, error) {
	objs, rv, err := a.list(ctx, namespace, opts)
	if err != nil {
		return nil, "", &ClientError{
			Operation: fmt.Sprintf("list %s%s", a.resource, inNamespace(namespace)),
			Err:       err,
		}
	}

	items := make([]T, 0, len(objs))
	for _, obj := range objs {
		items = append(items, a.convert(obj))
	}
	return items, rv, nil
}

func (a *typedAPI[O, T]) Get(ctx context.Context, ref Ref) (T, error) {
	obj, err := a.get(ctx, ref.Namespace, ref.Name)
	if err != nil {
		var zero T
		return zero, &ClientError{
			Operation: fmt.Sprintf("get %s %s", a.resource, ref),
			Err:       err,
		}
	}
	return a.convert(obj), nil
}

func (a *typedAPI[O, T]) Watch(ctx context.Context, namespace string, opts metav1.ListOptions) (watch.Interface, error) {
	w, err := a.watch(ctx, namespace, opts)
	if err != nil {
		return nil, &ClientError{
			Operation: fmt.Sprintf("watch %s%s", a.resource, inNamespace(namespace)),
			Err:       err,
		}
	}
	return w, nil
}

func (a *typedAPI[O, T]) Patch(ctx context.Context, ref Ref, patchType apitypes.PatchType, data []byte) (T, error) {
	obj, err := a.patch(ctx, ref.Namespace, ref.Name, patchType, data)
	if err != nil {
		var zero T
		return zero, &ClientError{
			Operation: fmt.Sprintf("patch %s %s", a.resource, ref),
			Err:       err,
		}
	}
	return a.convert(obj), nil
}

func (a *typedAPI[O, T]) Convert(obj runtime.Object) (T, bool) {
	var zero T
	if obj == nil {
		return zero, false
	}
	typed, ok := obj.(O)
	if !ok || isNilPointer(typed) {
		return zero, false
	}
	return a.convert(typed), true
}

// isNilPointer reports whether obj is a typed nil, which watch streams may
// carry for events without an item.
func isNilPointer(obj any) bool {
	v := reflect.ValueOf(obj)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func inNamespace(namespace string) string {
	if namespace == "" {
		return ""
	}
	return " in namespace " + namespace
}

func newNodeAPI(cs kubernetes.Interface) *typedAPI[*corev1.Node, types.NodeRecord] {
	return &typedAPI[*corev1.Node, types.NodeRecord]{
		resource: "nodes",
		list: func(ctx context.Context, _ string, opts metav1.ListOptions) ([]*corev1.Node, string, error) {
			list, err := cs.CoreV1().Nodes().List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			out := make([]*corev1.Node, 0, len(list.Items))
			for i := range list.Items {
				out = append(out, &list.Items[i])
			}
			return out, list.ResourceVersion, nil
		},
		get: func(ctx context.Context, _, name string) (*corev1.Node, error) {
			return cs.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
		},
		watch: func(ctx context.Context, _ string, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.CoreV1().Nodes().Watch(ctx, opts)
		},
		patch: func(ctx context.Context, _, name string, pt apitypes.PatchType, data []byte) (*corev1.Node, error) {
			return cs.CoreV1().Nodes().Patch(ctx, name, pt, data, metav1.PatchOptions{})
		},
		convert: types.NodeFromObject,
	}
}

func newPodAPI(cs kubernetes.Interface) *typedAPI[*corev1.Pod, types.PodRecord] {
	return &typedAPI[*corev1.Pod, types.PodRecord]{
		resource: "pods",
		list: func(ctx context.Context, namespace string, opts metav1.ListOptions) ([]*corev1.Pod, string, error) {
			list, err := cs.CoreV1().Pods(namespace).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			out := make([]*corev1.Pod, 0, len(list.Items))
			for i := range list.Items {
				out = append(out, &list.Items[i])
			}
			return out, list.ResourceVersion, nil
		},
		get: func(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
			return cs.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
		},
		watch: func(ctx context.Context, namespace string, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.CoreV1().Pods(namespace).Watch(ctx, opts)
		},
		patch: func(ctx context.Context, namespace, name string, pt apitypes.PatchType, data []byte) (*corev1.Pod, error) {
			return cs.CoreV1().Pods(namespace).Patch(ctx, name, pt, data, metav1.PatchOptions{})
		},
		convert: types.PodFromObject,
	}
}

func newConfigMapAPI(cs kubernetes.Interface) *typedAPI[*corev1.ConfigMap, types.ConfigRecord] {
	return &typedAPI[*corev1.ConfigMap, types.ConfigRecord]{
		resource: "configmaps",
		list: func(ctx context.Context, namespace string, opts metav1.ListOptions) ([]*corev1.ConfigMap, string, error) {
			list, err := cs.CoreV1().ConfigMaps(namespace).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			out := make([]*corev1.ConfigMap, 0, len(list.Items))
			for i := range list.Items {
				out = append(out, &list.Items[i])
			}
			return out, list.ResourceVersion, nil
		},
		get: func(ctx context.Context, namespace, name string) (*corev1.ConfigMap, error) {
			return cs.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
		},
		watch: func(ctx context.Context, namespace string, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.CoreV1().ConfigMaps(namespace).Watch(ctx, opts)
		},
		patch: func(ctx context.Context, namespace, name string, pt apitypes.PatchType, data []byte) (*corev1.ConfigMap, error) {
			return cs.CoreV1().ConfigMaps(namespace).Patch(ctx, name, pt, data, metav1.PatchOptions{})
		},
		convert: types.ConfigFromObject,
	}
}

func newDeploymentAPI(cs kubernetes.Interface) *typedAPI[*appsv1.Deployment, types.DeploymentRecord] {
	return &typedAPI[*appsv1.Deployment, types.DeploymentRecord]{
		resource: "deployments",
		list: func(ctx context.Context, namespace string, opts metav1.ListOptions) ([]*appsv1.Deployment, string, error) {
			list, err := cs.AppsV1().Deployments(namespace).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			out := make([]*appsv1.Deployment, 0, len(list.Items))
			for i := range list.Items {
				out = append(out, &list.Items[i])
			}
			return out, list.ResourceVersion, nil
		},
		get: func(ctx context.Context, namespace, name string) (*appsv1.Deployment, error) {
			return cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		},
		watch: func(ctx context.Context, namespace string, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.AppsV1().Deployments(namespace).Watch(ctx, opts)
		},
		patch: func(ctx context.Context, namespace, name string, pt apitypes.PatchType, data []byte) (*appsv1.Deployment, error) {
			return cs.AppsV1().Deployments(namespace).Patch(ctx, name, pt, data, metav1.PatchOptions{})
		},
		convert: types.DeploymentFromObject,
	}
}
