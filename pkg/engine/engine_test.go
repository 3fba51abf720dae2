package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	kubefake "k8s.io/client-go/kubernetes/fake"
	clienttesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"

	"ci-capacity/pkg/core/config"
	pkgevents "ci-capacity/pkg/events"
	"ci-capacity/pkg/k8s/client"
	"ci-capacity/pkg/k8s/watcher"
	"ci-capacity/pkg/mutation"
)

// fakeCluster serves listings from the clientset tracker and hands out one
// controllable fake watcher per opened watch.
type fakeCluster struct {
	clientset *kubefake.Clientset
	watchers  map[string]chan *watch.FakeWatcher
}

func newFakeCluster(objects ...runtime.Object) *fakeCluster {
	c := &fakeCluster{
		clientset: kubefake.NewSimpleClientset(objects...),
		watchers:  make(map[string]chan *watch.FakeWatcher),
	}
	for _, resource := range []string{"nodes", "pods", "configmaps", "deployments"} {
		c.watchers[resource] = make(chan *watch.FakeWatcher, 16)
	}

	c.clientset.PrependWatchReactor("*", func(action clienttesting.Action) (bool, watch.Interface, error) {
		fw := watch.NewFakeWithChanSize(16, false)
		c.watchers[action.GetResource().Resource] <- fw
		return true, fw, nil
	})
	return c
}

func (c *fakeCluster) nextWatcher(t *testing.T, resource string) *watch.FakeWatcher {
	t.Helper()
	select {
	case fw := <-c.watchers[resource]:
		return fw
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s watch", resource)
		return nil
	}
}

func (c *fakeCluster) patches() int {
	n := 0
	for _, action := range c.clientset.Actions() {
		if action.GetVerb() == "patch" {
			n++
		}
	}
	return n
}

// ciObjects is a cluster with capacity 3+1 and four scheduled capacity units:
// one e2e pod (cost 2) and two pr pods (cost 1 each).
func ciObjects() []runtime.Object {
	return []runtime.Object{
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "n1", Labels: map[string]string{"scheduler/jenkins": "3", "jenkins/worker": ""}}},
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "n2", Labels: map[string]string{"scheduler/jenkins": "1"}}},
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "n3"}},
		pod("jenkins", "build-e2e-1", "n1"),
		pod("jenkins", "pr-12", "n1"),
		pod("jenkins", "pr-13", "n2"),
		pod("jenkins", "pr-pending", ""),
		pod("other", "pr-elsewhere", "n2"),
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "ci-resources", Namespace: "jenkins"},
			Data:       map[string]string{"e2e-resource": "2", "pr-resource": "1"},
		},
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "kube0", Namespace: "buildkit"},
			Spec:       appsv1.DeploymentSpec{Replicas: ptr.To[int32](2)},
		},
	}
}

func pod(namespace, name, nodeName string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       corev1.PodSpec{NodeName: nodeName},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Watch.InitialBackoff = "1ms"
	cfg.Watch.MaxBackoff = "5ms"
	cfg.Watch.MaxRetries = 3
	cfg.Watch.DebounceInterval = "1ms"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, c *fakeCluster, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(client.NewFromClientset(c.clientset), cfg, quietLogger(), nil)
	require.NoError(t, err)
	return e
}

// startEngine starts e in the background and waits for every mirror to sync.
func startEngine(t *testing.T, e *Engine) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(context.Background())
	}()
	t.Cleanup(e.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitForSync(ctx))
	return errCh
}

func waitForEvent[E pkgevents.Event](t *testing.T, sub *pkgevents.Subscription) E {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if e, ok := event.(E); ok {
				return e
			}
		case <-timeout:
			var zero E
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Tracking.E2ECostKey = cfg.Tracking.PRCostKey
	_, err = New(client.NewFromClientset(kubefake.NewSimpleClientset()), cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestEngine_SyncAndAccounting(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)

	assert.True(t, e.Ready())
	assert.Equal(t, int64(4), e.Available())
	assert.Equal(t, int64(4), e.Used())

	assert.Len(t, e.Nodes(), 3)
	assert.Len(t, e.Pods(), 4, "pods outside the tracked namespace are not mirrored")

	values, ok := e.ConfigValues()
	require.True(t, ok)
	assert.Equal(t, map[string]string{"e2e-resource": "2", "pr-resource": "1"}, values)

	replicas, ok := e.DeploymentReplicas()
	require.True(t, ok)
	assert.Equal(t, int32(2), replicas)

	summary := e.Summary()
	assert.Equal(t, int64(0), summary.Free())
	assert.Equal(t, 1, summary.E2EPods)
	assert.Equal(t, 2, summary.PRPods)
	assert.Equal(t, 1, summary.Unscheduled)
	assert.Equal(t, float64(4), testutil.ToFloat64(e.Metrics().CapacityAvailable))
	assert.Equal(t, float64(4), testutil.ToFloat64(e.Metrics().CapacityUsed))
}

func TestEngine_FieldSelectorsTargetSingleObjects(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)

	selectors := map[string]string{}
	for _, action := range c.clientset.Actions() {
		list, ok := action.(clienttesting.ListAction)
		if !ok {
			continue
		}
		if fields := list.GetListRestrictions().Fields; fields != nil && !fields.Empty() {
			selectors[action.GetResource().Resource] = fields.String()
		}
	}
	assert.Equal(t, map[string]string{
		"configmaps":  "metadata.name=ci-resources",
		"deployments": "metadata.name=kube0",
	}, selectors)
}

func TestEngine_MutationVisibleOnlyAfterWatchEvent(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)
	nodeWatch := c.nextWatcher(t, "nodes")

	require.NoError(t, e.ToggleNodeLabel(context.Background(), "n2", "docker/buildkit", true))

	remote, err := c.clientset.CoreV1().Nodes().Get(context.Background(), "n2", metav1.GetOptions{})
	require.NoError(t, err)
	_, ok := remote.Labels["docker/buildkit"]
	require.True(t, ok)

	mirrored := e.Nodes()[1]
	require.Equal(t, "n2", mirrored.Name)
	assert.False(t, mirrored.HasLabel("docker/buildkit"), "mirror must not change before the watch event")

	nodeWatch.Modify(remote)

	assert.Eventually(t, func() bool {
		return e.Nodes()[1].HasLabel("docker/buildkit")
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngine_ChangeEventsUpdateAccounting(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)
	podWatch := c.nextWatcher(t, "pods")

	sub := e.Subscribe(64)
	defer sub.Unsubscribe()

	podWatch.Add(pod("jenkins", "nightly-e2e-7", "n2"))

	changed := waitForEvent[*MirrorChangedEvent](t, sub)
	assert.Equal(t, "pods", changed.Resource)
	assert.Equal(t, 1, changed.Stats.Created)
	assert.Equal(t, int64(6), e.Used())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.Metrics().CapacityUsed) == 6
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngine_CommandsPatchCluster(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)
	ctx := context.Background()

	sub := e.Subscribe(64)
	defer sub.Unsubscribe()

	require.NoError(t, e.SetNodeCapacity(ctx, "n3", "5"))
	applied := waitForEvent[*MutationAppliedEvent](t, sub)
	assert.Equal(t, mutation.OpSetCapacity, applied.Operation)
	assert.Equal(t, "nodes/n3", applied.Target)

	require.NoError(t, e.EditConfig(ctx, "pr-resource", "3"))
	require.NoError(t, e.SetReplicas(ctx, "4"))

	node, err := c.clientset.CoreV1().Nodes().Get(ctx, "n3", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "5", node.Labels["scheduler/jenkins"])

	cm, err := c.clientset.CoreV1().ConfigMaps("jenkins").Get(ctx, "ci-resources", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "3", cm.Data["pr-resource"])

	deploy, err := c.clientset.AppsV1().Deployments("buildkit").Get(ctx, "kube0", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(4), *deploy.Spec.Replicas)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.Metrics().MutationsTotal.WithLabelValues(mutation.OpScale)) == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngine_InvalidCommandsNeverPatch(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)
	ctx := context.Background()

	sub := e.Subscribe(64)
	defer sub.Unsubscribe()

	err := e.ToggleNodeLabel(ctx, "n1", "scheduler/jenkins", false)
	assert.ErrorIs(t, err, mutation.ErrValidation)

	failed := waitForEvent[*MutationFailedEvent](t, sub)
	assert.Equal(t, mutation.OpToggleLabel, failed.Operation)
	assert.ErrorIs(t, failed.Err, mutation.ErrValidation)

	assert.ErrorIs(t, e.SetReplicas(ctx, "three"), mutation.ErrValidation)
	assert.ErrorIs(t, e.SetReplicas(ctx, "-1"), mutation.ErrValidation)
	assert.ErrorIs(t, e.SetNodeCapacity(ctx, "n1", "lots"), mutation.ErrValidation)
	assert.ErrorIs(t, e.EditConfig(ctx, "bad key", "1"), mutation.ErrValidation)

	assert.Zero(t, c.patches())
}

func TestEngine_RemoteFailureIsReported(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)

	err := e.SetNodeCapacity(context.Background(), "missing", "2")
	require.Error(t, err)
	assert.True(t, apierrors.IsNotFound(err))

	var mutationErr *mutation.MutationError
	require.ErrorAs(t, err, &mutationErr)
	assert.Equal(t, "nodes/missing", mutationErr.Target)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.Metrics().MutationErrors.WithLabelValues(mutation.OpSetCapacity)) == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngine_ResyncDropsRecordsDeletedWhileDisconnected(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)
	nodeWatch := c.nextWatcher(t, "nodes")

	sub := e.Subscribe(64)
	defer sub.Unsubscribe()

	require.NoError(t, c.clientset.CoreV1().Nodes().Delete(context.Background(), "n2", metav1.DeleteOptions{}))
	assert.Len(t, e.Nodes(), 3)

	nodeWatch.Stop()

	resynced := waitForEvent[*MirrorResyncedEvent](t, sub)
	assert.Equal(t, "nodes", resynced.Resource)
	assert.Equal(t, 2, resynced.Count)

	_ = c.nextWatcher(t, "nodes")
	assert.Len(t, e.Nodes(), 2)
	assert.Equal(t, int64(3), e.Available())
}

func TestEngine_RecentEvents(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)

	assert.Eventually(t, func() bool {
		synced := map[string]bool{}
		for _, event := range e.RecentEvents(100) {
			if s, ok := event.(*MirrorSyncedEvent); ok {
				synced[s.Resource] = true
			}
		}
		return len(synced) == 4
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngine_IndependentInstances(t *testing.T) {
	first := newFakeCluster(ciObjects()...)
	second := newFakeCluster(
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "solo", Labels: map[string]string{"scheduler/jenkins": "10"}}},
	)

	a := newTestEngine(t, first, testConfig())
	b := newTestEngine(t, second, testConfig())
	startEngine(t, a)
	startEngine(t, b)

	assert.Equal(t, int64(4), a.Available())
	assert.Equal(t, int64(10), b.Available())

	_, ok := b.ConfigValues()
	assert.False(t, ok)
	_, ok = b.DeploymentReplicas()
	assert.False(t, ok)
	assert.Equal(t, int64(0), b.Used())
}

func TestEngine_TerminalSessionFailure(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	c.clientset.PrependReactor("list", "deployments", func(clienttesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewServiceUnavailable("api server unavailable")
	})

	cfg := testConfig()
	cfg.Watch.MaxRetries = 1
	e := newTestEngine(t, c, cfg)
	defer e.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(context.Background())
	}()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after terminal session failure")
	}

	var terminal *watcher.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "deployments", terminal.Resource)
	assert.Equal(t, 2, terminal.Attempts)
	assert.True(t, apierrors.IsServiceUnavailable(err))

	assert.Contains(t, e.Failures(), "deployments")
	assert.False(t, e.Ready())

	var failed *SessionFailedEvent
	for _, event := range e.RecentEvents(100) {
		if f, ok := event.(*SessionFailedEvent); ok {
			failed = f
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "deployments", failed.Resource)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.Metrics().SessionFailures.WithLabelValues("deployments")))
}

func TestEngine_StartTwice(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	startEngine(t, e)

	err := e.Start(context.Background())
	assert.EqualError(t, err, "engine already started")
}

func TestEngine_StopIsIdempotentAndLeakFree(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	errCh := startEngine(t, e)

	e.Stop()
	e.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	assert.NoError(t, e.Start(context.Background()), "Start after Stop is a no-op")
}

func TestEngine_ContextCancellation(t *testing.T) {
	c := newFakeCluster(ciObjects()...)
	e := newTestEngine(t, c, testConfig())
	defer e.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(ctx)
	}()

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer syncCancel()
	require.NoError(t, e.WaitForSync(syncCtx))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
