package reflector

import (
	"context"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

func TestDynamicSource(t *testing.T) {
	podsGVR := schema.GroupVersionResource{Version: "v1", Resource: "pods"}
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{podsGVR: "PodList"},
		newPod("existing", "u1"),
	)
	mapper := meta.NewDefaultRESTMapper(nil)
	mapper.Add(podKind, meta.RESTScopeNamespace)

	src := &DynamicSource{Client: client, Mapper: mapper}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := src.ListWatch(ctx, podKind)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	next := func() watch.Event {
		t.Helper()
		select {
		case ev, ok := <-w.ResultChan():
			if !ok {
				t.Fatalf("stream closed")
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event")
		}
		return watch.Event{}
	}

	ev := next()
	if ev.Type != watch.Added || ev.Object.(metav1.Object).GetName() != "existing" {
		t.Fatalf("expected listed pod as Added, got %s %v", ev.Type, ev.Object)
	}

	if _, err := client.Resource(podsGVR).Namespace("default").Create(ctx, newPod("created", "u2"), metav1.CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	ev = next()
	if ev.Type != watch.Added || ev.Object.(metav1.Object).GetName() != "created" {
		t.Fatalf("expected created pod, got %s %v", ev.Type, ev.Object)
	}
}

func TestDynamicSourceUnknownKind(t *testing.T) {
	src := &DynamicSource{
		Client: dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()),
		Mapper: meta.NewDefaultRESTMapper(nil),
	}
	if _, err := src.ListWatch(context.Background(), widgetKind); err == nil {
		t.Fatalf("expected mapping error")
	}
}
