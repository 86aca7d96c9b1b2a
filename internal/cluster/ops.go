package cluster

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

// Deleter deletes objects through the dynamic client.
type Deleter struct {
	Client dynamic.Interface
	Mapper meta.RESTMapper
}

func (d *Deleter) Delete(ctx context.Context, kind schema.GroupVersionKind, namespace, name string) error {
	mapping, err := d.Mapper.RESTMapping(kind.GroupKind(), kind.Version)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", kind, err)
	}
	var ri dynamic.ResourceInterface = d.Client.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ri = d.Client.Resource(mapping.Resource).Namespace(namespace)
	}
	return ri.Delete(ctx, name, metav1.DeleteOptions{})
}

// LogStreamer follows container logs line by line.
type LogStreamer struct {
	Client kubernetes.Interface
	// TailLines limits the initial backlog. Zero means everything.
	TailLines int64
}

// Stream calls fn for every log line until the stream ends or ctx is done.
func (s *LogStreamer) Stream(ctx context.Context, namespace, pod, container string, fn func(line string)) error {
	opts := &corev1.PodLogOptions{Container: container, Follow: true}
	if s.TailLines > 0 {
		opts.TailLines = &s.TailLines
	}
	rc, err := s.Client.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return fmt.Errorf("logs %s/%s: %w", namespace, pod, err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		fn(sc.Text())
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// PortForwarder forwards local ports to a pod over SPDY.
type PortForwarder struct {
	Config *rest.Config
	Client kubernetes.Interface
	Log    logr.Logger
}

// Forward listens on local (0 picks a free port) and forwards to remote on
// the pod until ctx is done. ready is called with the bound local port.
func (f *PortForwarder) Forward(ctx context.Context, namespace, pod string, local, remote uint16, ready func(local uint16)) error {
	transport, upgrader, err := spdy.RoundTripperFor(f.Config)
	if err != nil {
		return fmt.Errorf("spdy round tripper: %w", err)
	}
	url := f.Client.CoreV1().RESTClient().Post().
		Resource("pods").Namespace(namespace).Name(pod).
		SubResource("portforward").URL()
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, url)

	readyCh := make(chan struct{})
	out := &logWriter{log: f.Log.WithValues("pod", namespace+"/"+pod)}
	fw, err := portforward.NewOnAddresses(dialer, []string{"localhost"}, []string{fmt.Sprintf("%d:%d", local, remote)}, ctx.Done(), readyCh, out, out)
	if err != nil {
		return fmt.Errorf("port-forward %s/%s: %w", namespace, pod, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- fw.ForwardPorts() }()
	select {
	case <-readyCh:
		if ports, err := fw.GetPorts(); err == nil && len(ports) > 0 && ready != nil {
			ready(ports[0].Local)
		}
	case err := <-errCh:
		return err
	}
	return <-errCh
}

// logWriter turns port-forward output into log lines.
type logWriter struct {
	log logr.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.log.V(1).Info(line)
		}
	}
	return len(p), nil
}

var _ io.Writer = &logWriter{}
