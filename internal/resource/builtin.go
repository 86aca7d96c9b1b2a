package resource

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Builtin returns the statically known kinds. The returned slice is fresh.
func Builtin() []Info {
	core := func(kind, res string, namespaced bool, newFn func() runtime.Object, status func(runtime.Object) string) Info {
		return Info{Kind: schema.GroupVersionKind{Version: "v1", Kind: kind}, Resource: res, Namespaced: namespaced, New: newFn, Status: status}
	}
	gv := func(group, version, kind, res string, newFn func() runtime.Object, status func(runtime.Object) string) Info {
		return Info{Kind: schema.GroupVersionKind{Group: group, Version: version, Kind: kind}, Resource: res, Namespaced: true, New: newFn, Status: status}
	}
	return []Info{
		core("Pod", "pods", true, func() runtime.Object { return &corev1.Pod{} }, podStatus),
		core("ConfigMap", "configmaps", true, func() runtime.Object { return &corev1.ConfigMap{} }, nil),
		core("Secret", "secrets", true, func() runtime.Object { return &corev1.Secret{} }, secretStatus),
		core("Service", "services", true, func() runtime.Object { return &corev1.Service{} }, serviceStatus),
		core("ServiceAccount", "serviceaccounts", true, func() runtime.Object { return &corev1.ServiceAccount{} }, nil),
		core("Event", "events", true, func() runtime.Object { return &corev1.Event{} }, eventStatus),
		core("PersistentVolumeClaim", "persistentvolumeclaims", true, func() runtime.Object { return &corev1.PersistentVolumeClaim{} }, pvcStatus),
		core("Namespace", "namespaces", false, func() runtime.Object { return &corev1.Namespace{} }, namespaceStatus),
		core("Node", "nodes", false, func() runtime.Object { return &corev1.Node{} }, nodeStatus),
		core("PersistentVolume", "persistentvolumes", false, func() runtime.Object { return &corev1.PersistentVolume{} }, pvStatus),
		gv("apps", "v1", "Deployment", "deployments", func() runtime.Object { return &appsv1.Deployment{} }, deploymentStatus),
		gv("apps", "v1", "StatefulSet", "statefulsets", func() runtime.Object { return &appsv1.StatefulSet{} }, statefulSetStatus),
		gv("apps", "v1", "DaemonSet", "daemonsets", func() runtime.Object { return &appsv1.DaemonSet{} }, daemonSetStatus),
		gv("apps", "v1", "ReplicaSet", "replicasets", func() runtime.Object { return &appsv1.ReplicaSet{} }, replicaSetStatus),
		gv("batch", "v1", "Job", "jobs", func() runtime.Object { return &batchv1.Job{} }, jobStatus),
		gv("batch", "v1", "CronJob", "cronjobs", func() runtime.Object { return &batchv1.CronJob{} }, cronJobStatus),
		gv("networking.k8s.io", "v1", "Ingress", "ingresses", func() runtime.Object { return &networkingv1.Ingress{} }, nil),
	}
}

// DefaultTable returns a table with all builtin kinds.
func DefaultTable() *Table { return NewTable(Builtin()...) }

func podStatus(obj runtime.Object) string {
	pod := obj.(*corev1.Pod)
	if pod.DeletionTimestamp != nil {
		return "Terminating"
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if w := cs.State.Waiting; w != nil && w.Reason != "" {
			return w.Reason
		}
		if t := cs.State.Terminated; t != nil && t.Reason != "" && pod.Status.Phase != corev1.PodSucceeded {
			return t.Reason
		}
	}
	if pod.Status.Reason != "" {
		return pod.Status.Reason
	}
	return string(pod.Status.Phase)
}

func secretStatus(obj runtime.Object) string {
	return string(obj.(*corev1.Secret).Type)
}

func serviceStatus(obj runtime.Object) string {
	return string(obj.(*corev1.Service).Spec.Type)
}

func eventStatus(obj runtime.Object) string {
	ev := obj.(*corev1.Event)
	return ev.Type + " " + ev.Reason
}

func pvcStatus(obj runtime.Object) string {
	return string(obj.(*corev1.PersistentVolumeClaim).Status.Phase)
}

func pvStatus(obj runtime.Object) string {
	return string(obj.(*corev1.PersistentVolume).Status.Phase)
}

func namespaceStatus(obj runtime.Object) string {
	return string(obj.(*corev1.Namespace).Status.Phase)
}

func nodeStatus(obj runtime.Object) string {
	node := obj.(*corev1.Node)
	status := "Unknown"
	for _, c := range node.Status.Conditions {
		if c.Type != corev1.NodeReady {
			continue
		}
		if c.Status == corev1.ConditionTrue {
			status = "Ready"
		} else {
			status = "NotReady"
		}
	}
	if node.Spec.Unschedulable {
		status += ",SchedulingDisabled"
	}
	return status
}

func ratio(ready, desired int32) string { return fmt.Sprintf("%d/%d", ready, desired) }

func replicas(r *int32) int32 {
	if r == nil {
		return 1
	}
	return *r
}

func deploymentStatus(obj runtime.Object) string {
	d := obj.(*appsv1.Deployment)
	return ratio(d.Status.ReadyReplicas, replicas(d.Spec.Replicas))
}

func statefulSetStatus(obj runtime.Object) string {
	s := obj.(*appsv1.StatefulSet)
	return ratio(s.Status.ReadyReplicas, replicas(s.Spec.Replicas))
}

func daemonSetStatus(obj runtime.Object) string {
	d := obj.(*appsv1.DaemonSet)
	return ratio(d.Status.NumberReady, d.Status.DesiredNumberScheduled)
}

func replicaSetStatus(obj runtime.Object) string {
	r := obj.(*appsv1.ReplicaSet)
	return ratio(r.Status.ReadyReplicas, replicas(r.Spec.Replicas))
}

func jobStatus(obj runtime.Object) string {
	j := obj.(*batchv1.Job)
	for _, c := range j.Status.Conditions {
		if c.Status == corev1.ConditionTrue && (c.Type == batchv1.JobComplete || c.Type == batchv1.JobFailed) {
			return string(c.Type)
		}
	}
	return ratio(j.Status.Succeeded, replicas(j.Spec.Completions))
}

func cronJobStatus(obj runtime.Object) string {
	c := obj.(*batchv1.CronJob)
	if c.Spec.Suspend != nil && *c.Spec.Suspend {
		return "Suspended"
	}
	return fmt.Sprintf("Active(%d)", len(c.Status.Active))
}
