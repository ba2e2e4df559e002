// Package k8sprofile is a reference Profile (spec.md §4.5) that realizes a
// node as a Kubernetes Pod, driven through the engine's trimmed-down
// client-go wrapper in internal/k8s.
package k8sprofile

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/k8s"
	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// Profile realizes "os.k8s_node" ProfileSpecs as bare Pods in the target
// cluster reached through client. A Profile value is stateless and safe
// for concurrent use across nodes; all per-call state travels in the
// ProfileSpec and Node arguments, per spec.md §4.5.
type Profile struct {
	client *k8s.Client
}

// New wraps client as a Profile implementation.
func New(client *k8s.Client) *Profile {
	return &Profile{client: client}
}

// Type implements profile.Profile.
func (p *Profile) Type() string { return "os.k8s_node-1.0" }

func namespaceOf(spec *models.ProfileSpec) string {
	if ns, ok := spec.Properties["namespace"].(string); ok && ns != "" {
		return ns
	}
	return "default"
}

func imageOf(spec *models.ProfileSpec) string {
	if img, ok := spec.Properties["image"].(string); ok && img != "" {
		return img
	}
	return "busybox:latest"
}

func podName(node *models.Node) string {
	return "node-" + node.ID
}

// Create provisions a Pod for node, named deterministically from the node
// id so Create is safe to retry against a partially-applied prior attempt.
func (p *Profile) Create(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(node),
			Namespace: namespaceOf(spec),
			Labels:    map[string]string{"kubilitics.io/node-id": node.ID},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  "node",
				Image: imageOf(spec),
			}},
		},
	}
	_, err := p.client.Clientset.CoreV1().Pods(namespaceOf(spec)).Create(ctx, pod, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return engineerr.ResourceOperationf("create pod for node %s: %s", node.ID, err)
	}
	node.Data["pod_name"] = pod.Name
	node.Data["namespace"] = pod.Namespace
	return nil
}

// Delete removes node's Pod. A missing Pod is treated as already deleted.
func (p *Profile) Delete(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	err := p.client.Clientset.CoreV1().Pods(namespaceOf(spec)).Delete(ctx, podName(node), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return engineerr.ResourceOperationf("delete pod for node %s: %s", node.ID, err)
	}
	return nil
}

// Update re-images node's Pod by deleting and recreating it under newSpec;
// Kubernetes Pods are immutable with respect to container image changes.
func (p *Profile) Update(ctx context.Context, spec *models.ProfileSpec, node *models.Node, newSpec *models.ProfileSpec) error {
	if err := p.Delete(ctx, spec, node); err != nil {
		return err
	}
	return p.Create(ctx, newSpec, node)
}

// Check reports whether node's Pod exists and is Running.
func (p *Profile) Check(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	pod, err := p.client.Clientset.CoreV1().Pods(namespaceOf(spec)).Get(ctx, podName(node), metav1.GetOptions{})
	if err != nil {
		return engineerr.ResourceOperationf("check pod for node %s: %s", node.ID, err)
	}
	if pod.Status.Phase != corev1.PodRunning {
		return engineerr.ResourceOperationf("node %s pod is in phase %s", node.ID, pod.Status.Phase)
	}
	return nil
}

// Join is a no-op: k8sprofile Pods carry no cluster-membership state of
// their own beyond the engine's own node.cluster_id bookkeeping.
func (p *Profile) Join(ctx context.Context, spec *models.ProfileSpec, node *models.Node, clusterID string) error {
	return nil
}

// Leave is a no-op for the same reason Join is.
func (p *Profile) Leave(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return nil
}

// GetDetails returns the Pod's phase, host IP, and pod IP.
func (p *Profile) GetDetails(ctx context.Context, spec *models.ProfileSpec, node *models.Node) (map[string]any, error) {
	pod, err := p.client.Clientset.CoreV1().Pods(namespaceOf(spec)).Get(ctx, podName(node), metav1.GetOptions{})
	if err != nil {
		return nil, engineerr.ResourceOperationf("get details for node %s: %s", node.ID, err)
	}
	return map[string]any{
		"phase":   string(pod.Status.Phase),
		"host_ip": pod.Status.HostIP,
		"pod_ip":  pod.Status.PodIP,
	}, nil
}
