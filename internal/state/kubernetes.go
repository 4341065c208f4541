package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	appLabel          = "app"
	appName           = "sqldeploy"
	kindLabel         = "sqldeploy/kind"
	expiresAnnotation = "expires"
)

// KubernetesManager implements the Manager interface using Kubernetes
// ConfigMaps, which lets CI jobs running in a cluster share run state.
type KubernetesManager struct {
	client    kubernetes.Interface
	namespace string
}

// NewKubernetesManager uses the in-cluster config, falling back to the
// local kubeconfig when running outside a cluster.
func NewKubernetesManager(namespace string) (*KubernetesManager, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %v", err)
		}
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %v", err)
	}

	return NewKubernetesManagerWithClient(client, namespace), nil
}

// NewKubernetesManagerWithClient creates a manager around an existing client
func NewKubernetesManagerWithClient(client kubernetes.Interface, namespace string) *KubernetesManager {
	if namespace == "" {
		namespace = "default"
	}
	return &KubernetesManager{
		client:    client,
		namespace: namespace,
	}
}

func (k *KubernetesManager) GetState(ctx context.Context, script string) (*RunState, error) {
	cm, err := k.configMaps().Get(ctx, stateConfigMapName(script), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ConfigMap: %v", err)
	}
	return decodeState(cm)
}

func (k *KubernetesManager) SaveState(ctx context.Context, state *RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %v", err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:   stateConfigMapName(state.Script),
			Labels: map[string]string{appLabel: appName, kindLabel: "state"},
		},
		Data: map[string]string{
			"state": string(data),
		},
	}

	_, err = k.configMaps().Update(ctx, cm, metav1.UpdateOptions{})
	if apierrors.IsNotFound(err) {
		_, err = k.configMaps().Create(ctx, cm, metav1.CreateOptions{})
	}
	if err != nil {
		return fmt.Errorf("failed to save ConfigMap: %v", err)
	}
	return nil
}

func (k *KubernetesManager) DeleteState(ctx context.Context, script string) error {
	err := k.configMaps().Delete(ctx, stateConfigMapName(script), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete ConfigMap: %v", err)
	}
	return nil
}

func (k *KubernetesManager) ListStates(ctx context.Context) ([]*RunState, error) {
	list, err := k.configMaps().List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s,%s=state", appLabel, appName, kindLabel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ConfigMaps: %v", err)
	}

	var states []*RunState
	for i := range list.Items {
		state, err := decodeState(&list.Items[i])
		if err != nil {
			continue // Skip invalid states
		}
		states = append(states, state)
	}

	sortStates(states)
	return states, nil
}

func (k *KubernetesManager) LockState(ctx context.Context, script string, ttl time.Duration) (string, bool, error) {
	name := lockConfigMapName(script)
	owner := newOwner()
	now := time.Now()
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Labels:      map[string]string{appLabel: appName, kindLabel: "lock"},
			Annotations: map[string]string{expiresAnnotation: now.Add(ttl).Format(time.RFC3339Nano)},
		},
		Data: map[string]string{
			"script":    script,
			"owner":     owner,
			"locked_at": now.Format(time.RFC3339),
		},
	}

	_, err := k.configMaps().Create(ctx, cm, metav1.CreateOptions{})
	if err == nil {
		return owner, true, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return "", false, fmt.Errorf("failed to create lock: %v", err)
	}

	existing, err := k.configMaps().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", false, fmt.Errorf("failed to get lock: %v", err)
	}
	expires, err := time.Parse(time.RFC3339Nano, existing.Annotations[expiresAnnotation])
	if err == nil && expires.After(now) {
		return "", false, nil
	}

	// Expired: take it over. The resource version makes a concurrent takeover lose.
	cm.ResourceVersion = existing.ResourceVersion
	if _, err := k.configMaps().Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to take over lock: %v", err)
	}
	return owner, true, nil
}

func (k *KubernetesManager) UnlockState(ctx context.Context, script, owner string) error {
	name := lockConfigMapName(script)
	existing, err := k.configMaps().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to get lock: %v", err)
	}
	if existing.Data["owner"] != owner {
		return nil
	}

	// The precondition keeps a takeover that happened after the Get alive.
	resourceVersion := existing.ResourceVersion
	err = k.configMaps().Delete(ctx, name, metav1.DeleteOptions{
		Preconditions: &metav1.Preconditions{ResourceVersion: &resourceVersion},
	})
	if err != nil && !apierrors.IsNotFound(err) && !apierrors.IsConflict(err) {
		return fmt.Errorf("failed to delete lock: %v", err)
	}
	return nil
}

func (k *KubernetesManager) configMaps() typedcorev1.ConfigMapInterface {
	return k.client.CoreV1().ConfigMaps(k.namespace)
}

func decodeState(cm *corev1.ConfigMap) (*RunState, error) {
	var state RunState
	if err := json.Unmarshal([]byte(cm.Data["state"]), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %v", err)
	}
	return &state, nil
}

func stateConfigMapName(script string) string {
	return "sqldeploy-state-" + stateName(script)
}

func lockConfigMapName(script string) string {
	return "sqldeploy-lock-" + stateName(script)
}
