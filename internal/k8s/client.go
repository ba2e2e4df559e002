package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps client-go for the k8sprofile Profile strategy and the
// engine's own debug/health surface. One Client is built per configured
// kubeconfig at bootstrap; it is not per-cluster-action.
type Client struct {
	Clientset      kubernetes.Interface
	Config         *rest.Config
	Context        string
	kubeconfigPath string
	// Timeout for outbound K8s API calls; 0 means no timeout (use request context only).
	Timeout time.Duration
	// circuitBreaker protects TestConnection/GetClusterInfo against a cluster
	// that's gone unreachable, so those calls fail fast instead of hanging.
	// Calls made directly on Clientset (as k8sprofile's are) bypass it.
	circuitBreaker *CircuitBreaker
	// Health status: last successful call time, last error, etc.
	lastSuccessTime time.Time
	lastError       error
	healthMu        sync.RWMutex
}

// NewClient creates a new Kubernetes client
func NewClient(kubeconfigPath, context string) (*Client, error) {
	var config *rest.Config
	var err error

	if kubeconfigPath == "" {
		// Try in-cluster config first
		config, err = rest.InClusterConfig()
		if err != nil {
			// Fall back to default kubeconfig
			homeDir, _ := os.UserHomeDir()
			if homeDir != "" {
				kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
			}
		}
	}

	if config == nil {
		config, err = buildConfigFromFlags(context, kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to build config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{
		Clientset:       clientset,
		Config:          config,
		Context:         context,
		kubeconfigPath:  kubeconfigPath,
		circuitBreaker:  NewCircuitBreaker(""), // clusterID set via SetClusterID if available
		lastSuccessTime: time.Now(),
	}, nil
}

// SetTimeout sets the timeout for outbound K8s API calls. Call after NewClient when config is available.
func (c *Client) SetTimeout(d time.Duration) {
	c.Timeout = d
}

// SetClusterID sets the cluster ID for circuit breaker metrics labeling.
func (c *Client) SetClusterID(clusterID string) {
	if c.circuitBreaker != nil {
		c.circuitBreaker.clusterID = clusterID
	}
}

// withTimeout returns ctx with timeout applied if c.Timeout > 0; otherwise returns ctx and a no-op cancel.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return ctx, func() {}
}

func buildConfigFromFlags(context, kubeconfigPath string) (*rest.Config, error) {
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
		&clientcmd.ConfigOverrides{
			CurrentContext: context,
		}).ClientConfig()
}

// GetServerVersion returns Kubernetes server version
func (c *Client) GetServerVersion(ctx context.Context) (string, error) {
	version, err := c.Clientset.Discovery().ServerVersion()
	if err != nil {
		return "", err
	}
	return version.GitVersion, nil
}

// TestConnection verifies connectivity to the cluster, retried and
// circuit-broken. Exposed through the engine's /debug endpoint so an
// operator can see why a k8sprofile node operation is failing without
// reading logs.
func (c *Client) TestConnection(ctx context.Context) error {
	err := c.circuitBreaker.Execute(ctx, func() error {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		return doWithRetry(ctx, defaultRetryAttempts, func() error {
			_, err := c.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
			return err
		})
	})

	c.updateHealth(err)
	return err
}

// GetClusterInfo returns basic cluster information, retried and circuit-broken.
func (c *Client) GetClusterInfo(ctx context.Context) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := c.circuitBreaker.Execute(ctx, func() error {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		var fnErr error
		result, fnErr = doWithRetryValue(ctx, defaultRetryAttempts, func() (map[string]interface{}, error) {
			version, err := c.GetServerVersion(ctx)
			if err != nil {
				return nil, err
			}
			nodes, err := c.Clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
			if err != nil {
				return nil, err
			}
			namespaces, err := c.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
			if err != nil {
				return nil, err
			}
			serverURL := ""
			if c.Config != nil {
				serverURL = c.Config.Host
			}
			return map[string]interface{}{
				"version":         version,
				"node_count":      len(nodes.Items),
				"namespace_count": len(namespaces.Items),
				"server_url":      serverURL,
			}, nil
		})
		return fnErr
	})

	c.updateHealth(err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// updateHealth updates the health status of the client.
func (c *Client) updateHealth(err error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if err == nil {
		c.lastSuccessTime = time.Now()
		c.lastError = nil
	} else {
		c.lastError = err
	}
}

// HealthStatus returns the health status of the cluster connection.
func (c *Client) HealthStatus() (isHealthy bool, lastSuccess time.Time, lastErr error, circuitState CircuitBreakerState) {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()

	state := c.circuitBreaker.State()
	isHealthy = state == StateClosed && c.lastError == nil
	return isHealthy, c.lastSuccessTime, c.lastError, state
}

// NewClientForTest creates a Client that uses the given Clientset. Used by tests
// that only need Clientset; Config is nil, so callers must not use client
// methods that dereference it beyond the nil-guarded GetClusterInfo server_url.
func NewClientForTest(clientset kubernetes.Interface) *Client {
	client := &Client{
		Clientset:       clientset,
		circuitBreaker:  NewCircuitBreaker(""),
		lastSuccessTime: time.Now(),
	}
	return client
}
