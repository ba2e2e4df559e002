package k8s

import (
	"context"
	"testing"
	"time"

	"k8s.io/client-go/kubernetes/fake"
)

// TestClusterConnectionFailure_Handling tests that connection failures are handled gracefully
func TestClusterConnectionFailure_Handling(t *testing.T) {
	// Create a client that will fail on connection
	clientset := fake.NewSimpleClientset()
	client := NewClientForTest(clientset)
	
	// TestConnection with fake clientset should succeed (it's a mock)
	ctx := context.Background()
	err := client.TestConnection(ctx)
	if err != nil {
		t.Logf("TestConnection returned error (may be expected for fake client): %v", err)
	}
	
	// Test with invalid context to simulate failure
	ctxFail, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately
	
	err = client.TestConnection(ctxFail)
	if err == nil {
		t.Log("TestConnection with cancelled context succeeded (fake client may not respect cancellation)")
	} else {
		t.Logf("Connection failed as expected with cancelled context: %v", err)
	}
}

// TestClusterConnectionFailure_CircuitBreaker logs the circuit breaker's initial state and the
// client's health status; the fake clientset cannot be made to fail, so nothing is asserted
func TestClusterConnectionFailure_CircuitBreaker(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := NewClientForTest(clientset)
	
	// For fake clientset, TestConnection will succeed, so we can't easily simulate failures
	// Instead, verify circuit breaker exists and initial state
	state := client.circuitBreaker.State()
	if state != StateClosed {
		t.Logf("Circuit breaker initial state: %v (expected Closed)", state)
	}
	
	// Verify health status
	healthy, _, lastErr, cbState := client.HealthStatus()
	t.Logf("Health status: healthy=%v, error=%v, circuit state=%v", healthy, lastErr, cbState)
	
	// With fake client, should be healthy initially
	if !healthy && lastErr == nil {
		t.Log("Health status reflects initial state")
	}
}

// TestClusterConnectionFailure_Recovery calls TestConnection with an expired context six times,
// then with a live one, and logs the resulting health; whether the breaker opened is not checked
func TestClusterConnectionFailure_Recovery(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := NewClientForTest(clientset)
	
	// First, cause failures
	ctxFail, cancelFail := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancelFail()
	
	for i := 0; i < 6; i++ {
		_ = client.TestConnection(ctxFail)
	}
	
	// Wait for circuit breaker to potentially open
	time.Sleep(100 * time.Millisecond)
	
	// Try with a valid context - should eventually succeed (circuit breaker may be in half-open)
	ctxSuccess, cancelSuccess := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSuccess()
	
	// For fake clientset, connection should succeed
	err := client.TestConnection(ctxSuccess)
	if err != nil {
		t.Logf("Connection attempt returned error (may be expected): %v", err)
	}
	
	// Verify health can recover
	healthy, _, _, _ := client.HealthStatus()
	t.Logf("Health after recovery attempt: healthy=%v", healthy)
}
