package helm

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOCIClient(t *testing.T) {
	client, err := NewOCIClient(nil)
	assert.NoError(t, err)
	assert.NotNil(t, client)
}

func TestOCIClient_PullFromOCI_ErrorPaths(t *testing.T) {
	ctx := context.Background()
	client, err := NewOCIClient(nil)
	assert.NoError(t, err)

	tmpDir, err := os.MkdirTemp("", "oci-pull")
	assert.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	// Since we mock the environment and don't have a real docker daemon/registry listening,
	// this pull will fail. We are just ensuring it properly returns the error.
	_, err = client.PullFromOCI(ctx, "oci://invalid.example.com/mychart", "1.0.0", tmpDir)
	assert.Error(t, err)
}
