package cmd

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/mfenderov/elf/internal/config"
	"github.com/mfenderov/elf/internal/storage"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_ListAndFetchExports runs against MinIO. Skip if MinIO is not running.
func TestIntegration_ListAndFetchExports(t *testing.T) {
	cfg = config.Defaults()
	cfg.Storage.Bucket = "elf-test"
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		cfg.Storage.Endpoint = endpoint
	}

	client, err := storageClient()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		t.Skipf("MinIO not available, skipping integration test: %v", err)
	}

	pageURL := "https://test.example.com/cli-export"
	filename := "elf-chat-test.md"
	_, err = client.PutExport(ctx, pageURL, filename, "text/markdown", []byte("# Chat Export\n"))
	require.NoError(t, err)
	require.NoError(t, client.PutMetadata(ctx, storage.ExportMetadata{
		URL:          pageURL,
		Title:        "CLI export",
		ExportedAt:   time.Now(),
		MessageCount: 2,
		Files:        []string{filename},
	}))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(ctx)

	require.NoError(t, listExports(cmd, pageURL))
	assert.Contains(t, out.String(), "CLI export")
	assert.Contains(t, out.String(), filename)

	out.Reset()
	exportOutput = "-"
	defer func() { exportOutput = "" }()
	require.NoError(t, fetchExport(cmd, pageURL, filename))
	assert.Equal(t, "# Chat Export\n", out.String())
}
