package cmd

import (
	"fmt"
	"github.com/arcward/teacloud/teacloud"
	"github.com/stretchr/testify/assert"
	"io"
	"os"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := teacloud.Version
	originalCommitSHA := teacloud.CommitSHA
	originalBuildTime := teacloud.BuildTime

	t.Cleanup(
		func() {
			teacloud.Version = originalVersion
			teacloud.CommitSHA = originalCommitSHA
			teacloud.BuildTime = originalBuildTime
		},
	)

	teacloud.Version = "1.0.0"
	teacloud.CommitSHA = "abc123"
	teacloud.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		teacloud.Version,
		teacloud.CommitSHA,
		teacloud.BuildTime,
	)
	assert.Equal(t, expected, output)
}
