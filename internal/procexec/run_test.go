package procexec

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "PROCEXEC_HELPER_MODE"

// TestMain lets the test binary act as the child process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "flood":
		n, _ := strconv.Atoi(os.Getenv("PROCEXEC_HELPER_BYTES"))
		line := strings.Repeat("x", 1023) + "\n"
		for written := 0; written < n; written += len(line) {
			fmt.Fprint(os.Stdout, line)
			fmt.Fprint(os.Stderr, line)
		}
		os.Exit(0)
	case "exit":
		fmt.Fprint(os.Stdout, "partial output")
		fmt.Fprint(os.Stderr, "bad things")
		os.Exit(7)
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Fprint(os.Stdout, wd)
		os.Exit(0)
	}
	os.Exit(2)
}

func TestRunDrainsLargeOutputOnBothStreams(t *testing.T) {
	const size = 4 << 20 // far beyond a pipe buffer
	t.Setenv(helperEnv, "flood")
	t.Setenv("PROCEXEC_HELPER_BYTES", strconv.Itoa(size))

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		res, err = Exec{}.Run(context.Background(), os.Args[0], nil, "")
	}()

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatalf("runner did not return; streams were not drained concurrently")
	}
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.GreaterOrEqual(t, len(res.Stdout), size)
	assert.GreaterOrEqual(t, len(res.Stderr), size)
	assert.Equal(t, len(res.Stdout), len(res.Stderr))
}

func TestRunReportsNonZeroExitAsData(t *testing.T) {
	t.Setenv(helperEnv, "exit")
	res, err := Exec{}.Run(context.Background(), os.Args[0], nil, "")
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "partial output", res.Stdout)
	assert.Equal(t, "bad things", res.Stderr)
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	t.Setenv(helperEnv, "pwd")
	dir := t.TempDir()
	res, err := Exec{}.Run(context.Background(), os.Args[0], nil, dir)
	require.NoError(t, err)
	info1, err := os.Stat(dir)
	require.NoError(t, err)
	info2, err := os.Stat(res.Stdout)
	require.NoError(t, err)
	assert.True(t, os.SameFile(info1, info2), "child ran in %q, want %q", res.Stdout, dir)
}

func TestRunFailsToStartMissingBinary(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), "/definitely/not/a/tool", nil, "")
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestCommandLineQuotesSpaces(t *testing.T) {
	got := CommandLine("ilasm.exe", []string{"/dll", "/tmp/my lib.il"})
	assert.Equal(t, `ilasm.exe /dll "/tmp/my lib.il"`, got)
}
