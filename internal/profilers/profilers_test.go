package profilers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfiles(t *testing.T) {
	dir := t.TempDir()
	cpuPath := filepath.Join(dir, "cpu.prof")
	require.NoError(t, startCPUProfile(cpuPath))
	*flagCPUProfile = cpuPath
	*flagMemProfile = filepath.Join(dir, "mem.prof")
	defer func() {
		*flagCPUProfile = ""
		*flagMemProfile = ""
	}()
	OnQuit()
	for _, path := range []string{cpuPath, *flagMemProfile} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Positive(t, info.Size(), "profile %q is empty", path)
	}

	require.Error(t, startCPUProfile(filepath.Join(dir, "missing", "cpu.prof")))
}
