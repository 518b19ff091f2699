// Package sysfstest builds fake cpuidle sysfs trees under t.TempDir()
// so internal/idle's tests can exercise Manager without touching the
// real machine's /sys.
package sysfstest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CpuidleTree builds cpu0's cpuidle sysfs tree with n states, each a
// writable state<i>/disable knob starting enabled ("0\n") and a
// state<i>/latency file set to latencyUS for every state. Returns the
// tree root, to be passed as idle.NewManager's sysRoot.
func CpuidleTree(t *testing.T, n int, latencyUS int) string {
	t.Helper()
	latencies := make([]int, n)
	for i := range latencies {
		latencies[i] = latencyUS
	}
	return CpuidleTreeWithLatencies(t, latencies)
}

// CpuidleTreeWithLatencies is like CpuidleTree but assigns each
// state's latency individually, for exercising Manager.GetLimit's
// threshold-crossing search.
func CpuidleTreeWithLatencies(t *testing.T, latenciesUS []int) string {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, "devices", "system", "cpu", "cpu0", "cpuidle")
	for i, lat := range latenciesUS {
		dir := filepath.Join(base, fmt.Sprintf("state%d", i))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "disable"), []byte("0\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "latency"), []byte(fmt.Sprintf("%d\n", lat)), 0o644))
	}
	return root
}
