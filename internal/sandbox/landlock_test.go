package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPolicy(t *testing.T) {
	dir := t.TempDir()
	p := WorkerPolicy(filepath.Join(dir, "scee.db"))

	require.NotEmpty(t, p.Rules)
	assert.Equal(t, PathRule{Path: dir, Access: AccessReadWrite}, p.Rules[0])
	assert.True(t, p.BestEffort)

	for _, r := range p.Rules[1:] {
		assert.Equal(t, AccessReadOnly, r.Access, "%s", r.Path)
	}
}

func TestWorkerPolicyRelativePath(t *testing.T) {
	p := WorkerPolicy("scee.db")

	require.NotEmpty(t, p.Rules)
	assert.True(t, filepath.IsAbs(p.Rules[0].Path), "got %s", p.Rules[0].Path)
}
