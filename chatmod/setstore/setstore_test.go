package setstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemSetStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ss := NewMemSetStore()
	ok, err := ss.InSet(ctx, ExemptUsersSet, "alice")
	assert.NoError(err)
	assert.False(ok)

	ss.Add(ExemptUsersSet, "alice", "modbot")
	ok, err = ss.InSet(ctx, ExemptUsersSet, "alice")
	assert.NoError(err)
	assert.True(ok)
	ok, err = ss.InSet(ctx, ExemptUsersSet, "bob")
	assert.NoError(err)
	assert.False(ok)
}

func TestLoadFromFileJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p := filepath.Join(t.TempDir(), "sets.json")
	assert.NoError(os.WriteFile(p, []byte(`{"trigger-exempt": ["admin", "modbot"]}`), 0644))

	ss := NewMemSetStore()
	assert.NoError(ss.LoadFromFileJSON(p))
	ok, err := ss.InSet(ctx, ExemptUsersSet, "modbot")
	assert.NoError(err)
	assert.True(ok)

	assert.Error(ss.LoadFromFileJSON(filepath.Join(t.TempDir(), "missing.json")))
}
