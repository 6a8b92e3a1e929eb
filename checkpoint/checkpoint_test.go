package checkpoint

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/artie-labs/oplogfetcher/optime"
)

func TestStore_GetMissingReturnsZero(t *testing.T) {
	s, err := Open(fmt.Sprintf("%s/does-not-exist", t.TempDir()))
	assert.NoError(t, err)
	assert.True(t, s.Get("local.oplog.rs").IsZero())
}

func TestStore_SetThenGet(t *testing.T) {
	path := fmt.Sprintf("%s/checkpoint.yaml", t.TempDir())
	s, err := Open(path)
	assert.NoError(t, err)

	ot := optime.New(primitive.Timestamp{T: 100, I: 2}, 5)
	assert.NoError(t, s.Set("local.oplog.rs", ot))

	got := s.Get("local.oplog.rs")
	assert.True(t, got.Equal(ot))
}

func TestStore_SurvivesReload(t *testing.T) {
	path := fmt.Sprintf("%s/checkpoint.yaml", t.TempDir())
	s1, err := Open(path)
	assert.NoError(t, err)

	ot := optime.New(primitive.Timestamp{T: 200, I: 0}, 3)
	assert.NoError(t, s1.Set("local.oplog.rs", ot))

	s2, err := Open(path)
	assert.NoError(t, err)
	assert.True(t, s2.Get("local.oplog.rs").Equal(ot))
}

func TestOpen_MalformedFileIsAnError(t *testing.T) {
	path := fmt.Sprintf("%s/checkpoint.yaml", t.TempDir())
	assert.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}
