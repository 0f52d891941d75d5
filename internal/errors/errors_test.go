package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderProducesStableCode(t *testing.T) {
	err := Newf("track %d not found", 7).
		Component(ComponentSession).
		Category(CategoryNotFound).
		Context("track_id", 7).
		Build()

	require.NotNil(t, err)
	assert.Equal(t, "not_found", err.Code())
	assert.Equal(t, ComponentSession, err.Component())
	assert.Equal(t, 7, err.Context()["track_id"])
	assert.Contains(t, err.Error(), "track 7 not found")
}

func TestInternalCategoryCollapsesToInvalidRequest(t *testing.T) {
	err := New(nil).Category(CategoryState).Build()
	assert.Equal(t, "invalid_request", err.Code())
}

func TestContextCopyIsIndependent(t *testing.T) {
	err := New(nil).Category(CategoryConflict).Context("a", 1).Build()
	ctx := err.Context()
	ctx["a"] = 2
	assert.Equal(t, 1, err.Context()["a"])
}
