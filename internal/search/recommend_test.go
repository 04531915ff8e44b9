package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func TestRecommend(t *testing.T) {
	assert.Equal(t, ActionRebuild, Recommend(5000, types.IndexReady))
	assert.Equal(t, ActionRebuild, Recommend(9000, types.IndexReady))
	assert.Equal(t, ActionApplyDirty, Recommend(1, types.IndexReady))
	assert.Equal(t, ActionWait, Recommend(0, types.IndexIndexing))
	assert.Equal(t, ActionRebuild, Recommend(0, types.IndexNotReady))
	assert.Equal(t, ActionRebuild, Recommend(0, types.IndexError))
	assert.Equal(t, ActionNone, Recommend(0, types.IndexReady))
}
