package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileTokens(t *testing.T) {
	assert := assert.New(t)

	self := UserID("self")
	listed := []TokenID{"mine", "gone", "foreign", "ownerless", "mine2", "mine"}
	owners := map[TokenID]UserID{
		"mine":      self,
		"foreign":   "someone-else",
		"ownerless": "",
		"mine2":     self,
	}

	kept, dropped := ReconcileTokens(self, listed, owners)
	assert.Equal([]TokenID{"mine", "mine2"}, kept)
	assert.Equal([]TokenID{"gone", "foreign", "ownerless"}, dropped)

	t.Run("Idempotent", func(t *testing.T) {
		again, droppedAgain := ReconcileTokens(self, kept, owners)
		assert.Equal(kept, again)
		assert.Empty(droppedAgain)
		assert.True(SameTokens(kept, again))
	})

	t.Run("Empty", func(t *testing.T) {
		kept, dropped := ReconcileTokens(self, nil, nil)
		assert.Empty(kept)
		assert.Empty(dropped)
	})

	t.Run("Remove", func(t *testing.T) {
		assert.Equal([]TokenID{"mine2"}, RemoveToken(kept, "mine"))
	})
}
