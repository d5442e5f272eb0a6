package audit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainVerifies(t *testing.T) {
	c := NewChainLogger()
	c.Append("deposit user=1 amount=100")
	c.Append("transfer from=1 to=2 amount=50")
	c.Append("deposit user=2 amount=25")

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.True(t, VerifyChain(entries))

	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PreviousHash)
	}
}

func TestTamperedChainFailsVerification(t *testing.T) {
	c := NewChainLogger()
	c.Append("one")
	c.Append("two")

	entries := c.Entries()
	entries[0].Payload = "rewritten"
	assert.False(t, VerifyChain(entries))
}

func TestEmptyChainIsValid(t *testing.T) {
	assert.True(t, VerifyChain(nil))
}

func TestConcurrentAppends(t *testing.T) {
	c := NewChainLogger()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.Append("op")
			}
		}()
	}
	wg.Wait()

	entries := c.Entries()
	require.Len(t, entries, 200)
	assert.True(t, VerifyChain(entries))
}
