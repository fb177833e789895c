package snowflake

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_InvalidID(t *testing.T) {
	_, err := NewNode(-1)
	assert.Error(t, err)

	_, err = NewNode(maxNodeID + 1)
	assert.Error(t, err)

	node, err := NewNode(maxNodeID)
	require.NoError(t, err)
	assert.NotNil(t, node)
}

func TestGenerate_Monotonic(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		next := node.Generate()
		require.Greater(t, next.Int64(), prev.Int64())
		prev = next
	}
}

func TestGenerate_ConcurrentUnique(t *testing.T) {
	node, err := NewNode(3)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, node.NextID())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestID_TimeAndString(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	id := node.Generate()

	assert.True(t, id.Time().After(before))
	assert.NotEmpty(t, id.String())
}

func TestIDs_JSON(t *testing.T) {
	data, err := json.Marshal(IDs{369301816128598018, 7})
	require.NoError(t, err)
	assert.JSONEq(t, `["369301816128598018","7"]`, string(data))

	data, err = json.Marshal(struct {
		Pinned IDs `json:"pinned"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pinned":[]}`, string(data))

	var ids IDs
	require.NoError(t, json.Unmarshal([]byte(`[1, "369301816128598018", 3]`), &ids))
	assert.Equal(t, IDs{1, 369301816128598018, 3}, ids)
	assert.Error(t, json.Unmarshal([]byte(`["x"]`), &ids))
	assert.Error(t, json.Unmarshal([]byte(`"1"`), &ids))
}
