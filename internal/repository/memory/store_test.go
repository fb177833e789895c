package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/repository"
	"sudooom.im.realtime/internal/repository/storetest"
	"sudooom.im.realtime/pkg/snowflake"
)

func newTestStore(t *testing.T, users []model.User) repository.Store {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return NewStore(node, users...)
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestStore_ReturnsCopies(t *testing.T) {
	env := storetest.NewEnv(t, newTestStore, 2)
	a, b := env.Users[0], env.Users[1]

	conv, _, err := env.Store.GetOrCreateDirect(t.Context(), a, b)
	require.NoError(t, err)
	conv.Participants[0] = 999

	stored, err := env.Store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Participants, int64(999))

	msg := env.Send(t, conv.ID, a, "original")
	msg.Content = "mutated"
	got, err := env.Store.GetMessage(t.Context(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
}

func TestStore_DeletingPinnedMessageUnpins(t *testing.T) {
	env := storetest.NewEnv(t, newTestStore, 2)
	a, b := env.Users[0], env.Users[1]
	conv, _, err := env.Store.GetOrCreateDirect(t.Context(), a, b)
	require.NoError(t, err)

	msg := env.Send(t, conv.ID, a, "pin me")
	_, _, err = env.Store.TogglePin(t.Context(), msg.ID, b)
	require.NoError(t, err)

	deleted, changed, err := env.Store.SoftDeleteMessage(t.Context(), msg.ID, a)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, deleted.Pinned)

	stored, err := env.Store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PinnedMessageIDs)
}

func TestParseSeed(t *testing.T) {
	users, err := ParseSeed([]byte(`
users:
  - id: 1001
    display_name: Alice
    avatar_url: https://cdn.example.com/a.png
  - id: 1002
    display_name: Bob
`))
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1001), users[0].ID)
	assert.Equal(t, "Alice", users[0].DisplayName)
	assert.Equal(t, "https://cdn.example.com/a.png", users[0].AvatarURL)

	_, err = ParseSeed([]byte("users:\n  - id: 0\n"))
	assert.Error(t, err)

	_, err = ParseSeed([]byte("users:\n  - id: 5\n  - id: 5\n"))
	assert.Error(t, err)
}
