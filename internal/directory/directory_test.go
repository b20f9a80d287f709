package directory

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zelenin/go-tdlib/client"
)

// fakeAPI serves chats out of a map, recording fetches.
type fakeAPI struct {
	chats   map[int64]*client.Chat
	fetched []int64
	err     error
}

func (f *fakeAPI) GetChat(req *client.GetChatRequest) (*client.Chat, error) {
	f.fetched = append(f.fetched, req.ChatId)
	if f.err != nil {
		return nil, f.err
	}
	chat, ok := f.chats[req.ChatId]
	if !ok {
		return nil, errors.New("chat not found")
	}
	return chat, nil
}

func chat(id int64, lists ...client.ChatList) *client.Chat {
	return &client.Chat{Id: id, Title: "chat", ChatLists: lists}
}

func newChat(id int64) client.Type {
	return &client.UpdateNewChat{Chat: &client.Chat{Id: id}}
}

func position(id int64, list client.ChatList, order int64) client.Type {
	return &client.UpdateChatPosition{
		ChatId:   id,
		Position: &client.ChatPosition{List: list, Order: client.JsonInt64(order)},
	}
}

func TestDirectory_partitions(t *testing.T) {
	api := &fakeAPI{chats: map[int64]*client.Chat{
		1: chat(1, &client.ChatListMain{}),
		2: chat(2, &client.ChatListArchive{}),
		3: chat(3), // no list membership
		4: chat(4, &client.ChatListMain{}, &client.ChatListArchive{}),
	}}
	d := New(api)

	for id := int64(1); id <= 4; id++ {
		require.NoError(t, d.Apply(newChat(id)))
	}

	assert.Equal(t, []int64{1}, d.MainIDs())
	assert.Equal(t, []int64{2, 4}, d.ArchiveIDs(), "archive membership wins over main")
	assert.Equal(t, []int64{3}, d.UnknownIDs())
}

func TestDirectory_repartitionOnMove(t *testing.T) {
	api := &fakeAPI{chats: map[int64]*client.Chat{
		1: chat(1, &client.ChatListMain{}),
	}}
	d := New(api)
	require.NoError(t, d.Apply(newChat(1)))
	require.Equal(t, []int64{1}, d.MainIDs())

	// the user archives the chat: the next position update refetches it
	api.chats[1] = chat(1, &client.ChatListArchive{})
	require.NoError(t, d.Apply(position(1, &client.ChatListArchive{}, 100)))

	assert.Empty(t, d.MainIDs(), "a chat lives in exactly one partition")
	assert.Equal(t, []int64{1}, d.ArchiveIDs())
}

func TestDirectory_zeroOrderRemoves(t *testing.T) {
	api := &fakeAPI{chats: map[int64]*client.Chat{
		1: chat(1, &client.ChatListMain{}),
	}}
	d := New(api)
	require.NoError(t, d.Apply(newChat(1)))

	before := len(api.fetched)
	require.NoError(t, d.Apply(position(1, &client.ChatListMain{}, 0)))

	assert.Empty(t, d.MainIDs())
	assert.Len(t, api.fetched, before, "order zero must not trigger a fetch")
}

func TestDirectory_removedFromList(t *testing.T) {
	api := &fakeAPI{chats: map[int64]*client.Chat{
		1: chat(1, &client.ChatListArchive{}),
	}}
	d := New(api)
	require.NoError(t, d.Apply(newChat(1)))
	require.Equal(t, []int64{1}, d.ArchiveIDs())

	require.NoError(t, d.Apply(&client.UpdateChatRemovedFromList{
		ChatId:   1,
		ChatList: &client.ChatListArchive{},
	}))
	assert.Empty(t, d.ArchiveIDs())

	// removal from a list the chat is not in is a no-op
	require.NoError(t, d.Apply(&client.UpdateChatRemovedFromList{
		ChatId:   99,
		ChatList: &client.ChatListMain{},
	}))
}

func TestDirectory_folderSnapshot(t *testing.T) {
	d := New(&fakeAPI{})

	require.NoError(t, d.Apply(&client.UpdateChatFolders{
		ChatFolders: []*client.ChatFolderInfo{{Id: 1}, {Id: 2}},
	}))
	require.Len(t, d.Folders(), 2)

	// the next update fully replaces the previous snapshot
	require.NoError(t, d.Apply(&client.UpdateChatFolders{
		ChatFolders: []*client.ChatFolderInfo{{Id: 2}},
	}))
	folders := d.Folders()
	require.Len(t, folders, 1)
	assert.NotContains(t, folders, int32(1))
	assert.Contains(t, folders, int32(2))
}

func TestDirectory_fetchErrorIsSurfaced(t *testing.T) {
	api := &fakeAPI{err: errors.New("timeout")}
	d := New(api)

	err := d.Apply(newChat(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.err)
	assert.Empty(t, d.UnknownIDs(), "a failed fetch must not file a partial entry")
}

func TestDirectory_ignoresUnrelatedUpdates(t *testing.T) {
	d := New(&fakeAPI{})
	require.NoError(t, d.Apply(&client.UpdateOption{Name: "version"}))
	require.NoError(t, d.Apply(&client.UpdateChatPosition{ChatId: 1})) // nil position
	assert.Zero(t, d.Len())
}

// TestDirectory_exclusivityProperty hammers the directory with a random
// update sequence and checks that no chat ever appears in two partitions.
func TestDirectory_exclusivityProperty(t *testing.T) {
	const chats = 10
	rng := rand.New(rand.NewSource(1))

	api := &fakeAPI{chats: map[int64]*client.Chat{}}
	d := New(api)

	lists := []client.ChatList{&client.ChatListMain{}, &client.ChatListArchive{}, nil}
	for range 500 {
		id := int64(rng.Intn(chats) + 1)
		switch rng.Intn(3) {
		case 0: // chat (re)appears in a random list
			var membership []client.ChatList
			if l := lists[rng.Intn(len(lists))]; l != nil {
				membership = append(membership, l)
			}
			api.chats[id] = chat(id, membership...)
			require.NoError(t, d.Apply(newChat(id)))
		case 1: // position update with a live order
			if _, ok := api.chats[id]; ok {
				require.NoError(t, d.Apply(position(id, &client.ChatListMain{}, int64(rng.Intn(1000)+1))))
			}
		case 2: // removal
			d.Apply(position(id, lists[rng.Intn(2)], 0))
		}

		seen := map[int64]int{}
		for _, part := range [][]int64{d.MainIDs(), d.ArchiveIDs(), d.UnknownIDs()} {
			for _, id := range part {
				seen[id]++
			}
		}
		for id, n := range seen {
			require.Equal(t, 1, n, "chat %d present in %d partitions", id, n)
		}
	}
}
