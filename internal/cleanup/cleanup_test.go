package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zelenin/go-tdlib/client"

	"github.com/mrjv/cleanslate/internal/tdx"
)

type deletion struct {
	chatID int64
	ids    []int64
}

// fakeAPI is a scripted account: chats, users and per-chat message
// histories, with every destructive call recorded.
type fakeAPI struct {
	me       *client.User
	chats    map[int64]*client.Chat
	users    map[int64]*client.User
	messages map[int64][]*client.Message

	loadCalls    int
	loadPages    int // 404 after this many successful calls per list
	deletions    []deletion
	edits        []int64
	deletedChats []int64
	leftChats    []int64
	passwords    []string

	searchErr  map[int64]error
	deleteErr  error
	leaveErr   error
	accountErr []error
}

func (f *fakeAPI) GetMe() (*client.User, error) { return f.me, nil }

func (f *fakeAPI) GetChat(req *client.GetChatRequest) (*client.Chat, error) {
	if chat, ok := f.chats[req.ChatId]; ok {
		return chat, nil
	}
	return nil, errors.New("chat not found")
}

func (f *fakeAPI) GetUser(req *client.GetUserRequest) (*client.User, error) {
	if user, ok := f.users[req.UserId]; ok {
		return user, nil
	}
	return nil, errors.New("user not found")
}

func (f *fakeAPI) LoadChats(req *client.LoadChatsRequest) (*client.Ok, error) {
	f.loadCalls++
	if f.loadPages > 0 && f.loadCalls%f.loadPages == 0 {
		return nil, tdx.ProtocolError(tdx.CodeNotFound, "Not Found")
	}
	return &client.Ok{}, nil
}

func (f *fakeAPI) SearchChatMessages(req *client.SearchChatMessagesRequest) (*client.FoundChatMessages, error) {
	if err := f.searchErr[req.ChatId]; err != nil {
		return nil, err
	}
	mm := f.messages[req.ChatId]
	return &client.FoundChatMessages{TotalCount: int32(len(mm)), Messages: mm}, nil
}

func (f *fakeAPI) DeleteMessages(req *client.DeleteMessagesRequest) (*client.Ok, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deletions = append(f.deletions, deletion{req.ChatId, req.MessageIds})
	return &client.Ok{}, nil
}

func (f *fakeAPI) EditMessageText(req *client.EditMessageTextRequest) (*client.Message, error) {
	f.edits = append(f.edits, req.MessageId)
	return &client.Message{Id: req.MessageId}, nil
}

func (f *fakeAPI) DeleteChat(req *client.DeleteChatRequest) (*client.Ok, error) {
	f.deletedChats = append(f.deletedChats, req.ChatId)
	return &client.Ok{}, nil
}

func (f *fakeAPI) LeaveChat(req *client.LeaveChatRequest) (*client.Ok, error) {
	if f.leaveErr != nil {
		return nil, f.leaveErr
	}
	f.leftChats = append(f.leftChats, req.ChatId)
	return &client.Ok{}, nil
}

func (f *fakeAPI) DeleteAccount(req *client.DeleteAccountRequest) (*client.Ok, error) {
	f.passwords = append(f.passwords, req.Password)
	if len(f.accountErr) > 0 {
		err := f.accountErr[0]
		f.accountErr = f.accountErr[1:]
		return nil, err
	}
	return &client.Ok{}, nil
}

type fakeLister struct{ ids []int64 }

func (f *fakeLister) MainIDs() []int64 { return f.ids }

func deletable(id int64) *client.Message {
	return &client.Message{Id: id, CanBeDeletedForAllUsers: true}
}

func editable(id int64) *client.Message {
	return &client.Message{Id: id, CanBeEdited: true}
}

// account builds a fakeAPI with self user 1 (chat 1) and a private chat 2
// with regular user 20.
func account() *fakeAPI {
	return &fakeAPI{
		me:        &client.User{Id: 1, Type: &client.UserTypeRegular{}},
		loadPages: 1, // both lists come up empty
		chats: map[int64]*client.Chat{
			1: {Id: 1, Type: &client.ChatTypePrivate{UserId: 1}},
			2: {Id: 2, Type: &client.ChatTypePrivate{UserId: 20}},
		},
		users: map[int64]*client.User{
			1:  {Id: 1, Type: &client.UserTypeRegular{}},
			20: {Id: 20, Type: &client.UserTypeRegular{}},
		},
		messages: map[int64][]*client.Message{},
	}
}

func runOpts() Options {
	return Options{LoadDelay: time.Millisecond}
}

func TestRun_selfChatIsNeverTouched(t *testing.T) {
	api := account()
	api.messages[1] = []*client.Message{deletable(100)}
	o := New(api, &fakeLister{ids: []int64{1}}, runOpts())

	require.NoError(t, o.Run(context.Background()))
	assert.Empty(t, api.deletions)
	assert.Empty(t, api.deletedChats)
}

func TestRun_deletesInBatches(t *testing.T) {
	api := account()
	for id := int64(1); id <= 250; id++ {
		api.messages[2] = append(api.messages[2], deletable(id))
	}
	o := New(api, &fakeLister{ids: []int64{2}}, runOpts())

	require.NoError(t, o.Run(context.Background()))
	require.Len(t, api.deletions, 3)
	assert.Len(t, api.deletions[0].ids, 100)
	assert.Len(t, api.deletions[1].ids, 100)
	assert.Len(t, api.deletions[2].ids, 50)
	for _, d := range api.deletions {
		assert.Equal(t, int64(2), d.chatID)
	}
}

func TestRun_editFallback(t *testing.T) {
	api := account()
	api.messages[2] = []*client.Message{
		deletable(1),
		editable(2),
		{Id: 3}, // neither deletable nor editable
	}
	o := New(api, &fakeLister{ids: []int64{2}}, runOpts())

	require.NoError(t, o.Run(context.Background()))
	require.Len(t, api.deletions, 1)
	assert.Equal(t, []int64{1}, api.deletions[0].ids)
	assert.Equal(t, []int64{2}, api.edits)
}

func TestRun_deletesWholeChatWhenPermitted(t *testing.T) {
	api := account()
	api.chats[2].CanBeDeletedForAllUsers = true
	o := New(api, &fakeLister{ids: []int64{2}}, runOpts())

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, []int64{2}, api.deletedChats)
}

func TestRun_oneFailingChatDoesNotStopTheRun(t *testing.T) {
	api := account()
	for id := int64(2); id <= 6; id++ {
		api.chats[id] = &client.Chat{Id: id, Type: &client.ChatTypePrivate{UserId: 20}}
		api.messages[id] = []*client.Message{deletable(id * 100)}
	}
	api.searchErr = map[int64]error{4: errors.New("FLOOD_WAIT")}

	var progress []int
	opts := runOpts()
	opts.OnProgress = func(done, total int) { progress = append(progress, done) }
	o := New(api, &fakeLister{ids: []int64{2, 3, 4, 5, 6}}, opts)

	require.NoError(t, o.Run(context.Background()))
	require.Len(t, api.deletions, 4, "all chats except the failing one are wiped")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress, "progress covers failed chats too")
}

func TestRun_groupsAreLeft(t *testing.T) {
	api := account()
	api.chats[3] = &client.Chat{Id: 3, Type: &client.ChatTypeBasicGroup{BasicGroupId: 30}}
	api.chats[4] = &client.Chat{Id: 4, Type: &client.ChatTypeSupergroup{SupergroupId: 40}}
	api.chats[5] = &client.Chat{Id: 5, Type: &client.ChatTypeSupergroup{SupergroupId: 50, IsChannel: true}}
	api.messages[5] = []*client.Message{deletable(999)}
	o := New(api, &fakeLister{ids: []int64{2, 3, 4, 5}}, runOpts())

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, []int64{3, 4, 5}, api.leftChats, "groups and channels are left, private chats are not")
	assert.Empty(t, api.deletions, "channels hold no own messages to scan")
}

func TestRun_leaveIsBestEffort(t *testing.T) {
	api := account()
	api.chats[3] = &client.Chat{Id: 3, Type: &client.ChatTypeBasicGroup{BasicGroupId: 30}}
	api.leaveErr = errors.New("CHANNEL_PRIVATE")
	o := New(api, &fakeLister{ids: []int64{3}}, runOpts())

	require.NoError(t, o.Run(context.Background()), "a failed leave must not fail the chat")
}

func TestRun_skipFlags(t *testing.T) {
	build := func() *fakeAPI {
		api := account()
		api.messages[2] = []*client.Message{deletable(100)}
		api.chats[3] = &client.Chat{Id: 3, Type: &client.ChatTypeBasicGroup{BasicGroupId: 30}}
		api.chats[4] = &client.Chat{Id: 4, Type: &client.ChatTypeSupergroup{SupergroupId: 40}}
		return api
	}

	t.Run("skip users", func(t *testing.T) {
		api := build()
		opts := runOpts()
		opts.SkipUsers = true
		require.NoError(t, New(api, &fakeLister{ids: []int64{2, 3, 4}}, opts).Run(context.Background()))
		assert.Empty(t, api.deletions)
		assert.Equal(t, []int64{3, 4}, api.leftChats)
	})
	t.Run("skip groups", func(t *testing.T) {
		api := build()
		opts := runOpts()
		opts.SkipBasicGroups = true
		opts.SkipSuperGroups = true
		require.NoError(t, New(api, &fakeLister{ids: []int64{2, 3, 4}}, opts).Run(context.Background()))
		require.Len(t, api.deletions, 1)
		assert.Empty(t, api.leftChats)
	})
}

func TestRun_loadChatsUntilNotFound(t *testing.T) {
	api := account()
	api.loadPages = 3 // two pages per list, then 404
	o := New(api, &fakeLister{}, runOpts())

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 6, api.loadCalls, "two lists, three calls each")
}

func TestRun_loadErrorIsFatal(t *testing.T) {
	boom := tdx.ProtocolError(500, "Internal Server Error")
	o := New(&loadFailAPI{fakeAPI: account(), err: boom}, &fakeLister{}, runOpts())

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, tdx.HasCode(err, 500))
}

type loadFailAPI struct {
	*fakeAPI
	err error
}

func (l *loadFailAPI) LoadChats(req *client.LoadChatsRequest) (*client.Ok, error) {
	return nil, l.err
}

func TestRun_deleteAccount(t *testing.T) {
	t.Run("retries on rejection", func(t *testing.T) {
		api := account()
		api.accountErr = []error{tdx.ProtocolError(400, "PASSWORD_HASH_INVALID")}
		opts := runOpts()
		opts.DeleteAccount = true
		attempts := []string{"wrong", "right"}
		opts.AskPassword = func() (string, error) {
			p := attempts[0]
			attempts = attempts[1:]
			return p, nil
		}
		o := New(api, &fakeLister{}, opts)

		require.NoError(t, o.Run(context.Background()))
		assert.Equal(t, []string{"wrong", "right"}, api.passwords)
	})
	t.Run("prompt failure aborts", func(t *testing.T) {
		api := account()
		opts := runOpts()
		opts.DeleteAccount = true
		opts.AskPassword = func() (string, error) { return "", errors.New("eof") }
		o := New(api, &fakeLister{}, opts)

		require.Error(t, o.Run(context.Background()))
		assert.Empty(t, api.passwords)
	})
	t.Run("missing prompt is an error", func(t *testing.T) {
		opts := runOpts()
		opts.DeleteAccount = true
		o := New(account(), &fakeLister{}, opts)
		require.Error(t, o.Run(context.Background()))
	})
}

func TestRun_cancellation(t *testing.T) {
	api := account()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := New(api, &fakeLister{ids: []int64{2}}, runOpts())

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.deletions)
}
