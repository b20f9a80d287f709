// Package classify answers "what kind of chat is this" questions, both as
// single-shot predicates over one chat and as set builders that enumerate
// the account's chat lists.
package classify

import (
	"fmt"

	"github.com/zelenin/go-tdlib/client"
)

// Kind narrows private chats by the type of user on the other side.
type Kind int

const (
	// KindRegular is a live human account.
	KindRegular Kind = iota
	// KindBot is a bot account.
	KindBot
	// KindDeleted is a deleted (ghost) account.
	KindDeleted
	// KindUnknown matches any user type.
	KindUnknown
)

func (k Kind) match(ut client.UserType) bool {
	switch ut.(type) {
	case *client.UserTypeRegular:
		return k == KindRegular || k == KindUnknown
	case *client.UserTypeBot:
		return k == KindBot || k == KindUnknown
	case *client.UserTypeDeleted:
		return k == KindDeleted || k == KindUnknown
	default:
		return k == KindUnknown
	}
}

// ContactFilter narrows users by contact-book membership.
type ContactFilter int

const (
	ContactAny ContactFilter = iota
	ContactKnown
	ContactUnknown
)

func (cf ContactFilter) match(u *client.User) bool {
	switch cf {
	case ContactKnown:
		return u.IsContact
	case ContactUnknown:
		return !u.IsContact
	default:
		return true
	}
}

// Getter is the client subset the single-shot predicates need.
type Getter interface {
	GetChat(req *client.GetChatRequest) (*client.Chat, error)
	GetUser(req *client.GetUserRequest) (*client.User, error)
}

// API extends Getter with the enumeration calls the set builders use.
type API interface {
	Getter
	GetChats(req *client.GetChatsRequest) (*client.Chats, error)
	GetBlockedMessageSenders(req *client.GetBlockedMessageSendersRequest) (*client.MessageSenders, error)
}

// IsUser reports whether the chat is a private chat with a user of the
// given kind.
func IsUser(api Getter, chatID int64, kind Kind) (bool, error) {
	chat, err := api.GetChat(&client.GetChatRequest{ChatId: chatID})
	if err != nil {
		return false, fmt.Errorf("chat %d: %w", chatID, err)
	}
	private, ok := chat.Type.(*client.ChatTypePrivate)
	if !ok {
		return false, nil
	}
	user, err := api.GetUser(&client.GetUserRequest{UserId: private.UserId})
	if err != nil {
		return false, fmt.Errorf("user %d: %w", private.UserId, err)
	}
	return kind.match(user.Type), nil
}

// IsRegularUser reports whether the chat is a private chat with a live
// human account.
func IsRegularUser(api Getter, chatID int64) (bool, error) {
	return IsUser(api, chatID, KindRegular)
}

// IsBotUser reports whether the chat is a private chat with a bot.
func IsBotUser(api Getter, chatID int64) (bool, error) {
	return IsUser(api, chatID, KindBot)
}

// IsDeletedAccount reports whether the chat is a private chat with a
// deleted account.
func IsDeletedAccount(api Getter, chatID int64) (bool, error) {
	return IsUser(api, chatID, KindDeleted)
}

func chatKind(api Getter, chatID int64, pred func(chat *client.Chat) bool) (bool, error) {
	chat, err := api.GetChat(&client.GetChatRequest{ChatId: chatID})
	if err != nil {
		return false, fmt.Errorf("chat %d: %w", chatID, err)
	}
	return pred(chat), nil
}

// IsSuperGroup reports whether the chat is a supergroup (and not a
// channel: broadcast supergroups are classified separately).
func IsSuperGroup(api Getter, chatID int64) (bool, error) {
	return chatKind(api, chatID, func(chat *client.Chat) bool {
		sg, ok := chat.Type.(*client.ChatTypeSupergroup)
		return ok && !sg.IsChannel
	})
}

// IsBasicGroup reports whether the chat is a legacy basic group.
func IsBasicGroup(api Getter, chatID int64) (bool, error) {
	return chatKind(api, chatID, func(chat *client.Chat) bool {
		_, ok := chat.Type.(*client.ChatTypeBasicGroup)
		return ok
	})
}

// IsChannel reports whether the chat is a broadcast channel.
func IsChannel(api Getter, chatID int64) (bool, error) {
	return chatKind(api, chatID, func(chat *client.Chat) bool {
		sg, ok := chat.Type.(*client.ChatTypeSupergroup)
		return ok && sg.IsChannel
	})
}

// Classifier enumerates and filters the account's chats.
type Classifier struct {
	api API
	// Limit caps one GetChats page, BlockLimit one blocked-senders page.
	Limit      int32
	BlockLimit int32
}

func NewClassifier(api API) *Classifier {
	return &Classifier{api: api, Limit: 500, BlockLimit: 100}
}

// ChatIDs returns the ids of all chats on the archive and main lists,
// archive first, without duplicates.
func (cl *Classifier) ChatIDs() ([]int64, error) {
	var (
		out  []int64
		seen = make(map[int64]bool)
	)
	for _, list := range []client.ChatList{&client.ChatListArchive{}, &client.ChatListMain{}} {
		chats, err := cl.api.GetChats(&client.GetChatsRequest{ChatList: list, Limit: cl.Limit})
		if err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		for _, id := range chats.ChatIds {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// UserChats returns the private chats whose peer matches the kind and the
// contact filter.
func (cl *Classifier) UserChats(kind Kind, filter ContactFilter) ([]*client.Chat, error) {
	return cl.selectChats(func(chat *client.Chat) (bool, error) {
		return cl.matchUser(chat, kind, filter)
	})
}

// BlockedChatIDs returns the ids of chats whose peer the account has
// blocked.
func (cl *Classifier) BlockedChatIDs() ([]int64, error) {
	blocked, err := cl.api.GetBlockedMessageSenders(&client.GetBlockedMessageSendersRequest{
		BlockList: &client.BlockListMain{},
		Limit:     cl.BlockLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("blocked senders: %w", err)
	}
	ids, err := cl.ChatIDs()
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, id := range ids {
		chat, err := cl.api.GetChat(&client.GetChatRequest{ChatId: id})
		if err != nil {
			return nil, fmt.Errorf("chat %d: %w", id, err)
		}
		if senderBlocked(blocked.Senders, chat) {
			out = append(out, id)
		}
	}
	return out, nil
}

// BlockedUserChats returns the private chats with blocked peers matching
// the kind and contact filter.
func (cl *Classifier) BlockedUserChats(kind Kind, filter ContactFilter) ([]*client.Chat, error) {
	blocked, err := cl.api.GetBlockedMessageSenders(&client.GetBlockedMessageSendersRequest{
		BlockList: &client.BlockListMain{},
		Limit:     cl.BlockLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("blocked senders: %w", err)
	}
	return cl.selectChats(func(chat *client.Chat) (bool, error) {
		ok, err := cl.matchUser(chat, kind, filter)
		if err != nil || !ok {
			return false, err
		}
		return senderBlocked(blocked.Senders, chat), nil
	})
}

// BasicGroups returns all legacy basic group chats.
func (cl *Classifier) BasicGroups() ([]*client.Chat, error) {
	return cl.selectChats(func(chat *client.Chat) (bool, error) {
		_, ok := chat.Type.(*client.ChatTypeBasicGroup)
		return ok, nil
	})
}

// SuperGroups returns all non-channel supergroup chats.
func (cl *Classifier) SuperGroups() ([]*client.Chat, error) {
	return cl.selectChats(func(chat *client.Chat) (bool, error) {
		sg, ok := chat.Type.(*client.ChatTypeSupergroup)
		return ok && !sg.IsChannel, nil
	})
}

// Channels returns all broadcast channel chats.
func (cl *Classifier) Channels() ([]*client.Chat, error) {
	return cl.selectChats(func(chat *client.Chat) (bool, error) {
		sg, ok := chat.Type.(*client.ChatTypeSupergroup)
		return ok && sg.IsChannel, nil
	})
}

// ChatsInFolder returns the ids of chats in the given chat folder.
func (cl *Classifier) ChatsInFolder(folderID int32) ([]int64, error) {
	chats, err := cl.api.GetChats(&client.GetChatsRequest{
		ChatList: &client.ChatListFolder{ChatFolderId: folderID},
		Limit:    cl.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("folder %d: %w", folderID, err)
	}
	return chats.ChatIds, nil
}

func (cl *Classifier) selectChats(pred func(chat *client.Chat) (bool, error)) ([]*client.Chat, error) {
	ids, err := cl.ChatIDs()
	if err != nil {
		return nil, err
	}
	var out []*client.Chat
	for _, id := range ids {
		chat, err := cl.api.GetChat(&client.GetChatRequest{ChatId: id})
		if err != nil {
			return nil, fmt.Errorf("chat %d: %w", id, err)
		}
		ok, err := pred(chat)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, chat)
		}
	}
	return out, nil
}

func (cl *Classifier) matchUser(chat *client.Chat, kind Kind, filter ContactFilter) (bool, error) {
	private, ok := chat.Type.(*client.ChatTypePrivate)
	if !ok {
		return false, nil
	}
	user, err := cl.api.GetUser(&client.GetUserRequest{UserId: private.UserId})
	if err != nil {
		return false, fmt.Errorf("user %d: %w", private.UserId, err)
	}
	return kind.match(user.Type) && filter.match(user), nil
}

// senderBlocked reports whether the chat's counterpart appears in the
// blocked sender list, either as the user behind a private chat or as the
// chat itself.
func senderBlocked(senders []client.MessageSender, chat *client.Chat) bool {
	private, _ := chat.Type.(*client.ChatTypePrivate)
	for _, s := range senders {
		switch sender := s.(type) {
		case *client.MessageSenderUser:
			if private != nil && sender.UserId == private.UserId {
				return true
			}
		case *client.MessageSenderChat:
			if sender.ChatId == chat.Id {
				return true
			}
		}
	}
	return false
}
