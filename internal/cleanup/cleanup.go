// Package cleanup walks the account's chats and destroys its footprint:
// own messages are deleted (or redacted when deletion is not permitted),
// group and channel memberships are left, and optionally the account
// itself is deleted at the end.
package cleanup

import (
	"context"
	"fmt"
	"runtime/trace"
	"time"

	"github.com/rusq/dlog"
	"github.com/zelenin/go-tdlib/client"

	"github.com/mrjv/cleanslate/internal/classify"
	"github.com/mrjv/cleanslate/internal/scan"
	"github.com/mrjv/cleanslate/internal/tdx"
)

// API is the client subset the orchestrator needs.
type API interface {
	GetMe() (*client.User, error)
	GetChat(req *client.GetChatRequest) (*client.Chat, error)
	GetUser(req *client.GetUserRequest) (*client.User, error)
	LoadChats(req *client.LoadChatsRequest) (*client.Ok, error)
	SearchChatMessages(req *client.SearchChatMessagesRequest) (*client.FoundChatMessages, error)
	DeleteMessages(req *client.DeleteMessagesRequest) (*client.Ok, error)
	EditMessageText(req *client.EditMessageTextRequest) (*client.Message, error)
	DeleteChat(req *client.DeleteChatRequest) (*client.Ok, error)
	LeaveChat(req *client.LeaveChatRequest) (*client.Ok, error)
	DeleteAccount(req *client.DeleteAccountRequest) (*client.Ok, error)
}

// ChatLister yields the chat ids to process, a snapshot of the main list
// after loading completes.
type ChatLister interface {
	MainIDs() []int64
}

// Options tune a cleanup run.
type Options struct {
	SkipSuperGroups bool
	SkipBasicGroups bool
	SkipBots        bool
	SkipChannels    bool
	SkipUsers       bool

	// DeleteAccount ends the run by deleting the account. AskPassword must
	// be set when it is.
	DeleteAccount bool

	// LoadDelay is the pause between LoadChats pages. Zero means 250ms.
	LoadDelay time.Duration
	// BatchSize caps one DeleteMessages request. Zero means 100.
	BatchSize int

	// OnProgress, when set, is called after each processed chat.
	OnProgress func(done, total int)
	// AskPassword supplies the 2FA password for account deletion.
	AskPassword func() (string, error)
}

const deleteReason = "Account deleted by its owner"

// Orchestrator runs the cleanup.
type Orchestrator struct {
	api  API
	dir  ChatLister
	opts Options
}

func New(api API, dir ChatLister, opts Options) *Orchestrator {
	if opts.LoadDelay == 0 {
		opts.LoadDelay = tdx.DefaultLoadDelay
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = tdx.DefaultBatchSize
	}
	return &Orchestrator{api: api, dir: dir, opts: opts}
}

// Run executes the full cleanup: load all chats, wipe each one in turn,
// then optionally delete the account. A failure on one chat is logged and
// the run moves on; only loading failures are fatal.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, task := trace.NewTask(ctx, "cleanup.Run")
	defer task.End()

	if err := o.loadChats(ctx); err != nil {
		return err
	}

	me, err := o.api.GetMe()
	if err != nil {
		return fmt.Errorf("get self: %w", err)
	}

	chatIDs := o.dir.MainIDs()
	dlog.Debugf("cleanup: %d chats to process", len(chatIDs))
	for i, chatID := range chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.processChat(ctx, me.Id, chatID); err != nil {
			dlog.Printf("chat %d: %s", chatID, err)
		}
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(i+1, len(chatIDs))
		}
	}

	if o.opts.DeleteAccount {
		return o.deleteAccount(ctx)
	}
	return nil
}

// loadChats asks the server to populate the chat lists, archive first. The
// server signals the end of a list with a 404, which is the normal
// termination, not an error.
func (o *Orchestrator) loadChats(ctx context.Context) error {
	defer trace.StartRegion(ctx, "loadChats").End()
	for _, list := range []client.ChatList{&client.ChatListArchive{}, &client.ChatListMain{}} {
		for {
			_, err := o.api.LoadChats(&client.LoadChatsRequest{ChatList: list, Limit: tdx.DefaultPageSize})
			if err != nil {
				if tdx.IsNotFound(err) {
					break
				}
				return fmt.Errorf("load chats: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.opts.LoadDelay):
			}
		}
	}
	return nil
}

func (o *Orchestrator) processChat(ctx context.Context, meID, chatID int64) error {
	defer trace.StartRegion(ctx, "processChat").End()

	skip, err := o.shouldSkip(meID, chatID)
	if err != nil {
		return err
	}
	if skip {
		dlog.Debugf("chat %d: skipped", chatID)
		return nil
	}

	isChannel, err := classify.IsChannel(o.api, chatID)
	if err != nil {
		return err
	}
	// a channel holds no own messages to wipe, membership is all there is
	if !isChannel {
		if err := o.wipeMessages(ctx, meID, chatID); err != nil {
			return err
		}
	}

	return o.leaveIfGroup(chatID)
}

// shouldSkip applies the skip flags. The chat with self never qualifies:
// Saved Messages go away with the account, not one by one.
func (o *Orchestrator) shouldSkip(meID, chatID int64) (bool, error) {
	if chatID == meID {
		return true, nil
	}
	checks := []struct {
		enabled bool
		pred    func(classify.Getter, int64) (bool, error)
	}{
		{o.opts.SkipSuperGroups, classify.IsSuperGroup},
		{o.opts.SkipBasicGroups, classify.IsBasicGroup},
		{o.opts.SkipBots, classify.IsBotUser},
		{o.opts.SkipChannels, classify.IsChannel},
		{o.opts.SkipUsers, classify.IsRegularUser},
	}
	for _, c := range checks {
		if !c.enabled {
			continue
		}
		match, err := c.pred(o.api, chatID)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// wipeMessages removes the account's own messages from the chat. Messages
// that cannot be deleted for everyone are redacted in place when editable;
// otherwise they are reported and left alone.
func (o *Orchestrator) wipeMessages(ctx context.Context, meID, chatID int64) error {
	messages, err := scan.New(o.api, chatID).SenderMessages(
		&client.MessageSenderUser{UserId: meID},
		scan.Options{},
	)
	if err != nil {
		return err
	}

	var deletable []int64
	for _, m := range messages {
		switch {
		case m.CanBeDeletedForAllUsers:
			deletable = append(deletable, m.Id)
		case m.CanBeEdited:
			if err := o.redact(chatID, m.Id); err != nil {
				dlog.Printf("chat %d: redact message %d: %s", chatID, m.Id, err)
			}
		default:
			dlog.Printf("chat %d: message %d can be neither deleted nor edited", chatID, m.Id)
		}
	}

	for _, batch := range tdx.SplitBy(o.opts.BatchSize, deletable) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.api.DeleteMessages(&client.DeleteMessagesRequest{
			ChatId:     chatID,
			MessageIds: batch,
			Revoke:     true,
		}); err != nil {
			return fmt.Errorf("delete %d messages: %w", len(batch), err)
		}
	}
	dlog.Debugf("chat %d: %d messages deleted", chatID, len(deletable))

	chat, err := o.api.GetChat(&client.GetChatRequest{ChatId: chatID})
	if err != nil {
		return err
	}
	if chat.CanBeDeletedForAllUsers {
		if _, err := o.api.DeleteChat(&client.DeleteChatRequest{ChatId: chatID}); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
	}
	return nil
}

// redact replaces the message text with the shortest the server accepts.
func (o *Orchestrator) redact(chatID, messageID int64) error {
	_, err := o.api.EditMessageText(&client.EditMessageTextRequest{
		ChatId:    chatID,
		MessageId: messageID,
		InputMessageContent: &client.InputMessageText{
			Text: &client.FormattedText{Text: "."},
		},
	})
	return err
}

// leaveIfGroup leaves the chat when it is not a private conversation.
// Leaving is best effort: a refusal must not fail the chat.
func (o *Orchestrator) leaveIfGroup(chatID int64) error {
	isUser, err := classify.IsRegularUser(o.api, chatID)
	if err != nil {
		return err
	}
	isBot, err := classify.IsBotUser(o.api, chatID)
	if err != nil {
		return err
	}
	if isUser || isBot {
		return nil
	}
	if _, err := o.api.LeaveChat(&client.LeaveChatRequest{ChatId: chatID}); err != nil {
		dlog.Debugf("chat %d: leave: %s", chatID, err)
	}
	return nil
}

// deleteAccount keeps asking for the password until the server accepts the
// deletion. A prompt failure aborts: without input there is nothing left
// to retry with.
func (o *Orchestrator) deleteAccount(ctx context.Context) error {
	if o.opts.AskPassword == nil {
		return fmt.Errorf("account deletion requested without a password prompt")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		password, err := o.opts.AskPassword()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		_, err = o.api.DeleteAccount(&client.DeleteAccountRequest{
			Reason:   deleteReason,
			Password: password,
		})
		if err == nil {
			return nil
		}
		dlog.Printf("delete account: %s", err)
	}
}
