// Package directory maintains the partition of known chats into the Main,
// Archive and Unknown lists, and the chat folder snapshot. The partition is
// fed exclusively by push updates; readers get point-in-time snapshots and
// never block the update consumer for long.
package directory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rusq/dlog"
	"github.com/zelenin/go-tdlib/client"

	"github.com/mrjv/cleanslate/internal/tdx"
)

// API is the client subset the directory needs: position updates do not
// carry the chat object, so membership changes require a refetch.
type API interface {
	GetChat(req *client.GetChatRequest) (*client.Chat, error)
}

type Directory struct {
	api API

	mu      sync.RWMutex
	main    map[int64]*client.Chat
	archive map[int64]*client.Chat
	unknown map[int64]*client.Chat
	folders map[int32]*client.ChatFolderInfo
}

func New(api API) *Directory {
	return &Directory{
		api:     api,
		main:    make(map[int64]*client.Chat),
		archive: make(map[int64]*client.Chat),
		unknown: make(map[int64]*client.Chat),
		folders: make(map[int32]*client.ChatFolderInfo),
	}
}

// Apply consumes one push update. It is total over the update set: variants
// the directory does not care about are no-ops. A returned error means a
// chat fetch failed and the partition may be missing an entry; the caller
// must treat that as fatal, as an invisible chat would silently escape
// cleanup.
func (d *Directory) Apply(upd client.Type) error {
	switch u := upd.(type) {
	case *client.UpdateNewChat:
		if u.Chat == nil {
			return nil
		}
		return d.refresh(u.Chat.Id)
	case *client.UpdateChatPosition:
		if u.Position == nil {
			return nil
		}
		if int64(u.Position.Order) == tdx.RemovedOrder {
			d.remove(u.Position.List, u.ChatId)
			return nil
		}
		return d.refresh(u.ChatId)
	case *client.UpdateChatRemovedFromList:
		d.remove(u.ChatList, u.ChatId)
	case *client.UpdateChatFolders:
		d.replaceFolders(u.ChatFolders)
	}
	return nil
}

// refresh fetches the chat and files it under exactly one partition,
// archive winning over main, main over unknown.
func (d *Directory) refresh(chatID int64) error {
	chat, err := d.api.GetChat(&client.GetChatRequest{ChatId: chatID})
	if err != nil {
		dlog.Printf("directory: fetch chat %d: %s", chatID, err)
		return fmt.Errorf("fetch chat %d: %w", chatID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.main, chatID)
	delete(d.archive, chatID)
	delete(d.unknown, chatID)
	switch {
	case inList(chat, isArchive):
		d.archive[chatID] = chat
	case inList(chat, isMain):
		d.main[chatID] = chat
	default:
		d.unknown[chatID] = chat
	}
	return nil
}

// remove drops the chat from the partition matching the list kind. Unknown
// entries are never removed this way: they only live until the process
// ends.
func (d *Directory) remove(list client.ChatList, chatID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch list.(type) {
	case *client.ChatListArchive:
		delete(d.archive, chatID)
	case *client.ChatListMain:
		delete(d.main, chatID)
	}
}

// replaceFolders swaps the folder map for the supplied full list. Snapshot
// replacement: folders absent from the update are dropped.
func (d *Directory) replaceFolders(folders []*client.ChatFolderInfo) {
	next := make(map[int32]*client.ChatFolderInfo, len(folders))
	for _, f := range folders {
		next[f.Id] = f
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.folders = next
}

// MainIDs returns a sorted snapshot of the main list.
func (d *Directory) MainIDs() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ids(d.main)
}

// ArchiveIDs returns a sorted snapshot of the archive list.
func (d *Directory) ArchiveIDs() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ids(d.archive)
}

// UnknownIDs returns a sorted snapshot of chats that belong to neither
// list, e.g. channel comment threads.
func (d *Directory) UnknownIDs() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ids(d.unknown)
}

// Folders returns a copy of the folder snapshot.
func (d *Directory) Folders() map[int32]*client.ChatFolderInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[int32]*client.ChatFolderInfo, len(d.folders))
	for id, f := range d.folders {
		out[id] = f
	}
	return out
}

// Len returns the total number of known chats across all partitions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.main) + len(d.archive) + len(d.unknown)
}

// Chat returns the stored chat object, if the id is known to any
// partition.
func (d *Directory) Chat(chatID int64) (*client.Chat, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, part := range []map[int64]*client.Chat{d.main, d.archive, d.unknown} {
		if chat, ok := part[chatID]; ok {
			return chat, true
		}
	}
	return nil, false
}

func ids(m map[int64]*client.Chat) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func inList(chat *client.Chat, match func(client.ChatList) bool) bool {
	for _, l := range chat.ChatLists {
		if match(l) {
			return true
		}
	}
	return false
}

func isArchive(l client.ChatList) bool {
	_, ok := l.(*client.ChatListArchive)
	return ok
}

func isMain(l client.ChatList) bool {
	_, ok := l.(*client.ChatListMain)
	return ok
}
