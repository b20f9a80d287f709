// Package scan pages through a chat's message history. The server's search
// cursor is not trusted blindly: pages can overlap, so the scanner guards
// against duplicate tail entries while accumulating.
package scan

import (
	"errors"
	"fmt"

	"github.com/zelenin/go-tdlib/client"

	"github.com/mrjv/cleanslate/internal/tdx"
)

// API is the client subset the scanner needs.
type API interface {
	SearchChatMessages(req *client.SearchChatMessagesRequest) (*client.FoundChatMessages, error)
}

// ErrPageSize is returned when the requested page size is outside the
// server's accepted range.
var ErrPageSize = errors.New("page size must be between 1 and 100")

// Scanner collects messages from a single chat.
type Scanner struct {
	api    API
	chatID int64
}

func New(api API, chatID int64) *Scanner {
	return &Scanner{api: api, chatID: chatID}
}

// Options control one scan.
type Options struct {
	// ContentTypes, when non-empty, keeps only messages whose content type
	// matches one of the listed type names, e.g. "messagePhoto". Filtered
	// messages do not count towards MaxCount.
	ContentTypes []string
	// PageSize is the per-request limit, 1 to 100. Zero means 100.
	PageSize int32
	// MaxCount stops the scan once that many messages are collected. Zero
	// means unbounded.
	MaxCount int
	// TwoHopDup additionally drops a message that repeats the
	// second-to-last collected id, for servers that replay more than the
	// cursor message.
	TwoHopDup bool
	// OnMessage, when set, is called for every collected message. Returning
	// false stops the scan early.
	OnMessage func(m *client.Message) bool
}

// SenderMessages returns the chat's messages from the given sender, newest
// first, paging until the history is exhausted or a limit is hit.
func (s *Scanner) SenderMessages(sender client.MessageSender, opt Options) ([]*client.Message, error) {
	if opt.PageSize == 0 {
		opt.PageSize = tdx.DefaultPageSize
	}
	if opt.PageSize < 1 || opt.PageSize > tdx.DefaultPageSize {
		return nil, fmt.Errorf("%w: %d", ErrPageSize, opt.PageSize)
	}

	var (
		acc    []*client.Message
		fromID int64
	)
	for {
		res, err := s.api.SearchChatMessages(&client.SearchChatMessagesRequest{
			ChatId:        s.chatID,
			SenderId:      sender,
			FromMessageId: fromID,
			Limit:         opt.PageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("search chat %d: %w", s.chatID, err)
		}
		var stop bool
		acc, stop = appendPage(acc, res.Messages, opt)
		if stop || res.NextFromMessageId == 0 {
			return acc, nil
		}
		fromID = res.NextFromMessageId
	}
}

// appendPage merges one result page into the accumulator, applying the
// duplicate guards and limits. The second return value requests an early
// stop.
func appendPage(acc []*client.Message, page []*client.Message, opt Options) ([]*client.Message, bool) {
	for _, m := range page {
		if n := len(acc); n > 0 && m.Id == acc[n-1].Id {
			continue
		}
		if n := len(acc); opt.TwoHopDup && n > 1 && m.Id == acc[n-2].Id {
			continue
		}
		if len(opt.ContentTypes) > 0 && !typeMatches(m, opt.ContentTypes) {
			continue
		}
		acc = append(acc, m)
		if opt.OnMessage != nil && !opt.OnMessage(m) {
			return acc, true
		}
		if opt.MaxCount > 0 && len(acc) >= opt.MaxCount {
			return acc, true
		}
	}
	return acc, false
}

func typeMatches(m *client.Message, types []string) bool {
	if m.Content == nil {
		return false
	}
	have := m.Content.MessageContentType()
	for _, want := range types {
		if have == want {
			return true
		}
	}
	return false
}
