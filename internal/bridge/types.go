package bridge

import (
	"context"
	"strings"

	"github.com/dwizi/slack-bridge/internal/media"
	"github.com/dwizi/slack-bridge/internal/store"
)

// Event is one accepted inbound chat message, already stripped of mentions.
type Event struct {
	Identity    string
	Channel     string
	TS          string
	ThreadTS    string
	Text        string
	Mention     bool
	Attachments []media.Attachment
}

// ThreadAnchor is the timestamp replies thread under: the conversation root.
func (e Event) ThreadAnchor() string {
	if threadTS := strings.TrimSpace(e.ThreadTS); threadTS != "" {
		return threadTS
	}
	return strings.TrimSpace(e.TS)
}

// Reply is the final message delivered for an event. AttachmentPath names the
// voice file that was uploaded with it; the file is gone once HandleEvent
// returns.
type Reply struct {
	Channel        string
	ThreadTS       string
	Text           string
	AttachmentPath string
}

type UserProfile struct {
	ID          string
	Name        string
	RealName    string
	DisplayName string
}

// Responder delivers replies to the chat platform.
type Responder interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) error
	UploadFile(ctx context.Context, channel, threadTS, path, title string) error
	LookupUser(ctx context.Context, identity string) (UserProfile, error)
}

type Store interface {
	RegisterThread(ctx context.Context, key, identity string) (store.ThreadRecord, bool, error)
	AppendInbox(ctx context.Context, input store.AppendInboxInput) (store.InboxEntry, error)
}

type Fetcher interface {
	FetchAll(ctx context.Context, attachments []media.Attachment, files media.FileAllocator) []media.Item
}
