package media

import (
	"mime"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type Kind string

const (
	KindUnknown Kind = ""
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
)

// Attachment describes a file referenced by an inbound message.
type Attachment struct {
	MimeType    string
	SizeBytes   int64
	DownloadRef string
	Name        string
}

// Item is a file in scratch storage owned by a single request.
type Item struct {
	Path string
	Name string
	Kind Kind
}

// FrameIndex parses the sequence number out of a frame file name such as
// frame_0012.png. Names past the zero padding (frame_10000.png) still parse.
func FrameIndex(name string) (int, bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	digits := strings.TrimLeft(base, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-")
	if digits == "" {
		return 0, false
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return index, true
}

// FrameLess orders frame file names by sequence number. Names without one
// sort after numbered names, by plain name.
func FrameLess(left, right string) bool {
	leftIndex, leftOK := FrameIndex(left)
	rightIndex, rightOK := FrameIndex(right)
	if leftOK != rightOK {
		return leftOK
	}
	if leftOK && leftIndex != rightIndex {
		return leftIndex < rightIndex
	}
	return left < right
}

// SortFrameNames sorts names in playback order.
func SortFrameNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return FrameLess(names[i], names[j])
	})
}

var allowedMimeTypes = map[Kind][]string{
	KindImage: {
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"image/heic",
	},
	KindVideo: {
		"video/mp4",
		"video/quicktime",
		"video/webm",
		"video/x-matroska",
		"video/x-msvideo",
		"video/mpeg",
	},
	KindAudio: {
		"audio/mpeg",
		"audio/mp3",
		"audio/mp4",
		"audio/x-m4a",
		"audio/aac",
		"audio/wav",
		"audio/x-wav",
		"audio/ogg",
		"audio/webm",
		"audio/flac",
	},
}

var kindByMimeType = func() map[string]Kind {
	result := map[string]Kind{}
	for kind, mimeTypes := range allowedMimeTypes {
		for _, mimeType := range mimeTypes {
			result[mimeType] = kind
		}
	}
	return result
}()

func Classify(mimeType string) Kind {
	return kindByMimeType[normalizeMimeType(mimeType)]
}

type Limits struct {
	Image int64
	Video int64
	Audio int64
}

func DefaultLimits() Limits {
	return Limits{
		Image: 20 << 20,
		Video: 100 << 20,
		Audio: 25 << 20,
	}
}

func (l Limits) MaxSizeForKind(kind Kind) int64 {
	switch kind {
	case KindImage:
		return l.Image
	case KindVideo:
		return l.Video
	case KindAudio:
		return l.Audio
	default:
		return 0
	}
}

// Accept reports whether an attachment passes the allow-list and the size
// ceiling of its class. A size equal to the ceiling is accepted.
func (l Limits) Accept(attachment Attachment) (Kind, bool) {
	kind := Classify(attachment.MimeType)
	if kind == KindUnknown {
		return KindUnknown, false
	}
	if attachment.SizeBytes < 0 || attachment.SizeBytes > l.MaxSizeForKind(kind) {
		return kind, false
	}
	return kind, true
}

func normalizeMimeType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(value)
	if err != nil {
		if idx := strings.Index(value, ";"); idx >= 0 {
			value = value[:idx]
		}
		return strings.ToLower(strings.TrimSpace(value))
	}
	return strings.ToLower(parsed)
}

// extensionFor picks a file extension for a downloaded attachment, preferring
// the original file name.
func extensionFor(name, mimeType string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 && idx < len(name)-1 {
		ext := strings.ToLower(name[idx:])
		if len(ext) <= 6 && !strings.ContainsAny(ext, `/\ `) {
			return ext
		}
	}
	if extensions, err := mime.ExtensionsByType(normalizeMimeType(mimeType)); err == nil && len(extensions) > 0 {
		return extensions[0]
	}
	return ".bin"
}
