package prompt

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dwizi/slack-bridge/internal/media"
)

const defaultInstruction = "Analyze this media."

// Input is everything a request contributes to the agent prompt. Media is
// referenced by path only.
type Input struct {
	Text       string
	Transcript string
	Frames     []media.Item
	Images     []media.Item
}

func (in Input) hasMedia() bool {
	return strings.TrimSpace(in.Transcript) != "" || len(in.Frames) > 0 || len(in.Images) > 0
}

// Assemble builds the prompt handed to the agent on stdin.
func Assemble(in Input) string {
	text := strings.TrimSpace(in.Text)
	if text == "" && in.hasMedia() {
		text = defaultInstruction
	}

	sections := []string{}
	if text != "" {
		sections = append(sections, text)
	}
	if transcript := strings.TrimSpace(in.Transcript); transcript != "" {
		sections = append(sections, "## Voice transcript\n\n"+transcript)
	}
	if len(in.Frames) > 0 {
		sections = append(sections, frameBlock(in.Frames))
	}
	if len(in.Images) > 0 {
		sections = append(sections, imageBlock(in.Images))
	}
	return strings.Join(sections, "\n\n")
}

func frameBlock(frames []media.Item) string {
	ordered := orderFrames(frames)

	var builder strings.Builder
	builder.WriteString("## Video frames\n\n")
	fmt.Fprintf(&builder, "The video was sampled into %d frames, listed in playback order. ", len(ordered))
	builder.WriteString("Read every frame file with your file tool before answering. ")
	builder.WriteString("Describe what happens across the frames and call out changes between consecutive frames.\n")
	for index, frame := range ordered {
		fmt.Fprintf(&builder, "\n%d. %s", index+1, frame.Path)
	}
	return builder.String()
}

func imageBlock(images []media.Item) string {
	var builder strings.Builder
	builder.WriteString("## Images\n\n")
	builder.WriteString("Read each image file with your file tool.\n")
	for _, image := range images {
		name := strings.TrimSpace(image.Name)
		if name == "" {
			fmt.Fprintf(&builder, "\n- %s", image.Path)
			continue
		}
		fmt.Fprintf(&builder, "\n- %s (%s)", image.Path, name)
	}
	return builder.String()
}

// orderFrames keeps frames of one video together, videos in the order they
// were given, and sorts each video's frames by sequence number.
func orderFrames(frames []media.Item) []media.Item {
	videoOrder := map[string]int{}
	for _, frame := range frames {
		dir := filepath.Dir(frame.Path)
		if _, ok := videoOrder[dir]; !ok {
			videoOrder[dir] = len(videoOrder)
		}
	}
	ordered := append([]media.Item(nil), frames...)
	sort.SliceStable(ordered, func(i, j int) bool {
		left, right := videoOrder[filepath.Dir(ordered[i].Path)], videoOrder[filepath.Dir(ordered[j].Path)]
		if left != right {
			return left < right
		}
		return media.FrameLess(frameName(ordered[i]), frameName(ordered[j]))
	})
	return ordered
}

func frameName(item media.Item) string {
	if name := strings.TrimSpace(item.Name); name != "" {
		return name
	}
	return filepath.Base(item.Path)
}
