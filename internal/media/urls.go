package media

import (
	"regexp"
	"sort"
	"strings"
)

var videoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://(?:www\.|m\.)?youtube\.com/watch\?[^\s<>|]*v=[\w-]+[^\s<>|]*`),
	regexp.MustCompile(`https?://(?:www\.|m\.)?youtube\.com/shorts/[\w-]+[^\s<>|]*`),
	regexp.MustCompile(`https?://youtu\.be/[\w-]+[^\s<>|]*`),
	regexp.MustCompile(`https?://(?:www\.|player\.)?vimeo\.com/(?:video/)?\d+[^\s<>|]*`),
	regexp.MustCompile(`https?://(?:www\.|vm\.)?tiktok\.com/[^\s<>|]+`),
	regexp.MustCompile(`https?://(?:www\.)?instagram\.com/(?:reel|reels|p)/[\w-]+[^\s<>|]*`),
	regexp.MustCompile(`https?://(?:www\.)?(?:twitter|x)\.com/\w+/status/\d+[^\s<>|]*`),
	regexp.MustCompile(`https?://[^\s<>|]+\.(?:mp4|mov|webm|mkv)(?:\?[^\s<>|]*)?`),
}

var platformFileURL = regexp.MustCompile(`https?://(?:[\w-]+\.)*slack(?:-files)?\.com/`)

// ExtractVideoURLs finds links to known video hosts in free text, in order of
// first appearance and without duplicates. Chat-platform file links are left
// out since those arrive as attachments.
func ExtractVideoURLs(text string) []string {
	type match struct {
		start int
		url   string
	}
	matches := []match{}
	for _, pattern := range videoURLPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, match{start: loc[0], url: text[loc[0]:loc[1]]})
		}
	}
	sort.SliceStable(matches, func(left, right int) bool {
		return matches[left].start < matches[right].start
	})

	results := []string{}
	seen := map[string]struct{}{}
	for _, item := range matches {
		url := strings.ReplaceAll(strings.TrimRight(item.url, ".,;:!?)>"), "&amp;", "&")
		if platformFileURL.MatchString(url) {
			continue
		}
		if _, exists := seen[url]; exists {
			continue
		}
		seen[url] = struct{}{}
		results = append(results, url)
	}
	return results
}
