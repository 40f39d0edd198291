package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// String Utilities
// ============================================================================

// Truncate shortens s to at most maxLen runes, ending with an ellipsis when cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// EscapeMarkdownLink keeps a title from breaking out of [title](url) syntax.
func EscapeMarkdownLink(s string) string {
	r := strings.NewReplacer("[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}

// Plural returns "1 vote" / "2 votes".
func Plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// ============================================================================
// Discord Utilities
// ============================================================================

// ChannelURL links to a channel or thread.
func ChannelURL(guildID, channelID snowflake.ID) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s", guildID, channelID)
}

// MessageURL links to a message.
func MessageURL(guildID, channelID, messageID snowflake.ID) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// MemberDisplayName resolves nickname, then global name, then username.
func MemberDisplayName(m discord.Member) string {
	if m.Nick != nil && *m.Nick != "" {
		return *m.Nick
	}
	if m.User.GlobalName != nil && *m.User.GlobalName != "" {
		return *m.User.GlobalName
	}
	return m.User.Username
}

// ChunkStrings splits items into groups of at most size.
func ChunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		return nil
	}
	var chunks [][]string
	for len(items) > size {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}

// ============================================================================
// Time Utilities
// ============================================================================

func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	days := int(d.Hours()) / 24
	h, m, s := int(d.Hours())%24, int(d.Minutes())%60, int(d.Seconds())%60
	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, h)
	}
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Days converts a whole number of days into a duration.
func Days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
