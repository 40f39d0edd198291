package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

const (
	maxPollOptions      = 25
	maxOptionLabelLen   = 100
	mediaPerGallery     = 10
	pollVotePlaceholder = "Vote for a post!"

	// Discord caps the combined text of a Components V2 message.
	maxPollText    = 4000
	maxSummaryText = 2400
	minTitleLen    = 12
)

// PollView is a point-in-time copy of a session for rendering.
type PollView struct {
	SessionID   string
	GuildID     snowflake.ID
	Candidates  []Candidate
	Labels      []string
	WindowStart time.Time
	StartedAt   time.Time
	EndsAt      time.Time
	CanEnd      bool
	Final       bool
	EndedAt     time.Time
	Summary     string
}

func pollCustomID(sessionID, action string) string {
	return fmt.Sprintf("poll:%s:%s", sessionID, action)
}

// parsePollCustomID splits "poll:<session>:<action>".
func parsePollCustomID(customID string) (sessionID, action string, ok bool) {
	parts := strings.SplitN(customID, ":", 3)
	if len(parts) != 3 || parts[0] != "poll" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// BuildOptionLabels makes "<title>, by <name>" labels that fit the select menu
// and are unique within one poll.
func BuildOptionLabels(candidates []Candidate, names map[snowflake.ID]string) []string {
	labels := make([]string, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for i, c := range candidates {
		name, ok := names[c.OwnerID]
		if !ok || name == "" {
			name = c.OwnerID.String()
		}
		base := fmt.Sprintf("%s, by %s", c.Name, name)
		label := Truncate(base, maxOptionLabelLen)
		for n := 2; seen[label]; n++ {
			suffix := fmt.Sprintf(" (%d)", n)
			label = Truncate(base, maxOptionLabelLen-len(suffix)) + suffix
		}
		seen[label] = true
		labels[i] = label
	}
	return labels
}

// RenderPoll lays the poll out as a single container. Final views carry the
// closing tally and no interactive components. The text blocks together stay
// within maxPollText.
func RenderPoll(v PollView) []discord.LayoutComponent {
	header := fmt.Sprintf(MsgPollHeader, v.WindowStart.Unix(), v.StartedAt.Unix())
	var footer string
	if v.Final {
		summary := fitLines(strings.Split(v.Summary, "\n"), maxSummaryText)
		footer = fmt.Sprintf(MsgPollFinal, v.EndedAt.Unix(), summary)
	} else {
		footer = fmt.Sprintf(MsgPollTimeLeft, v.EndsAt.Unix())
	}

	var subs []discord.ContainerSubComponent
	subs = append(subs,
		discord.NewTextDisplay(header),
		discord.NewTextDisplay(renderPostList(v, maxPollText-textLen(header)-textLen(footer))),
	)

	var media []string
	for _, c := range v.Candidates {
		if c.MediaURL != "" {
			media = append(media, c.MediaURL)
		}
	}
	for _, chunk := range ChunkStrings(media, mediaPerGallery) {
		items := make([]discord.MediaGalleryItem, 0, len(chunk))
		for _, u := range chunk {
			items = append(items, discord.MediaGalleryItem{Media: discord.UnfurledMediaItem{URL: u}})
		}
		subs = append(subs, discord.NewMediaGallery(items...))
	}

	subs = append(subs,
		discord.NewSeparator(discord.SeparatorSpacingSizeSmall).WithDivider(true),
		discord.NewTextDisplay(footer),
	)

	if v.Final {
		return []discord.LayoutComponent{discord.NewContainer(subs...)}
	}

	opts := make([]discord.StringSelectMenuOption, 0, len(v.Labels))
	for i, l := range v.Labels {
		opts = append(opts, discord.NewStringSelectMenuOption(l, strconv.Itoa(i)))
	}
	subs = append(subs,
		discord.NewActionRow(discord.NewStringSelectMenu(pollCustomID(v.SessionID, "vote"), pollVotePlaceholder, opts...)),
		discord.NewActionRow(
			discord.NewButton(discord.ButtonStylePrimary, "View Results", pollCustomID(v.SessionID, "results"), "", 0),
			discord.NewButton(discord.ButtonStyleDanger, "End Vote", pollCustomID(v.SessionID, "end"), "", 0).WithDisabled(!v.CanEnd),
		),
	)

	return []discord.LayoutComponent{discord.NewContainer(subs...)}
}

// renderPostList writes one linked line per post. Titles are shortened evenly
// when the full list would not fit in budget.
func renderPostList(v PollView, budget int) string {
	lines := postLines(v, 0)
	if n := len(lines); n > 0 && textLen(strings.Join(lines, "\n")) > budget {
		overhead := textLen(strings.Join(postLines(v, -1), "\n"))
		titleLen := max((budget-overhead)/n, minTitleLen)
		lines = postLines(v, titleLen)
	}
	return fitLines(lines, budget)
}

// postLines renders the list with titles cut to titleLen runes. Zero keeps
// full titles and a negative length leaves them out.
func postLines(v PollView, titleLen int) []string {
	lines := make([]string, len(v.Candidates))
	for i, c := range v.Candidates {
		title := c.Name
		switch {
		case titleLen < 0:
			title = ""
		case titleLen > 0:
			title = Truncate(title, titleLen)
		}
		lines[i] = fmt.Sprintf("%d. [%s](%s) by <@%s>", i+1, EscapeMarkdownLink(title), ChannelURL(v.GuildID, c.ID), c.OwnerID)
	}
	return lines
}

// fitLines joins whole lines while they fit in budget runes and notes how many
// were left out.
func fitLines(lines []string, budget int) string {
	full := strings.Join(lines, "\n")
	if textLen(full) <= budget {
		return full
	}
	for keep := len(lines) - 1; keep >= 0; keep-- {
		note := fmt.Sprintf(MsgPollMoreLines, len(lines)-keep)
		out := note
		if keep > 0 {
			out = strings.Join(lines[:keep], "\n") + "\n" + note
		}
		if textLen(out) <= budget {
			return out
		}
	}
	return Truncate(fmt.Sprintf(MsgPollMoreLines, len(lines)), max(budget, 0))
}

func textLen(s string) int { return utf8.RuneCountInString(s) }

// textContainer wraps a message in the container used for every bot reply.
func textContainer(content string) discord.LayoutComponent {
	return discord.NewContainer(discord.NewTextDisplay(content))
}

func ephemeralText(content string) discord.MessageCreate {
	return discord.NewMessageCreateV2(textContainer(content)).WithEphemeral(true)
}

func textUpdate(content string) discord.MessageUpdate {
	return discord.NewMessageUpdateV2([]discord.LayoutComponent{textContainer(content)})
}
