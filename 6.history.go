package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
)

const (
	defaultHistoryCount = 5
	maxHistoryCount     = 10
	historyTopEntries   = 3
)

func init() {
	managePerm := discord.PermissionManageMessages

	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "pollhistory",
		Description:              "Show recently finished polls",
		DefaultMemberPermissions: omit.New(&managePerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionInt{
				Name:        "count",
				Description: "How many polls to show (default 5, max 10)",
				Required:    false,
			},
		},
	}, handlePollHistory)
}

func handlePollHistory(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = event.CreateMessage(ephemeralText(ErrPollGuildOnly))
		return
	}

	count, ok := event.SlashCommandInteractionData().OptInt("count")
	if !ok {
		count = defaultHistoryCount
	}

	content, err := buildPollHistory(AppContext, *guildID, count)
	if err != nil {
		LogPoll(MsgPollHistoryFailed, err)
		_ = event.CreateMessage(ephemeralText(ErrPollHistoryFailed))
		return
	}
	_ = event.CreateMessage(ephemeralText(content))
}

// buildPollHistory renders the newest archived polls of a guild.
func buildPollHistory(ctx context.Context, guildID snowflake.ID, count int) (string, error) {
	count = max(1, min(count, maxHistoryCount))

	records, err := GetRecentPolls(ctx, guildID, count)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return MsgPollHistoryNone, nil
	}

	total, err := GetPollCount(ctx, guildID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(MsgPollHistoryHeader, total))
	for i, r := range records {
		sb.WriteString(fmt.Sprintf(MsgPollHistoryItem, i+1, r.EndedAt.Unix(), r.EndReason, Plural(r.TotalVotes, "vote")))
		for j, e := range r.Entries {
			if j == historyTopEntries {
				break
			}
			sb.WriteString(fmt.Sprintf(MsgPollHistoryEntry, e.Votes, e.Label))
		}
		if i < len(records)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
