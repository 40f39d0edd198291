package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Globals & Registration
// ===========================

var (
	polls       = NewPollManager()
	pollService *PollService
	pollWiring  sync.Once
)

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		pollWiring.Do(func() {
			source := newRestForumSource(client)
			pollService = NewPollService(GlobalConfig, source, polls, restPollPoster(client))
			polls.publish = restPollPublisher(client)
			polls.archive = SavePollResult
			RegisterDaemon(LogPoll, func(ctx context.Context) (bool, func(), func()) { return StartPollDaemon(ctx, polls) })
		})
	})

	guildOnly := []discord.InteractionContextType{discord.InteractionContextTypeGuild}

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "createpoll",
		Description: "Create a poll from recent forum posts",
		Contexts:    guildOnly,
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionInt{
				Name:        "duration",
				Description: "The duration of the poll in days.",
				Required:    true,
			},
			discord.ApplicationCommandOptionInt{
				Name:        "days",
				Description: "The number of days to scrape from the forum channel. Defaults to days since the last poll.",
				Required:    false,
			},
			discord.ApplicationCommandOptionString{
				Name:         "since",
				Description:  "Scrape posts since a point in time (e.g., 'last friday', '2 weeks ago')",
				Required:     false,
				Autocomplete: true,
			},
		},
	}, handleCreatePoll)

	RegisterAutocompleteHandler("createpoll", handleCreatePollAutocomplete)
	RegisterComponentHandler("poll:", handlePollComponent)
}

// ===========================
// Service
// ===========================

// pollPoster sends the poll message and returns its id.
type pollPoster func(ctx context.Context, channelID snowflake.ID, msg discord.MessageCreate) (snowflake.ID, error)

// PollService turns a /createpoll invocation into a running session.
type PollService struct {
	cfg      *Config
	source   forumSource
	scraper  *ForumScraper
	lookback *LookbackResolver
	manager  *PollManager
	post     pollPoster
	now      func() time.Time
}

func NewPollService(cfg *Config, source forumSource, manager *PollManager, post pollPoster) *PollService {
	return &PollService{
		cfg:      cfg,
		source:   source,
		scraper:  NewForumScraper(source, cfg.ExcludedTagID, cfg.ScrapeRate),
		lookback: NewLookbackResolver(source, cfg),
		manager:  manager,
		post:     post,
		now:      time.Now,
	}
}

type CreatePollRequest struct {
	GuildID      snowflake.ID
	ChannelID    snowflake.ID
	InvokerID    snowflake.ID
	DurationDays int
	Days         int
	Since        string
	CanEnd       bool
}

type CreatePollResult struct {
	Session     *PollSession // nil when nothing qualified
	WindowStart time.Time
	Source      string
	Dropped     int
}

// Create scrapes the forum, posts the poll and starts its timer.
func (p *PollService) Create(ctx context.Context, req CreatePollRequest) (*CreatePollResult, error) {
	now := p.now()

	start, source, err := p.lookback.Resolve(ctx, req.GuildID, req.Days, req.Since, now)
	if err != nil {
		return nil, err
	}
	res := &CreatePollResult{WindowStart: start, Source: source}

	candidates, err := p.scraper.Scrape(ctx, p.cfg.ForumChannelID, start, now)
	if err != nil {
		return nil, fmt.Errorf("failed to scrape forum: %w", err)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	if len(candidates) > maxPollOptions {
		res.Dropped = len(candidates) - maxPollOptions
		LogForum(MsgForumTruncated, res.Dropped, maxPollOptions)
		candidates = candidates[:maxPollOptions]
	}

	names := make(map[snowflake.ID]string, len(candidates))
	for _, c := range candidates {
		if _, ok := names[c.OwnerID]; ok {
			continue
		}
		name, err := p.source.MemberName(ctx, req.GuildID, c.OwnerID)
		if err != nil {
			return nil, err
		}
		names[c.OwnerID] = name
	}
	labels := BuildOptionLabels(candidates, names)

	s := NewPollSession(req.GuildID, req.ChannelID, req.InvokerID, candidates, labels, start, req.CanEnd, p.cfg.AllowRevote)
	duration := Days(req.DurationDays)

	view := s.View()
	view.EndsAt = s.StartedAt.Add(duration)
	msg := discord.NewMessageCreateV2(RenderPoll(view)...)

	p.manager.Register(s)
	messageID, err := p.post(ctx, req.ChannelID, msg)
	if err != nil {
		p.manager.Discard(s.ID)
		return nil, fmt.Errorf("failed to post poll: %w", err)
	}
	p.manager.Start(s, messageID, duration)

	LogPoll(MsgPollCreated, s.ID, req.InvokerID, req.ChannelID, len(candidates), FormatDuration(duration))
	res.Session = s
	return res, nil
}

func restPollPoster(client *bot.Client) pollPoster {
	return func(ctx context.Context, channelID snowflake.ID, msg discord.MessageCreate) (snowflake.ID, error) {
		m, err := client.Rest.CreateMessage(channelID, msg, rest.WithCtx(ctx))
		if err != nil {
			return 0, err
		}
		return m.ID, nil
	}
}

func restPollPublisher(client *bot.Client) func(ctx context.Context, s *PollSession) error {
	return func(ctx context.Context, s *PollSession) error {
		_, err := client.Rest.UpdateMessage(s.ChannelID, s.MessageID(), discord.NewMessageUpdateV2(RenderPoll(s.View())), rest.WithCtx(ctx))
		return err
	}
}

// StartPollDaemon sweeps for polls whose timer was missed and ends every
// open poll on shutdown.
func StartPollDaemon(ctx context.Context, m *PollManager) (bool, func(), func()) {
	run := func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.EndExpired(now)
			}
		}
	}
	shutdown := func() {
		if n := m.Count(); n > 0 {
			LogPoll(MsgPollShutdown, n)
			m.EndAll(EndReasonShutdown)
		}
	}
	return true, run, shutdown
}

// ===========================
// Handlers
// ===========================

func memberCanManage(member *discord.ResolvedMember) bool {
	return member != nil && member.Permissions.Has(discord.PermissionManageMessages)
}

func handleCreatePoll(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()

	guildID := event.GuildID()
	if guildID == nil {
		_ = event.CreateMessage(ephemeralText(ErrPollGuildOnly))
		return
	}
	if pollService == nil {
		_ = event.CreateMessage(ephemeralText(ErrPollGenericFailure))
		return
	}

	if err := event.DeferCreateMessage(true); err != nil {
		LogPoll(MsgPollRespondError, err)
		return
	}

	days, _ := data.OptInt("days")
	since, _ := data.OptString("since")

	req := CreatePollRequest{
		GuildID:      *guildID,
		ChannelID:    event.Channel().ID(),
		InvokerID:    event.User().ID,
		DurationDays: data.Int("duration"),
		Days:         days,
		Since:        since,
		CanEnd:       memberCanManage(event.Member()),
	}

	res, err := pollService.Create(AppContext, req)
	reply := createPollReply(res, err)
	if err != nil && !errors.Is(err, errSinceUnparsable) && !errors.Is(err, errSinceInFuture) {
		LogPoll(MsgPollCommandFailed, err)
	}

	if _, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), textUpdate(reply)); err != nil {
		LogPoll(MsgPollRespondError, err)
	}
}

// createPollReply picks the text shown to the invoker.
func createPollReply(res *CreatePollResult, err error) string {
	switch {
	case errors.Is(err, errSinceUnparsable):
		return ErrPollSinceParse
	case errors.Is(err, errSinceInFuture):
		return ErrPollSinceFuture
	case err != nil:
		return ErrPollGenericFailure
	case res.Session == nil:
		return fmt.Sprintf(MsgPollNoPosts, res.WindowStart.Unix())
	}

	s := res.Session
	reply := fmt.Sprintf(MsgPollCreatedReply, len(s.Candidates), MessageURL(s.GuildID, s.ChannelID, s.MessageID()))
	if res.Dropped > 0 {
		reply += fmt.Sprintf(MsgPollCreatedTruncated, maxPollOptions, res.Dropped)
	}
	return reply
}

var sinceSuggestions = []string{
	"last friday",
	"last monday",
	"1 week ago",
	"2 weeks ago",
	"1 month ago",
}

func handleCreatePollAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused, _ := event.Data.OptString("since")
	_ = event.AutocompleteResult(autocompleteChoices(focused))
}

// autocompleteChoices echoes the typed text first, then the suggestions that
// start with it.
func autocompleteChoices(focused string) []discord.AutocompleteChoice {
	focused = strings.TrimSpace(focused)
	typed := strings.ToLower(focused)

	var choices []discord.AutocompleteChoice
	if focused != "" {
		echo := Truncate(focused, maxOptionLabelLen)
		choices = append(choices, discord.AutocompleteChoiceString{Name: echo, Value: echo})
	}
	for _, s := range sinceSuggestions {
		if s == typed || !strings.HasPrefix(s, typed) {
			continue
		}
		choices = append(choices, discord.AutocompleteChoiceString{Name: s, Value: s})
	}
	return choices
}

func handlePollComponent(event *events.ComponentInteractionCreate) {
	sessionID, action, ok := parsePollCustomID(event.Data.CustomID())
	if !ok {
		_ = event.CreateMessage(ephemeralText(ErrPollInactive))
		return
	}

	switch action {
	case "vote":
		values := event.StringSelectMenuInteractionData().Values
		if len(values) == 0 {
			_ = event.DeferUpdateMessage()
			return
		}
		label, summary, err := polls.Vote(sessionID, event.User().ID, values[0])
		if err != nil {
			_ = event.CreateMessage(ephemeralText(pollErrorText(err)))
			return
		}
		LogPoll(MsgPollVoteRecorded, sessionID, event.User().ID, label)
		_ = event.CreateMessage(ephemeralText(fmt.Sprintf(MsgPollVoteAck, label, summary)))

	case "results":
		summary, err := polls.Results(sessionID)
		if err != nil {
			_ = event.CreateMessage(ephemeralText(pollErrorText(err)))
			return
		}
		_ = event.CreateMessage(ephemeralText(fmt.Sprintf(MsgPollResultsView, summary)))

	case "end":
		if err := polls.CheckEnd(sessionID, memberCanManage(event.Member())); err != nil {
			_ = event.CreateMessage(ephemeralText(pollErrorText(err)))
			return
		}
		_ = event.DeferUpdateMessage()
		polls.End(sessionID, EndReasonManual)

	default:
		_ = event.CreateMessage(ephemeralText(ErrPollInactive))
	}
}

func pollErrorText(err error) string {
	switch {
	case errors.Is(err, ErrPollEnded):
		return ErrPollInactive
	case errors.Is(err, ErrAlreadyVoted):
		return ErrPollAlreadyVoted
	case errors.Is(err, ErrUnknownOption):
		return ErrPollUnknownOption
	case errors.Is(err, ErrNotModerator):
		return ErrPollNotModerator
	default:
		return ErrPollGenericFailure
	}
}
