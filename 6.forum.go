package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/sho0pi/naturaltime"
	"golang.org/x/time/rate"
)

var ErrNoForumChannel = errors.New("forum channel is not a guild channel")

const (
	scrapeWorkers      = 5
	threadMessageLimit = 100
)

// ForumThread is the part of a forum post the scraper needs.
type ForumThread struct {
	ID        snowflake.ID
	ParentID  snowflake.ID
	OwnerID   snowflake.ID
	Name      string
	CreatedAt time.Time
	Tags      []snowflake.ID
}

// Candidate is a forum post that qualifies for a poll.
type Candidate struct {
	ForumThread
	MediaURL string
	Index    int
}

// forumSource is the slice of the Discord API the scraper and lookback use.
type forumSource interface {
	ForumGuild(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error)
	ActiveThreads(ctx context.Context, guildID snowflake.ID) ([]ForumThread, error)
	ThreadMessages(ctx context.Context, threadID snowflake.ID) ([]discord.Message, error)
	LatestMessageTime(ctx context.Context, channelID snowflake.ID) (time.Time, bool, error)
	MemberName(ctx context.Context, guildID, userID snowflake.ID) (string, error)
}

// --- REST-backed source ---

type restForumSource struct {
	client *bot.Client
}

func newRestForumSource(client *bot.Client) *restForumSource {
	return &restForumSource{client: client}
}

func (s *restForumSource) ForumGuild(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error) {
	ch, err := s.client.Rest.GetChannel(channelID, rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch forum channel %s: %w", channelID, err)
	}
	gc, ok := ch.(discord.GuildChannel)
	if !ok {
		return 0, ErrNoForumChannel
	}
	return gc.GuildID(), nil
}

func (s *restForumSource) ActiveThreads(ctx context.Context, guildID snowflake.ID) ([]ForumThread, error) {
	feed, err := s.client.Rest.GetActiveGuildThreads(guildID, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active threads for guild %s: %w", guildID, err)
	}

	threads := make([]ForumThread, 0, len(feed.Threads))
	for _, t := range feed.Threads {
		ft := ForumThread{
			ID:        t.ID(),
			OwnerID:   t.OwnerID,
			Name:      t.Name(),
			CreatedAt: t.ID().Time(),
			Tags:      t.AppliedTags,
		}
		if pid := t.ParentID(); pid != nil {
			ft.ParentID = *pid
		}
		threads = append(threads, ft)
	}
	return threads, nil
}

func (s *restForumSource) ThreadMessages(ctx context.Context, threadID snowflake.ID) ([]discord.Message, error) {
	msgs, err := s.client.Rest.GetMessages(threadID, 0, 0, 0, threadMessageLimit, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for thread %s: %w", threadID, err)
	}
	return msgs, nil
}

func (s *restForumSource) LatestMessageTime(ctx context.Context, channelID snowflake.ID) (time.Time, bool, error) {
	msgs, err := s.client.Rest.GetMessages(channelID, 0, 0, 0, 1, rest.WithCtx(ctx))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to fetch latest message in %s: %w", channelID, err)
	}
	if len(msgs) == 0 {
		return time.Time{}, false, nil
	}
	return msgs[0].CreatedAt, true, nil
}

func (s *restForumSource) MemberName(ctx context.Context, guildID, userID snowflake.ID) (string, error) {
	if m, ok := s.client.Caches.Member(guildID, userID); ok {
		return MemberDisplayName(m), nil
	}
	m, err := s.client.Rest.GetMember(guildID, userID, rest.WithCtx(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}
	return MemberDisplayName(*m), nil
}

// --- Scraper ---

type ForumScraper struct {
	source      forumSource
	excludedTag snowflake.ID
	limiter     *rate.Limiter
	workers     int
}

func NewForumScraper(source forumSource, excludedTag snowflake.ID, requestsPerSecond float64) *ForumScraper {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &ForumScraper{
		source:      source,
		excludedTag: excludedTag,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		workers:     scrapeWorkers,
	}
}

// Scrape returns the qualifying posts of forumID created within [start, end],
// oldest first. Any fetch failure aborts the whole scrape.
func (s *ForumScraper) Scrape(ctx context.Context, forumID snowflake.ID, start, end time.Time) ([]Candidate, error) {
	guildID, err := s.source.ForumGuild(ctx, forumID)
	if err != nil {
		return nil, err
	}

	threads, err := s.source.ActiveThreads(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var inWindow []ForumThread
	for _, t := range threads {
		if t.ParentID != forumID {
			continue
		}
		if t.CreatedAt.Before(start) || t.CreatedAt.After(end) {
			continue
		}
		if s.isExcluded(t) {
			continue
		}
		inWindow = append(inWindow, t)
	}

	LogForum(MsgForumScanning, len(inWindow), forumID, start.Format(time.DateOnly), end.Format(time.DateOnly))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		found    []Candidate
	)
	sem := make(chan struct{}, s.workers)

	for _, t := range inWindow {
		wg.Add(1)
		go func(t ForumThread) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fail := func(err error) {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}

			if err := s.limiter.Wait(ctx); err != nil {
				fail(err)
				return
			}
			msgs, err := s.source.ThreadMessages(ctx, t.ID)
			if err != nil {
				LogForum(MsgForumFetchFailure, t.ID, err)
				fail(err)
				return
			}
			if url, ok := RepresentativeMedia(msgs, t.OwnerID); ok {
				mu.Lock()
				found = append(found, Candidate{ForumThread: t, MediaURL: url})
				mu.Unlock()
				return
			}
			LogDebug(MsgForumNoMedia, t.ID)
		}(t)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].ID < found[j].ID
		}
		return found[i].CreatedAt.Before(found[j].CreatedAt)
	})
	for i := range found {
		found[i].Index = i
	}

	LogForum(MsgForumQualified, len(found), len(inWindow))
	return found, nil
}

func (s *ForumScraper) isExcluded(t ForumThread) bool {
	if s.excludedTag == 0 {
		return false
	}
	for _, tag := range t.Tags {
		if tag == s.excludedTag {
			return true
		}
	}
	return false
}

// RepresentativeMedia walks the owner's messages oldest first and returns the
// first image attachment. An embed URL is used only when no message has one.
func RepresentativeMedia(msgs []discord.Message, ownerID snowflake.ID) (string, bool) {
	owned := make([]discord.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Author.ID == ownerID {
			owned = append(owned, m)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].ID < owned[j].ID
	})

	for _, m := range owned {
		for _, a := range m.Attachments {
			if a.ContentType != nil && strings.HasPrefix(*a.ContentType, "image/") {
				return a.URL, true
			}
		}
	}
	for _, m := range owned {
		for _, e := range m.Embeds {
			if e.URL != "" {
				return e.URL, true
			}
		}
	}
	return "", false
}

// --- Lookback ---

const (
	LookbackFromDays     = "days"
	LookbackFromSince    = "since"
	LookbackFromResults  = "results channel"
	LookbackFromArchive  = "last poll"
	LookbackFromFallback = "default"
)

var (
	naturalParser     *naturaltime.Parser
	naturalParserOnce sync.Once
	naturalParserErr  error
)

// parseSince resolves expressions like "last friday" or "2 weeks ago".
func parseSince(input string, now time.Time) (time.Time, error) {
	naturalParserOnce.Do(func() {
		naturalParser, naturalParserErr = naturaltime.New()
		if naturalParserErr != nil {
			LogError(MsgPollNaturalTimeFail, naturalParserErr)
		}
	})
	if naturalParserErr != nil {
		return time.Time{}, naturalParserErr
	}

	result, err := naturalParser.ParseDate(input, now)
	if err == nil && result != nil {
		return *result, nil
	}
	if d, derr := time.ParseDuration(input); derr == nil {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("could not parse time: %s", input)
}

var (
	errSinceUnparsable = errors.New("since could not be parsed")
	errSinceInFuture   = errors.New("since is in the future")
)

// LookbackResolver picks the start of the scrape window.
type LookbackResolver struct {
	source           forumSource
	resultsChannelID snowflake.ID
	defaultDays      int
	parseSince       func(input string, now time.Time) (time.Time, error)
	lastPollEnd      func(ctx context.Context, guildID snowflake.ID) (time.Time, bool, error)
}

func NewLookbackResolver(source forumSource, cfg *Config) *LookbackResolver {
	return &LookbackResolver{
		source:           source,
		resultsChannelID: cfg.ResultsChannelID,
		defaultDays:      cfg.LookbackDays,
		parseSince:       parseSince,
		lastPollEnd:      GetLastPollEnd,
	}
}

// Resolve tries, in order: explicit days, the since expression, the latest
// message in the results channel, the end of the last archived poll, and the
// configured default.
func (r *LookbackResolver) Resolve(ctx context.Context, guildID snowflake.ID, days int, since string, now time.Time) (time.Time, string, error) {
	if days > 0 {
		return now.Add(-Days(days)), LookbackFromDays, nil
	}

	if since = strings.TrimSpace(since); since != "" {
		t, err := r.parseSince(since, now)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("%w: %v", errSinceUnparsable, err)
		}
		if t.After(now) {
			return time.Time{}, "", errSinceInFuture
		}
		return t, LookbackFromSince, nil
	}

	if r.resultsChannelID != 0 {
		t, ok, err := r.source.LatestMessageTime(ctx, r.resultsChannelID)
		if err != nil {
			return time.Time{}, "", err
		}
		if ok {
			return t, LookbackFromResults, nil
		}
	}

	if r.lastPollEnd != nil {
		t, ok, err := r.lastPollEnd(ctx, guildID)
		if err != nil {
			LogWarn("Failed to read last poll end: %v", err)
		} else if ok {
			return t, LookbackFromArchive, nil
		}
	}

	return now.Add(-Days(r.defaultDays)), LookbackFromFallback, nil
}
