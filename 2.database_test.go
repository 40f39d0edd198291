package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, InitDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(CloseDatabase)
}

func archiveTestPoll(t *testing.T, guildID snowflake.ID, session string, ended time.Time, entries ...PollRecordEntry) *PollRecord {
	t.Helper()
	r := &PollRecord{
		SessionID: session,
		GuildID:   guildID,
		ChannelID: 1,
		MessageID: 2,
		StartedAt: ended.Add(-72 * time.Hour),
		EndedAt:   ended,
		EndReason: string(EndReasonTimeout),
		Entries:   entries,
	}
	for _, e := range entries {
		r.TotalVotes += e.Votes
	}
	require.NoError(t, SavePollResult(context.Background(), r))
	require.NotZero(t, r.ID)
	return r
}

func TestBotConfig_RoundTrip(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	v, err := GetBotConfig(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "abc"))
	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "def"))
	v, err = GetBotConfig(ctx, "last_cmd_hash")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}

func TestPollArchive_LastPollEnd(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guild := snowflake.ID(10)
	base := time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)

	_, ok, err := GetLastPollEnd(ctx, guild)
	require.NoError(t, err)
	assert.False(t, ok)

	archiveTestPoll(t, guild, "s1", base)
	archiveTestPoll(t, guild, "s2", base.Add(7*24*time.Hour))
	archiveTestPoll(t, snowflake.ID(99), "other", base.Add(30*24*time.Hour))

	got, ok, err := GetLastPollEnd(ctx, guild)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(base.Add(7*24*time.Hour)), "got %s", got)
}

func TestPollArchive_RecentPolls(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guild := snowflake.ID(10)
	base := time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		archiveTestPoll(t, guild, id, base.Add(time.Duration(i)*24*time.Hour),
			PollRecordEntry{Rank: 1, Label: id + "-winner", Votes: 3},
			PollRecordEntry{Rank: 2, Label: id + "-runner-up", Votes: 1},
		)
	}

	polls, err := GetRecentPolls(ctx, guild, 2)
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, "c", polls[0].SessionID)
	assert.Equal(t, "b", polls[1].SessionID)

	require.Len(t, polls[0].Entries, 2)
	assert.Equal(t, PollRecordEntry{Rank: 1, Label: "c-winner", Votes: 3}, polls[0].Entries[0])
	assert.Equal(t, 4, polls[0].TotalVotes)
	assert.Equal(t, snowflake.ID(1), polls[0].ChannelID)

	count, err := GetPollCount(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPollArchive_DuplicateSessionRejected(t *testing.T) {
	setupTestDB(t)
	archiveTestPoll(t, 10, "dup", time.Now())

	err := SavePollResult(context.Background(), &PollRecord{SessionID: "dup", GuildID: 10, EndedAt: time.Now(), StartedAt: time.Now()})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{Token: "t", ForumChannelID: 1, LookbackDays: 7, ScrapeRate: 5}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Token = "" }, wantErr: true},
		{name: "short guild id", mutate: func(c *Config) { c.GuildID = "123" }, wantErr: true},
		{name: "guild id ok", mutate: func(c *Config) { c.GuildID = "1340952491818487819" }},
		{name: "no forum", mutate: func(c *Config) { c.ForumChannelID = 0 }, wantErr: true},
		{name: "zero lookback", mutate: func(c *Config) { c.LookbackDays = 0 }, wantErr: true},
		{name: "zero rate", mutate: func(c *Config) { c.ScrapeRate = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseSnowflakeEnv(t *testing.T) {
	t.Setenv("POLL_TEST_ID", "")
	id, err := parseSnowflakeEnv("POLL_TEST_ID", "1340997233738514452")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1340997233738514452), id)

	t.Setenv("POLL_TEST_ID", "0")
	id, err = parseSnowflakeEnv("POLL_TEST_ID", "1340997233738514452")
	require.NoError(t, err)
	assert.Zero(t, id)

	t.Setenv("POLL_TEST_ID", "not-a-number")
	_, err = parseSnowflakeEnv("POLL_TEST_ID", "1")
	assert.Error(t, err)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("GUILD_ID", "")
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "cfg.db"))
	t.Setenv("SILENT", "false")
	t.Setenv("POLL_FORUM_CHANNEL_ID", "111111111111111111")
	t.Setenv("POLL_RESULTS_CHANNEL_ID", "0")
	t.Setenv("POLL_EXCLUDED_TAG_ID", "")
	t.Setenv("POLL_ALLOW_REVOTE", "false")
	t.Setenv("POLL_DEFAULT_LOOKBACK_DAYS", "14")
	t.Setenv("POLL_SCRAPE_RATE", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(111111111111111111), cfg.ForumChannelID)
	assert.Zero(t, cfg.ResultsChannelID)
	assert.Equal(t, snowflake.ID(1340997233738514452), cfg.ExcludedTagID)
	assert.False(t, cfg.AllowRevote)
	assert.Equal(t, 14, cfg.LookbackDays)
	assert.InDelta(t, 2.5, cfg.ScrapeRate, 0.0001)

	t.Setenv("POLL_ALLOW_REVOTE", "maybe")
	_, err = LoadConfig()
	assert.Error(t, err)
}
