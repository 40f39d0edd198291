package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/mattn/go-sqlite3"
)

// --- Phase 1: Configuration & Environment ---

const (
	defaultForumChannelID   = "1340952491818487819"
	defaultResultsChannelID = "1340952744281899098"
	defaultExcludedTagID    = "1340997233738514452"
	defaultLookbackDays     = 7
	defaultScrapeRate       = 5.0
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	Silent       bool

	// Poll settings
	ForumChannelID   snowflake.ID
	ResultsChannelID snowflake.ID
	ExcludedTagID    snowflake.ID
	AllowRevote      bool
	LookbackDays     int
	ScrapeRate       float64
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	allowRevote := true
	if v := os.Getenv("POLL_ALLOW_REVOTE"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_ALLOW_REVOTE: %w", err)
		}
		allowRevote = parsed
	}

	lookbackDays := defaultLookbackDays
	if v := os.Getenv("POLL_DEFAULT_LOOKBACK_DAYS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_DEFAULT_LOOKBACK_DAYS: %w", err)
		}
		lookbackDays = parsed
	}

	scrapeRate := defaultScrapeRate
	if v := os.Getenv("POLL_SCRAPE_RATE"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_SCRAPE_RATE: %w", err)
		}
		scrapeRate = parsed
	}

	forumID, err := parseSnowflakeEnv("POLL_FORUM_CHANNEL_ID", defaultForumChannelID)
	if err != nil {
		return nil, err
	}
	resultsID, err := parseSnowflakeEnv("POLL_RESULTS_CHANNEL_ID", defaultResultsChannelID)
	if err != nil {
		return nil, err
	}
	tagID, err := parseSnowflakeEnv("POLL_EXCLUDED_TAG_ID", defaultExcludedTagID)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Token:            os.Getenv("DISCORD_TOKEN"),
		GuildID:          os.Getenv("GUILD_ID"),
		DatabasePath:     dbPath,
		Silent:           silent,
		ForumChannelID:   forumID,
		ResultsChannelID: resultsID,
		ExcludedTagID:    tagID,
		AllowRevote:      allowRevote,
		LookbackDays:     lookbackDays,
		ScrapeRate:       scrapeRate,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	if c.ForumChannelID == 0 {
		return fmt.Errorf("POLL_FORUM_CHANNEL_ID must be set")
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("POLL_DEFAULT_LOOKBACK_DAYS must be positive")
	}
	if c.ScrapeRate <= 0 {
		return fmt.Errorf("POLL_SCRAPE_RATE must be positive")
	}
	return nil
}

// parseSnowflakeEnv reads a snowflake from the environment, falling back to def.
// A value of "0" leaves the id unset.
func parseSnowflakeEnv(key, def string) (snowflake.ID, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "0" {
		return 0, nil
	}
	id, err := snowflake.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}

// --- Phase 2: Database Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	// The driver registers itself in init(); referencing it keeps the import explicit.
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS polls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			end_reason TEXT NOT NULL,
			total_votes INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS poll_entries (
			poll_id INTEGER NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			label TEXT NOT NULL,
			votes INTEGER NOT NULL,
			PRIMARY KEY (poll_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_polls_guild_ended ON polls (guild_id, ended_at)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Phase 3: Infrastructure & Bot Persistence ---

// BotConfig helpers are used by the loader for command sync state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Phase 4: Application Logic (Poll Archive) ---

type PollRecord struct {
	ID         int64
	SessionID  string
	GuildID    snowflake.ID
	ChannelID  snowflake.ID
	MessageID  snowflake.ID
	StartedAt  time.Time
	EndedAt    time.Time
	EndReason  string
	TotalVotes int
	Entries    []PollRecordEntry
}

type PollRecordEntry struct {
	Rank  int
	Label string
	Votes int
}

// SavePollResult archives a finished poll and its ranked entries.
func SavePollResult(ctx context.Context, r *PollRecord) error {
	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO polls (session_id, guild_id, channel_id, message_id, started_at, ended_at, end_reason, total_votes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SessionID, r.GuildID.String(), r.ChannelID.String(), r.MessageID.String(),
		r.StartedAt.UTC(), r.EndedAt.UTC(), r.EndReason, r.TotalVotes)
	if err != nil {
		return fmt.Errorf("failed to insert poll %s: %w", r.SessionID, err)
	}

	r.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	for _, e := range r.Entries {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO poll_entries (poll_id, position, label, votes) VALUES (?, ?, ?, ?)",
			r.ID, e.Rank, e.Label, e.Votes); err != nil {
			return fmt.Errorf("failed to insert entry %d for poll %s: %w", e.Rank, r.SessionID, err)
		}
	}

	return tx.Commit()
}

// GetLastPollEnd returns when the most recent archived poll in a guild ended.
func GetLastPollEnd(ctx context.Context, guildID snowflake.ID) (time.Time, bool, error) {
	var endedAt time.Time
	err := DB.QueryRowContext(ctx,
		"SELECT ended_at FROM polls WHERE guild_id = ? ORDER BY ended_at DESC LIMIT 1",
		guildID.String()).Scan(&endedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return endedAt, true, nil
}

// GetRecentPolls returns the latest polls of a guild, newest first, entries ranked.
func GetRecentPolls(ctx context.Context, guildID snowflake.ID, limit int) ([]*PollRecord, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT id, session_id, guild_id, channel_id, message_id, started_at, ended_at, end_reason, total_votes
		FROM polls WHERE guild_id = ? ORDER BY ended_at DESC LIMIT ?
	`, guildID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []*PollRecord
	for rows.Next() {
		r := &PollRecord{}
		var gid, cid, mid string
		if err := rows.Scan(&r.ID, &r.SessionID, &gid, &cid, &mid, &r.StartedAt, &r.EndedAt, &r.EndReason, &r.TotalVotes); err != nil {
			return nil, err
		}
		if r.GuildID, err = snowflake.Parse(gid); err != nil {
			return nil, fmt.Errorf("failed to parse guild ID '%s' for poll %d: %w", gid, r.ID, err)
		}
		if r.ChannelID, err = snowflake.Parse(cid); err != nil {
			return nil, fmt.Errorf("failed to parse channel ID '%s' for poll %d: %w", cid, r.ID, err)
		}
		if r.MessageID, err = snowflake.Parse(mid); err != nil {
			return nil, fmt.Errorf("failed to parse message ID '%s' for poll %d: %w", mid, r.ID, err)
		}
		polls = append(polls, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range polls {
		entries, err := getPollEntries(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		r.Entries = entries
	}
	return polls, nil
}

func getPollEntries(ctx context.Context, pollID int64) ([]PollRecordEntry, error) {
	rows, err := DB.QueryContext(ctx,
		"SELECT position, label, votes FROM poll_entries WHERE poll_id = ? ORDER BY position ASC", pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PollRecordEntry
	for rows.Next() {
		var e PollRecordEntry
		if err := rows.Scan(&e.Rank, &e.Label, &e.Votes); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func GetPollCount(ctx context.Context, guildID snowflake.ID) (int, error) {
	var count int
	err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM polls WHERE guild_id = ?", guildID.String()).Scan(&count)
	return count, err
}
