package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// --- Globals & Styles ---

var (
	// Level colors
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)

	// Component colors
	databaseColor = color.New()
	pollColor     = color.New(color.FgMagenta)
	forumColor    = color.New(color.FgBlue)
	statusColor   = color.New(color.FgCyan)

	// Global state
	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	LogToFile         = false
	Logger            *slog.Logger

	// Internal state
	logFile *os.File
	logMu   sync.Mutex
)

// --- Initialization ---

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	if LogToFile {
		logName := GetProjectName() + ".log"
		if exePath, exeErr := os.Executable(); exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(logFile))
		}
	}

	color.NoColor = false

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// LogFatal panics instead of exiting so deferred cleanup in main still runs.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Component Loggers

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogPoll(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "poll"))
}

func LogForum(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "forum"))
}

func LogStatus(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "status"))
}

// --- Log Handler Implementation ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format(DefaultTimeFormat)
	levelStr, levelColor := levelStyle(r.Level)

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(compColor, fmt.Sprintf("[%s] %s", component, r.Message)))
		return nil
	}

	displayMsg := fmt.Sprintf("[%s] %s", levelStr, r.Message)
	if levelStr == "INFO" && strings.HasPrefix(r.Message, "[") {
		if idx := strings.Index(r.Message, "]"); idx > 0 && idx < 20 {
			displayMsg = r.Message
		}
	}
	fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, displayMsg))
	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

// --- Formatting Helpers ---

func levelStyle(level slog.Level) (string, *color.Color) {
	switch {
	case level >= slog.LevelError+4:
		return "FATAL", fatalColor
	case level >= slog.LevelError:
		return "ERROR", errorColor
	case level >= slog.LevelWarn:
		return "WARN", warnColor
	case level >= slog.LevelInfo:
		return "INFO", infoColor
	default:
		return "DEBUG", infoColor
	}
}

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "POLL":
		return pollColor
	case "FORUM":
		return forumColor
	case "STATUS":
		return statusColor
	default:
		return color.New(color.FgCyan)
	}
}

// colorizeWithResets re-applies c after every reset sequence so nested
// colors inside a message don't end the outer color early.
func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	modifiedText := strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq)
	return c.Sprint(modifiedText)
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	clean := s.re.ReplaceAll(p, []byte(""))
	_, err = s.w.Write(clean)
	return len(p), err
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotAlreadyRunning   = "Another instance holds the PID lock (PID: %d), waiting..."
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgGenericError        = "%v"

	// --- Command Loader & Registry ---
	MsgLoaderSyncCommands   = "Syncing %s commands..."
	MsgLoaderUpToDate       = "[LOADER] Commands are up to date. (Hash: %s)"
	MsgLoaderDevStarting    = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered  = "[DEV] Registered: %s"
	MsgLoaderDevFail        = "[DEV] Registration failed: %w"
	MsgLoaderProdStarting   = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered = "[PROD] Registered: %s"
	MsgLoaderProdFail       = "[PROD] Global registration failed: %w"
	MsgLoaderPanicRecovered = "Panic recovered in handler: %v"

	// --- Status Rotator ---
	MsgStatusRotated    = "Presence set to %q (next in %s)"
	MsgStatusUpdateFail = "Failed to update presence: %v"
	MsgStatusShutdown   = "Shutting down status rotator..."

	// --- Forum Scraper ---
	MsgForumScanning     = "Scanning %d active threads in forum %s (window %s to %s)"
	MsgForumQualified    = "%d of %d threads qualified"
	MsgForumTruncated    = "Dropping %d candidates beyond the select menu limit of %d"
	MsgForumFetchFailure = "Failed to fetch messages for thread %s: %v"
	MsgForumNoMedia      = "Thread %s has no owner media, skipping"

	// --- Poll System ---
	MsgPollCreated          = "Poll %s opened by %s in channel %s with %d options (ends %s)"
	MsgPollEnded            = "Poll %s ended (%s) with %d votes"
	MsgPollVoteRecorded     = "Poll %s: %s voted for %q"
	MsgPollCommandFailed    = "createpoll failed: %v"
	MsgPollRespondError     = "Failed to respond to interaction: %v"
	MsgPollPublishFailed    = "Failed to publish final results for poll %s: %v"
	MsgPollArchiveFailed    = "Failed to archive poll %s: %v"
	MsgPollShutdown         = "Ending %d open polls before shutdown..."
	MsgPollHistoryFailed    = "Failed to load poll history: %v"
	MsgPollNaturalTimeFail  = "Failed to initialize naturaltime parser: %v"
	MsgPollNoPosts          = "No posts found for the given period (<t:%d:R> to now)."
	MsgPollCreatedReply     = "Poll created with **%d** posts: %s"
	MsgPollCreatedTruncated = "\n-# Only the first %d posts fit in the menu; %d were left out."
	MsgPollVoteAck          = "## Vote Recorded\nYou voted for post **%s**\n\n**Current Votes**\n%s"
	MsgPollResultsView      = "## Current Vote Summary\nHere are the current vote counts for each post:\n\n%s"
	MsgPollFinal            = "## Final Vote Count\nVoting ended <t:%d:R>\nHere are the final vote counts for each post:\n\n%s"
	MsgPollTimeLeft         = "### Time Left\nVoting ends <t:%d:R>"
	MsgPollHeader           = "## Weekly Poll\nVote for your favourite post from <t:%d:D> to <t:%d:D>!"
	MsgPollHistoryHeader    = "**Recent Polls** (%d archived)\n\n"
	MsgPollHistoryItem      = "**%d.** Ended <t:%d:R> (%s, %s)\n"
	MsgPollHistoryEntry     = "> %d votes - %s\n"
	MsgPollMoreLines        = "-# ...and %d more"

	ErrPollGenericFailure  = "Something went wrong while creating the poll. Please try again later."
	ErrPollInactive        = "This poll is no longer active."
	ErrPollNotModerator    = "You need the Manage Messages permission to end this poll."
	ErrPollAlreadyVoted    = "You have already voted in this poll."
	ErrPollUnknownOption   = "That option is not part of this poll."
	ErrPollSinceParse      = "Could not understand `since`. Try formats like 'last friday' or '2 weeks ago'."
	ErrPollSinceFuture     = "`since` must be in the past."
	ErrPollGuildOnly       = "Polls can only be created inside a server."
	ErrPollHistoryFailed   = "Failed to load poll history."
	MsgPollHistoryNone     = "No polls have been archived in this server yet."
	MsgPollSummaryNoVotes  = "No votes yet."
	MsgPollEndedByShutdown = "shutdown"
)
