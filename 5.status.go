package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
)

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		RegisterDaemon(LogStatus, func(ctx context.Context) (bool, func(), func()) { return StartStatusRotator(ctx, client) })
	})
}

var (
	StartTime       = time.Now().UTC()
	configKeyStatus = "status_visible"

	lastStatusText string
	statusMu       sync.RWMutex
)

// GetRotationInterval returns a jittered delay between presence updates
func GetRotationInterval() time.Duration {
	return time.Duration(15+rand.Intn(46)) * time.Second
}

// StartStatusRotator cycles the bot presence through poll activity lines
func StartStatusRotator(ctx context.Context, client *bot.Client) (bool, func(), func()) {
	return true, func() {
			next := GetRotationInterval()
			updateStatus(ctx, client, next)
			for {
				select {
				case <-time.After(next):
					next = GetRotationInterval()
					updateStatus(ctx, client, next)
				case <-ctx.Done():
					return
				}
			}
		}, func() {
			LogStatus(MsgStatusShutdown)
		}
}

func updateStatus(ctx context.Context, client *bot.Client, nextInterval time.Duration) {
	if client == nil {
		return
	}

	visible, err := GetBotConfig(ctx, configKeyStatus)
	if err != nil || visible == "false" {
		_ = client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
		return
	}

	var ping time.Duration
	if client.Gateway != nil {
		ping = client.Gateway.Latency()
	}

	statusMu.RLock()
	last := lastStatusText
	statusMu.RUnlock()

	selected := pickStatus(statusCandidates(polls.Count(), time.Since(StartTime), ping), last, rand.Intn)

	statusMu.Lock()
	lastStatusText = selected
	statusMu.Unlock()

	err = client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithPlayingActivity(selected),
	)
	if err != nil {
		LogStatus(MsgStatusUpdateFail, err)
		return
	}
	LogStatus(MsgStatusRotated, selected, nextInterval)
}

// statusCandidates lists the presence lines worth showing right now.
func statusCandidates(openPolls int, uptime, ping time.Duration) []string {
	var out []string
	if openPolls > 0 {
		out = append(out, "Open polls: "+fmt.Sprint(openPolls))
	}
	out = append(out, "Uptime: "+FormatDuration(uptime))
	if ping > 0 {
		out = append(out, fmt.Sprintf("Ping: %dms", ping.Milliseconds()))
	}
	return out
}

// pickStatus picks a random line, avoiding an immediate repeat when possible.
func pickStatus(choices []string, last string, intn func(int) int) string {
	if len(choices) == 0 {
		return ""
	}
	var fresh []string
	for _, c := range choices {
		if c != last {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return choices[0]
	}
	return fresh[intn(len(fresh))]
}
