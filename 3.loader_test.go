package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCommandHash(t *testing.T) {
	a := []discord.ApplicationCommandCreate{discord.SlashCommandCreate{Name: "createpoll", Description: "x"}}
	b := []discord.ApplicationCommandCreate{discord.SlashCommandCreate{Name: "createpoll", Description: "y"}}

	assert.Equal(t, calculateCommandHash(a), calculateCommandHash(a))
	assert.NotEqual(t, calculateCommandHash(a), calculateCommandHash(b))
	assert.Len(t, calculateCommandHash(a), 64)
}

func TestRegisteredCommands(t *testing.T) {
	assert.Contains(t, commandHandlers, "createpoll")
	assert.Contains(t, commandHandlers, "pollhistory")
	assert.Contains(t, autocompleteHandlers, "createpoll")
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	safeGo(func() {
		defer close(done)
		panic("handler exploded")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking handler never finished")
	}
}

func TestDaemons_StartAndShutdown(t *testing.T) {
	var ran, stopped atomic.Bool
	var logged atomic.Int32

	RegisterDaemon(func(format string, v ...any) { logged.Add(1) }, func(ctx context.Context) (bool, func(), func()) {
		return true, func() { ran.Store(true) }, func() { stopped.Store(true) }
	})
	RegisterDaemon(func(format string, v ...any) { logged.Add(1) }, func(ctx context.Context) (bool, func(), func()) {
		return false, nil, nil
	})

	StartDaemons(context.Background())
	require.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), logged.Load(), "disabled daemons are not announced")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ShutdownDaemons(ctx)
	assert.True(t, stopped.Load())
}
