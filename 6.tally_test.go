package main

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func voterCount(t *VoteTally, voter snowflake.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.order {
		if _, ok := e.voters[voter]; ok {
			n++
		}
	}
	return n
}

func countOf(t *VoteTally, label string) int {
	for _, l := range t.Ranked() {
		if l.Label == label {
			return l.Votes
		}
	}
	return -1
}

func TestVoteTally_SwitchBack(t *testing.T) {
	tally := NewVoteTally([]string{"A", "B"}, true)
	voter := snowflake.ID(42)

	require.NoError(t, tally.RecordVote(voter, "A"))
	require.NoError(t, tally.RecordVote(voter, "B"))
	require.NoError(t, tally.RecordVote(voter, "A"))

	assert.Equal(t, 1, countOf(tally, "A"))
	assert.Equal(t, 0, countOf(tally, "B"))

	label, ok := tally.VoteOf(voter)
	require.True(t, ok)
	assert.Equal(t, "A", label)
	assert.Equal(t, 1, tally.Total())
}

func TestVoteTally_OneEntryPerVoter(t *testing.T) {
	labels := []string{"A", "B", "C", "D"}
	tally := NewVoteTally(labels, true)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		voter := snowflake.ID(rng.Intn(20) + 1)
		require.NoError(t, tally.RecordVote(voter, labels[rng.Intn(len(labels))]))

		for v := snowflake.ID(1); v <= 20; v++ {
			require.LessOrEqual(t, voterCount(tally, v), 1, "voter %d counted twice after step %d", v, i)
		}
	}

	sum := 0
	for _, l := range tally.Ranked() {
		sum += l.Votes
	}
	assert.Equal(t, tally.Total(), sum)
}

func TestVoteTally_RevoteDisabled(t *testing.T) {
	tally := NewVoteTally([]string{"A", "B"}, false)
	voter := snowflake.ID(7)

	require.NoError(t, tally.RecordVote(voter, "A"))
	before := tally.Summary()

	err := tally.RecordVote(voter, "B")
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, before, tally.Summary())

	// Re-selecting the same option is not a revote.
	assert.NoError(t, tally.RecordVote(voter, "A"))
	assert.Equal(t, 1, countOf(tally, "A"))
}

func TestVoteTally_CreatesMissingLabel(t *testing.T) {
	tally := NewVoteTally(nil, true)
	require.NoError(t, tally.RecordVote(1, "new"))
	assert.Equal(t, 1, countOf(tally, "new"))
}

func TestVoteTally_SummaryOrdering(t *testing.T) {
	tally := NewVoteTally([]string{"first", "second", "third"}, true)
	require.NoError(t, tally.RecordVote(1, "third"))
	require.NoError(t, tally.RecordVote(2, "third"))
	require.NoError(t, tally.RecordVote(3, "second"))

	assert.Equal(t, "2 votes - third\n1 votes - second\n0 votes - first", tally.Summary())

	lines := strings.Split(tally.Summary(), "\n")
	prev := int(^uint(0) >> 1)
	for _, line := range lines {
		var n int
		_, err := fmt.Sscanf(line, "%d votes - ", &n)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, prev)
		prev = n
	}
}

func TestVoteTally_TiesKeepOptionOrder(t *testing.T) {
	tally := NewVoteTally([]string{"x", "y", "z"}, true)
	require.NoError(t, tally.RecordVote(1, "z"))
	require.NoError(t, tally.RecordVote(2, "x"))

	assert.Equal(t, "1 votes - x\n1 votes - z\n0 votes - y", tally.Summary())
}

func TestVoteTally_SummaryIdempotent(t *testing.T) {
	tally := NewVoteTally([]string{"a", "b", "c"}, true)
	require.NoError(t, tally.RecordVote(1, "b"))
	require.NoError(t, tally.RecordVote(2, "c"))

	first := tally.Summary()
	assert.Equal(t, first, tally.Summary())
}

func TestVoteTally_ConcurrentVotes(t *testing.T) {
	labels := []string{"a", "b", "c"}
	tally := NewVoteTally(labels, true)

	var wg sync.WaitGroup
	for v := 1; v <= 50; v++ {
		wg.Add(1)
		go func(voter snowflake.ID) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = tally.RecordVote(voter, labels[(int(voter)+i)%len(labels)])
			}
		}(snowflake.ID(v))
	}
	wg.Wait()

	assert.Equal(t, 50, tally.Total())
	sum := 0
	for _, l := range tally.Ranked() {
		sum += l.Votes
	}
	assert.Equal(t, 50, sum)
}

func TestFormatSummary_Empty(t *testing.T) {
	assert.Equal(t, MsgPollSummaryNoVotes, FormatSummary(nil))
}
