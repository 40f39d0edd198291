package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrPollEnded     = errors.New("poll has ended")
	ErrAlreadyVoted  = errors.New("voter has already voted")
	ErrUnknownOption = errors.New("unknown poll option")
	ErrNotModerator  = errors.New("missing manage messages permission")
)

type tallyEntry struct {
	label  string
	count  int
	voters map[snowflake.ID]struct{}
}

// TallyLine is one ranked row of a summary.
type TallyLine struct {
	Label string
	Votes int
}

// VoteTally counts one vote per voter across a fixed set of labels.
// Entries keep the order they were added in, which is also the tie-break order.
type VoteTally struct {
	mu          sync.Mutex
	allowRevote bool
	order       []*tallyEntry
	byLabel     map[string]*tallyEntry
	byVoter     map[snowflake.ID]*tallyEntry
}

func NewVoteTally(labels []string, allowRevote bool) *VoteTally {
	t := &VoteTally{
		allowRevote: allowRevote,
		byLabel:     make(map[string]*tallyEntry, len(labels)),
		byVoter:     make(map[snowflake.ID]*tallyEntry),
	}
	for _, l := range labels {
		t.entryLocked(l)
	}
	return t
}

func (t *VoteTally) entryLocked(label string) *tallyEntry {
	if e, ok := t.byLabel[label]; ok {
		return e
	}
	e := &tallyEntry{label: label, voters: make(map[snowflake.ID]struct{})}
	t.byLabel[label] = e
	t.order = append(t.order, e)
	return e
}

// RecordVote moves voter onto label. The previous vote, if any, is withdrawn
// first, so a voter is counted under at most one label.
func (t *VoteTally) RecordVote(voter snowflake.ID, label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, hasPrev := t.byVoter[voter]
	if hasPrev {
		if prev.label == label {
			return nil
		}
		if !t.allowRevote {
			return ErrAlreadyVoted
		}
		prev.count--
		delete(prev.voters, voter)
	}

	e := t.entryLocked(label)
	e.count++
	e.voters[voter] = struct{}{}
	t.byVoter[voter] = e
	return nil
}

// VoteOf returns the label voter is currently counted under.
func (t *VoteTally) VoteOf(voter snowflake.ID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byVoter[voter]
	if !ok {
		return "", false
	}
	return e.label, true
}

// Ranked returns all entries by descending count; equal counts keep option order.
func (t *VoteTally) Ranked() []TallyLine {
	t.mu.Lock()
	lines := make([]TallyLine, len(t.order))
	for i, e := range t.order {
		lines[i] = TallyLine{Label: e.label, Votes: e.count}
	}
	t.mu.Unlock()

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Votes > lines[j].Votes
	})
	return lines
}

// Total is the number of voters currently counted.
func (t *VoteTally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byVoter)
}

// Summary renders Ranked as "<count> votes - <label>" lines.
func (t *VoteTally) Summary() string {
	return FormatSummary(t.Ranked())
}

func FormatSummary(lines []TallyLine) string {
	if len(lines) == 0 {
		return MsgPollSummaryNoVotes
	}
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(fmt.Sprintf("%d votes - %s\n", l.Votes, l.Label))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
