package main

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

type EndReason string

const (
	EndReasonTimeout  EndReason = "timeout"
	EndReasonManual   EndReason = "manual"
	EndReasonShutdown EndReason = MsgPollEndedByShutdown
)

// PollSession owns one running poll. Its tally and fields are guarded by mu;
// ended flips exactly once.
type PollSession struct {
	ID          string
	GuildID     snowflake.ID
	ChannelID   snowflake.ID
	OpenedBy    snowflake.ID
	Candidates  []Candidate
	Labels      []string
	WindowStart time.Time
	StartedAt   time.Time
	CanEnd      bool

	mu        sync.Mutex
	messageID snowflake.ID
	endsAt    time.Time
	endedAt   time.Time
	reason    EndReason
	tally     *VoteTally
	timer     *time.Timer
	ended     atomic.Bool
}

func NewPollSession(guildID, channelID, openedBy snowflake.ID, candidates []Candidate, labels []string, windowStart time.Time, canEnd, allowRevote bool) *PollSession {
	return &PollSession{
		ID:          uuid.NewString(),
		GuildID:     guildID,
		ChannelID:   channelID,
		OpenedBy:    openedBy,
		Candidates:  candidates,
		Labels:      labels,
		WindowStart: windowStart,
		StartedAt:   time.Now(),
		CanEnd:      canEnd,
		tally:       NewVoteTally(labels, allowRevote),
	}
}

func (s *PollSession) MessageID() snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

func (s *PollSession) Ended() bool { return s.ended.Load() }

// View snapshots everything the renderer needs.
func (s *PollSession) View() PollView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := PollView{
		SessionID:   s.ID,
		GuildID:     s.GuildID,
		Candidates:  s.Candidates,
		Labels:      s.Labels,
		WindowStart: s.WindowStart,
		StartedAt:   s.StartedAt,
		EndsAt:      s.endsAt,
		CanEnd:      s.CanEnd,
		Final:       s.ended.Load(),
		EndedAt:     s.endedAt,
	}
	if v.Final {
		v.Summary = s.tally.Summary()
	}
	return v
}

// Record converts a finished session into its archive form.
func (s *PollSession) Record() *PollRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &PollRecord{
		SessionID:  s.ID,
		GuildID:    s.GuildID,
		ChannelID:  s.ChannelID,
		MessageID:  s.messageID,
		StartedAt:  s.StartedAt,
		EndedAt:    s.endedAt,
		EndReason:  string(s.reason),
		TotalVotes: s.tally.Total(),
	}
	for i, l := range s.tally.Ranked() {
		r.Entries = append(r.Entries, PollRecordEntry{Rank: i + 1, Label: l.Label, Votes: l.Votes})
	}
	return r
}

// --- Manager ---

// PollManager is the registry of open sessions.
type PollManager struct {
	mu       sync.RWMutex
	sessions map[string]*PollSession

	// publish edits the poll message into its final form.
	publish func(ctx context.Context, s *PollSession) error
	archive func(ctx context.Context, r *PollRecord) error
	now     func() time.Time
}

func NewPollManager() *PollManager {
	return &PollManager{
		sessions: make(map[string]*PollSession),
		now:      time.Now,
	}
}

// Register makes s reachable by its id. Votes are accepted from here on.
func (m *PollManager) Register(s *PollSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Discard drops a session that never got a message.
func (m *PollManager) Discard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ended.Store(true)
		delete(m.sessions, id)
	}
}

// Start binds the posted message and arms the timer. A zero or negative
// duration ends the poll right away.
func (m *PollManager) Start(s *PollSession, messageID snowflake.ID, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = messageID
	s.endsAt = s.StartedAt.Add(d)
	s.timer = time.AfterFunc(d, func() {
		m.finalize(s, EndReasonTimeout)
	})
}

func (m *PollManager) Get(id string) (*PollSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *PollManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *PollManager) open(id string) (*PollSession, error) {
	s, ok := m.Get(id)
	if !ok || s.Ended() {
		return nil, ErrPollEnded
	}
	return s, nil
}

// Vote records voter's choice. value is the option index from the select menu.
func (m *PollManager) Vote(id string, voter snowflake.ID, value string) (label string, summary string, err error) {
	s, err := m.open(id)
	if err != nil {
		return "", "", err
	}

	idx, convErr := strconv.Atoi(value)
	if convErr != nil || idx < 0 || idx >= len(s.Labels) {
		return "", "", ErrUnknownOption
	}
	label = s.Labels[idx]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended.Load() {
		return "", "", ErrPollEnded
	}
	if err := s.tally.RecordVote(voter, label); err != nil {
		return "", "", err
	}
	return label, s.tally.Summary(), nil
}

// Results returns the current ranked summary.
func (m *PollManager) Results(id string) (string, error) {
	s, err := m.open(id)
	if err != nil {
		return "", err
	}
	return s.tally.Summary(), nil
}

// CheckEnd reports whether a presser may end the poll now.
func (m *PollManager) CheckEnd(id string, canManage bool) error {
	if _, err := m.open(id); err != nil {
		return err
	}
	if !canManage {
		return ErrNotModerator
	}
	return nil
}

// End finalizes the poll. It returns false if it was already ended or unknown.
func (m *PollManager) End(id string, reason EndReason) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return m.finalize(s, reason)
}

// EndAll finalizes every open poll concurrently and waits for them.
func (m *PollManager) EndAll(reason EndReason) int {
	m.mu.RLock()
	open := make([]*PollSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	var ended atomic.Int32
	var wg sync.WaitGroup
	for _, s := range open {
		wg.Add(1)
		go func(s *PollSession) {
			defer wg.Done()
			if m.finalize(s, reason) {
				ended.Add(1)
			}
		}(s)
	}
	wg.Wait()
	return int(ended.Load())
}

// EndExpired catches sessions whose timer was missed, e.g. after a suspend.
func (m *PollManager) EndExpired(now time.Time) int {
	m.mu.RLock()
	var due []*PollSession
	for _, s := range m.sessions {
		s.mu.Lock()
		if !s.endsAt.IsZero() && !now.Before(s.endsAt) {
			due = append(due, s)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range due {
		if m.finalize(s, EndReasonTimeout) {
			n++
		}
	}
	return n
}

// finalize runs once per session: the first caller wins the CAS, every
// later caller returns false without side effects.
func (m *PollManager) finalize(s *PollSession, reason EndReason) bool {
	if !s.ended.CompareAndSwap(false, true) {
		return false
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.endedAt = m.now()
	s.reason = reason
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if m.publish != nil {
		if err := m.publish(ctx, s); err != nil {
			LogPoll(MsgPollPublishFailed, s.ID, err)
		}
	}

	rec := s.Record()
	if m.archive != nil {
		if err := m.archive(ctx, rec); err != nil {
			LogPoll(MsgPollArchiveFailed, s.ID, err)
		}
	}

	LogPoll(MsgPollEnded, s.ID, reason, rec.TotalVotes)
	return true
}
