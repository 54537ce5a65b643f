package teacloud

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"log/slog"
	"sync"
	"time"
	_ "time/tzdata"
)

// Scheduler posts server-wide clouds to a set of channels on a cron
// schedule (ex: every morning in #general).
type Scheduler struct {
	config   *ScheduleConfig
	cron     *cron.Cron
	location *time.Location
	entryID  cron.EntryID
	logger   *slog.Logger
	t        *TeaCloud

	// ctx is the context jobs run with, set by Start
	ctx     context.Context
	mu      sync.Mutex
	started bool
}

func newScheduler(t *TeaCloud, config *ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	tz := config.Timezone
	if tz == "" {
		tz = DefaultScheduleTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("error loading timezone %q: %w", tz, err)
	}

	s := &Scheduler{
		config:   config,
		cron:     cron.New(cron.WithLocation(loc)),
		location: loc,
		logger:   logger.With(loggerNameKey, "scheduler"),
		t:        t,
		ctx:      context.Background(),
	}
	entryID, err := s.cron.AddFunc(config.Spec, s.runJob)
	if err != nil {
		return nil, fmt.Errorf("error adding cron job %q: %w", config.Spec, err)
	}
	s.entryID = entryID
	return s, nil
}

// Start begins running scheduled jobs. Jobs use ctx, so canceling it
// aborts any in progress.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx = ctx
	s.cron.Start()
	s.started = true
	s.logger.InfoContext(
		ctx,
		"started scheduler",
		"spec", s.config.Spec,
		"timezone", s.location.String(),
		"channels", s.config.ChannelIDs,
	)
}

// Stop halts the scheduler, and returns a context that's done when any
// running job has finished
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.started = false
	return s.cron.Stop()
}

// NextRun returns the next time jobs will run, or nil if the scheduler
// isn't running
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// runJob posts a cloud to each configured channel, one at a time
func (s *Scheduler) runJob() {
	ctx := s.jobContext()
	for _, channelID := range s.config.ChannelIDs {
		if ctx.Err() != nil {
			return
		}
		if err := s.postCloud(ctx, channelID); err != nil {
			s.logger.ErrorContext(
				ctx,
				"scheduled cloud failed",
				"channel_id", channelID,
				tint.Err(err),
			)
		}
	}
}

// postCloud generates a cloud for the whole server the channel belongs to,
// and posts it to the channel
func (s *Scheduler) postCloud(ctx context.Context, channelID string) error {
	logger := s.logger.With("channel_id", channelID)
	ctx = WithLogger(ctx, logger)
	t := s.t

	ch, err := t.discord.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: error getting channel: %w", ErrCollection, err)
	}
	if ch.GuildID == "" {
		return fmt.Errorf("channel %s isn't in a server", channelID)
	}

	guildName := defaultGuildNameText
	if guild, e := t.discord.session.Guild(ch.GuildID, discordgo.WithContext(ctx)); e != nil {
		logger.WarnContext(ctx, "unable to get guild name", tint.Err(e))
	} else if guild.Name != "" {
		guildName = guild.Name
	}

	logger.InfoContext(ctx, "posting scheduled cloud", "guild_id", ch.GuildID)
	return t.generateAndDeliver(
		ctx,
		t.newRequest(ch.GuildID, GuildScope(ch.GuildID)),
		guildName,
		cloudNounSlash,
		t.channelDeliverFunc(channelID),
	)
}
