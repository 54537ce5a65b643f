package teacloud

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	guildOnlyMessage     = "Word clouds only work in a server."
	cooldownMessage      = "A word cloud was just made for this server, try again in a bit."
	unknownCommandReply  = "Unknown command."
	errorMessageTimeout  = 10 * time.Second
	cloudNounSlash       = "word cloud"
	cloudNounPrefix      = "Tea Cloud"
	defaultGuildNameText = "server"
)

// deliverFunc sends a message with an optional attachment back to
// wherever the request came from
type deliverFunc func(ctx context.Context, content string, file *discordgo.File) error

// handleInteraction processes incoming Discord interactions.
//
// Pings are answered with a pong (only seen via webhook). The word cloud
// command is acknowledged right away with an ephemeral message, and the
// cloud itself is generated in the background and sent as a followup.
func (t *TeaCloud) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	switch i.Type {
	case discordgo.InteractionPing:
		logger.InfoContext(ctx, "received ping")
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name
		if commandName != t.config.Discord.CommandName {
			logger.WarnContext(ctx, "unknown command", "command", commandName)
			_ = handler.Respond(ctx, ephemeralResponse(unknownCommandReply))
			return
		}
		t.runCloudCommand(ctx, handler)
	default:
		logger.WarnContext(ctx, "unhandled interaction type", "type", i.Type.String())
	}
}

// runCloudCommand handles the word cloud slash command
func (t *TeaCloud) runCloudCommand(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	logger = logger.With("user", slog.GroupValue(
		slog.String("id", discordUser.ID),
		slog.String("username", discordUser.Username),
	))
	logger.InfoContext(ctx, "received command")

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}
	if i.GuildID == "" {
		_ = handler.Respond(ctx, ephemeralResponse(guildOnlyMessage))
		return
	}
	if !t.cooldown.Allow(i.GuildID) {
		logger.InfoContext(ctx, "guild on cooldown")
		_ = handler.Respond(ctx, ephemeralResponse(cooldownMessage))
		return
	}

	scope, guildName, err := t.resolveScope(ctx, i.GuildID, i.ChannelID)
	if err != nil {
		logger.ErrorContext(ctx, "error resolving scope", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(t.config.Cloud.ErrorMessage))
		return
	}

	req := t.newRequest(i.GuildID, scope)
	if err = handler.Respond(
		ctx,
		ephemeralResponse(
			fmt.Sprintf(
				"Generating word cloud for %s since %s.",
				scope.Description(),
				discordTimestamp(req.After),
			),
		),
	); err != nil {
		// without a response, the interaction token can't be used
		// for a followup either
		return
	}

	received := time.Now()
	deliver := func(dctx context.Context, content string, file *discordgo.File) error {
		if time.Since(received) < discordInteractionTokenLifespan {
			params := &discordgo.WebhookParams{Content: content}
			if file != nil {
				params.Files = []*discordgo.File{file}
			}
			_, e := handler.Followup(dctx, params)
			return e
		}
		logger.WarnContext(dctx, "interaction token expired, sending to channel")
		return t.channelDeliverFunc(i.ChannelID)(dctx, content, file)
	}

	t.runtimeWG.Add(1)
	go func() {
		defer t.runtimeWG.Done()
		defer func() {
			if rc := recover(); rc != nil {
				t.handleRecover(ctx, rc)
			}
		}()
		_ = t.generateAndDeliver(
			WithLogger(ctx, logger),
			req,
			guildName,
			cloudNounSlash,
			deliver,
		)
	}()
}

// handleDiscordMessage handles the plain text prefix command
// (ex: "/wordcloud"), when enabled
func (t *TeaCloud) handleDiscordMessage(ctx context.Context, m *discordgo.MessageCreate) {
	cfg := t.config.Discord
	if !cfg.PrefixCommandEnabled || m == nil || m.Message == nil {
		return
	}
	if m.Author == nil || m.Author.Bot {
		return
	}
	if strings.TrimSpace(m.Content) != cfg.CommandPrefix+cfg.PrefixCommandName {
		return
	}
	logger := t.discord.logger.With(
		"message_id", m.ID,
		"channel_id", m.ChannelID,
		"guild_id", m.GuildID,
		"user_id", m.Author.ID,
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received prefix command")

	deliver := t.channelDeliverFunc(m.ChannelID)
	if m.GuildID == "" {
		t.sendNotice(ctx, deliver, guildOnlyMessage)
		return
	}
	if !t.cooldown.Allow(m.GuildID) {
		t.sendNotice(ctx, deliver, cooldownMessage)
		return
	}

	scope, guildName, err := t.resolveScope(ctx, m.GuildID, m.ChannelID)
	if err != nil {
		logger.ErrorContext(ctx, "error resolving scope", tint.Err(err))
		t.sendNotice(ctx, deliver, t.config.Cloud.ErrorMessage)
		return
	}
	_ = t.generateAndDeliver(
		ctx,
		t.newRequest(m.GuildID, scope),
		guildName,
		cloudNounPrefix,
		deliver,
	)
}

// generateAndDeliver runs the pipeline and sends the image. On failure,
// the configured error message is sent instead.
func (t *TeaCloud) generateAndDeliver(
	ctx context.Context,
	req Request,
	guildName string,
	noun string,
	deliver deliverFunc,
) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}
	t.stats.start()

	result, err := t.pipeline.Run(ctx, req)
	if err == nil {
		err = t.deliverResult(ctx, logger, result, guildName, noun, deliver)
	}
	if err != nil {
		t.stats.failure(err, time.Now())
		logger.ErrorContext(ctx, "unable to make word cloud", tint.Err(err))
		t.sendNotice(ctx, deliver, t.config.Cloud.ErrorMessage)
		return err
	}
	t.stats.success(time.Now())
	return nil
}

func (t *TeaCloud) deliverResult(
	ctx context.Context,
	logger *slog.Logger,
	result *Result,
	guildName string,
	noun string,
	deliver deliverFunc,
) error {
	logger.InfoContext(ctx, "pipeline state", "state", StateDelivering.String())
	data, err := os.ReadFile(result.Path)
	if err != nil {
		return fmt.Errorf("%w: error reading image: %w", ErrDelivery, err)
	}
	content := cloudMessage(guildName, noun, result.Scope, result.Since)
	if err = deliver(ctx, content, pngFile(filepath.Base(result.Path), data)); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	logger.InfoContext(
		ctx,
		"pipeline state",
		"state", StateDone.String(),
		"result", result,
	)
	return nil
}

// sendNotice sends a short text message. It still goes out if ctx was
// canceled, so users aren't left waiting during a shutdown.
func (t *TeaCloud) sendNotice(ctx context.Context, deliver deliverFunc, content string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorMessageTimeout)
	defer cancel()
	if err := deliver(sendCtx, content, nil); err != nil {
		logger, ok := ContextLogger(ctx)
		if !ok || logger == nil {
			logger = t.logger
		}
		logger.ErrorContext(ctx, "error sending notice", tint.Err(err))
	}
}

// channelDeliverFunc returns a deliverFunc which posts to the given channel
func (t *TeaCloud) channelDeliverFunc(channelID string) deliverFunc {
	return func(ctx context.Context, content string, file *discordgo.File) error {
		msg := &discordgo.MessageSend{Content: content}
		if file != nil {
			msg.Files = []*discordgo.File{file}
		}
		_, err := t.discord.session.ChannelMessageSendComplex(
			channelID,
			msg,
			discordgo.WithContext(ctx),
		)
		return err
	}
}

// resolveScope looks up the channel the command was used in. Using the
// command from the server-wide channel (ex: #general) widens the scope
// to every text channel in the server. The guild's name is also returned,
// for the delivery message.
func (t *TeaCloud) resolveScope(
	ctx context.Context,
	guildID string,
	channelID string,
) (Scope, string, error) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}
	session := t.discord.session

	ch, err := session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return Scope{}, "", fmt.Errorf("%w: error getting channel %s: %w", ErrCollection, channelID, err)
	}
	scope := ChannelScope(guildID, channelID)
	serverWide := t.config.Cloud.ServerWideChannel
	if serverWide != "" && ch.Name == serverWide {
		scope = GuildScope(guildID)
	}

	guildName := defaultGuildNameText
	guild, err := session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		logger.WarnContext(ctx, "unable to get guild name", tint.Err(err))
	} else if guild.Name != "" {
		guildName = guild.Name
	}
	return scope, guildName, nil
}

// newRequest returns a Request for the configured window, ending now
func (t *TeaCloud) newRequest(guildID string, scope Scope) Request {
	return Request{
		TenantID:        guildID,
		Scope:           scope,
		After:           time.Now().Add(-t.config.Cloud.Window),
		ExcludeAuthorID: t.excludeAuthorID(),
	}
}

// excludeAuthorID returns the bot's own user ID when self-exclusion is on.
// An explicitly configured ID is used first, then the ID reported by
// the gateway, then the application ID (which is the same as the bot
// user's ID for bots created in the developer portal).
func (t *TeaCloud) excludeAuthorID() string {
	if !t.config.Cloud.ExcludeSelfAuthor {
		return ""
	}
	if id := t.config.Cloud.SelfUserID; id != "" {
		return id
	}
	if id := t.discord.SelfUserID(); id != "" {
		return id
	}
	return t.config.Discord.ApplicationID
}

func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func cloudMessage(guildName string, noun string, scope Scope, since time.Time) string {
	return fmt.Sprintf(
		"Here's the %s %s for %s since %s.",
		guildName,
		noun,
		scope.Description(),
		discordTimestamp(since),
	)
}

// discordTimestamp formats t with discord's timestamp markup, which is
// shown in each reader's local time
func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}

// guildCooldown limits how often a cloud can be made for the same guild.
// A zero interval disables it.
type guildCooldown struct {
	every     time.Duration
	limiters  map[string]*cooldownEntry
	lastSweep time.Time
	mu        sync.Mutex
	now       func() time.Time
}

type cooldownEntry struct {
	limiter *rate.Limiter
	// last is when a cloud was last allowed for the guild
	last time.Time
}

func newGuildCooldown(every time.Duration) *guildCooldown {
	return &guildCooldown{
		every:    every,
		limiters: map[string]*cooldownEntry{},
		now:      time.Now,
	}
}

// Allow reports whether a cloud can be made for the guild now, and if so,
// starts its cooldown
func (c *guildCooldown) Allow(guildID string) bool {
	if c == nil || c.every <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= c.every {
		c.evictIdle(now)
		c.lastSweep = now
	}

	entry, ok := c.limiters[guildID]
	if !ok {
		entry = &cooldownEntry{limiter: rate.NewLimiter(rate.Every(c.every), 1)}
		c.limiters[guildID] = entry
	}
	if !entry.limiter.AllowN(now, 1) {
		return false
	}
	entry.last = now
	return true
}

// evictIdle drops limiters whose cooldown has fully elapsed. A limiter
// idle for at least `every` has refilled, so it's the same as a new one.
func (c *guildCooldown) evictIdle(now time.Time) {
	for guildID, entry := range c.limiters {
		if now.Sub(entry.last) >= c.every {
			delete(c.limiters, guildID)
		}
	}
}

// GenerationStats counts word cloud generations since startup
type GenerationStats struct {
	Started     int64      `json:"started"`
	Succeeded   int64      `json:"succeeded"`
	Failed      int64      `json:"failed"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type generationStats struct {
	mu        sync.Mutex
	started   int64
	succeeded int64
	failed    int64
	lastOK    time.Time
	lastFail  time.Time
	lastErr   error
}

func (s *generationStats) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
}

func (s *generationStats) success(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
	s.lastOK = at
}

func (s *generationStats) failure(err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.lastFail = at
	s.lastErr = err
}

func (s *generationStats) snapshot() GenerationStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := GenerationStats{
		Started:   s.started,
		Succeeded: s.succeeded,
		Failed:    s.failed,
	}
	if !s.lastOK.IsZero() {
		ok := s.lastOK
		stats.LastSuccess = &ok
	}
	if !s.lastFail.IsZero() {
		fail := s.lastFail
		stats.LastFailure = &fail
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	return stats
}
