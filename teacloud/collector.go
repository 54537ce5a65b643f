package teacloud

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// discordEpoch is the first millisecond of 2015, which discord snowflake
// timestamps count from
const discordEpoch = 1420070400000

// ChannelKind groups discord's channel types by what the collector can
// do with them. Only ChannelKindText has a message history to read.
type ChannelKind int

const (
	ChannelKindUnknown ChannelKind = iota
	ChannelKindText
	ChannelKindVoice
	ChannelKindCategory
	ChannelKindThread
	ChannelKindOther
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelKindText:
		return "text"
	case ChannelKindVoice:
		return "voice"
	case ChannelKindCategory:
		return "category"
	case ChannelKindThread:
		return "thread"
	case ChannelKindOther:
		return "other"
	default:
		return "unknown"
	}
}

// channelKindOf maps a discord channel type to a ChannelKind
func channelKindOf(t discordgo.ChannelType) ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return ChannelKindText
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return ChannelKindVoice
	case discordgo.ChannelTypeGuildCategory:
		return ChannelKindCategory
	case discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return ChannelKindThread
	case discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildStore,
		discordgo.ChannelTypeGuildForum:
		return ChannelKindOther
	default:
		return ChannelKindUnknown
	}
}

// ScopeKind is either a single channel, or every text channel in a guild
type ScopeKind int

const (
	ScopeChannel ScopeKind = iota
	ScopeGuild
)

func (s ScopeKind) String() string {
	if s == ScopeGuild {
		return "guild"
	}
	return "channel"
}

// Scope identifies which channels to collect messages from
type Scope struct {
	Kind      ScopeKind `json:"kind"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id,omitempty"`
}

func ChannelScope(guildID string, channelID string) Scope {
	return Scope{Kind: ScopeChannel, GuildID: guildID, ChannelID: channelID}
}

func GuildScope(guildID string) Scope {
	return Scope{Kind: ScopeGuild, GuildID: guildID}
}

// Description is used in user-facing messages
func (s Scope) Description() string {
	if s.Kind == ScopeGuild {
		return "the whole server"
	}
	return "this channel"
}

func (s Scope) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", s.Kind.String()),
		slog.String("guild_id", s.GuildID),
	}
	if s.ChannelID != "" {
		attrs = append(attrs, slog.String("channel_id", s.ChannelID))
	}
	return slog.GroupValue(attrs...)
}

// messageSource is the part of [DiscordSessionHandler] the collector needs
type messageSource interface {
	GuildChannels(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Channel, error)
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)
}

// Collector reads message history after a point in time, for a single
// channel or for every text channel in a guild.
type Collector struct {
	session       messageSource
	pageSize      int
	maxPerChannel int
	concurrency   int
	timeout       time.Duration
	logger        *slog.Logger
}

func NewCollector(
	session messageSource,
	config *CloudConfig,
	logger *slog.Logger,
) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := config.CollectConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Collector{
		session:       session,
		pageSize:      discordHistoryPageSize,
		maxPerChannel: config.MaxMessagesPerChannel,
		concurrency:   concurrency,
		timeout:       config.CollectTimeout,
		logger:        logger.With(loggerNameKey, "collector"),
	}
}

// Collect returns the content of every message in scope sent strictly after
// `after`, joined with single spaces. Messages are in chronological order
// per channel. For guild scope, channels are concatenated in the order
// they're listed in the server (by position).
//
// When excludeAuthorID is set, messages from that user are skipped.
//
// In guild scope, channels the bot can't read are skipped. Any other
// failure, and any failure in channel scope, returns an error wrapping
// [ErrCollection].
func (c *Collector) Collect(
	ctx context.Context,
	scope Scope,
	after time.Time,
	excludeAuthorID string,
) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	logger := c.logger.With("scope", scope)

	var messages []string
	var err error

	switch scope.Kind {
	case ScopeChannel:
		if scope.ChannelID == "" {
			return "", fmt.Errorf("%w: no channel given", ErrCollection)
		}
		messages, err = c.channelHistory(ctx, scope.ChannelID, after, excludeAuthorID)
	case ScopeGuild:
		messages, err = c.guildHistory(ctx, logger, scope.GuildID, after, excludeAuthorID)
	default:
		return "", fmt.Errorf("%w: unknown scope %d", ErrCollection, scope.Kind)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCollection, err)
	}
	logger.InfoContext(ctx, "collected messages", "count", len(messages))
	return strings.Join(messages, " "), nil
}

func (c *Collector) guildHistory(
	ctx context.Context,
	logger *slog.Logger,
	guildID string,
	after time.Time,
	excludeAuthorID string,
) ([]string, error) {
	if guildID == "" {
		return nil, errors.New("no guild given")
	}
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error listing channels for guild %s: %w", guildID, err)
	}
	textChannels := textChannelsInOrder(channels)
	logger.DebugContext(ctx, "found text channels", "count", len(textChannels))

	// results are kept by index so the final order doesn't depend on
	// which fetch finishes first
	results := make([][]string, len(textChannels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for idx, ch := range textChannels {
		g.Go(
			func() error {
				msgs, e := c.channelHistory(gctx, ch.ID, after, excludeAuthorID)
				if e != nil {
					if isForbidden(e) {
						logger.WarnContext(
							gctx,
							"skipping channel without read access",
							"channel_id", ch.ID,
							"channel_name", ch.Name,
							tint.Err(e),
						)
						return nil
					}
					return fmt.Errorf("error reading channel %s: %w", ch.ID, e)
				}
				results[idx] = msgs
				return nil
			},
		)
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	var messages []string
	for _, r := range results {
		messages = append(messages, r...)
	}
	return messages, nil
}

// channelHistory pages forward through a channel's history, starting
// just after `after`. When maxPerChannel is set, the oldest messages are
// dropped so only the most recent ones are returned.
func (c *Collector) channelHistory(
	ctx context.Context,
	channelID string,
	after time.Time,
	excludeAuthorID string,
) ([]string, error) {
	afterID := snowflakeFromTime(after)
	var messages []string

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.session.ChannelMessages(
			channelID,
			c.pageSize,
			"",
			afterID,
			"",
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return messages, nil
		}

		// discord returns newest first
		slices.SortFunc(
			page, func(a, b *discordgo.Message) int {
				return compareSnowflakes(a.ID, b.ID)
			},
		)

		for _, m := range page {
			if !messageTime(m).After(after) {
				continue
			}
			if excludeAuthorID != "" && m.Author != nil && m.Author.ID == excludeAuthorID {
				continue
			}
			if m.Content == "" {
				continue
			}
			messages = append(messages, m.Content)
		}
		// keep the newest maxPerChannel messages
		if c.maxPerChannel > 0 && len(messages) > c.maxPerChannel {
			messages = append(messages[:0], messages[len(messages)-c.maxPerChannel:]...)
		}

		if len(page) < c.pageSize {
			return messages, nil
		}
		afterID = page[len(page)-1].ID
	}
}

// textChannelsInOrder returns only text channels, ordered as they're
// displayed in the server's channel list
func textChannelsInOrder(channels []*discordgo.Channel) []*discordgo.Channel {
	text := make([]*discordgo.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil && channelKindOf(ch.Type) == ChannelKindText {
			text = append(text, ch)
		}
	}
	slices.SortStableFunc(
		text, func(a, b *discordgo.Channel) int {
			if a.Position != b.Position {
				return a.Position - b.Position
			}
			return compareSnowflakes(a.ID, b.ID)
		},
	)
	return text
}

// messageTime returns when the message was sent, falling back to the
// time encoded in its ID
func messageTime(m *discordgo.Message) time.Time {
	if !m.Timestamp.IsZero() {
		return m.Timestamp
	}
	ts, err := discordgo.SnowflakeTimestamp(m.ID)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// snowflakeFromTime returns the smallest snowflake ID for the given time.
// Times before the discord epoch return "0".
func snowflakeFromTime(t time.Time) string {
	ms := t.UnixMilli() - discordEpoch
	if ms <= 0 {
		return "0"
	}
	return strconv.FormatInt(ms<<22, 10)
}

// compareSnowflakes orders decimal ID strings numerically
func compareSnowflakes(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

// isForbidden is true for errors from discord indicating the bot can't
// access a resource
func isForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}
