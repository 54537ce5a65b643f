package teacloud

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
)

func newTestCollector(t testing.TB, session messageSource) *Collector {
	t.Helper()
	cfg := DefaultCloudConfig()
	return NewCollector(session, cfg, slog.Default())
}

func TestCollector_ChannelScope(t *testing.T) {
	session := newFakeDiscordSession()
	now := time.Now().UTC().Truncate(time.Millisecond)
	after := now.Add(-24 * time.Hour)

	session.addChannel(
		&discordgo.Channel{ID: "c1", GuildID: "g1", Name: "random", Type: discordgo.ChannelTypeGuildText},
		testMessage(now.Add(-time.Hour), 0, "u1", "third"),
		testMessage(after.Add(-time.Minute), 0, "u1", "too old"),
		testMessage(after, 0, "u1", "boundary"),
		testMessage(now.Add(-3*time.Hour), 0, "u1", "first"),
		testMessage(now.Add(-2*time.Hour), 0, "bot", "from the bot"),
		testMessage(now.Add(-2*time.Hour), 1, "u2", "second"),
		testMessage(now.Add(-90*time.Minute), 0, "u2", ""),
	)

	c := newTestCollector(t, session)

	t.Run("chronological", func(t *testing.T) {
		text, err := c.Collect(context.Background(), ChannelScope("g1", "c1"), after, "")
		require.NoError(t, err)
		assert.Equal(t, "first from the bot second third", text)
	})

	t.Run("exclude author", func(t *testing.T) {
		text, err := c.Collect(context.Background(), ChannelScope("g1", "c1"), after, "bot")
		require.NoError(t, err)
		assert.Equal(t, "first second third", text)
	})

	t.Run("nothing new", func(t *testing.T) {
		text, err := c.Collect(context.Background(), ChannelScope("g1", "c1"), now, "")
		require.NoError(t, err)
		assert.Empty(t, text)
	})

	t.Run("no channel", func(t *testing.T) {
		_, err := c.Collect(context.Background(), Scope{Kind: ScopeChannel, GuildID: "g1"}, after, "")
		assert.ErrorIs(t, err, ErrCollection)
	})
}

func TestCollector_Paging(t *testing.T) {
	session := newFakeDiscordSession()
	now := time.Now().UTC().Truncate(time.Millisecond)
	after := now.Add(-time.Hour)

	var messages []*discordgo.Message
	var want []string
	for i := 0; i < 7; i++ {
		content := fmt.Sprintf("m%d", i)
		messages = append(messages, testMessage(after.Add(time.Duration(i+1)*time.Minute), 0, "u1", content))
		want = append(want, content)
	}
	session.addChannel(
		&discordgo.Channel{ID: "c1", GuildID: "g1", Type: discordgo.ChannelTypeGuildText},
		messages...,
	)

	c := newTestCollector(t, session)
	c.pageSize = 3

	text, err := c.Collect(context.Background(), ChannelScope("g1", "c1"), after, "")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(want, " "), text)
	assert.Equal(t, 3, session.historyCalls["c1"])

	t.Run("max per channel", func(t *testing.T) {
		c.maxPerChannel = 4
		text, err := c.Collect(context.Background(), ChannelScope("g1", "c1"), after, "")
		require.NoError(t, err)
		assert.Equal(t, "m3 m4 m5 m6", text)
		assert.Equal(t, 6, session.historyCalls["c1"])
	})
}

func TestCollector_GuildScope(t *testing.T) {
	session := newFakeDiscordSession()
	now := time.Now().UTC().Truncate(time.Millisecond)
	after := now.Add(-time.Hour)

	session.addChannel(
		&discordgo.Channel{ID: "30", GuildID: "g1", Name: "off-topic", Position: 2, Type: discordgo.ChannelTypeGuildText},
		testMessage(now.Add(-time.Minute), 0, "u1", "offtopic"),
	)
	session.addChannel(
		&discordgo.Channel{ID: "10", GuildID: "g1", Name: "general", Position: 0, Type: discordgo.ChannelTypeGuildText},
		testMessage(now.Add(-2*time.Minute), 0, "u1", "hello"),
		testMessage(now.Add(-time.Minute), 0, "u2", "world"),
	)
	session.addChannel(
		&discordgo.Channel{ID: "20", GuildID: "g1", Name: "news", Position: 1, Type: discordgo.ChannelTypeGuildNews},
		testMessage(now.Add(-time.Minute), 0, "u1", "announcement"),
	)
	session.addChannel(
		&discordgo.Channel{ID: "40", GuildID: "g1", Name: "voice", Position: 0, Type: discordgo.ChannelTypeGuildVoice},
		testMessage(now.Add(-time.Minute), 0, "u1", "voice chat"),
	)
	session.addChannel(
		&discordgo.Channel{ID: "50", GuildID: "g1", Name: "secret", Position: 3, Type: discordgo.ChannelTypeGuildText},
		testMessage(now.Add(-time.Minute), 0, "u1", "hidden"),
	)
	session.historyErrs["50"] = restError(http.StatusForbidden, discordgo.ErrCodeMissingAccess)

	c := newTestCollector(t, session)

	text, err := c.Collect(context.Background(), GuildScope("g1"), after, "")
	require.NoError(t, err)
	assert.Equal(t, "hello world announcement offtopic", text)
	assert.Zero(t, session.historyCalls["40"], "voice channels shouldn't be read")

	t.Run("other errors fail", func(t *testing.T) {
		session.historyErrs["20"] = errors.New("boom")
		_, err := c.Collect(context.Background(), GuildScope("g1"), after, "")
		assert.ErrorIs(t, err, ErrCollection)
	})

	t.Run("forbidden in channel scope fails", func(t *testing.T) {
		_, err := c.Collect(context.Background(), ChannelScope("g1", "50"), after, "")
		assert.ErrorIs(t, err, ErrCollection)
	})

	t.Run("no guild", func(t *testing.T) {
		_, err := c.Collect(context.Background(), GuildScope(""), after, "")
		assert.ErrorIs(t, err, ErrCollection)
	})
}

func TestCollector_Canceled(t *testing.T) {
	session := newFakeDiscordSession()
	now := time.Now()
	session.addChannel(
		&discordgo.Channel{ID: "c1", GuildID: "g1", Type: discordgo.ChannelTypeGuildText},
		testMessage(now, 0, "u1", "hi"),
	)
	c := newTestCollector(t, session)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Collect(ctx, ChannelScope("g1", "c1"), now.Add(-time.Hour), "")
	assert.ErrorIs(t, err, ErrCollection)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnowflakeFromTime(t *testing.T) {
	ts := time.UnixMilli(discordEpoch + 1000)
	id := snowflakeFromTime(ts)
	assert.Equal(t, fmt.Sprint(int64(1000)<<22), id)

	got, err := discordgo.SnowflakeTimestamp(id)
	require.NoError(t, err)
	assert.Equal(t, ts.UnixMilli(), got.UnixMilli())

	assert.Equal(t, "0", snowflakeFromTime(time.Unix(0, 0)))
}

func TestCompareSnowflakes(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"9", "10", -1},
		{"10", "9", 1},
		{"123", "123", 0},
		{"124", "123", 1},
	}
	for _, tc := range tests {
		t.Run(
			tc.a+"_"+tc.b, func(t *testing.T) {
				got := compareSnowflakes(tc.a, tc.b)
				switch {
				case tc.want < 0:
					assert.Negative(t, got)
				case tc.want > 0:
					assert.Positive(t, got)
				default:
					assert.Zero(t, got)
				}
			},
		)
	}
}

func TestChannelKindOf(t *testing.T) {
	tests := []struct {
		typ  discordgo.ChannelType
		want ChannelKind
	}{
		{discordgo.ChannelTypeGuildText, ChannelKindText},
		{discordgo.ChannelTypeGuildNews, ChannelKindText},
		{discordgo.ChannelTypeGuildVoice, ChannelKindVoice},
		{discordgo.ChannelTypeGuildStageVoice, ChannelKindVoice},
		{discordgo.ChannelTypeGuildCategory, ChannelKindCategory},
		{discordgo.ChannelTypeGuildPublicThread, ChannelKindThread},
		{discordgo.ChannelTypeDM, ChannelKindOther},
		{discordgo.ChannelType(255), ChannelKindUnknown},
	}
	for _, tc := range tests {
		t.Run(
			tc.want.String(), func(t *testing.T) {
				assert.Equal(t, tc.want, channelKindOf(tc.typ))
			},
		)
	}
}

func TestIsForbidden(t *testing.T) {
	assert.True(t, isForbidden(restError(http.StatusForbidden, discordgo.ErrCodeMissingAccess)))
	assert.True(t, isForbidden(fmt.Errorf("wrapped: %w", restError(http.StatusForbidden, 0))))
	assert.True(t, isForbidden(restError(http.StatusBadRequest, discordgo.ErrCodeMissingPermissions)))
	assert.False(t, isForbidden(restError(http.StatusNotFound, discordgo.ErrCodeUnknownChannel)))
	assert.False(t, isForbidden(errors.New("nope")))
}

func TestScope(t *testing.T) {
	assert.Equal(t, "this channel", ChannelScope("g", "c").Description())
	assert.Equal(t, "the whole server", GuildScope("g").Description())
	assert.Equal(t, "guild", ScopeGuild.String())
	assert.Equal(t, "channel", ScopeChannel.String())
}
