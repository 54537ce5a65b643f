package cmd

import (
	"bytes"
	"fmt"
	"github.com/arcward/teacloud/teacloud"
	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

// cleanEnv clears the environment and viper's state for the test,
// restoring the environment afterward
func cleanEnv(t testing.TB) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
			viper.Reset()
		},
	)
	os.Clearenv()
	viper.Reset()
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	cleanEnv(t)

	tmpdir := t.TempDir()
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General config

TC_LOG_LEVEL=INFO
TC_STARTUP_TIMEOUT=30s
TC_SHUTDOWN_TIMEOUT=60s
TC_DEVELOPMENT=true

# Discord bot config

TC_DISCORD_TOKEN=your-discord-bot-token
TC_DISCORD_APPLICATION_ID=your-discord-bot-app-id
TC_DISCORD_GUILD_ID=
TC_DISCORD_LOG_LEVEL=WARN
TC_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
TC_DISCORD_GATEWAY_INTENTS=33281
TC_DISCORD_COMMAND_NAME=cloud
TC_DISCORD_PREFIX_COMMAND_ENABLED=true
TC_DISCORD_COMMAND_PREFIX=!

# Discord webhook server

TC_DISCORD_WEBHOOK_SERVER_ENABLED=false
TC_DISCORD_WEBHOOK_SERVER_LISTEN=127.0.0.1:5001
TC_DISCORD_WEBHOOK_SERVER_SSL_CERT=/etc/ssl/cert.pem
TC_DISCORD_WEBHOOK_SERVER_SSL_KEY=/etc/ssl/cert.key
TC_DISCORD_WEBHOOK_SERVER_SSL_TLS_MIN_VERSION=772
TC_DISCORD_WEBHOOK_SERVER_LOG_LEVEL=INFO
TC_DISCORD_WEBHOOK_SERVER_PUBLIC_KEY=abababababababababababababababababababababababababababababababab
TC_DISCORD_WEBHOOK_SERVER_READ_TIMEOUT=5s
TC_DISCORD_WEBHOOK_SERVER_WRITE_TIMEOUT=10s

# API server

TC_API_LISTEN=127.0.0.1:5050
TC_API_SSL_CERT=/etc/ssl/cert.pem
TC_API_SSL_KEY=/etc/ssl/key.pem
TC_API_LOG_LEVEL=DEBUG
TC_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5050 https://localhost:5050
TC_API_CORS_ALLOW_METHODS=GET OPTIONS
TC_API_CORS_MAX_AGE=1h
TC_API_IDLE_TIMEOUT=45s

# Word clouds

TC_CLOUD_MASKS_DIR=/var/lib/teacloud/masks
TC_CLOUD_OUTPUT_DIR=/var/lib/teacloud/output
TC_CLOUD_SERVER_WIDE_CHANNEL=lobby
TC_CLOUD_WINDOW=12h
TC_CLOUD_STRIP_URLS=false
TC_CLOUD_EXCLUDE_SELF_AUTHOR=true
TC_CLOUD_EXTRA_STOPWORDS=lol lmao
TC_CLOUD_COMMAND_COOLDOWN=2m
TC_CLOUD_WIDTH=1024
TC_CLOUD_HEIGHT=512
TC_CLOUD_BACKGROUND_COLOR="#102030"
TC_CLOUD_ERROR_MESSAGE="No cloud today"

# Scheduled clouds

TC_SCHEDULE_ENABLED=true
TC_SCHEDULE_SPEC="30 8 * * 1-5"
TC_SCHEDULE_TIMEZONE=Europe/London
TC_SCHEDULE_CHANNEL_IDS=111 222
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))
	assert.True(t, viper.GetBool("development"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-app-id", viper.GetString("discord.application_id"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelError, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, 33281, viper.GetInt("discord.gateway_intents"))
	assert.Equal(t, "/etc/ssl/cert.pem", viper.GetString("discord.webhook_server.ssl.cert"))
	assert.Equal(t, 772, viper.GetInt("discord.webhook_server.ssl.tls_min_version"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("discord.webhook_server.log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5050", "https://localhost:5050"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(t, []string{"lol", "lmao"}, viper.GetStringSlice("cloud.extra_stopwords"))
	assert.Equal(t, []string{"111", "222"}, viper.GetStringSlice("schedule.channel_ids"))

	// the root command's pre-run unmarshals into the package config
	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())

	var config teacloud.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)
	assert.True(t, config.Development)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.True(t, config.Discord.GatewayEnabled)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelError, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, discordgo.Intent(33281), config.Discord.GatewayIntents)
	assert.Equal(t, "cloud", config.Discord.CommandName)
	assert.Equal(t, teacloud.DefaultDiscordCommandDescription, config.Discord.CommandDescription)
	assert.True(t, config.Discord.PrefixCommandEnabled)
	assert.Equal(t, "!", config.Discord.CommandPrefix)
	assert.Equal(t, teacloud.DefaultDiscordPrefixCommand, config.Discord.PrefixCommandName)

	assert.False(t, config.Discord.WebhookServer.Enabled)
	assert.Equal(t, "127.0.0.1:5001", config.Discord.WebhookServer.Listen)
	assert.Equal(t, "tcp", config.Discord.WebhookServer.ListenNetwork)
	assert.Equal(t, "/etc/ssl/cert.pem", config.Discord.WebhookServer.SSL.Cert)
	assert.Equal(t, "/etc/ssl/cert.key", config.Discord.WebhookServer.SSL.Key)
	assert.Equal(t, uint16(772), config.Discord.WebhookServer.SSL.TLSMinVersion)
	assert.Equal(t, slog.LevelInfo, config.Discord.WebhookServer.LogLevel.Level())
	assert.Equal(t, strings.Repeat("ab", 32), config.Discord.WebhookServer.PublicKey)
	assert.Equal(t, 5*time.Second, config.Discord.WebhookServer.ReadTimeout)
	assert.Equal(t, teacloud.DefaultReadHeaderTimeout, config.Discord.WebhookServer.ReadHeaderTimeout)
	assert.Equal(t, 10*time.Second, config.Discord.WebhookServer.WriteTimeout)
	assert.Equal(t, teacloud.DefaultIdleTimeout, config.Discord.WebhookServer.IdleTimeout)

	assert.True(t, config.API.Enabled)
	assert.Equal(t, "127.0.0.1:5050", config.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", config.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", config.API.SSL.Key)
	assert.Equal(t, uint16(teacloud.DefaultAPITLSMinVersion), config.API.SSL.TLSMinVersion)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5050", "https://localhost:5050"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(t, []string{"GET", "OPTIONS"}, config.API.CORS.AllowMethods)
	assert.Equal(t, teacloud.DefaultCORSAllowHeaders, config.API.CORS.AllowHeaders)
	assert.Equal(t, time.Hour, config.API.CORS.MaxAge)
	assert.Equal(t, 45*time.Second, config.API.IdleTimeout)

	assert.Equal(t, "/var/lib/teacloud/masks", config.Cloud.MasksDir)
	assert.Equal(t, "/var/lib/teacloud/output", config.Cloud.OutputDir)
	assert.Equal(t, "lobby", config.Cloud.ServerWideChannel)
	assert.Equal(t, 12*time.Hour, config.Cloud.Window)
	assert.False(t, config.Cloud.StripURLs)
	assert.True(t, config.Cloud.StripSpoilers)
	assert.True(t, config.Cloud.ExcludeSelfAuthor)
	assert.Equal(t, []string{"lol", "lmao"}, config.Cloud.ExtraStopwords)
	assert.Equal(t, 2*time.Minute, config.Cloud.CommandCooldown)
	assert.Equal(t, 1024, config.Cloud.Width)
	assert.Equal(t, 512, config.Cloud.Height)
	assert.Equal(t, teacloud.DefaultMaxWords, config.Cloud.MaxWords)
	assert.Equal(t, teacloud.DefaultCollectConcurrency, config.Cloud.CollectConcurrency)
	assert.Equal(t, "#102030", config.Cloud.BackgroundColor)
	assert.Equal(t, "No cloud today", config.Cloud.ErrorMessage)

	assert.True(t, config.Schedule.Enabled)
	assert.Equal(t, "30 8 * * 1-5", config.Schedule.Spec)
	assert.Equal(t, "Europe/London", config.Schedule.Timezone)
	assert.Equal(t, []string{"111", "222"}, config.Schedule.ChannelIDs)

	config.HTTPClient = nil
	assert.NoError(t, config.Validate())
}

func TestLevelToStringHookFunc(t *testing.T) {
	type levels struct {
		Level *slog.LevelVar `mapstructure:"level"`
		Name  string         `mapstructure:"name"`
	}

	decode := func(input map[string]any) (levels, error) {
		var out levels
		decoder, err := mapstructure.NewDecoder(
			&mapstructure.DecoderConfig{
				DecodeHook: LevelToStringHookFunc(),
				Result:     &out,
			},
		)
		require.NoError(t, err)
		err = decoder.Decode(input)
		return out, err
	}

	out, err := decode(map[string]any{"level": "WARN", "name": "DEBUG"})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, out.Level.Level())
	assert.Equal(t, "DEBUG", out.Name)

	_, err = decode(map[string]any{"level": "LOUD"})
	assert.Error(t, err)
}

func TestGenerateCommand(t *testing.T) {
	cleanEnv(t)
	tmpdir := t.TempDir()
	os.Setenv("TC_CLOUD_MASKS_DIR", filepath.Join(tmpdir, "masks"))
	os.Setenv("TC_CLOUD_OUTPUT_DIR", filepath.Join(tmpdir, "output"))
	os.Setenv("TC_CLOUD_WIDTH", "200")
	os.Setenv("TC_CLOUD_HEIGHT", "100")
	os.Setenv("TC_API_ENABLED", "false")

	input := filepath.Join(tmpdir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("earl grey earl grey lapsang"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	rootCmd.SetArgs([]string{"generate", "--input", input, "--tenant", "g42"})
	require.NoError(t, rootCmd.Execute())

	path := strings.TrimSpace(out.String())
	assert.Equal(t, filepath.Join(tmpdir, "output"), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "g42_"))
	assert.FileExists(t, path)

	t.Run("missing input", func(t *testing.T) {
		viper.Reset()
		rootCmd.SetArgs([]string{"generate", "--input", filepath.Join(tmpdir, "nope.txt")})
		assert.Error(t, rootCmd.Execute())
	})
}
