//nolint:lll // struct tags can't be split
package teacloud

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix    = "TEACLOUD_ENV_PREFIX"
	DefaultEnvPrefix      = "TC"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout   = 60 * time.Second
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSMinVersion = tls.VersionTLS12
	DefaultDiscordGatewayIntent              = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	DefaultDiscordWebhookLogLevel = slog.LevelInfo
	DefaultDiscordLogLevel        = slog.LevelWarn
	DefaultDiscordgoLogLevel      = slog.LevelWarn
	DefaultDiscordCommandName     = "teacloud"
	DefaultDiscordCommandPrefix   = "/"
	DefaultDiscordPrefixCommand   = "wordcloud"

	DefaultDiscordCommandDescription = "Generates a word cloud of the last day of messages in this channel, or the server if in #" + DefaultServerWideChannel + "."

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPICORSAllowCredentials = false
	defaultListenNetwork           = "tcp"

	DefaultMasksDir              = "custom_masks"
	DefaultOutputDir             = "output"
	DefaultServerWideChannel     = "general"
	DefaultWindow                = 24 * time.Hour
	DefaultMaxMessagesPerChannel = 10000
	DefaultCollectTimeout        = 2 * time.Minute
	DefaultCollectConcurrency    = 4
	DefaultCommandCooldown       = 30 * time.Second
	DefaultBackgroundColor       = "white"
	DefaultCloudWidth            = 800
	DefaultCloudHeight           = 400
	DefaultMaxWords              = 200
	DefaultMinFontSize           = 4
	DefaultErrorMessage          = "Sorry, I couldn't make a word cloud this time."

	DefaultScheduleSpec     = "0 9 * * *"
	DefaultScheduleTimezone = "UTC"
)

type DiscordInteractionReceiveMethod string

var (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Cloud configures message collection and rendering
	Cloud *CloudConfig `yaml:"cloud" mapstructure:"cloud" json:"cloud"`

	// Schedule configures periodic, server-wide clouds
	Schedule *ScheduleConfig `yaml:"schedule" mapstructure:"schedule" json:"schedule"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and register commands. If this is passed, the bot will abort
	// startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Development enables gin debug mode and permissive CORS
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks the config against its `binding` tags
func (c *Config) Validate() error {
	return structValidator.Struct(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GatewayEnabled opens the websocket gateway connection. Disable it
	// to only receive interactions via the webhook server.
	GatewayEnabled bool `yaml:"gateway_enabled" mapstructure:"gateway_enabled" json:"gateway_enabled"`

	// Required when receiving webhook events rather than websockets
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Reading history needs the message content
	// intent. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CommandName is the slash command name
	CommandName string `yaml:"command_name" mapstructure:"command_name" json:"command_name" binding:"required,min=1,max=32,lowercase"`

	// CommandDescription is shown in the discord client's command picker
	CommandDescription string `yaml:"command_description" mapstructure:"command_description" json:"command_description" binding:"required,max=100"`

	// PrefixCommandEnabled also accepts a plain text message like "/wordcloud"
	PrefixCommandEnabled bool `yaml:"prefix_command_enabled" mapstructure:"prefix_command_enabled" json:"prefix_command_enabled"`

	// CommandPrefix is prepended to PrefixCommandName
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required_if=PrefixCommandEnabled true"`

	PrefixCommandName string `yaml:"prefix_command_name" mapstructure:"prefix_command_name" json:"prefix_command_name" binding:"required_if=PrefixCommandEnabled true"`

	httpClient *http.Client
}

// DiscordWebhookServerConfig represents the configuration for the Discord webhook server.
//
// This struct defines the settings required to run a server that handles Discord
// webhook interactions. It includes options for enabling the server, specifying
// network details, SSL configuration, logging, and various timeouts.
type DiscordWebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,omitempty,hostname_port|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true,omitempty,hexadecimal,len=64"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`
}

// APIConfig configures the status API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,omitempty,hostname_port|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`
}

// CloudConfig configures how messages are collected and how the
// cloud is drawn
type CloudConfig struct {
	// MasksDir holds optional per-server masks, named {guild_id}.png
	MasksDir string `yaml:"masks_dir" mapstructure:"masks_dir" json:"masks_dir" binding:"required"`

	// OutputDir is where rendered images are written
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir" json:"output_dir" binding:"required"`

	// ServerWideChannel is the channel name that widens the command's
	// scope to every text channel in the server
	ServerWideChannel string `yaml:"server_wide_channel" mapstructure:"server_wide_channel" json:"server_wide_channel"`

	// Window is how far back to collect messages
	Window time.Duration `yaml:"window" mapstructure:"window" json:"window" binding:"min=1m"`

	StripURLs     bool `yaml:"strip_urls" mapstructure:"strip_urls" json:"strip_urls"`
	StripSpoilers bool `yaml:"strip_spoilers" mapstructure:"strip_spoilers" json:"strip_spoilers"`

	// ExcludeSelfAuthor drops the bot's own messages from the corpus
	ExcludeSelfAuthor bool `yaml:"exclude_self_author" mapstructure:"exclude_self_author" json:"exclude_self_author"`

	// SelfUserID is the bot's user ID. If empty, it's taken from the
	// gateway's Ready event, or falls back to the application ID.
	SelfUserID string `yaml:"self_user_id" mapstructure:"self_user_id" json:"self_user_id"`

	// UseExplicitTokenizer counts words before handing them to the renderer,
	// rather than giving it the raw text
	UseExplicitTokenizer bool `yaml:"use_explicit_tokenizer" mapstructure:"use_explicit_tokenizer" json:"use_explicit_tokenizer"`

	// CaseInsensitiveStopwords matches stopwords regardless of case
	CaseInsensitiveStopwords bool `yaml:"case_insensitive_stopwords" mapstructure:"case_insensitive_stopwords" json:"case_insensitive_stopwords"`

	// ExtraStopwords are added to the built-in lists
	ExtraStopwords []string `yaml:"extra_stopwords" mapstructure:"extra_stopwords" json:"extra_stopwords"`

	// MaxMessagesPerChannel keeps only the newest N messages from each
	// channel. Older messages in the window are dropped. 0=unlimited
	MaxMessagesPerChannel int `yaml:"max_messages_per_channel" mapstructure:"max_messages_per_channel" json:"max_messages_per_channel" binding:"gte=0"`

	// CollectTimeout bounds the time spent fetching history. 0=unlimited
	CollectTimeout time.Duration `yaml:"collect_timeout" mapstructure:"collect_timeout" json:"collect_timeout" binding:"gte=0"`

	// CollectConcurrency is the number of channels fetched at once
	// for server-wide clouds
	CollectConcurrency int `yaml:"collect_concurrency" mapstructure:"collect_concurrency" json:"collect_concurrency" binding:"min=1"`

	// CommandCooldown is the minimum time between clouds for the same
	// server. 0=disabled
	CommandCooldown time.Duration `yaml:"command_cooldown" mapstructure:"command_cooldown" json:"command_cooldown" binding:"gte=0"`

	// Canvas size when there's no mask
	Width  int `yaml:"width" mapstructure:"width" json:"width" binding:"gte=0"`
	Height int `yaml:"height" mapstructure:"height" json:"height" binding:"gte=0"`

	MaxWords    int     `yaml:"max_words" mapstructure:"max_words" json:"max_words" binding:"gte=0"`
	MinFontSize float64 `yaml:"min_font_size" mapstructure:"min_font_size" json:"min_font_size" binding:"gte=0"`

	// MaxFontSize of 0 scales with the canvas height
	MaxFontSize float64 `yaml:"max_font_size" mapstructure:"max_font_size" json:"max_font_size" binding:"gte=0"`

	// BackgroundColor is "white", "black", "transparent" or a 6-digit hex
	// color ("#rrggbb" or "rrggbb"). 3-digit hex and rgb() aren't accepted.
	BackgroundColor string `yaml:"background_color" mapstructure:"background_color" json:"background_color"`

	// Seed for word placement. The same seed and words give the same layout.
	Seed int64 `yaml:"seed" mapstructure:"seed" json:"seed"`

	// ErrorMessage is sent to the user when a cloud can't be made
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`
}

// ScheduleConfig configures periodic clouds. Each channel in ChannelIDs
// gets a cloud for its whole server.
type ScheduleConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Spec is a standard five-field cron expression
	Spec string `yaml:"spec" mapstructure:"spec" json:"spec" binding:"required_if=Enabled true"`

	// Timezone the spec is evaluated in (ex: "America/New_York")
	Timezone string `yaml:"timezone" mapstructure:"timezone" json:"timezone" binding:"omitempty,timezone"`

	ChannelIDs []string `yaml:"channel_ids" mapstructure:"channel_ids" json:"channel_ids" binding:"required_if=Enabled true"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// Enabled is true when both a cert and key are set
func (s SSLConfig) Enabled() bool {
	return s.Cert != "" && s.Key != ""
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultCloudConfig returns the collection and rendering defaults
func DefaultCloudConfig() *CloudConfig {
	return &CloudConfig{
		MasksDir:              DefaultMasksDir,
		OutputDir:             DefaultOutputDir,
		ServerWideChannel:     DefaultServerWideChannel,
		Window:                DefaultWindow,
		StripURLs:             true,
		StripSpoilers:         true,
		MaxMessagesPerChannel: DefaultMaxMessagesPerChannel,
		CollectTimeout:        DefaultCollectTimeout,
		CollectConcurrency:    DefaultCollectConcurrency,
		CommandCooldown:       DefaultCommandCooldown,
		Width:                 DefaultCloudWidth,
		Height:                DefaultCloudHeight,
		MaxWords:              DefaultMaxWords,
		MinFontSize:           DefaultMinFontSize,
		BackgroundColor:       DefaultBackgroundColor,
		Seed:                  1,
		ErrorMessage:          DefaultErrorMessage,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	discordWebhookLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	discordWebhookLogLevel.Set(DefaultDiscordWebhookLogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			WebhookServer: DiscordWebhookServerConfig{
				Enabled:       false,
				Listen:        DefaultDiscordWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultDiscordWebhookServerTLSMinVersion,
				},
				LogLevel:          discordWebhookLogLevel,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			GatewayEnabled:     true,
			GatewayIntents:     DefaultDiscordGatewayIntent,
			LogLevel:           discordLogLevel,
			DiscordGoLogLevel:  discordgoLogLevel,
			CommandName:        DefaultDiscordCommandName,
			CommandDescription: DefaultDiscordCommandDescription,
			CommandPrefix:      DefaultDiscordCommandPrefix,
			PrefixCommandName:  DefaultDiscordPrefixCommand,
		},
		API: &APIConfig{
			Enabled:       true,
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
		Cloud: DefaultCloudConfig(),
		Schedule: &ScheduleConfig{
			Spec:     DefaultScheduleSpec,
			Timezone: DefaultScheduleTimezone,
		},
	}
}
