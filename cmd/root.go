package cmd

import (
	"context"
	"fmt"
	"github.com/arcward/teacloud/teacloud"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = teacloud.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "teacloud [flags]",
	Short: "Discord bot that makes word clouds of recent messages",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("development", false)
	viper.SetDefault("log_level", teacloud.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", teacloud.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", teacloud.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.gateway_enabled", true)
	viper.SetDefault(
		"discord.log_level",
		teacloud.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		teacloud.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		teacloud.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.command_name", teacloud.DefaultDiscordCommandName)
	viper.SetDefault(
		"discord.command_description",
		teacloud.DefaultDiscordCommandDescription,
	)
	viper.SetDefault("discord.prefix_command_enabled", false)
	viper.SetDefault("discord.command_prefix", teacloud.DefaultDiscordCommandPrefix)
	viper.SetDefault("discord.prefix_command_name", teacloud.DefaultDiscordPrefixCommand)

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault(
		"discord.webhook_server.listen",
		teacloud.DefaultDiscordWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.listen_network", "tcp")
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault(
		"discord.webhook_server.read_timeout",
		teacloud.DefaultReadTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		teacloud.DefaultReadHeaderTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.write_timeout",
		teacloud.DefaultWriteTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.idle_timeout",
		teacloud.DefaultIdleTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		teacloud.DefaultDiscordWebhookLogLevel.String(),
	)
	viper.SetDefault(
		"discord.webhook_server.ssl.tls_min_version",
		teacloud.DefaultDiscordWebhookServerTLSMinVersion,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// Discord: Webhook server: SSL
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key"))

	// API config
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", teacloud.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", teacloud.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", teacloud.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		teacloud.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", teacloud.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", teacloud.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.tls_min_version", teacloud.DefaultAPITLSMinVersion)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		teacloud.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		teacloud.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		teacloud.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", teacloud.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		teacloud.DefaultAPICORSAllowCredentials,
	)

	// Word cloud config
	viper.SetDefault("cloud.masks_dir", teacloud.DefaultMasksDir)
	viper.SetDefault("cloud.output_dir", teacloud.DefaultOutputDir)
	viper.SetDefault("cloud.server_wide_channel", teacloud.DefaultServerWideChannel)
	viper.SetDefault("cloud.window", teacloud.DefaultWindow)
	viper.SetDefault("cloud.strip_urls", true)
	viper.SetDefault("cloud.strip_spoilers", true)
	viper.SetDefault("cloud.exclude_self_author", false)
	viper.SetDefault("cloud.self_user_id", "")
	viper.SetDefault("cloud.use_explicit_tokenizer", false)
	viper.SetDefault("cloud.case_insensitive_stopwords", false)
	viper.SetDefault("cloud.extra_stopwords", []string{})
	viper.SetDefault(
		"cloud.max_messages_per_channel",
		teacloud.DefaultMaxMessagesPerChannel,
	)
	viper.SetDefault("cloud.collect_timeout", teacloud.DefaultCollectTimeout)
	viper.SetDefault("cloud.collect_concurrency", teacloud.DefaultCollectConcurrency)
	viper.SetDefault("cloud.command_cooldown", teacloud.DefaultCommandCooldown)
	viper.SetDefault("cloud.width", teacloud.DefaultCloudWidth)
	viper.SetDefault("cloud.height", teacloud.DefaultCloudHeight)
	viper.SetDefault("cloud.max_words", teacloud.DefaultMaxWords)
	viper.SetDefault("cloud.min_font_size", teacloud.DefaultMinFontSize)
	viper.SetDefault("cloud.max_font_size", 0)
	viper.SetDefault("cloud.background_color", teacloud.DefaultBackgroundColor)
	viper.SetDefault("cloud.seed", 1)
	viper.SetDefault("cloud.error_message", teacloud.DefaultErrorMessage)

	// Scheduled clouds
	viper.SetDefault("schedule.enabled", false)
	viper.SetDefault("schedule.spec", teacloud.DefaultScheduleSpec)
	viper.SetDefault("schedule.timezone", teacloud.DefaultScheduleTimezone)
	viper.SetDefault("schedule.channel_ids", []string{})

	envPrefix := os.Getenv(teacloud.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = teacloud.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)
	viper.Set(
		"cloud.extra_stopwords",
		viper.GetStringSlice("cloud.extra_stopwords"),
	)
	viper.Set(
		"schedule.channel_ids",
		viper.GetStringSlice("schedule.channel_ids"),
	)

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.log_level"))
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.discordgo_log_level"))
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.webhook_server.log_level"))
	if err != nil {
		log.Fatalf("error parsing webhook server log level: %v", err)
	}
	viper.Set("discord.webhook_server.log_level", logLevelVar)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
