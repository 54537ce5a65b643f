package teacloud

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/teacloud/teacloud.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// TeaCloud is the word cloud bot. It owns the discord session, the
// generation pipeline, the status API and (optionally) the webhook server
// and scheduler.
type TeaCloud struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Turns message history into images
	pipeline *Pipeline

	// Serves health and status
	api *API

	// Provides a webhook endpoint to use to receive Discord
	// interactions when the websocket/gateway isn't being used
	discordWebhookServer *DiscordWebhookServer

	// Handler for interactions received via webhook
	webhookInteractionHandler func(c *gin.Context)

	// Posts clouds on a schedule, when enabled
	scheduler *Scheduler

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished starting up
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// tracks interaction handlers and background generations, so
	// shutdown can wait on them
	runtimeWG *sync.WaitGroup

	cooldown *guildCooldown
	stats    generationStats

	// getInteractionHandlerFunc should be a callable to be used
	// when an interaction is received, which returns an appropriate
	// InteractionHandler. This enables command execution to remain the
	// same across webhook/gateway handlers, adjusting only the
	// request-specific discord interactions
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New builds a TeaCloud from config. Loggers, the pipeline and the HTTP
// servers are set up here, while the discord session is created by Run.
func New(config *Config) (*TeaCloud, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	t := &TeaCloud{
		config:      config,
		signalReady: make(chan struct{}, 1),
		runtimeWG:   &sync.WaitGroup{},
		cooldown:    newGuildCooldown(config.Cloud.CommandCooldown),
	}

	t.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     t.config.LogLevel,
			AddSource: true,
		},
	)
	t.logger = slog.New(t.logHandler)
	slog.SetDefault(t.logger)

	t.config.Discord.httpClient = t.config.HTTPClient

	disc, err := newDiscord(t.config.Discord)
	if err != nil {
		return nil, err
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     t.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     t.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	t.discord = disc

	pipeline, err := NewPipeline(t.config.Cloud, nil, t.logger)
	if err != nil {
		errs = append(errs, err)
	}
	t.pipeline = pipeline

	if config.API.Enabled {
		api, e := newAPI(t, config.API)
		errs = append(errs, e)
		t.api = api
	}

	if config.Discord.WebhookServer.Enabled {
		webhookServer, e := newWebhookServer(t, config.Discord.WebhookServer)
		errs = append(errs, e)
		t.discordWebhookServer = webhookServer
	}

	if config.Schedule.Enabled {
		scheduler, e := newScheduler(t, config.Schedule, t.logger)
		errs = append(errs, e)
		t.scheduler = scheduler
	}

	return t, errors.Join(errs...)
}

func (t *TeaCloud) ValidateConfig() error {
	err := structValidator.Struct(t.config)
	if err != nil {
		return err
	}

	return nil
}

// RegisterSlashCommands registers the word cloud slash command
// (globally, or for discord.guild_id when set).
func (t *TeaCloud) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if t.discord.session == nil {
		session, err := t.discord.newSession()
		if err != nil {
			return nil, err
		}
		t.discord.session = session
	}
	return t.discord.registerCommands(options...)
}

// Generate renders a cloud from already-collected text, without using
// discord. The image is written to the configured output dir.
func (t *TeaCloud) Generate(
	ctx context.Context,
	tenantID string,
	text string,
) (*Result, error) {
	since := time.Now().Add(-t.config.Cloud.Window)
	return t.pipeline.Generate(ctx, tenantID, text, since)
}

// Status returns the bot's current state, for the status API
func (t *TeaCloud) Status() StatusResponse {
	status := StatusResponse{
		Version:   Version,
		CommitSHA: CommitSHA,
		BuildTime: BuildTime,
		StartedAt: t.startedAt,
		Discord: DiscordStatus{
			GatewayEnabled: t.config.Discord.GatewayEnabled,
			Connected:      t.discord.connected.Load(),
			Connects:       t.discord.metricConnects.Load(),
			Disconnects:    t.discord.metricDisconnects.Load(),
			SelfUserID:     t.discord.SelfUserID(),
			WebhookEnabled: t.config.Discord.WebhookServer.Enabled,
		},
		Clouds: t.stats.snapshot(),
		Schedule: ScheduleStatus{
			Enabled: t.config.Schedule.Enabled,
		},
	}
	if !t.startedAt.IsZero() {
		status.Uptime = time.Since(t.startedAt).Round(time.Second).String()
	}
	if t.scheduler != nil {
		status.Schedule.Spec = t.config.Schedule.Spec
		status.Schedule.NextRun = t.scheduler.NextRun()
	}
	if t.api != nil {
		status.Requests = t.api.requestCounts()
	}
	return status
}

// Run starts the bot, and blocks until ctx is canceled or a stop signal
// is received, then shuts down.
func (t *TeaCloud) Run(ctx context.Context) error {
	// prevents concurrent runs
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.signalStop = make(chan struct{}, 1)

	t.startedAt = time.Now()
	logger := t.logger

	if err := t.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)

	runtimeWG := t.runtimeWG

	t.webhookInteractionHandler = webhookReceiveHandler(ctx, t)

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", t.config))
	if t.signalReady == nil {
		t.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-t.signalStop:
			t.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			t.logger.Warn("context canceled, sending stop signal")
			t.signalStop <- struct{}{}
			return
		}
	}()

	if t.api != nil {
		go func() {
			httpErr := t.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				t.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	startCtx, startCancel := context.WithTimeout(ctx, t.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- t.initRun(startCtx, ctx, runtimeWG)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if t.api != nil && t.api.listener != nil {
				go func() {
					if e := t.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.WarnContext(ctx, "init complete")
	}

	if t.discordWebhookServer != nil {
		t.startWebhookServer(ctx, runtimeWG)
	} else if !t.config.Discord.GatewayEnabled {
		logger.WarnContext(ctx, "discord gateway and webhook server disabled")
	}

	if t.scheduler != nil {
		t.scheduler.Start(ctx)
	}

	t.signalReady <- struct{}{}
	t.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context
	<-ctx.Done()

	// Commence shutdown
	return t.shutdown(ctx, runtimeWG)
}

// initRun creates the discord session, registers commands and connects
// to the gateway (when enabled)
func (t *TeaCloud) initRun(
	startCtx context.Context,
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	if err := t.initDiscordSession(ctx, runtimeWG); err != nil {
		return err
	}

	if _, err := t.discord.registerCommands(discordgo.WithContext(startCtx)); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	if !t.config.Discord.GatewayEnabled {
		return nil
	}
	t.logger.InfoContext(ctx, "connecting to discord")
	if err := t.discord.session.Open(); err != nil {
		t.logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

func (t *TeaCloud) startWebhookServer(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		httpErr := t.discordWebhookServer.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			t.logger.ErrorContext(ctx, "error serving webhook HTTP", tint.Err(httpErr))
		}
	}()
}

// initDiscordSession creates the discord session (if one hasn't been set
// already), adds gateway event handlers and points the pipeline's
// collector at the session.
func (t *TeaCloud) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := t.logger.With(loggerNameKey, "discord_session")

	if t.discord.session == nil {
		disc, discErr := t.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		t.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	if len(t.discord.discordgoRemoveHandlerFuncs) > 0 {
		for _, h := range t.discord.discordgoRemoveHandlerFuncs {
			h()
		}
	}

	t.discord.session.SetIdentify(
		discordgo.Identify{Intents: t.config.Discord.GatewayIntents},
	)

	t.discord.discordgoRemoveHandlerFuncs = []func(){
		t.discord.session.AddHandler(t.discord.handlerConnect()),
		t.discord.session.AddHandler(t.discord.handlerDisconnect()),
		t.discord.session.AddHandler(t.discord.handlerReady()),
		t.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := t.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							t.handleRecover(ctx, rc)
						}
					}()
					t.handleInteraction(ctx, handler)
				}()
			},
		),
		t.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				m *discordgo.MessageCreate,
			) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							t.handleRecover(ctx, rc)
						}
					}()
					t.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}

	if t.getInteractionHandlerFunc == nil {
		t.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return newGatewayHandler(t.discord.session, i, t.logger)
		}
	}

	t.pipeline.collector = NewCollector(t.discord.session, t.config.Cloud, t.logger)
	return nil
}

func (*TeaCloud) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}

// shutdown waits for in-flight commands to finish, then stops the HTTP
// servers and discord session. If that takes longer than
// [Config.ShutdownTimeout], everything is closed forcefully.
func (t *TeaCloud) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	t.logger.WarnContext(ctx, "shutting down")

	shutdownStart := time.Now()
	shutdownTimeout := t.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		t.logger.Warn("immediate shutdown")
		t.forceClose()
		return fmt.Errorf("request worker did not stop in time")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	shutdownAnnouncementInterval := 10 * time.Second

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	t.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", t.config.ShutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	// Graceful shutdown - at least until closeCtx is closed
	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		if t.scheduler != nil {
			t.logger.InfoContext(ctx, "stopping scheduler")
			<-t.scheduler.Stop().Done()
		}

		runtimeWG.Wait() // wait for anything spawned by the main processes
		runtimeStopEnd := time.Now()
		t.logger.InfoContext(
			ctx,
			"finished handling in-flight requests",
			"shutdown_started", shutdownStart,
			"runtime_stopped", runtimeStopEnd,
			"runtime_stop_duration", runtimeStopEnd.Sub(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		if t.api != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				t.logger.InfoContext(ctx, "stopping http server")
				_ = t.api.httpServer.Shutdown(closeCtx)
				t.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if t.discordWebhookServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				t.logger.InfoContext(ctx, "stopping webhook http server")
				_ = t.discordWebhookServer.httpServer.Shutdown(closeCtx)
				t.logger.InfoContext(ctx, "webhook http server stopped")
			}()
		}

		if t.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				t.logger.InfoContext(ctx, "closing discord session")
				_ = t.discord.session.Close()
				t.logger.InfoContext(ctx, "discord session closed")
				if len(t.discord.discordgoRemoveHandlerFuncs) > 0 {
					t.logger.InfoContext(
						ctx,
						fmt.Sprintf(
							"removing %d discord handlers",
							len(t.discord.discordgoRemoveHandlerFuncs),
						),
					)
					for _, h := range t.discord.discordgoRemoveHandlerFuncs {
						h()
					}
					t.logger.InfoContext(ctx, "finished removing handlers")
				}
			}()
		}

		// wait on the above, then send a signal that we're done
		go func() {
			t.logger.InfoContext(ctx, "waiting graceful shutdown")
			stopWG.Wait()
			gracefulShutdownCh <- struct{}{}
			t.logger.InfoContext(ctx, "stopped http/discord")
		}()
	}()

	// if we get a signal on gracefulShutdownCh, everything stopped and
	// cleaned up normally.
	// otherwise, burn it all down!
	for {
		select {
		case <-gracefulShutdownCh:
			closeCancel()
			shutdownEnded := time.Now()
			t.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_ended", shutdownEnded,
				"shutdown_duration", shutdownEnded.Sub(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			remaining := time.Until(shutdownDeadline)
			t.logger.Warn(
				fmt.Sprintf(
					"time until hard shutdown: %s",
					remaining.String(),
				),
			)
		case <-closeCtx.Done(): // timed out, enqueue closing stuff
			t.logger.Warn("request worker did not stop in time, forcing close")
			t.forceClose()
			return fmt.Errorf("request worker did not stop in time")
		}
	}
}

func (t *TeaCloud) forceClose() {
	if t.api != nil {
		go func() {
			_ = t.api.httpServer.Close()
		}()
	}
	if t.discordWebhookServer != nil {
		go func() {
			_ = t.discordWebhookServer.httpServer.Close()
		}()
	}
	if t.discord.session != nil {
		go func() {
			_ = t.discord.session.Close()
		}()
	}
}
