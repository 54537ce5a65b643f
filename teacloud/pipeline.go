package teacloud

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"github.com/arcward/teacloud/wordcloud"
	"github.com/lmittmann/tint"
	"github.com/oklog/ulid/v2"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const outputTimestampFormat = "20060102T150405Z"

var (
	// ErrCollection indicates messages couldn't be fetched from discord
	ErrCollection = errors.New("unable to collect messages")

	// ErrRender indicates an image couldn't be made from the collected
	// messages. This includes an undecodable mask (also [wordcloud.ErrDecode])
	// and having no words left after filtering (also [wordcloud.ErrEmptyInput]).
	ErrRender = errors.New("unable to render word cloud")

	// ErrDelivery indicates the image couldn't be sent to discord
	ErrDelivery = errors.New("unable to deliver word cloud")
)

// PipelineState is the step a word cloud generation is on
type PipelineState int

const (
	StateIdle PipelineState = iota
	StateCollecting
	StateNormalizing
	StateCounting
	StateRendering
	StateDelivering
	StateDone
	StateFailed
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateNormalizing:
		return "normalizing"
	case StateCounting:
		return "counting"
	case StateRendering:
		return "rendering"
	case StateDelivering:
		return "delivering"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("PipelineState(%d)", int(s))
	}
}

// Request describes a single word cloud to generate
type Request struct {
	// TenantID is the guild ID. It selects the mask and prefixes the
	// output file name.
	TenantID string

	Scope Scope

	// After is the start of the message window. If it's zero, the
	// configured window is counted back from now.
	After time.Time

	// ExcludeAuthorID drops messages from this user, if set
	ExcludeAuthorID string
}

// Result describes a generated word cloud
type Result struct {
	// Path to the PNG that was written
	Path  string
	Since time.Time
	Scope Scope

	// Words is the number of distinct words counted. It's only known
	// when counting before rendering.
	Words int

	// Placed is the number of words drawn
	Placed int

	// Masked is true when the tenant's mask was used
	Masked bool

	Cloud *wordcloud.Cloud
}

func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", r.Path),
		slog.Time("since", r.Since),
		slog.Int("words", r.Words),
		slog.Int("placed", r.Placed),
		slog.Bool("masked", r.Masked),
	)
}

// Pipeline turns message history into a word cloud image:
// collect, normalize, count, resolve the mask, render, and write the file.
// A Pipeline is safe for concurrent use. Each Run is independent, sharing
// only the stopword set and renderer, which are read-only.
type Pipeline struct {
	config     *CloudConfig
	collector  *Collector
	stopwords  wordcloud.StopwordSet
	normalizer wordcloud.Normalizer
	renderer   *wordcloud.Renderer
	masks      wordcloud.MaskResolver
	logger     *slog.Logger

	entropy   *ulid.MonotonicEntropy
	entropyMu sync.Mutex

	now func() time.Time
}

// NewPipeline builds the stopword set and renderer from config. The
// collector may be nil when only [Pipeline.Generate] is used.
func NewPipeline(
	config *CloudConfig,
	collector *Collector,
	logger *slog.Logger,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bg, err := parseColor(config.BackgroundColor)
	if err != nil {
		return nil, fmt.Errorf("invalid background color: %w", err)
	}

	opts := wordcloud.DefaultOptions()
	opts.Width = config.Width
	opts.Height = config.Height
	opts.Background = bg
	opts.MaxWords = config.MaxWords
	opts.MinFontSize = config.MinFontSize
	opts.MaxFontSize = config.MaxFontSize
	opts.Seed = config.Seed

	renderer, err := wordcloud.NewRenderer(opts)
	if err != nil {
		return nil, err
	}

	var stop wordcloud.StopwordSet
	if len(config.ExtraStopwords) == 0 && !config.CaseInsensitiveStopwords {
		stop = wordcloud.DefaultStopwords()
	} else {
		stop = wordcloud.BuildStopwords(
			wordcloud.StopwordOptions{
				Extra:           config.ExtraStopwords,
				CaseInsensitive: config.CaseInsensitiveStopwords,
			},
		)
	}

	return &Pipeline{
		config:    config,
		collector: collector,
		stopwords: stop,
		normalizer: wordcloud.Normalizer{
			StripURLs:     config.StripURLs,
			StripSpoilers: config.StripSpoilers,
		},
		renderer: renderer,
		masks:    wordcloud.MaskResolver{Dir: config.MasksDir},
		logger:   logger.With(loggerNameKey, "pipeline"),
		entropy:  ulid.Monotonic(rand.Reader, 0),
		now:      time.Now,
	}, nil
}

// Stopwords returns the set used for filtering
func (p *Pipeline) Stopwords() wordcloud.StopwordSet {
	return p.stopwords
}

// Run collects messages for the request, and passes them to
// [Pipeline.Generate].
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.collector == nil {
		return nil, fmt.Errorf("%w: no collector configured", ErrCollection)
	}
	after := req.After
	if after.IsZero() {
		after = p.now().Add(-p.config.Window)
	}
	logger := p.logger.With(
		"tenant_id", req.TenantID,
		"scope", req.Scope,
		"since", after,
	)
	ctx = WithLogger(ctx, logger)

	p.transition(ctx, logger, StateCollecting)
	text, err := p.collector.Collect(ctx, req.Scope, after, req.ExcludeAuthorID)
	if err != nil {
		p.transition(ctx, logger, StateFailed, tint.Err(err))
		return nil, err
	}

	result, err := p.Generate(ctx, req.TenantID, text, after)
	if result != nil {
		result.Scope = req.Scope
	}
	return result, err
}

// Generate renders text (raw message content) for the given tenant, and
// writes it to the output directory as
// `{tenant_id}_{since}_{ulid}.png`.
func (p *Pipeline) Generate(
	ctx context.Context,
	tenantID string,
	text string,
	since time.Time,
) (*Result, error) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = p.logger.With("tenant_id", tenantID, "since", since)
	}

	result, err := p.generate(ctx, logger, tenantID, text, since)
	if err != nil {
		p.transition(ctx, logger, StateFailed, tint.Err(err))
		return nil, err
	}
	logger.InfoContext(ctx, "generated word cloud", "result", result)
	return result, nil
}

func (p *Pipeline) generate(
	ctx context.Context,
	logger *slog.Logger,
	tenantID string,
	text string,
	since time.Time,
) (*Result, error) {
	p.transition(ctx, logger, StateNormalizing, "length", len(text))
	normalized := p.normalizer.Normalize(text)

	var freq wordcloud.FrequencyTable
	if p.config.UseExplicitTokenizer {
		p.transition(ctx, logger, StateCounting)
		freq = wordcloud.Count(normalized, p.stopwords)
		logger.DebugContext(
			ctx,
			"counted words",
			"words", len(freq),
			"tokens", freq.Total(),
		)
		if len(freq) == 0 {
			return nil, fmt.Errorf("%w: %w", ErrRender, wordcloud.ErrEmptyInput)
		}
	}

	mask, colors, err := p.masks.Resolve(tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	p.transition(ctx, logger, StateRendering, "masked", mask != nil)
	var cloud *wordcloud.Cloud
	if freq != nil {
		cloud, err = p.renderer.Render(freq, mask, colors)
	} else {
		cloud, err = p.renderer.RenderText(normalized, p.stopwords, mask, colors)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	if err = os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: error creating output dir: %w", ErrRender, err)
	}
	path := filepath.Join(p.config.OutputDir, p.outputName(tenantID, since))
	if err = cloud.SavePNG(path); err != nil {
		return nil, fmt.Errorf("%w: error writing image: %w", ErrRender, err)
	}

	return &Result{
		Path:   path,
		Since:  since,
		Words:  len(freq),
		Placed: len(cloud.Placed),
		Masked: mask != nil,
		Cloud:  cloud,
	}, nil
}

// outputName returns a file name unique to this call, even for the same
// tenant and timestamp
func (p *Pipeline) outputName(tenantID string, since time.Time) string {
	p.entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(p.now()), p.entropy)
	p.entropyMu.Unlock()

	return fmt.Sprintf(
		"%s_%s_%s.png",
		tenantID,
		since.UTC().Format(outputTimestampFormat),
		id.String(),
	)
}

func (p *Pipeline) transition(
	ctx context.Context,
	logger *slog.Logger,
	state PipelineState,
	args ...any,
) {
	level := slog.LevelDebug
	if state == StateFailed {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "pipeline state", append([]any{"state", state.String()}, args...)...)
}
