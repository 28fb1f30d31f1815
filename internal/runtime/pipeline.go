package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/capability"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/dispatch"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/jobs"
	"github.com/loqalabs/loqa-narrator/internal/natsserver"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

// Pipeline owns every component of the conversion service. Components are
// created in dependency order and closed in reverse.
type Pipeline struct {
	Jobs     *jobs.Service
	Previews *jobs.Previewer
	Events   *eventstore.Store
	Store    *storage.FileStore

	natsServer *natsserver.EmbeddedServer
	bus        *bus.Client
	runner     *jobs.Runner
	dispatch   *dispatch.Service
	nodes      *capability.Registry
	cfg        config.Config
	ctx        context.Context
	logger     *slog.Logger
}

// NewPipeline builds the components described by cfg without starting the
// workers.
func NewPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, ctx: ctx, logger: logger}
	if err := p.build(ctx, cfg); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) build(ctx context.Context, cfg config.Config) error {
	var err error
	if p.Events, err = eventstore.Open(ctx, cfg.EventStore, p.logger); err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	if p.Store, err = storage.NewFileStore(cfg.Storage.OutputDir, p.logger); err != nil {
		return err
	}
	synth, err := tts.NewSynthesizer(cfg.Synthesis, p.logger)
	if err != nil {
		return fmt.Errorf("configure synthesis: %w", err)
	}

	assembler := audio.Assembler{
		InterChunkSilence: cfg.Assembly.InterChunkSilence,
		ChapterSilence:    cfg.Assembly.ChapterSilence,
	}
	chunking := text.Options{
		MaxChunkChars:   cfg.Chunking.MaxChunkChars,
		MergeParagraphs: cfg.Chunking.MergeParagraphs,
	}
	registry := jobs.NewMemoryRegistry()
	p.runner = jobs.NewRunner(ctx, jobs.RunnerConfigFrom(cfg.Jobs), registry, synth, assembler, p.Store, p.logger)
	p.runner.Observe(eventstore.NewRecorder(p.Events, p.logger))
	p.Jobs = jobs.NewService(registry, p.runner, jobs.ServiceOptions{
		Chunking:     chunking,
		Normalize:    cfg.Chunking.Normalize,
		DefaultVoice: tts.DefaultVoice(cfg.Synthesis),
	}, p.logger)
	p.Previews = jobs.NewPreviewer(jobs.PreviewConfigFrom(cfg.Preview, chunking, cfg.Chunking.Normalize),
		synth, assembler, p.Store, p.logger)

	if !cfg.Bus.Enabled {
		return nil
	}
	if p.natsServer, err = natsserver.Start(cfg.Bus, p.logger); err != nil {
		return err
	}
	busCfg := cfg.Bus
	if p.natsServer != nil {
		busCfg.Servers = []string{p.natsServer.ClientURL()}
	}
	if p.bus, err = bus.Connect(ctx, busCfg, p.logger); err != nil {
		return err
	}
	p.dispatch = dispatch.NewService(ctx, p.bus, p.Jobs, p.Previews, p.logger)
	p.runner.Observe(p.dispatch)
	return nil
}

// Start launches the worker pool and the bus listeners.
func (p *Pipeline) Start() error {
	p.runner.Start()
	if p.dispatch != nil {
		if err := p.dispatch.Start(); err != nil {
			return fmt.Errorf("start dispatch: %w", err)
		}
		nodes, err := capability.NewRegistry(p.ctx, p.cfg.Node, p.advertised(), p.load, p.bus, p.logger)
		if err != nil {
			return fmt.Errorf("start node registry: %w", err)
		}
		p.nodes = nodes
	}
	return nil
}

func (p *Pipeline) advertised() capability.Capability {
	return capability.Capability{
		Engine:     p.cfg.Synthesis.Mode,
		Model:      p.cfg.Synthesis.Model,
		SampleRate: p.cfg.Synthesis.SampleRate,
		Channels:   p.cfg.Synthesis.Channels,
		Workers:    p.runner.Workers(),
	}
}

func (p *Pipeline) load() capability.Load {
	queued, free := p.runner.Load()
	return capability.Load{Queued: queued, Free: free}
}

// Nodes lists the narrator instances seen on the bus. Without a bus only this
// instance is reported.
func (p *Pipeline) Nodes() []capability.NodeInfo {
	if p.nodes != nil {
		return p.nodes.Query(nil)
	}
	return []capability.NodeInfo{{
		ID:         p.cfg.Node.ID,
		Capability: p.advertised(),
		Load:       p.load(),
		Healthy:    p.Healthy(),
	}}
}

func (p *Pipeline) Healthy() bool {
	if p.runner == nil || !p.runner.Healthy() {
		return false
	}
	return p.dispatch == nil || p.dispatch.Healthy()
}

func (p *Pipeline) Close() {
	if p.nodes != nil {
		p.nodes.Close()
	}
	if p.dispatch != nil {
		p.dispatch.Close()
	}
	if p.runner != nil {
		p.runner.Close()
	}
	p.bus.Close()
	p.natsServer.Shutdown()
	if p.Events != nil {
		if err := p.Events.Close(); err != nil {
			p.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	}
}
