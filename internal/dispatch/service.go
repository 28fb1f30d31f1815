// Package dispatch exposes the conversion service over NATS request/reply
// and publishes job status snapshots.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/jobs"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/nats-io/nats.go"
)

const queueGroup = "narrator"

// statusRetention bounds how long snapshots stay replayable on JetStream.
const statusRetention = 24 * time.Hour

type Service struct {
	bus      *bus.Client
	jobs     *jobs.Service
	previews *jobs.Previewer
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewService(parent context.Context, busClient *bus.Client, jobSvc *jobs.Service, previewer *jobs.Previewer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		jobs:     jobSvc,
		previews: previewer,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "dispatch")),
	}
}

func (s *Service) Start() error {
	if err := s.bus.EnsureStream(protocol.StreamJobStatus, []string{protocol.SubjectJobStatus + ".>"}, statusRetention); err != nil {
		s.logger.Warn("status stream unavailable, snapshots are not retained", slogError(err))
	}
	handlers := map[string]func(context.Context, []byte) any{
		protocol.SubjectJobSubmit: s.submit,
		protocol.SubjectJobStatus: s.status,
		protocol.SubjectJobCancel: s.cancelJob,
		protocol.SubjectJobList:   s.list,
		protocol.SubjectPreview:   s.preview,
		protocol.SubjectPresets:   s.presets,
	}
	for subject, handle := range handlers {
		sub, err := s.bus.Conn().QueueSubscribe(subject, queueGroup, s.serve(subject, handle))
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("dispatch listening", slog.Int("subjects", len(s.subs)))
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return s.bus.Healthy() && len(s.subs) > 0 }

// JobChanged implements jobs.Observer by publishing the snapshot on the
// job's status subject.
func (s *Service) JobChanged(_ context.Context, job jobs.Job) {
	if err := s.bus.PublishJSON(protocol.StatusSubject(job.ID), job.View()); err != nil {
		s.logger.Warn("failed to publish job status", slog.String("job_id", job.ID), slogError(err))
	}
}

func (s *Service) serve(subject string, handle func(context.Context, []byte) any) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if !s.track() {
			s.respond(subject, msg, shutdownReply{Error: protocol.ErrorFrom(jobs.ErrClosed)})
			return
		}
		go func() {
			defer s.wg.Done()
			s.respond(subject, msg, handle(s.ctx, msg.Data))
		}()
	}
}

// shutdownReply decodes into every reply type through its error field.
type shutdownReply struct {
	Error *protocol.Error `json:"error"`
}

// track registers an in-flight request unless Close has begun.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) respond(subject string, msg *nats.Msg, reply any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to encode reply", slog.String("subject", subject), slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) submit(ctx context.Context, data []byte) any {
	var req protocol.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.SubmitReply{Error: invalid(err)}
	}
	voice, err := req.Voice.Apply(s.jobs.DefaultVoice())
	var id string
	if err == nil {
		id, err = s.jobs.Submit(ctx, req.Text, voice)
	}
	if err != nil {
		s.logger.Info("submission rejected", slog.String("job_id", id), slogError(err))
	}
	return protocol.SubmitReply{JobID: id, Error: protocol.ErrorFrom(err)}
}

func (s *Service) status(ctx context.Context, data []byte) any {
	var req protocol.JobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.StatusReply{Error: invalid(err)}
	}
	view, err := s.jobs.GetStatus(ctx, req.JobID)
	if err != nil {
		return protocol.StatusReply{Error: protocol.ErrorFrom(err)}
	}
	return protocol.StatusReply{Job: &view}
}

func (s *Service) cancelJob(ctx context.Context, data []byte) any {
	var req protocol.JobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.StatusReply{Error: invalid(err)}
	}
	view, err := s.jobs.Cancel(ctx, req.JobID)
	reply := protocol.StatusReply{Error: protocol.ErrorFrom(err)}
	if view.ID != "" {
		reply.Job = &view
	}
	return reply
}

func (s *Service) list(ctx context.Context, _ []byte) any {
	views, err := s.jobs.List(ctx)
	if err != nil {
		s.logger.Warn("list jobs failed", slogError(err))
		return protocol.JobList{Jobs: []jobs.StatusView{}}
	}
	return protocol.JobList{Jobs: views}
}

func (s *Service) preview(ctx context.Context, data []byte) any {
	var req protocol.PreviewRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.PreviewReply{Error: invalid(err)}
	}
	voice, err := req.Voice.Apply(s.jobs.DefaultVoice())
	if err != nil {
		return protocol.PreviewReply{Error: protocol.ErrorFrom(err)}
	}
	res, err := s.previews.Preview(ctx, req.Text, voice)
	if err != nil {
		s.logger.Info("preview failed", slogError(err))
		return protocol.PreviewReply{Error: protocol.ErrorFrom(err)}
	}
	return protocol.PreviewReply{Preview: &res}
}

func (s *Service) presets(context.Context, []byte) any {
	return protocol.PresetList{Presets: tts.ListPresets()}
}

func invalid(err error) *protocol.Error {
	return &protocol.Error{Code: protocol.CodeInvalidRequest, Message: err.Error()}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
