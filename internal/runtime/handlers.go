package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/capability"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/jobs"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

const maxBodyBytes = 16 << 20

type api struct {
	jobs     *jobs.Service
	previews *jobs.Previewer
	events   *eventstore.Store
	nodes    func() []capability.NodeInfo
	logger   *slog.Logger
}

func newAPI(p *Pipeline, logger *slog.Logger) *api {
	return &api{
		jobs:     p.Jobs,
		previews: p.Previews,
		events:   p.Events,
		nodes:    p.Nodes,
		logger:   logger.With(slog.String("component", "http")),
	}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/jobs", a.submitJob)
	mux.HandleFunc("GET /v1/jobs", a.listJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", a.jobStatus)
	mux.HandleFunc("DELETE /v1/jobs/{id}", a.cancelJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", a.jobEvents)
	mux.HandleFunc("GET /v1/jobs/{id}/audio", a.jobAudio)
	mux.HandleFunc("POST /v1/previews", a.createPreview)
	mux.HandleFunc("DELETE /v1/previews/{id}", a.discardPreview)
	mux.HandleFunc("GET /v1/nodes", a.listNodes)
	mux.HandleFunc("GET /v1/presets", a.listPresets)
}

func (a *api) listPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.PresetList{Presets: tts.ListPresets()})
}

func (a *api) listNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": a.nodes()})
}

func (a *api) submitJob(w http.ResponseWriter, r *http.Request) {
	var req protocol.SubmitRequest
	if !a.decode(w, r, &req) {
		return
	}
	voice, err := req.Voice.Apply(a.jobs.DefaultVoice())
	var id string
	if err == nil {
		id, err = a.jobs.Submit(r.Context(), req.Text, voice)
	}
	if err != nil {
		perr := protocol.ErrorFrom(err)
		writeJSON(w, statusFor(perr.Code), protocol.SubmitReply{JobID: id, Error: perr})
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+id)
	writeJSON(w, http.StatusAccepted, protocol.SubmitReply{JobID: id})
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	views, err := a.jobs.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JobList{Jobs: views})
}

func (a *api) jobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.jobs.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) cancelJob(w http.ResponseWriter, r *http.Request) {
	view, err := a.jobs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		perr := protocol.ErrorFrom(err)
		reply := protocol.StatusReply{Error: perr}
		if view.ID != "" {
			reply.Job = &view
		}
		writeJSON(w, statusFor(perr.Code), reply)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusReply{Job: &view})
}

type timelineEntry struct {
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

func (a *api) jobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.jobs.Get(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	events, err := a.events.ListJobEvents(r.Context(), id, 0)
	if err != nil {
		a.fail(w, err)
		return
	}
	entries := make([]timelineEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, timelineEntry{
			Type:      e.Type,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			Snapshot:  json.RawMessage(e.Payload),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "events": entries})
}

func (a *api) jobAudio(w http.ResponseWriter, r *http.Request) {
	view, err := a.jobs.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if view.Status != jobs.StatusCompleted {
		writeJSON(w, http.StatusConflict, protocol.StatusReply{
			Job:   &view,
			Error: &protocol.Error{Code: protocol.CodeConflict, Message: "audio is available once the job has completed"},
		})
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, view.OutputRef())
}

func (a *api) createPreview(w http.ResponseWriter, r *http.Request) {
	var req protocol.PreviewRequest
	if !a.decode(w, r, &req) {
		return
	}
	voice, err := req.Voice.Apply(a.jobs.DefaultVoice())
	var res jobs.PreviewResult
	if err == nil {
		res, err = a.previews.Preview(r.Context(), req.Text, voice)
	}
	if err != nil {
		perr := protocol.ErrorFrom(err)
		writeJSON(w, statusFor(perr.Code), protocol.PreviewReply{Error: perr})
		return
	}
	writeJSON(w, http.StatusOK, protocol.PreviewReply{Preview: &res})
}

func (a *api) discardPreview(w http.ResponseWriter, r *http.Request) {
	if err := a.previews.Discard(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, map[string]any{"error": protocol.Error{Code: protocol.CodeInvalidRequest, Message: err.Error()}})
		return false
	}
	return true
}

func (a *api) fail(w http.ResponseWriter, err error) {
	perr := protocol.ErrorFrom(err)
	status := statusFor(perr.Code)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slog.String("code", perr.Code), slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]any{"error": perr})
}

func statusFor(code string) int {
	switch code {
	case protocol.CodeInvalidRequest, string(text.KindEmpty), string(text.KindTooLong),
		string(text.KindInvalidLimit), string(tts.KindInvalidVoice):
		return http.StatusBadRequest
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeFinished, protocol.CodeConflict:
		return http.StatusConflict
	case jobs.CodeQueueFull, jobs.CodeShutdown, string(tts.KindEngineUnavailable):
		return http.StatusServiceUnavailable
	case string(tts.KindTimeout):
		return http.StatusGatewayTimeout
	case string(audio.KindInconsistentFormat), string(audio.KindIncompleteSet):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
