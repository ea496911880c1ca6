package apihttp

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"redubstream/internal/domain"
	"redubstream/internal/redub"
)

type urlRequest struct {
	URL string `json:"url"`
}

type runResponse struct {
	RunID  string                `json:"runId"`
	Status domain.PipelineStatus `json:"status"`
}

type acquireResponse struct {
	Success  bool   `json:"success"`
	Title    string `json:"title,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

type segmentView struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Duration  float64 `json:"duration"`
	Size      int     `json:"size"`
}

type dubSegmentView struct {
	Index    int              `json:"index"`
	Status   domain.DubStatus `json:"status"`
	Segment  segmentView      `json:"segment"`
	DubBytes int              `json:"dubBytes,omitempty"`
}

func toSegmentView(seg domain.Segment) segmentView {
	return segmentView{
		Index:     seg.Index,
		Name:      seg.Name,
		StartTime: seg.StartTime,
		EndTime:   seg.EndTime,
		Duration:  seg.Duration(),
		Size:      len(seg.Payload),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.readUpload(w, r, "video")
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	runID, err := s.pipeline.StartFromFile(data, name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("run started from upload", slog.String("runId", runID), slog.String("name", name), slog.Int("bytes", len(data)))
	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID, Status: s.pipeline.Status()})
}

func (s *Server) handleStartAcquire(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	runID, err := s.pipeline.StartFromURL(req.URL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("run started from link", slog.String("runId", runID))
	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID, Status: s.pipeline.Status()})
}

// handleAcquire resolves a link without starting a run.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	if s.acquirer == nil {
		writeError(w, http.StatusServiceUnavailable, "acquisition_disabled", "acquisition is not configured")
		return
	}
	var req urlRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, acquireResponse{Error: err.Error()})
		return
	}
	acq, err := s.acquirer.Acquire(r.Context(), req.URL)
	if err != nil {
		status, _, _ := classifyError(err)
		writeJSON(w, status, acquireResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, acquireResponse{
		Success:  true,
		Title:    acq.Title,
		MimeType: acq.MimeType,
		Size:     acq.Size,
		Provider: acq.Provider,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.pipeline.Cancel(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.pipeline.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Reset(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleListSegments(w http.ResponseWriter, _ *http.Request) {
	segments, err := s.pipeline.Segments()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]segmentView, 0, len(segments))
	for _, seg := range segments {
		views = append(views, toSegmentView(seg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": views})
}

func (s *Server) handleDownloadSegment(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", err.Error())
		return
	}
	seg, err := s.pipeline.Segment(index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	serveAttachment(w, r, seg.Name, "video/mp4", seg.Payload)
}

func (s *Server) handleListDubSegments(w http.ResponseWriter, _ *http.Request) {
	dubs := s.pipeline.DubSegments()
	views := make([]dubSegmentView, 0, len(dubs))
	uploaded := 0
	for _, d := range dubs {
		if d.Uploaded() {
			uploaded++
		}
		views = append(views, dubSegmentView{
			Index:    d.Index,
			Status:   d.Status,
			Segment:  toSegmentView(d.Segment),
			DubBytes: len(d.Replacement),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": views,
		"uploaded": uploaded,
		"total":    len(dubs),
	})
}

func (s *Server) handleUploadDub(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", err.Error())
		return
	}
	data, _, err := s.readUpload(w, r, "file")
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	if err := s.pipeline.UploadDub(r.Context(), index, data); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "status": domain.DubStatusUploaded, "bytes": len(data)})
}

func (s *Server) handleMerge(w http.ResponseWriter, _ *http.Request) {
	if err := s.pipeline.MergeAsync(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.pipeline.Status())
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	artifacts, ok := s.pipeline.Artifacts()
	if !ok {
		writeError(w, http.StatusNotFound, "not_ready", "artifacts are not available")
		return
	}
	switch chi.URLParam(r, "name") {
	case "final_video":
		serveAttachment(w, r, redub.FinalVideoName, "video/mp4", artifacts.FinalVideo)
	case "merged_audio":
		serveAttachment(w, r, redub.MergedAudioName, "audio/mpeg", artifacts.MergedAudio)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown artifact")
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if s.diagnostics == nil {
		writeJSON(w, http.StatusOK, map[string]any{"providers": []domain.ProviderDiagnostics{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.diagnostics.ProviderDiagnostics()})
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
			fmt.Sprintf("upload exceeds %d bytes", maxBytes.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
}

// serveAttachment supports range requests so large artifacts can be resumed.
func serveAttachment(w http.ResponseWriter, r *http.Request, name, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}
