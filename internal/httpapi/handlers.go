package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"timebox/internal/schedule"
	"timebox/internal/solver"
	"timebox/internal/storage"

	logx "timebox/pkg/logx"
)

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeBody(w, r, &req) {
		return
	}

	t := storage.Task{
		Name:          strings.TrimSpace(req.Name),
		DurationHours: req.Duration,
		Deadline:      req.Deadline,
	}
	if req.Priority != "" {
		p, err := storage.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		t.Priority = p
	}

	out, err := s.orch.Add(r.Context(), Owner(r.Context()), t)
	s.respond(w, r, out, err)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decodeBody(w, r, &req) {
		return
	}

	f := storage.Fields{
		Name:          req.Name,
		DurationHours: req.Duration,
		Deadline:      req.Deadline,
	}
	if req.Priority != nil {
		p, err := storage.ParsePriority(*req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Priority = &p
	}
	if f.Empty() {
		writeError(w, http.StatusBadRequest, "empty update")
		return
	}

	out, err := s.orch.Edit(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"), f)
	s.respond(w, r, out, err)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	out, err := s.orch.Delete(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, out, err)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := storage.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.orch.SetStatus(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"), st)
	s.respond(w, r, out, err)
}

// handleList returns the stored schedule as-is; listing never solves.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.orch.List(r.Context(), Owner(r.Context()))
	if err != nil {
		s.respond(w, r, schedule.Outcome{}, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse("", tasks))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respond maps engine errors onto status codes. Internal failure detail stays
// in the logs; clients get a stable classification.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, out schedule.Outcome, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, toScheduleResponse(out.TaskID, out.Schedule))
		return
	}

	if ve, ok := schedule.AsValidation(err); ok {
		writeError(w, http.StatusBadRequest, "validation failed", ve.Problems...)
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	s.log.Error("request failed",
		logx.String("method", r.Method),
		logx.String("path", r.URL.Path),
		logx.String("owner", Owner(r.Context())),
		logx.Err(err),
	)
	switch {
	case solver.IsContractViolation(err):
		writeError(w, http.StatusInternalServerError, "solver returned an invalid schedule")
	case solver.IsTransient(err):
		writeError(w, http.StatusInternalServerError, "scheduling temporarily unavailable")
	case schedule.IsPersistence(err):
		writeError(w, http.StatusInternalServerError, "schedule computed but not saved")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
