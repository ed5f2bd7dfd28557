package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"timebox/internal/storage"
)

// taskDTO is the wire shape of one task. Nullable columns marshal as null,
// not as absent keys, so clients can rely on a stable shape.
type taskDTO struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Duration       float64    `json:"duration"`
	Deadline       time.Time  `json:"deadline"`
	Priority       string     `json:"priority"`
	WindowStart    *time.Time `json:"window_start"`
	WindowEnd      *time.Time `json:"window_end"`
	Status         string     `json:"status"`
	Conflict       bool       `json:"conflict"`
	ConflictReason *string    `json:"conflict_reason"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toDTO(t storage.Task) taskDTO {
	d := taskDTO{
		ID:          t.ID,
		Name:        t.Name,
		Duration:    t.DurationHours,
		Deadline:    t.Deadline,
		Priority:    string(t.Priority),
		WindowStart: t.WindowStart,
		WindowEnd:   t.WindowEnd,
		Status:      string(t.Status),
		Conflict:    t.Conflict,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.ConflictReason != "" {
		r := t.ConflictReason
		d.ConflictReason = &r
	}
	return d
}

type scheduleResponse struct {
	TaskID   string    `json:"task_id,omitempty"`
	Schedule []taskDTO `json:"schedule"`
}

func toScheduleResponse(taskID string, tasks []storage.Task) scheduleResponse {
	resp := scheduleResponse{TaskID: taskID, Schedule: make([]taskDTO, 0, len(tasks))}
	for _, t := range tasks {
		resp.Schedule = append(resp.Schedule, toDTO(t))
	}
	return resp
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// addRequest creates one task.
type addRequest struct {
	Name     string    `json:"name"`
	Duration float64   `json:"duration"`
	Deadline time.Time `json:"deadline"`
	Priority string    `json:"priority,omitempty"`
}

// editRequest is a partial update; absent keys leave the field unchanged.
type editRequest struct {
	Name     *string    `json:"name,omitempty"`
	Duration *float64   `json:"duration,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Priority *string    `json:"priority,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string, problems ...string) {
	writeJSON(w, code, errorResponse{Error: msg, Problems: problems})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
