package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/goodtune/ktime/internal/storage"
)

func (s *Server) getStatus(ctx *gin.Context) {
	state, avail := s.engine.Overview(ctx.Request.Context())
	ctx.JSON(http.StatusOK, StatusResponse{
		Status:           state.Status,
		RemainingSeconds: state.RemainingSeconds,
		Remaining:        quota.FormatSeconds(state.RemainingSeconds),
		Availability:     avail,
	})
}

func (s *Server) getStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.engine.TodayStats(ctx.Request.Context()))
}

func (s *Server) getPause(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.engine.PauseAvailability(ctx.Request.Context()))
}

func (s *Server) listHistory(ctx *gin.Context) {
	dates, err := s.engine.HistoryDates(ctx.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list history")
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list history",
		})
		return
	}
	if dates == nil {
		dates = []string{}
	}
	ctx.JSON(http.StatusOK, HistoryListResponse{Dates: dates})
}

func (s *Server) getHistory(ctx *gin.Context) {
	date := ctx.Param("date")
	stats, err := s.engine.History(ctx.Request.Context(), date)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, stats)
	case errors.Is(err, quota.ErrInvalidDate):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_date", Message: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "No history for " + date})
	default:
		s.logger.Error().Err(err).Str("date", date).Msg("Failed to load history")
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load history",
		})
	}
}

func (s *Server) getSettings(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, newSettingsPayload(s.engine.Settings()))
}

func (s *Server) postPause(ctx *gin.Context) {
	result, err := s.engine.RequestPause(ctx.Request.Context())
	s.respond(ctx, result, err)
}

func (s *Server) postResume(ctx *gin.Context) {
	result, err := s.engine.RequestResume(ctx.Request.Context())
	s.respond(ctx, result, err)
}

func (s *Server) postExtend(ctx *gin.Context) {
	var req ExtendRequest
	if !s.bind(ctx, &req) {
		return
	}
	result, err := s.engine.RequestExtend(ctx.Request.Context(), req.Minutes, req.Code)
	s.respond(ctx, result, err)
}

func (s *Server) postUnlock(ctx *gin.Context) {
	var req CodeRequest
	if !s.bind(ctx, &req) {
		return
	}
	result, err := s.engine.RequestUnlock(ctx.Request.Context(), req.Code)
	s.respond(ctx, result, err)
}

func (s *Server) postReset(ctx *gin.Context) {
	var req CodeRequest
	if !s.bind(ctx, &req) {
		return
	}
	result, err := s.engine.RequestReset(ctx.Request.Context(), req.Code)
	s.respond(ctx, result, err)
}

func (s *Server) putSettings(ctx *gin.Context) {
	var req SettingsRequest
	if !s.bind(ctx, &req) {
		return
	}
	settings, err := req.Settings.toSettings()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}
	result, err := s.engine.UpdateSettings(ctx.Request.Context(), settings, req.Code)
	s.respond(ctx, result, err)
}

func (s *Server) postPasscode(ctx *gin.Context) {
	var req PasscodeRequest
	if !s.bind(ctx, &req) {
		return
	}
	result, err := s.engine.ChangePasscode(ctx.Request.Context(), req.Old, req.New, req.Confirm)
	s.respond(ctx, result, err)
}

// bind decodes the JSON body, answering 400 when it is malformed.
func (s *Server) bind(ctx *gin.Context, req interface{}) bool {
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid request body",
		})
		return false
	}
	return true
}

// respond maps a command result onto an HTTP status.
func (s *Server) respond(ctx *gin.Context, result quota.Result, err error) {
	if err != nil {
		if errors.Is(err, quota.ErrPersist) {
			ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "persistence_failed",
				Message: "State could not be saved, try again",
			})
			return
		}
		s.logger.Error().Err(err).Msg("Command failed")
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}

	resp := CommandResponse{
		Outcome:          result.Outcome,
		Status:           result.State.Status,
		RemainingSeconds: result.State.RemainingSeconds,
	}
	if result.Availability.Kind != "" {
		avail := result.Availability
		resp.Availability = &avail
	}

	switch result.Outcome {
	case quota.OutcomeApplied:
		ctx.JSON(http.StatusOK, resp)
	case quota.OutcomeUnauthorized:
		ctx.JSON(http.StatusForbidden, resp)
	default:
		ctx.JSON(http.StatusConflict, resp)
	}
}
