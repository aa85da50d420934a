package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

func (s *Server) health(c echo.Context) error {
	if err := s.backend.StartSync(c.Request().Context()); err != nil {
		apierr := fromError(err)
		return c.JSON(apierr.Code(), apierr)
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Streams: s.streams.Load()})
}

func (s *Server) listNotes(c echo.Context) error {
	notes, err := s.backend.QueryNotes(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, notes)
}

func (s *Server) getNote(c echo.Context) error {
	note, err := s.backend.GetNote(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, note)
}

func (s *Server) saveNote(c echo.Context) error {
	var req NoteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, malformedBodyError)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.invalid(c, err)
	}

	note, err := s.backend.SaveNote(c.Request().Context(), req.toNote())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, note)
}

func (s *Server) deleteNote(c echo.Context) error {
	ctx := c.Request().Context()
	note, err := s.backend.GetNote(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.backend.DeleteNote(ctx, note); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) queryUsers(c echo.Context) error {
	username := strings.TrimSpace(c.QueryParam("username"))
	if username == "" {
		return c.JSON(http.StatusBadRequest, missingParamError)
	}

	users, err := s.backend.QueryUsers(c.Request().Context(), username)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

func (s *Server) createUser(c echo.Context) error {
	var req UserRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, malformedBodyError)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.invalid(c, err)
	}

	user, err := s.backend.SaveUser(c.Request().Context(), req.toUser())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

func (s *Server) fail(c echo.Context, err error) error {
	apierr := fromError(err)
	if apierr.Code() >= http.StatusInternalServerError {
		s.logger.Warn("backend call failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(apierr.Code(), apierr)
}

func (s *Server) invalid(c echo.Context, err error) error {
	if apierr := fromValidationError(err); apierr != nil {
		return c.JSON(apierr.Code(), apierr)
	}
	return c.JSON(http.StatusBadRequest, malformedBodyError)
}
