package main

import (
	"fmt"
	"net/http"

	"github.com/bluesky-social/parley/chatmod/profile"

	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type MessageRequest struct {
	User string `json:"user"`
	Text string `json:"text"`
}

type CommandRequest struct {
	User    string `json:"user"`
	Command string `json:"command"`
}

type CleanupRequest struct {
	Active []string `json:"active"`
}

type CleanupResponse struct {
	Removed int `json:"removed"`
	Tracked int `json:"tracked"`
}

type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func badRequest(c echo.Context, name, msg string) error {
	return c.JSON(http.StatusBadRequest, GenericError{Error: name, Message: msg})
}

func (srv *Server) HandleMessage(c echo.Context) error {
	ctx := c.Request().Context()
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "InvalidRequest", fmt.Sprintf("%s", err))
	}
	if req.User == "" {
		return badRequest(c, "InvalidRequest", "user is required")
	}
	out, err := srv.Engine.ProcessMessage(ctx, req.User, req.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleCommand(c echo.Context) error {
	ctx := c.Request().Context()
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "InvalidRequest", fmt.Sprintf("%s", err))
	}
	if req.User == "" || req.Command == "" {
		return badRequest(c, "InvalidRequest", "user and command are required")
	}
	out, err := srv.Engine.ProcessCommand(ctx, req.User, req.Command)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleDisconnect(c echo.Context) error {
	srv.Engine.DisconnectUser(c.Request().Context(), c.Param("user"))
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "chatmod"})
}

func (srv *Server) HandleCleanup(c echo.Context) error {
	var req CleanupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "InvalidRequest", fmt.Sprintf("%s", err))
	}
	removed := srv.Engine.CleanupInactiveUsers(c.Request().Context(), req.Active)
	return c.JSON(http.StatusOK, CleanupResponse{Removed: removed, Tracked: srv.Engine.TrackedUsers()})
}

func (srv *Server) HandlePutProfile(c echo.Context) error {
	ctx := c.Request().Context()
	var p profile.BehaviorProfile
	if err := c.Bind(&p); err != nil {
		return badRequest(c, "InvalidProfile", fmt.Sprintf("%s", err))
	}
	user := c.Param("user")
	if p.UserID != "" && p.UserID != user {
		return badRequest(c, "InvalidProfile", "profile user does not match path")
	}
	p.UserID = user
	if err := srv.Profiles.Put(ctx, &p); err != nil {
		return err
	}
	profilesPushed.Inc()
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "chatmod"})
}

// Drops a pushed snapshot, e.g. when the profile store forgets the user.
func (srv *Server) HandleDeleteProfile(c echo.Context) error {
	if err := srv.Profiles.Purge(c.Request().Context(), c.Param("user")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "chatmod"})
}

func (srv *Server) HandleGetQuota(c echo.Context) error {
	stats, err := srv.Quota.GetStats(c.Request().Context(), c.Param("user"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (srv *Server) HandleResetCooldown(c echo.Context) error {
	if err := srv.Quota.ResetCooldown(c.Request().Context(), c.Param("user")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "chatmod"})
}

func (srv *Server) HandleSetEnabled(c echo.Context) error {
	var req EnabledRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "InvalidRequest", fmt.Sprintf("%s", err))
	}
	if req.Enabled == nil {
		return badRequest(c, "InvalidRequest", "enabled is required")
	}
	srv.Quota.SetEnabled(*req.Enabled)
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "chatmod"})
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("chatmod-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "chatmod", Message: errorMessage})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "chatmod"})
}
