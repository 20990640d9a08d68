package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/model"
)

// procedureResponse adds the kind, which is implied by the collection in storage.
type procedureResponse struct {
	model.Procedure
	Kind model.ProcedureKind `json:"kind"`
}

func respond(p model.Procedure) procedureResponse {
	return procedureResponse{Procedure: p, Kind: p.Kind}
}

// kindParam reads ?kind=, defaulting to manual procedures.
func kindParam(c echo.Context) model.ProcedureKind {
	if k := c.QueryParam("kind"); k != "" {
		return model.ProcedureKind(strings.ToLower(k))
	}
	return model.KindManual
}

func (s *Server) listProcedures(c echo.Context) error {
	list, err := s.procedures.List(c.Request().Context(), kindParam(c), c.Param("container"))
	if err != nil {
		return s.handleError(c, err, "Failed to list procedures")
	}
	out := make([]procedureResponse, 0, len(list))
	for _, p := range list {
		out = append(out, respond(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createProcedure(c echo.Context) error {
	var p model.Procedure
	if err := c.Bind(&p); err != nil {
		return s.handleError(c, badRequest("invalid procedure body: %v", err), "Invalid request")
	}
	p.Kind = kindParam(c)
	p.ContainerName = c.Param("container")
	saved, err := s.procedures.Save(c.Request().Context(), p)
	if err != nil {
		return s.handleError(c, err, "Failed to create procedure")
	}
	return c.JSON(http.StatusCreated, respond(saved))
}

func (s *Server) getProcedure(c echo.Context) error {
	p, err := s.procedures.Get(c.Request().Context(), kindParam(c), c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "Failed to get procedure")
	}
	return c.JSON(http.StatusOK, respond(p))
}

// saveProcedure overwrites an existing procedure. Creation time and container
// are kept when the body leaves them empty.
func (s *Server) saveProcedure(c echo.Context) error {
	ctx := c.Request().Context()
	kind := kindParam(c)
	current, err := s.procedures.Get(ctx, kind, c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "Failed to get procedure")
	}

	var p model.Procedure
	if err := c.Bind(&p); err != nil {
		return s.handleError(c, badRequest("invalid procedure body: %v", err), "Invalid request")
	}
	p.Kind = kind
	p.ID = current.ID
	if p.ContainerName == "" {
		p.ContainerName = current.ContainerName
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = current.CreatedAt
	}

	saved, err := s.procedures.Save(ctx, p)
	if err != nil {
		return s.handleError(c, err, "Failed to save procedure")
	}
	return c.JSON(http.StatusOK, respond(saved))
}

func (s *Server) deleteProcedure(c echo.Context) error {
	if err := s.procedures.Delete(c.Request().Context(), kindParam(c), c.Param("id")); err != nil {
		return s.handleError(c, err, "Failed to delete procedure")
	}
	return c.NoContent(http.StatusNoContent)
}

// pinProcedureStep stores an anchor-local position for a step.
func (s *Server) pinProcedureStep(c echo.Context) error {
	step, err := intParam(c, "step")
	if err != nil {
		return s.handleError(c, err, "Invalid request")
	}
	var pos geom.Vec3
	if err := c.Bind(&pos); err != nil {
		return s.handleError(c, badRequest("invalid position body: %v", err), "Invalid request")
	}
	if err := s.procedures.PinStep(c.Request().Context(), kindParam(c), c.Param("id"), step, pos); err != nil {
		return s.handleError(c, err, "Failed to pin step")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) attachProcedureMedia(c echo.Context) error {
	step, err := intParam(c, "step")
	if err != nil {
		return s.handleError(c, err, "Invalid request")
	}
	mediaType := c.FormValue("type")
	switch mediaType {
	case "image", "video", "audio":
	default:
		return s.handleError(c, badRequest("media type must be image, video or audio"), "Invalid request")
	}

	path, cleanup, err := s.receiveUpload(c)
	if err != nil {
		return s.handleError(c, err, "Invalid upload")
	}
	defer cleanup()

	media, err := s.procedures.AttachStepMedia(c.Request().Context(), kindParam(c), c.Param("id"), step, path,
		model.Media{Type: mediaType, Name: c.FormValue("name")})
	if err != nil {
		return s.handleError(c, err, "Failed to attach media")
	}
	return c.JSON(http.StatusCreated, media)
}

type draftRequest struct {
	Transcript string `json:"transcript"`
	// Save stores the draft as an AI procedure instead of only returning it.
	Save bool `json:"save"`
}

func (s *Server) draftProcedure(c echo.Context) error {
	if s.text == nil {
		return s.handleError(c, textServiceDisabled(), "Text service unavailable")
	}
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid draft body: %v", err), "Invalid request")
	}
	ctx := c.Request().Context()
	p, err := s.text.DraftProcedure(ctx, c.Param("container"), req.Transcript)
	if err != nil {
		return s.handleError(c, err, "Failed to draft procedure")
	}
	if !req.Save {
		return c.JSON(http.StatusOK, respond(p))
	}
	saved, err := s.procedures.Save(ctx, p)
	if err != nil {
		return s.handleError(c, err, "Failed to save draft")
	}
	return c.JSON(http.StatusCreated, respond(saved))
}

type ticketRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) draftTicket(c echo.Context) error {
	if s.text == nil {
		return s.handleError(c, textServiceDisabled(), "Text service unavailable")
	}
	var req ticketRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid ticket body: %v", err), "Invalid request")
	}
	ticket, err := s.text.ExtractTicket(c.Request().Context(), req.Notes)
	if err != nil {
		return s.handleError(c, err, "Failed to draft ticket")
	}
	return c.JSON(http.StatusOK, ticket)
}

func textServiceDisabled() error {
	return errors.Newf("text service is not configured").
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}
