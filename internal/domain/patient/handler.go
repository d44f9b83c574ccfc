package patient

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	homeMessage  = "Patient Management system API"
	aboutMessage = "A fully functional API to manage your patient records"
)

// Message is the acknowledgement body returned by mutating endpoints.
type Message struct {
	Message string `json:"message"`
}

// Banner is the body of the informational endpoints. Its key is capitalized
// for compatibility with existing clients.
type Banner struct {
	Message string `json:"Message"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/", h.Home)
	g.GET("/about", h.About)
	g.GET("/view", h.View)
	g.GET("/patients/:id", h.GetPatient)
	g.GET("/sort", h.Sort)
	g.POST("/create", h.CreatePatient)
	g.PUT("/edit/:id", h.UpdatePatient)
	g.DELETE("/delete/:id", h.DeletePatient)
}

func (h *Handler) Home(c echo.Context) error {
	return c.JSON(http.StatusOK, Banner{Message: homeMessage})
}

func (h *Handler) About(c echo.Context) error {
	return c.JSON(http.StatusOK, Banner{Message: aboutMessage})
}

func (h *Handler) View(c echo.Context) error {
	coll, err := h.svc.List(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, coll)
}

func (h *Handler) GetPatient(c echo.Context) error {
	rec, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Sort(c echo.Context) error {
	order := c.QueryParam("order")
	if order == "" {
		order = "asc"
	}
	entries, err := h.svc.Sort(c.Request().Context(), c.QueryParam("sort_by"), order)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return bindError(err)
	}
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, Message{Message: "Patient record created successfully"})
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var u PatientUpdate
	if err := c.Bind(&u); err != nil {
		return bindError(err)
	}
	if _, err := h.svc.Update(c.Request().Context(), c.Param("id"), &u); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, Message{Message: "Patient updated successfully"})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, Message{Message: "Patient record deleted successfully"})
}

// bindError reports every binding failure as a 400. A body sent without a
// JSON content type is rejected the same way as a malformed one.
func bindError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code == http.StatusUnsupportedMediaType {
			return echo.NewHTTPError(http.StatusBadRequest, "request body must be JSON (Content-Type: application/json)").SetInternal(err)
		}
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
}

// toHTTPError maps service errors onto HTTP status codes. Anything not
// recognised is returned unchanged and rendered as a 500.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusBadRequest, "Patient id already exists")
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCorruptRecord):
		return echo.NewHTTPError(http.StatusInternalServerError, ErrCorruptRecord.Error()).SetInternal(err)
	default:
		return err
	}
}
