package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/auth"
	"entornos-api-go/internal/models"
)

var (
	timeOfDayRe = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

	diasValidos = []string{"Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado", "Domingo"}
	tiposSensor = []string{
		"LIGHT", "FAN", "AIR_CONDITIONER", "TEMPERATURE_SENSOR", "HUMIDITY_SENSOR",
		"SMART_PLUG", "CURTAIN", "MOTION_SENSOR", "AIR_PURIFIER",
	}
)

// EntornoOwners resolves an environment id to its owner for the ownership gate.
func (h *Handler) EntornoOwners() auth.OwnerLookup {
	return auth.OwnerLookupFunc(h.Store.EntornoOwner)
}

type entornoRequest struct {
	Nombre        string          `json:"nombre"`
	Estado        *bool           `json:"estado"`
	Configuracion json.RawMessage `json:"configuracion"`
}

// entornoSchedule is the part of configuracion that is checked; anything
// else in it is stored as given.
type entornoSchedule struct {
	HoraInicio string   `json:"horaInicio"`
	HoraFin    string   `json:"horaFin"`
	DiasSemana []string `json:"diasSemana"`
	Sensores   []struct {
		NombreSensor string   `json:"nombreSensor"`
		TipoSensor   string   `json:"tipoSensor"`
		ValorSensor  *float64 `json:"valorSensor"`
	} `json:"sensores"`
	Playlist []struct {
		Tema string `json:"tema"`
	} `json:"playlist"`
}

func (r *entornoRequest) validate() error {
	r.Nombre = sanitize(r.Nombre)
	if n := utf8.RuneCountInString(r.Nombre); n < 2 || n > 100 {
		return apperr.New(apperr.InvalidInput, "El nombre del entorno es requerido y debe tener entre 2 y 100 caracteres")
	}
	if bytes.Equal(bytes.TrimSpace(r.Configuracion), []byte("null")) {
		r.Configuracion = nil
	}
	return validateConfiguracion(r.Configuracion)
}

func validateConfiguracion(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return apperr.New(apperr.InvalidInput, "La configuración debe ser un objeto")
	}

	var s entornoSchedule
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return apperr.New(apperr.InvalidInput, "Datos de entorno inválidos")
	}

	if s.HoraInicio != "" || s.HoraFin != "" {
		inicio, ok := minutesOfDay(s.HoraInicio)
		if !ok {
			return apperr.New(apperr.InvalidInput, "Hora de inicio inválida. Use formato HH:mm")
		}
		fin, ok := minutesOfDay(s.HoraFin)
		if !ok {
			return apperr.New(apperr.InvalidInput, "Hora de fin inválida. Use formato HH:mm")
		}
		if fin <= inicio {
			return apperr.New(apperr.InvalidInput, "La hora de fin debe ser posterior a la hora de inicio")
		}
	}

	var invalidos []string
	for _, d := range s.DiasSemana {
		if !slices.Contains(diasValidos, d) {
			invalidos = append(invalidos, d)
		}
	}
	if len(invalidos) > 0 {
		return apperr.New(apperr.InvalidInput, "Días de la semana inválidos: "+strings.Join(invalidos, ", "))
	}

	for i, sensor := range s.Sensores {
		switch {
		case strings.TrimSpace(sensor.NombreSensor) == "":
			return apperr.New(apperr.InvalidInput, fmt.Sprintf("Sensor %d: nombre del sensor es requerido", i+1))
		case !slices.Contains(tiposSensor, sensor.TipoSensor):
			return apperr.New(apperr.InvalidInput, fmt.Sprintf("Sensor %d: tipo de sensor inválido", i+1))
		case sensor.ValorSensor == nil || *sensor.ValorSensor < 0:
			return apperr.New(apperr.InvalidInput, fmt.Sprintf("Sensor %d: valor del sensor debe ser un número positivo", i+1))
		}
	}

	for i, item := range s.Playlist {
		if strings.TrimSpace(item.Tema) == "" {
			return apperr.New(apperr.InvalidInput, fmt.Sprintf("Playlist item %d: tema es requerido", i+1))
		}
	}
	return nil
}

func minutesOfDay(hhmm string) (int, bool) {
	if !timeOfDayRe.MatchString(hhmm) {
		return 0, false
	}
	h, m, _ := strings.Cut(hhmm, ":")
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	return hours*60 + minutes, true
}

// ListEntornosHandler shows a signed-in regular user their own environments;
// administrators and anonymous callers get every environment.
func (h *Handler) ListEntornosHandler(c *gin.Context) {
	var owner string
	if id, ok := currentResolution(c).Identity(); ok && !id.IsAdmin() {
		owner = id.UserID
	}

	entornos, err := h.Store.ListEntornos(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entornos)
}

func (h *Handler) CreateEntornoHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	var req entornoRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, err)
		return
	}

	e := models.Entorno{
		UsuarioID:     id.UserID,
		Nombre:        req.Nombre,
		Configuracion: req.Configuracion,
	}
	if req.Estado != nil {
		e.Estado = *req.Estado
	}

	created, err := h.Store.CreateEntorno(c.Request.Context(), e)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// CambiarEstadoHandler sets estado on any environment; ownership is not
// checked for this route.
func (h *Handler) CambiarEstadoHandler(c *gin.Context) {
	var req struct {
		Estado any `json:"estado"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Estado == nil {
		badRequest(c, "El estado es requerido")
		return
	}
	estado, ok := req.Estado.(bool)
	if !ok {
		badRequest(c, "El estado debe ser un valor booleano (true/false)")
		return
	}

	e, err := h.Store.SetEntornoEstado(c.Request.Context(), c.Param("id"), estado)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) EditarEntornoHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req entornoRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, err)
		return
	}

	e, err := h.Store.GetEntorno(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	e.Nombre = req.Nombre
	if req.Estado != nil {
		e.Estado = *req.Estado
	}
	if len(req.Configuracion) > 0 {
		e.Configuracion = req.Configuracion
	}

	updated, err := h.Store.UpdateEntorno(ctx, e)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) EliminarEntornoHandler(c *gin.Context) {
	if err := h.Store.DeleteEntorno(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Entorno eliminado correctamente"})
}
