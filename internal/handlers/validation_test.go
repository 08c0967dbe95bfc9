package handlers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"entornos-api-go/internal/apperr"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hola", sanitize("  hola "))
	assert.Equal(t, "scriptalert(1)/script", sanitize("<script>alert(1)</script>"))
	assert.Equal(t, "alert(1)", sanitize("JavaScript:alert(1)"))
	assert.Equal(t, "img alert(1)", sanitize("<img onerror=alert(1)>"))
	assert.Len(t, []rune(sanitize(strings.Repeat("ñ", 1500))), 1000)
}

func TestValidators(t *testing.T) {
	t.Parallel()

	assert.True(t, validEmail("a@b.com"))
	assert.False(t, validEmail("a@b"))
	assert.False(t, validEmail("a b@c.com"))
	assert.False(t, validEmail(strings.Repeat("a", 250)+"@b.com"))

	assert.True(t, validPhone("+5215512345678"))
	assert.True(t, validPhone("5512345678"))
	assert.False(t, validPhone("0123456789"))
	assert.False(t, validPhone("12345"))

	assert.True(t, validPassword("secret1"))
	assert.False(t, validPassword("short"))
	assert.False(t, validPassword("has space"))
	assert.False(t, validPassword(strings.Repeat("x", 129)))

	assert.True(t, validName("José Ángel"))
	assert.True(t, validName("O'Brien-Núñez"))
	assert.False(t, validName("A"))
	assert.False(t, validName("R2D2"))
}

func TestValidateConfiguracion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"null", `null`, ""},
		{"free form", `{"color":"azul"}`, ""},
		{"full schedule", `{"horaInicio":"08:00","horaFin":"9:30","diasSemana":["Lunes","Sábado"],
			"sensores":[{"nombreSensor":"Lámpara","tipoSensor":"LIGHT","valorSensor":80}],
			"playlist":[{"tema":"Lluvia"}]}`, ""},
		{"not an object", `[1,2]`, "La configuración debe ser un objeto"},
		{"bad start", `{"horaInicio":"25:00","horaFin":"26:00"}`, "Hora de inicio inválida. Use formato HH:mm"},
		{"missing end", `{"horaInicio":"08:00"}`, "Hora de fin inválida. Use formato HH:mm"},
		{"end before start", `{"horaInicio":"10:00","horaFin":"09:59"}`, "La hora de fin debe ser posterior a la hora de inicio"},
		{"bad days", `{"diasSemana":["Lunes","Funday","Caturday"]}`, "Días de la semana inválidos: Funday, Caturday"},
		{"sensor without name", `{"sensores":[{"tipoSensor":"FAN","valorSensor":1}]}`, "Sensor 1: nombre del sensor es requerido"},
		{"sensor bad type", `{"sensores":[{"nombreSensor":"x","tipoSensor":"TOASTER","valorSensor":1}]}`, "Sensor 1: tipo de sensor inválido"},
		{"sensor negative", `{"sensores":[{"nombreSensor":"x","tipoSensor":"FAN","valorSensor":-1}]}`, "Sensor 1: valor del sensor debe ser un número positivo"},
		{"playlist without tema", `{"playlist":[{"tema":"a"},{"tema":" "}]}`, "Playlist item 2: tema es requerido"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validateConfiguracion(json.RawMessage(tt.raw))
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
			assert.Equal(t, tt.want, apperr.Message(err))
		})
	}
}
