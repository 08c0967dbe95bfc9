package models

import (
	"encoding/json"
	"time"
)

// Entorno is a named schedule of sensor/actuator settings owned by a user.
type Entorno struct {
	ID            string          `json:"id"`
	UsuarioID     string          `json:"usuario"`
	Nombre        string          `json:"nombre"`
	Estado        bool            `json:"estado"`
	Configuracion json.RawMessage `json:"configuracion,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
