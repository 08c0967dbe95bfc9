package push

import (
	"encoding/json"
	"strings"

	"entornos-api-go/internal/apperr"
)

const (
	DefaultIcon = "/favicon/favicon-96x96.png"
	DefaultURL  = "/dashboard"
)

// Payload is the notification shown by the service worker.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	URL   string         `json:"url,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Validate requires a title and a body.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Body) == "" {
		return apperr.New(apperr.InvalidInput, "Título y mensaje son requeridos")
	}
	return nil
}

// WithDefaults fills icon, url and data when absent.
func (p Payload) WithDefaults() Payload {
	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	if p.URL == "" {
		p.URL = DefaultURL
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	return p
}

// Encode returns the wire form sent to every endpoint.
func (p Payload) Encode() ([]byte, error) {
	p = p.WithDefaults()
	// omitempty would drop an empty data object; the service worker expects it.
	return json.Marshal(struct {
		Title string         `json:"title"`
		Body  string         `json:"body"`
		Icon  string         `json:"icon"`
		URL   string         `json:"url"`
		Data  map[string]any `json:"data"`
	}(p))
}
