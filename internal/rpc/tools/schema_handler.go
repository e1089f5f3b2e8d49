package tools

import (
	"encoding/json"
	"net/http"

	"github.com/deskpilot/deskpilot/internal/tools"
)

// SchemaHandler serves the tools offered to the model. With ?format=provider the
// JSON-schema rendering sent to the provider is returned instead of the field list.
type SchemaHandler struct {
	Registry *tools.Registry
}

// ServeHTTP renders schemas.
func (h SchemaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body any = h.Registry.Schemas()
	switch r.URL.Query().Get("format") {
	case "", "fields":
	case "provider":
		body = h.Registry.ToolSchemas()
	default:
		http.Error(w, "format must be fields or provider", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
