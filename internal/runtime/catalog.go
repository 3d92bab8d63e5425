package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/flowbus/internal/runtime/jsoncodec"
	schemapkg "github.com/drblury/flowbus/internal/runtime/schema"
)

const defaultCatalogPort = 8081

// CatalogEntry is the JSON shape served for one registered event.
type CatalogEntry struct {
	Name        string         `json:"name"`
	Channel     string         `json:"channel,omitempty"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

func (ps *PubSub) registerCatalogEndpoints() {
	if !ps.Conf.CatalogEnabled {
		return
	}

	port := ps.Conf.CatalogPort
	if port == 0 {
		port = defaultCatalogPort
	}

	ps.RegisterHTTPHandler(port, "/api/events", http.HandlerFunc(ps.handleGetEvents))
	ps.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(ps.handleGetHandlers))
	ps.RegisterHTTPHandler(port, "/api/protocol", http.HandlerFunc(ps.handleGetProtocol))
}

// CatalogEntries returns the registry contents in the catalog's JSON shape.
func (ps *PubSub) CatalogEntries() []CatalogEntry {
	defs := ps.Registry.Definitions()
	entries := make([]CatalogEntry, 0, len(defs))
	for _, def := range defs {
		entry := CatalogEntry{
			Name:        def.Name,
			Channel:     def.Channel,
			Description: def.Description,
		}
		if describer, ok := def.Schema.(schemapkg.Describer); ok {
			entry.Schema = describer.Describe()
		}
		entries = append(entries, entry)
	}
	return entries
}

// ProtocolDocument renders the registry as a machine-readable protocol
// description, loosely following the AsyncAPI layout.
func (ps *PubSub) ProtocolDocument() map[string]any {
	channels := make(map[string]any)
	messages := make(map[string]any)

	for _, def := range ps.Registry.Definitions() {
		channel := def.Channel
		if channel == "" {
			channel = def.Name
		}

		msg := map[string]any{"name": def.Name}
		if def.Description != "" {
			msg["description"] = def.Description
		}
		if describer, ok := def.Schema.(schemapkg.Describer); ok {
			msg["payload"] = describer.Describe()
		}
		messages[def.Name] = msg

		channels[channel] = map[string]any{
			"messages": map[string]any{
				def.Name: map[string]any{"$ref": "#/components/messages/" + def.Name},
			},
		}
	}

	return map[string]any{
		"info": map[string]any{
			"title":     "flowbus event catalog",
			"transport": ps.Conf.PubSubSystem,
		},
		"channels": channels,
		"components": map[string]any{
			"messages": messages,
		},
	}
}

func (ps *PubSub) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if done := ps.beginCatalogResponse(w, r); done {
		return
	}
	ps.writeCatalogJSON(w, ps.CatalogEntries())
}

func (ps *PubSub) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if done := ps.beginCatalogResponse(w, r); done {
		return
	}
	ps.writeCatalogJSON(w, ps.Subscriber.Stats().Snapshot())
}

func (ps *PubSub) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	if done := ps.beginCatalogResponse(w, r); done {
		return
	}
	ps.writeCatalogJSON(w, ps.ProtocolDocument())
}

// beginCatalogResponse sets content-type and CORS headers and answers
// preflight requests. It reports true when the request is fully handled.
func (ps *PubSub) beginCatalogResponse(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if len(ps.Conf.CatalogCORSAllowedOrigins) > 0 {
		origin := ps.allowedCORSOrigin(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (ps *PubSub) writeCatalogJSON(w http.ResponseWriter, value any) {
	if err := jsoncodec.Encode(w, value); err != nil {
		ps.Logger.Error("Failed to encode catalog response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedCORSOrigin checks if the request origin is allowed and returns the
// appropriate Access-Control-Allow-Origin value.
func (ps *PubSub) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range ps.Conf.CatalogCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
