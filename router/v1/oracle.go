// Package v1 is the thin HTTP/WebSocket collaborator in front of the
// Aggregator Engine: it only translates requests into calls against the
// Engine's public surface and JSON-encodes the result, never touching
// Engine internals (spec §6.3).
package v1

import (
	"encoding/json"
	"net/http"
	"strconv"

	"price-oracle/oracle"
	"price-oracle/oracle/types"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// APIPathPrefix is mounted in front of every route this router registers.
const APIPathPrefix = "/api/v1"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router wires the Engine into gorilla/mux routes and a websocket upgrade
// endpoint.
type Router struct {
	logger zerolog.Logger
	engine *oracle.Engine
}

// New returns a Router serving engine's public surface.
func New(logger zerolog.Logger, engine *oracle.Engine) *Router {
	return &Router{
		logger: logger.With().Str("module", "router").Logger(),
		engine: engine,
	}
}

// RegisterRoutes mounts every route under prefix on r.
func (rt *Router) RegisterRoutes(r *mux.Router, prefix string) {
	sub := r.PathPrefix(prefix).Subrouter()
	sub.HandleFunc("/prices/{symbol}", rt.handleGetPrice).Methods(http.MethodGet)
	sub.HandleFunc("/health", rt.handleGetHealth).Methods(http.MethodGet)
	sub.HandleFunc("/health/symbols", rt.handleGetSymbolHealth).Methods(http.MethodGet)
	sub.HandleFunc("/manipulation/{symbol}", rt.handleGetManipulationReport).Methods(http.MethodGet)
	sub.HandleFunc("/ws", rt.handleWebsocket)
}

func (rt *Router) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := types.Symbol(mux.Vars(r)["symbol"])

	price, err := rt.engine.GetValidatedPrice(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (rt *Router) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.engine.GetSystemHealth(r.Context()))
}

func (rt *Router) handleGetSymbolHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.engine.GetHealthStatus())
}

func (rt *Router) handleGetManipulationReport(w http.ResponseWriter, r *http.Request) {
	symbol := types.Symbol(mux.Vars(r)["symbol"])

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		hours = parsed
	}

	writeJSON(w, http.StatusOK, rt.engine.GetManipulationReport(symbol, hours))
}

// handleWebsocket upgrades the connection then streams every broadcast
// PriceUpdate as a {"type":"price_update","data":...} envelope until the
// client disconnects.
func (rt *Router) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := rt.engine.Subscribe()
	defer rt.engine.Unsubscribe(sub)

	for update := range sub {
		envelope := map[string]interface{}{
			"type": "price_update",
			"data": update,
		}
		if err := conn.WriteJSON(envelope); err != nil {
			rt.logger.Debug().Err(err).Msg("websocket client disconnected")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
