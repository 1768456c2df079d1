package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/histree-io/histree/pkg/simulation"
)

// maxScenarioDuration bounds synchronous scenario runs so a request cannot
// hold a connection open indefinitely.
const maxScenarioDuration = 60 * time.Second

// handleSimulation runs a load scenario against this daemon's own API and
// returns the full result, invariant verdicts included. The run is
// synchronous: the response arrives when the scenario finishes.
func (s *Server) handleSimulation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var scenario simulation.Scenario
	if err := decodeBody(w, r, &scenario); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}

	if scenario.Duration <= 0 {
		http.Error(w, `{"error":"missing_duration"}`, http.StatusBadRequest)
		return
	}
	if scenario.Duration > maxScenarioDuration {
		http.Error(w, `{"error":"scenario_too_long","max_seconds":60}`, http.StatusBadRequest)
		return
	}

	// The scenario outlives the server's write timeout, so lift the
	// deadline for this response only.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Warn("could not clear write deadline", "trace_id", getTraceID(r.Context()), "error", err)
	}

	// Determine local API URL
	// s.server.Addr is typically ":8091" or "127.0.0.1:8091"
	port := "8091" // default
	if s.server != nil && s.server.Addr != "" {
		parts := strings.Split(s.server.Addr, ":")
		if len(parts) > 1 && parts[len(parts)-1] != "" {
			port = parts[len(parts)-1]
		}
	}

	// Agents loop back into this server over localhost.
	apiURL := fmt.Sprintf("http://127.0.0.1:%s", port)

	slog.Info("simulation starting",
		"trace_id", getTraceID(r.Context()),
		"scenario", scenario.Name,
		"duration", scenario.Duration.String())

	result := simulation.RunScenario(scenario, apiURL)

	writeJSON(w, r, http.StatusOK, result)
}
