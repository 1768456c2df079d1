package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/histree-io/histree/pkg/simulation"
)

func main() {
	var (
		scenarioFile string
		apiURL       string
		jsonOutput   bool
		outputFile   string
	)

	flag.StringVar(&scenarioFile, "scenario", "", "Path to scenario JSON file")
	flag.StringVar(&apiURL, "api", "http://127.0.0.1:8091", "Base URL of histree-d API")
	flag.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flag.StringVar(&outputFile, "out", "", "Write output to file instead of stdout")
	flag.Parse()

	var scenario simulation.Scenario

	if scenarioFile != "" {
		data, err := os.ReadFile(scenarioFile)
		if err != nil {
			log.Fatalf("Failed to read scenario file: %v", err)
		}
		if err := json.Unmarshal(data, &scenario); err != nil {
			log.Fatalf("Failed to parse scenario file: %v", err)
		}
	} else {
		// Default Scenario
		fmt.Fprintln(os.Stderr, "No scenario file provided, running default demo scenario...")
		scenario = simulation.Scenario{
			Name:        "Default Demo",
			Description: "Authors, a navigator and an editor sharing one file",
			Duration:    10 * time.Second,
			Files:       []string{"demo.txt"},
			Agents: []simulation.AgentConfig{
				{
					Name:     "author",
					Count:    2,
					Role:     simulation.RoleAuthor,
					Behavior: simulation.BehaviorPeriodic,
					Rate:     4,
				},
				{
					Name:     "navigator",
					Count:    1,
					Role:     simulation.RoleNavigator,
					Behavior: simulation.BehaviorPoisson,
					Rate:     2,
				},
				{
					Name:     "editor",
					Count:    1,
					Role:     simulation.RoleEditor,
					Behavior: simulation.BehaviorPeriodic,
					Rate:     2,
				},
			},
			Invariants: []simulation.Invariant{
				{Metric: "nodes_created", Condition: ">=", Value: 1, Scope: "global"},
				{Metric: "error_rate", Condition: "<=", Value: 0.05, Scope: "global"},
			},
		}
	}

	result := simulation.RunScenario(scenario, apiURL)

	writeReport(result, jsonOutput, outputFile)

	if !result.Success {
		os.Exit(1)
	}
}

func writeReport(res simulation.SimulationResult, jsonFmt bool, filePath string) {
	var output []byte
	var err error

	if jsonFmt {
		output, err = json.MarshalIndent(res, "", "  ")
	} else {
		var buf bytes.Buffer
		buf.WriteString(fmt.Sprintf("\n--- Simulation Report: %s ---\n", res.ScenarioName))
		buf.WriteString(fmt.Sprintf("Duration: %s\n", res.Duration))
		buf.WriteString(fmt.Sprintf("Requests: %d | Created: %d | Navigated: %d | Acked: %d | Errors: %d\n",
			res.TotalRequests,
			res.TotalCreated,
			res.TotalNavigated,
			res.TotalAcked,
			res.TotalErrors))
		buf.WriteString(fmt.Sprintf("Pending remaining: %d\n", res.PendingRemaining))

		if len(res.Invariants) > 0 {
			buf.WriteString("\nInvariants:\n")
			for _, inv := range res.Invariants {
				status := "FAIL"
				if inv.Passed {
					status = "PASS"
				}
				buf.WriteString(fmt.Sprintf("[%s] %s (%s): Expected %s, Got %s\n", status, inv.Metric, inv.Scope, inv.Expected, inv.Actual))
			}
		}
		output = buf.Bytes()
	}

	if err != nil {
		log.Fatalf("Failed to marshal report: %v", err)
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			log.Fatalf("Failed to write report to %s: %v", filePath, err)
		}
		fmt.Printf("Report written to %s\n", filePath)
	} else {
		fmt.Println(string(output))
	}
}
