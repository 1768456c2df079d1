//go:build ignore

package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Event struct {
	EventType string
	FileID    string
	TsEvent   time.Time
	Payload   []byte
}

type NavigatedPayload struct {
	NodeID string `json:"node_id"`
	Mode   string `json:"mode"`
}

type AckedPayload struct {
	Acked     int `json:"acked"`
	Remaining int `json:"remaining"`
}

func main() {
	db, err := sql.Open("sqlite3", "deploy/dogfood/histree.db")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT event_type, file_id, ts_event, payload
		FROM events
		WHERE event_type IN ('navigated', 'changes_acknowledged')
		ORDER BY ts_event ASC
	`)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var payloadBytes []byte
		if err := rows.Scan(&evt.EventType, &evt.FileID, &evt.TsEvent, &payloadBytes); err != nil {
			log.Fatal(err)
		}
		evt.Payload = payloadBytes
		events = append(events, evt)
	}

	fmt.Printf("%-10s | %-10s | %-16s | %-8s | %-8s\n",
		"Timestamp", "Type", "File", "Detail", "Depth")
	fmt.Println("--------------------------------------------------------------")

	// Replay the journal to reconstruct each file's pending queue depth:
	// every navigation enqueues one change, every ack drains its count.
	depth := make(map[string]int)
	firstSeen := make(map[string]time.Time)
	lastSeen := make(map[string]time.Time)

	for _, evt := range events {
		tsStr := evt.TsEvent.Format("15:04:05")

		if _, ok := firstSeen[evt.FileID]; !ok {
			firstSeen[evt.FileID] = evt.TsEvent
		}
		lastSeen[evt.FileID] = evt.TsEvent

		switch evt.EventType {
		case "navigated":
			var p NavigatedPayload
			if err := json.Unmarshal(evt.Payload, &p); err != nil {
				continue
			}
			depth[evt.FileID]++
			fmt.Printf("%-10s | %-10s | %-16s | %-8s | %-8d\n",
				tsStr, "NAVIGATE", evt.FileID, p.Mode, depth[evt.FileID])
		case "changes_acknowledged":
			var p AckedPayload
			if err := json.Unmarshal(evt.Payload, &p); err != nil {
				continue
			}
			depth[evt.FileID] -= p.Acked
			// Trust the journaled remaining count when replay disagrees,
			// e.g. when the trail starts mid-run.
			if p.Remaining != depth[evt.FileID] {
				depth[evt.FileID] = p.Remaining
			}
			fmt.Printf("%-10s | %-10s | %-16s | ack %-4d | %-8d\n",
				tsStr, "ACK", evt.FileID, p.Acked, depth[evt.FileID])
		}
	}

	fmt.Println()
	fmt.Printf("%-16s | %-10s | %-12s\n", "File", "Depth", "Growth/min")
	fmt.Println("------------------------------------------")
	for fileID, d := range depth {
		span := lastSeen[fileID].Sub(firstSeen[fileID]).Minutes()
		growth := 0.0
		if span > 0 {
			growth = float64(d) / span
		}
		fmt.Printf("%-16s | %-10d | %-12.2f\n", fileID, d, growth)
	}
}
