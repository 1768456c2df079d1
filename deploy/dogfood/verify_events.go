package main

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	db, err := sql.Open("sqlite3", "deploy/dogfood/histree.db")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	var total int
	err = db.QueryRow("SELECT count(*) FROM events").Scan(&total)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Total events: %d\n", total)

	types := []string{"graph_initialized", "node_created", "navigated", "changes_acknowledged", "ack_rejected"}
	for _, et := range types {
		var n int
		if err := db.QueryRow("SELECT count(*) FROM events WHERE event_type = ?", et).Scan(&n); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("  %-22s %d\n", et, n)
	}

	var cursor string
	err = db.QueryRow("SELECT value FROM system_state WHERE key = 'rollup_hwm_ts'").Scan(&cursor)
	switch {
	case err == sql.ErrNoRows:
		fmt.Println("Rollup cursor: not set (rollup worker has not run)")
	case err != nil:
		log.Fatal(err)
	default:
		fmt.Printf("Rollup cursor: %s\n", cursor)
	}

	var buckets int
	if err := db.QueryRow("SELECT count(*) FROM activity_stats").Scan(&buckets); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Rollup buckets: %d\n", buckets)
}
