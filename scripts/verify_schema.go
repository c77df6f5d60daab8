package main

// Verifies a database file carries the expected schema. Useful after
// upgrading a deployment in place.
//
//	DB_PATH=./data/algo.db go run ./scripts/verify_schema.go

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/algo.db"
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	ok := true

	tables := []string{"markets", "accounts", "strategy_configs", "deals", "orders", "system_configs"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err == sql.ErrNoRows {
			fmt.Printf("❌ table %s MISSING\n", table)
			ok = false
			continue
		}
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("✓ table %s exists\n", table)
	}

	// The single-open-deal guarantee lives in a partial unique index.
	var idxSQL string
	err = db.QueryRow(`SELECT sql FROM sqlite_master WHERE type='index' AND name='idx_deals_single_open'`).Scan(&idxSQL)
	if err == sql.ErrNoRows {
		fmt.Println("❌ index idx_deals_single_open MISSING")
		ok = false
	} else if err != nil {
		log.Fatalf("Query failed: %v", err)
	} else if !strings.Contains(idxSQL, "is_active") {
		fmt.Println("❌ idx_deals_single_open is not partial on is_active")
		ok = false
	} else {
		fmt.Println("✓ idx_deals_single_open guards one open deal per slot")
	}

	// Fill merging depends on these order columns.
	var ordersSQL string
	if err := db.QueryRow(`SELECT sql FROM sqlite_master WHERE type='table' AND name='orders'`).Scan(&ordersSQL); err == nil {
		for _, col := range []string{"filled_qty", "avg_fill_price", "exchange_order_id", "role"} {
			if strings.Contains(ordersSQL, col) {
				fmt.Printf("✓ orders.%s present\n", col)
			} else {
				fmt.Printf("❌ orders.%s MISSING\n", col)
				ok = false
			}
		}
	}

	if !ok {
		os.Exit(1)
	}
	fmt.Println("✓ schema OK")
}
