// Package main is a diagnostic tool for the memberships table. It prints
// active and inactive counts per tenant, then lists emails and identities that
// are active in more than one tenant and identities whose rows disagree on the
// email address. The reconciler is supposed to prevent all three. It exits
// non-zero when any are found so it can gate a deployment step.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/db"
	"github.com/learnhub/membership-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	fmt.Println("=== MEMBERSHIPS BY TENANT ===")
	rows, err := database.Query(`
		SELECT tenant_id,
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE NOT is_active)
		FROM memberships
		GROUP BY tenant_id
		ORDER BY tenant_id`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for rows.Next() {
		var tenantID string
		var active, inactive int
		if err := rows.Scan(&tenantID, &active, &inactive); err != nil {
			log.Printf("Warning: failed to scan tenant row: %v", err)
			continue
		}
		fmt.Printf("Tenant %s: %d active, %d inactive\n", tenantID, active, inactive)
	}
	rows.Close()

	problems := 0
	problems += report(database, "EMAILS ACTIVE IN SEVERAL TENANTS", `
		SELECT email, COUNT(*)
		FROM memberships
		WHERE is_active
		GROUP BY email
		HAVING COUNT(*) > 1`, "active in %d tenants")
	problems += report(database, "IDENTITIES ACTIVE IN SEVERAL TENANTS", `
		SELECT MIN(email), COUNT(*)
		FROM memberships
		WHERE is_active
		GROUP BY identity_id
		HAVING COUNT(*) > 1`, "identity active in %d tenants")
	problems += report(database, "IDENTITIES WITH DIVERGING MEMBERSHIP EMAILS", `
		SELECT MIN(email), COUNT(DISTINCT email)
		FROM memberships
		GROUP BY identity_id
		HAVING COUNT(DISTINCT email) > 1`, "identity rows carry %d different emails")

	if problems == 0 {
		return
	}
	database.Close()
	os.Exit(1)
}

// report prints one section and returns the number of offending rows. Each row
// is an email and a count; emails are printed masked.
func report(database *sql.DB, title, query, format string) int {
	fmt.Printf("\n=== %s ===\n", title)
	rows, err := database.Query(query)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var email string
		var n int
		if err := rows.Scan(&email, &n); err != nil {
			log.Printf("Warning: failed to scan row: %v", err)
			continue
		}
		fmt.Printf("%s %s\n", telemetry.MaskEmail(email), fmt.Sprintf(format, n))
		count++
	}
	if count == 0 {
		fmt.Println("None")
	}
	return count
}
