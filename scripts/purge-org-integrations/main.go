// purge-org-integrations removes integration records for one organization.
//
// Use it when stored credentials can no longer be opened (CREDENTIALS_KEY was
// rotated or lost) or to reset a test organization. Records are matched by org
// and optionally narrowed by provider or by the fingerprint of the key that
// sealed them.
//
// Usage: go run ./scripts/purge-org-integrations [flags] <org-id>
//
// Database connection: Uses standard PG* environment variables
//
// Flags:
//
//	-dry-run      Show what would be deleted without actually deleting (default: true)
//	-provider     Only purge this provider id
//	-key-id       Only purge records sealed with this credentials key fingerprint
//	-reset-setup  Also delete the organization's setup status row
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type filter struct {
	orgID      uuid.UUID
	providerID string
	keyID      string
}

func main() {
	dryRun := flag.Bool("dry-run", true, "Show what would be deleted without actually deleting")
	providerID := flag.String("provider", "", "Only purge this provider id")
	keyID := flag.String("key-id", "", "Only purge records sealed with this credentials key fingerprint")
	resetSetup := flag.Bool("reset-setup", false, "Also delete the organization's setup status row")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-dry-run=false] [-provider id] [-key-id fp] [-reset-setup] <org-id>\n", os.Args[0])
		os.Exit(1)
	}

	orgID, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid org ID: %v\n", err)
		os.Exit(1)
	}
	f := filter{orgID: orgID, providerID: *providerID, keyID: *keyID}

	ctx := context.Background()

	conn, err := pgx.Connect(ctx, buildConnString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	// Set RLS context for the organization
	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_org_id', $1, false)", orgID.String()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set RLS context: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		fmt.Println("DRY RUN - no changes will be made")
		fmt.Println("Run with -dry-run=false to actually delete records")
		fmt.Println()
	}

	count, err := purgeIntegrations(ctx, conn, f, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error purging integrations: %v\n", err)
		os.Exit(1)
	}

	if *resetSetup {
		if *dryRun {
			fmt.Println("Setup status row would be deleted")
		} else if _, err := conn.Exec(ctx, `DELETE FROM engine_setup_status WHERE org_id = $1`, orgID); err != nil {
			fmt.Fprintf(os.Stderr, "Error resetting setup status: %v\n", err)
			os.Exit(1)
		} else {
			fmt.Println("Setup status reset")
		}
	}

	if *dryRun {
		fmt.Printf("\nTotal integrations that would be deleted: %d\n", count)
	} else {
		fmt.Printf("\nTotal integrations deleted: %d\n", count)
	}
}

// purgeIntegrations deletes the matching integration records.
// If dryRun is true, it only lists them.
func purgeIntegrations(ctx context.Context, conn *pgx.Conn, f filter, dryRun bool) (int, error) {
	const where = `
		WHERE org_id = $1
		  AND ($2 = '' OR provider_id = $2)
		  AND ($3 = '' OR credentials_key_id = $3)`

	if dryRun {
		rows, err := conn.Query(ctx, `
			SELECT provider_id, is_configured, byok_enabled, sync_status,
			       COALESCE(credentials_key_id, ''), last_sync_at
			FROM engine_integrations`+where+`
			ORDER BY provider_id`, f.orgID, f.providerID, f.keyID)
		if err != nil {
			return 0, fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()

		var count int
		for rows.Next() {
			var provider, syncStatus, keyID string
			var configured, byok bool
			var lastSync *time.Time
			if err := rows.Scan(&provider, &configured, &byok, &syncStatus, &keyID, &lastSync); err != nil {
				return 0, fmt.Errorf("scan failed: %w", err)
			}
			count++
			fmt.Printf("  %-16s configured=%-5t byok=%-5t sync=%-8s key=%s last_sync=%s\n",
				provider, configured, byok, syncStatus, keyID, formatTime(lastSync))
		}
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("rows iteration failed: %w", err)
		}

		if count == 0 {
			fmt.Println("  No matching integrations")
		}
		return count, nil
	}

	result, err := conn.Exec(ctx, `DELETE FROM engine_integrations`+where, f.orgID, f.providerID, f.keyID)
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}

	count := int(result.RowsAffected())
	fmt.Printf("Deleted %d integrations\n", count)
	return count, nil
}

func buildConnString() string {
	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "ekaya")
	password := os.Getenv("PGPASSWORD")
	dbname := getEnvOrDefault("PGDATABASE", "ekaya_connect")

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
	if password != "" {
		connStr += fmt.Sprintf(" password=%s", password)
	}
	return connStr
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
