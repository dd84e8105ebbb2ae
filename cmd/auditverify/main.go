// Command auditverify recomputes persisted audit chains offline and prints
// an integrity certificate per chain.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"actiongate/internal/audit"
	"actiongate/internal/audit/sink/jsonl"
	"actiongate/internal/audit/sink/postgres"
	"actiongate/internal/audit/sink/sqlite"
	"actiongate/internal/integrity"
)

func main() {
	var (
		sqlitePath  = flag.String("sqlite", "", "path to an audit sqlite database")
		jsonlPath   = flag.String("jsonl", "", "path to an audit jsonl file")
		postgresDSN = flag.String("postgres", "", "postgres DSN holding audit_records")
		chainID     = flag.String("chain", "", "verify only this chain")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	chains, err := load(ctx, *sqlitePath, *jsonlPath, *postgresDSN)
	var report Report
	if err != nil {
		report = Report{Status: integrity.StatusDegraded, Detail: err.Error()}
	} else {
		report = Verify(chains, *chainID, time.Now())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	os.Exit(report.ExitCode())
}

func load(ctx context.Context, sqlitePath, jsonlPath, postgresDSN string) (map[string][]audit.Record, error) {
	set := 0
	for _, v := range []string{sqlitePath, jsonlPath, postgresDSN} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of --sqlite, --jsonl or --postgres is required")
	}

	switch {
	case jsonlPath != "":
		return jsonl.ReadChains(jsonlPath)
	case sqlitePath != "":
		store, err := sqlite.Open(ctx, sqlitePath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = store.Close() }()
		return store.ReadChains(ctx)
	default:
		store, err := postgres.Connect(ctx, postgresDSN)
		if err != nil {
			return nil, err
		}
		defer func() { _ = store.Close() }()
		return store.ReadChains(ctx)
	}
}
