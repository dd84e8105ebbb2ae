//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"actiongate/internal/audit"
	"actiongate/pkg/testutil/containers"
)

func TestStoreRoundTripVerifies(t *testing.T) {
	ctx := context.Background()
	store, err := Connect(ctx, containers.NewPostgres(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := audit.NewLog("pg-chain")
	log.MustEmit(ctx, audit.AuthorityGranted{Capability: "FILE_READ", Scope: "studio", TTLMillis: 60000, Source: "explicit"})
	log.MustEmit(ctx, audit.CapabilityGrantsCleared{Count: 1})
	records := log.Records()

	require.NoError(t, store.Write(ctx, records))
	require.NoError(t, store.Write(ctx, records), "retried batch is ignored")

	chains, err := store.ReadChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains["pg-chain"], 2)
	require.NoError(t, audit.VerifyRecords(chains["pg-chain"]))
}
