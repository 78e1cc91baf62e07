package migration

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/smallbiznis/promptmart/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
)

func TestSourceListsEveryVersion(t *testing.T) {
	source, err := Source()
	require.NoError(t, err)
	defer source.Close()

	first, err := source.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)

	versions := []uint{first}
	for v := first; ; {
		next, err := source.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		require.NoError(t, err)
		versions = append(versions, next)
		v = next
	}
	require.Equal(t, []uint{1, 2, 3}, versions)

	for _, v := range versions {
		up, _, err := source.ReadUp(v)
		require.NoError(t, err)
		_ = up.Close()
		down, _, err := source.ReadDown(v)
		require.NoError(t, err)
		_ = down.Close()
	}
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{
		"ledger_accounts",
		"ledger_transactions",
		"listings",
		"orders",
		"licenses",
		"purchase_attempts",
		"payment_events",
		"payout_destinations",
		"payout_watermarks",
		"payout_batches",
		"payout_entries",
	} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}
}
