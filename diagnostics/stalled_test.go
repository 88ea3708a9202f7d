package diagnostics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteCSVAndParquet(t *testing.T) {
	rows := []StalledRow{
		{
			GovernorID:     "11111111-1111-1111-1111-111111111111",
			DAOSlug:        "arbitrum",
			Variant:        "arb_core",
			Chain:          "arbitrum",
			Address:        "0xf07DeD9dC292157749B6Fd268E37DF6EA38395B9",
			Cursor:         98_424_027,
			Speed:          1,
			MinSpeed:       1,
			MaxSpeed:       10_000_000,
			UpdatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			StalledMinutes: 1440,
		},
	}

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "stalled.csv")
	require.NoError(t, writeCSV(csvPath, rows))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "arbitrum")
	require.Contains(t, string(data), "98424027")

	parquetPath := filepath.Join(dir, "stalled.parquet")
	require.NoError(t, writeParquet(parquetPath, rows))
	info, err := os.Stat(parquetPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestEmptyStalledRowSliceIsEmpty(t *testing.T) {
	require.Empty(t, []StalledRow{})
}
