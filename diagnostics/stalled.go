// Package diagnostics exports the "stalled governor" report described in
// SPEC_FULL.md's C7 (ops/diagnostics): a CSV+Parquet snapshot of every
// governor whose adaptive speed has decayed to its floor and whose cursor
// has stopped advancing, the signal spec.md §7 says downstream dashboards
// use to surface a source as "stalled". Grounded on
// services/otc-gateway/recon/reconciler.go's writeReportFiles/writeCSV/
// writeParquet trio, adapted from per-branch settlement rows to
// per-governor indexing-health rows.
package diagnostics

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"governanceagg/store"
)

// StalledRow is one governor's indexing-health snapshot.
type StalledRow struct {
	GovernorID     string
	DAOSlug        string
	Variant        string
	Chain          string
	Address        string
	Cursor         int64
	Speed          uint64
	MinSpeed       uint64
	MaxSpeed       uint64
	UpdatedAt      time.Time
	StalledMinutes float64
}

// Report is the result of one export run.
type Report struct {
	Rows        []StalledRow
	CSVPath     string
	ParquetPath string
}

// FindStalled selects every enabled governor whose speed has decayed to its
// configured floor and whose updated_at has not advanced within threshold,
// the two symptoms spec.md §7 names together as "stalled".
func FindStalled(ctx context.Context, db *gorm.DB, threshold time.Duration) ([]StalledRow, error) {
	cutoff := time.Now().Add(-threshold)

	var governors []store.Governor
	if err := db.WithContext(ctx).
		Where("enabled = ? AND speed = min_speed AND updated_at < ?", true, cutoff).
		Find(&governors).Error; err != nil {
		return nil, fmt.Errorf("diagnostics: query stalled governors: %w", err)
	}
	if len(governors) == 0 {
		return nil, nil
	}

	daoIDs := make([]interface{}, 0, len(governors))
	seen := make(map[string]bool, len(governors))
	for _, g := range governors {
		id := g.DAOID.String()
		if !seen[id] {
			seen[id] = true
			daoIDs = append(daoIDs, g.DAOID)
		}
	}
	var daos []store.DAO
	if err := db.WithContext(ctx).Where("id IN ?", daoIDs).Find(&daos).Error; err != nil {
		return nil, fmt.Errorf("diagnostics: load daos for stalled governors: %w", err)
	}
	slugByID := make(map[string]string, len(daos))
	for _, d := range daos {
		slugByID[d.ID.String()] = d.Slug
	}

	now := time.Now()
	rows := make([]StalledRow, 0, len(governors))
	for _, g := range governors {
		rows = append(rows, StalledRow{
			GovernorID:     g.ID.String(),
			DAOSlug:        slugByID[g.DAOID.String()],
			Variant:        string(g.Variant),
			Chain:          g.Chain,
			Address:        g.Address,
			Cursor:         g.Cursor,
			Speed:          g.Speed,
			MinSpeed:       g.MinSpeed,
			MaxSpeed:       g.MaxSpeed,
			UpdatedAt:      g.UpdatedAt,
			StalledMinutes: now.Sub(g.UpdatedAt).Minutes(),
		})
	}
	return rows, nil
}

// Export writes the stalled-governor rows to timestamped CSV and Parquet
// files under outputDir, mirroring writeReportFiles' two-artefact shape. A
// nil Report (no stalled governors) is not an error.
func Export(ctx context.Context, db *gorm.DB, outputDir string, threshold time.Duration) (*Report, error) {
	rows, err := FindStalled(ctx, db, threshold)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("diagnostics: ensure output dir: %w", err)
	}
	stamp := rows[0].UpdatedAt.UTC()
	filename := fmt.Sprintf("stalled_governors_%s", stamp.Format("20060102_150405"))

	csvPath := filepath.Join(outputDir, filename+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return nil, err
	}
	parquetPath := filepath.Join(outputDir, filename+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return nil, err
	}

	return &Report{Rows: rows, CSVPath: csvPath, ParquetPath: parquetPath}, nil
}

func writeCSV(path string, rows []StalledRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("diagnostics: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{
		"governor_id", "dao_slug", "variant", "chain", "address",
		"cursor", "speed", "min_speed", "max_speed", "updated_at", "stalled_minutes",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("diagnostics: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.GovernorID,
			row.DAOSlug,
			row.Variant,
			row.Chain,
			row.Address,
			fmt.Sprintf("%d", row.Cursor),
			fmt.Sprintf("%d", row.Speed),
			fmt.Sprintf("%d", row.MinSpeed),
			fmt.Sprintf("%d", row.MaxSpeed),
			row.UpdatedAt.Format(time.RFC3339),
			fmt.Sprintf("%.2f", row.StalledMinutes),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("diagnostics: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("diagnostics: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	GovernorID     string  `parquet:"name=governor_id, type=UTF8"`
	DAOSlug        string  `parquet:"name=dao_slug, type=UTF8"`
	Variant        string  `parquet:"name=variant, type=UTF8"`
	Chain          string  `parquet:"name=chain, type=UTF8"`
	Address        string  `parquet:"name=address, type=UTF8"`
	Cursor         int64   `parquet:"name=cursor, type=INT64"`
	Speed          int64   `parquet:"name=speed, type=INT64"`
	MinSpeed       int64   `parquet:"name=min_speed, type=INT64"`
	MaxSpeed       int64   `parquet:"name=max_speed, type=INT64"`
	UpdatedAt      string  `parquet:"name=updated_at, type=UTF8"`
	StalledMinutes float64 `parquet:"name=stalled_minutes, type=DOUBLE"`
}

func writeParquet(path string, rows []StalledRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("diagnostics: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("diagnostics: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			GovernorID:     row.GovernorID,
			DAOSlug:        row.DAOSlug,
			Variant:        row.Variant,
			Chain:          row.Chain,
			Address:        row.Address,
			Cursor:         row.Cursor,
			Speed:          int64(row.Speed),
			MinSpeed:       int64(row.MinSpeed),
			MaxSpeed:       int64(row.MaxSpeed),
			UpdatedAt:      row.UpdatedAt.Format(time.RFC3339),
			StalledMinutes: row.StalledMinutes,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("diagnostics: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("diagnostics: parquet flush: %w", err)
	}
	return file.Close()
}
