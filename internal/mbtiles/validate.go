package mbtiles

import (
	"fmt"

	"github.com/tileserv/tileserv/internal/tileerr"
)

// CheckLevel selects how much of SQLite's own consistency checking
// validate runs.
type CheckLevel int

const (
	CheckQuick CheckLevel = iota
	CheckFull
)

// HashMode selects whether validate also recomputes and compares
// agg_tiles_hash.
type HashMode int

const (
	HashSkip HashMode = iota
	HashVerify
)

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	SqliteOK     bool
	SqliteIssue  string
	HashOK       bool // true if HashMode was HashSkip, no agg_tiles_hash is stored, or hashes matched
	StoredHash   string
	ComputedHash string
}

// Validate runs PRAGMA integrity_check or quick_check, optionally
// followed by an agg_tiles_hash recompute-and-compare.
func Validate(path string, check CheckLevel, hashMode HashMode) (ValidationReport, error) {
	h, err := Open(path, nil)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer h.Close()

	report := ValidationReport{HashOK: true}

	pragma := "PRAGMA quick_check"
	if check == CheckFull {
		pragma = "PRAGMA integrity_check"
	}
	rows, err := h.db.Query(pragma)
	if err != nil {
		return ValidationReport{}, &tileerr.CorruptFile{Path: path, Cause: err}
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return ValidationReport{}, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return ValidationReport{}, err
	}

	report.SqliteOK = len(lines) == 1 && lines[0] == "ok"
	if !report.SqliteOK && len(lines) > 0 {
		report.SqliteIssue = lines[0]
	}

	if hashMode == HashVerify {
		stored, ok, err := ReadMetadataValue(h.db, AggTilesHashKey)
		if err != nil {
			return ValidationReport{}, err
		}
		report.StoredHash = stored

		computed, err := ComputeAggHash(h.db, h.Schema)
		if err != nil {
			return ValidationReport{}, err
		}
		report.ComputedHash = computed
		report.HashOK = !ok || stored == computed
	}

	return report, nil
}
