package mbtiles

import (
	"fmt"
	"math"
)

// bboxToTileRangeSQL renders a WGS84 BBox as a SQL predicate bounding the
// tile_column/tile_row range it covers, evaluated per-row against that
// row's own zoom level via zCol. Tile indices are computed with the
// standard Web Mercator tile formula (n = 2^z); since SQLite supports
// integer left-shift, "1 << zCol" stands in for 2^z without needing a
// per-zoom CASE expansion. Storage is TMS, so a
// south/low-latitude edge maps to a *smaller* tile_row than a
// north/high-latitude edge — the opposite of XYZ.
func bboxToTileRangeSQL(b BBox, zCol string) string {
	minLon, minLat, maxLon, maxLat := b[0], b[1], b[2], b[3]

	colLo := lonToColExpr(minLon, zCol)
	colHi := lonToColExpr(maxLon, zCol)
	rowLo := latToTMSRowExpr(minLat, zCol)
	rowHi := latToTMSRowExpr(maxLat, zCol)

	return fmt.Sprintf(
		`(%s BETWEEN CAST(%s AS INTEGER) AND CAST(%s AS INTEGER)
		  AND %s BETWEEN CAST(%s AS INTEGER) AND CAST(%s AS INTEGER))`,
		"tile_column", colLo, colHi, "tile_row", rowLo, rowHi)
}

func lonToColExpr(lon float64, zCol string) string {
	frac := (lon + 180.0) / 360.0
	return fmt.Sprintf("%g * (1 << %s)", frac, zCol)
}

// latToTMSRowExpr converts a latitude to its XYZ row fraction, then
// flips it to TMS: tms_row = 2^z - 1 - xyz_row, which after truncation
// is the integer part of (1-frac') * 2^z where frac' is the XYZ fraction.
func latToTMSRowExpr(lat float64, zCol string) string {
	latRad := lat * math.Pi / 180.0
	n := math.Log(math.Tan(latRad) + 1/math.Cos(latRad))
	xyzFrac := (1.0 - n/math.Pi) / 2.0
	tmsFrac := 1.0 - xyzFrac
	return fmt.Sprintf("%g * (1 << %s)", tmsFrac, zCol)
}
