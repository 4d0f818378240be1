package repository

import (
	"path/filepath"
	"strings"

	domrepo "FinCast/internal/domain/repository"
)

// NewTableStore picks the encoding from the file extension: ".parquet"
// selects Parquet, anything else CSV in the given layout.
func NewTableStore(path string, layout Layout) domrepo.TableStore {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return NewParquetTable(path)
	}
	return NewCSVTable(path, layout)
}
