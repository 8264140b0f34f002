// SPDX-License-Identifier: Apache-2.0

package tablesync

import "context"

// reconcileDeletes implements spec.md §4.6.2: page through the target's
// PK values, ask the source adapter which of them still exist, and
// bulk_delete whatever the source no longer has. Per the cursor-shape
// simplification in §4.4, existence is probed on the first PK column
// only, but the delete itself still matches on the full PK tuple.
func (s *Synchronizer) reconcileDeletes(ctx context.Context, sc *syncCtx) (int64, error) {
	if !sc.row.HasPK || len(sc.row.PKColumns) == 0 {
		return 0, nil
	}
	pkCol := sc.row.PKColumns[0]

	var totalDeleted int64
	offset := 0
	for {
		page, err := s.writer.ReadPKPage(ctx, sc.lowerSchema, sc.table, sc.row.PKColumns, sc.chunkSize, offset)
		if err != nil {
			return totalDeleted, err
		}
		if len(page) == 0 {
			return totalDeleted, nil
		}

		pkValues := make([]string, 0, len(page))
		for _, r := range page {
			if v := r[pkCol]; v != nil {
				pkValues = append(pkValues, *v)
			}
		}

		exists, err := sc.adapter.ExistsInSource(ctx, sc.handle, sc.row.SchemaName, sc.row.TableName, pkCol, pkValues)
		if err != nil {
			return totalDeleted, err
		}

		var missing [][]*string
		for _, r := range page {
			v := r[pkCol]
			if v != nil && exists[*v] {
				continue
			}
			tuple := make([]*string, len(sc.row.PKColumns))
			for i, c := range sc.row.PKColumns {
				tuple[i] = r[c]
			}
			missing = append(missing, tuple)
		}

		if len(missing) > 0 {
			n, err := s.writer.BulkDelete(ctx, sc.lowerSchema, sc.table, sc.row.PKColumns, missing, sc.columnTypes, sc.subBatchSize)
			totalDeleted += n
			if err != nil {
				return totalDeleted, err
			}
		}

		if len(page) < sc.chunkSize {
			return totalDeleted, nil
		}
		offset += sc.chunkSize
	}
}
