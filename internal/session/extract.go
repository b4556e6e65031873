package session

import "time"

// ExtractUsageRows builds one row per distinct usage-bearing message id.
// A repeated id keeps the position of its first occurrence and the values of
// its last one. Rows without a parseable timestamp use mtime.
func ExtractUsageRows(f *File, mtime time.Time) []UsageRow {
	if f == nil {
		return nil
	}

	index := make(map[string]int)
	rows := make([]UsageRow, 0, len(f.Messages)/2)
	for _, raw := range f.Messages {
		msg, ok := ParseUsageMessage(raw)
		if !ok {
			continue
		}

		row := UsageRow{
			SessionID:        f.SessionID,
			ProviderID:       ProviderID,
			ModelID:          msg.Model,
			Tokens:           TokensFor(msg.Tokens),
			Timestamp:        ParseTimestamp(msg.Timestamp, mtime),
			SessionUpdatedAt: mtime,
		}

		if i, seen := index[msg.ID]; seen {
			rows[i] = row
			continue
		}
		index[msg.ID] = len(rows)
		rows = append(rows, row)
	}
	return rows
}
