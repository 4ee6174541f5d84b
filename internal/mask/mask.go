// Package mask elides identifying parts of chat identifiers in log output.
// Masking is a standing privacy contract: raw chat IDs never reach logs.
package mask

import "strconv"

// ChatID masks a chat identifier, keeping the first and last three digits.
// Short IDs (six characters or fewer) pass through unchanged.
func ChatID(id int64) string {
	s := strconv.FormatInt(id, 10)
	if len(s) <= 6 {
		return s
	}
	return s[:3] + "..." + s[len(s)-3:]
}
