package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rebind converts a query written with "?" placeholders (sqlite's native
// style) into the driver's actual placeholder syntax. Postgres needs
// "$1", "$2", ... in positional order; sqlite accepts "?" as-is.
func (db *DB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
