package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
)

type (
	uniqueDef struct {
		name    string
		columns []string
	}

	// MissingEmailConstraint is returned when the identities table exists
	// without a unique index on the normalized email.
	MissingEmailConstraint struct {
		Table string
	}
)

func (m MissingEmailConstraint) Error() string {
	return fmt.Sprintf("table %v has no unique index on email_key, refusing to use it", m.Table)
}

// verifySchema checks that a pre-existing table still carries the unique
// index the store relies on to resolve concurrent signups. A partial or
// composite index does not count.
func verifySchema(ctx context.Context, db *sql.DB) error {
	uniques, err := loadUniqueDefs(ctx, db, "identities")
	if err != nil {
		return fmt.Errorf("unable to inspect identities schema, cause %w", err)
	}
	for _, u := range uniques {
		if reflect.DeepEqual(u.columns, []string{"email_key"}) {
			return nil
		}
	}
	return MissingEmailConstraint{Table: "identities"}
}

// loadUniqueDefs lists the full (non partial) unique indexes of table with
// their columns in index order. Expression columns show up as "".
func loadUniqueDefs(ctx context.Context, db *sql.DB, table string) ([]uniqueDef, error) {
	rows, err := db.QueryContext(ctx, `select il.name, ii.name
		from pragma_index_list(?) as il, pragma_index_info(il.name) as ii
		where il.[unique] = 1 and il.partial = 0
		order by il.name, ii.seqno`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uniqueDef
	for rows.Next() {
		var index string
		var column sql.NullString
		if err := rows.Scan(&index, &column); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].name != index {
			out = append(out, uniqueDef{name: index})
		}
		last := &out[len(out)-1]
		last.columns = append(last.columns, column.String)
	}
	return out, rows.Err()
}
