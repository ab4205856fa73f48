package pgstore

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// sqlTime adapts a driver-returned value (pgx hands back time.Time
// directly for timestamptz, but this keeps the Scan call explicit about
// the conversion instead of relying on database/sql's implicit support).
type sqlTime struct {
	Time time.Time
}

func (t *sqlTime) Scan(value any) error {
	switch v := value.(type) {
	case time.Time:
		t.Time = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("pgstore: cannot scan %T into sqlTime", v)
	}
}

var _ driver.Valuer = sqlTime{}

func (t sqlTime) Value() (driver.Value, error) {
	return t.Time, nil
}
