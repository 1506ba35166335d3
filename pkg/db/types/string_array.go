package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// StringArray stores a slice of strings as one comma-joined text column
// so the same model works on both postgres and sqlite.
type StringArray []string

func (a *StringArray) Scan(src any) error {
	if src == nil {
		*a = StringArray{}
		return nil
	}

	switch v := src.(type) {
	case string:
		a.parseFromString(v)
		return nil
	case []byte:
		a.parseFromString(string(v))
		return nil
	default:
		return fmt.Errorf("StringArray: unsupported Scan type %T", src)
	}
}

func (a StringArray) Value() (driver.Value, error) {
	return strings.Join([]string(a), ","), nil
}

func (a *StringArray) parseFromString(s string) {
	if s == "" {
		*a = StringArray{}
		return
	}
	*a = strings.Split(s, ",")
}
