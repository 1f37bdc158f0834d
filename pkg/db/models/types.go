package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringArray is a text[] column on Postgres and a text column elsewhere,
// encoded with the Postgres array literal format in both cases.
type StringArray []string

// GormDataType implements schema.GormDataTypeInterface
func (StringArray) GormDataType() string {
	return "text"
}

// GormDBDataType implements schema.GormDBDataTypeInterface
func (StringArray) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Value implements driver.Valuer
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return pq.StringArray(a).Value()
}

// Scan implements sql.Scanner
func (a *StringArray) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*a = StringArray(arr)
	return nil
}
