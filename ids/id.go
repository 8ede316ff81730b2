// Package ids defines the opaque 128-bit identifier type shared by every
// entity in the document store, vector store, and chat records.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier. The zero value is not a valid ID;
// use New to mint one or Parse to read one back from storage or the wire.
type ID uuid.UUID

// Nil is the zero ID, used to mean "absent" in optional fields.
var Nil = ID(uuid.Nil)

// New mints a fresh random ID.
func New() ID {
	return ID(uuid.New())
}

// Parse reads an ID from its canonical string form.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("ids: parsing %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParse is like Parse but panics on error; for use with literals in tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// Value implements driver.Valuer so an ID can be written directly as a
// SQLite TEXT column value.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner so an ID can be read directly from a SQLite
// TEXT column.
func (id *ID) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case nil:
		*id = Nil
		return nil
	default:
		return fmt.Errorf("ids: cannot scan %T into ID", src)
	}
}

// MarshalText implements encoding.TextMarshaler for JSON round-tripping.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON round-tripping.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
