package record

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectID identifies one record across contexts and engines.
type ObjectID struct {
	Entity string
	Key    uuid.UUID
}

func NewObjectID(entity string) ObjectID {
	return ObjectID{Entity: entity, Key: uuid.New()}
}

func (id ObjectID) IsZero() bool {
	return id.Entity == "" && id.Key == uuid.Nil
}

func (id ObjectID) String() string {
	return id.Entity + "/" + id.Key.String()
}

func ParseObjectID(s string) (ObjectID, error) {
	entity, key, ok := strings.Cut(s, "/")
	if !ok || entity == "" {
		return ObjectID{}, errors.Errorf("record: malformed object id %q", s)
	}
	parsed, err := uuid.Parse(key)
	if err != nil {
		return ObjectID{}, errors.Wrapf(err, "record: malformed object id %q", s)
	}
	return ObjectID{Entity: entity, Key: parsed}, nil
}

// Snapshot carries the values of one record, all of them or only the
// changed ones depending on where it is used.
type Snapshot struct {
	ID     ObjectID
	Values map[string]any
}
