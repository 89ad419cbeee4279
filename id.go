package asyncexec

import "github.com/xraph/asyncexec/id"

// ID is the primary identifier type for all asyncexec entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
