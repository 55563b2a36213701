package models

import (
	"strings"
	"time"

	"example.com/backstage/services/calendar/internal/errs"
)

// MutationOp is the kind of committed write
type MutationOp string

// Mutation kinds
const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// ParseMutationOp validates an op name
func ParseMutationOp(s string) (MutationOp, error) {
	switch op := MutationOp(strings.ToLower(strings.TrimSpace(s))); op {
	case OpCreate, OpUpdate, OpDelete:
		return op, nil
	}
	return "", errs.Validationf("unknown mutation op %q", s)
}

// Mutation describes a committed write to one event. It travels between replicas so that
// each one can drop its local caches.
type Mutation struct {
	Key    EventKey   `json:"key"`
	Op     MutationOp `json:"op"`
	Origin string     `json:"origin"`
	At     time.Time  `json:"at"`
}
