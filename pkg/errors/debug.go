package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is the structured form of an error chain written to logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	// Retryable and WriteFailed come from the code's Metadata. WriteFailed
	// false means the state change is durable and only a notification lagged.
	Retryable   bool `json:"retryable"`
	WriteFailed bool `json:"write_failed"`

	Conflict *ConflictDump `json:"conflict,omitempty"`
	PG       *PGDump       `json:"pg,omitempty"`
}

// ConflictDump carries the versions of an optimistic concurrency failure.
type ConflictDump struct {
	AggregateID string `json:"aggregate_id"`
	Expected    int    `json:"expected"`
	Actual      int    `json:"actual"`
}

// PGDump carries the Postgres diagnostics of a driver error.
type PGDump struct {
	Code       string `json:"code"`
	Class      string `json:"class"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// conflictVersions is implemented by the event store's conflict error.
type conflictVersions interface {
	ConflictVersions() (aggregateID string, expected, actual int)
}

// Dump flattens err for logging.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error(), Code: CodeOf(err)}
	meta := MetadataFor(d.Code)
	d.Retryable, d.WriteFailed = meta.Retryable, meta.WriteFailed

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var cv conflictVersions
	if errors.As(err, &cv) {
		id, expected, actual := cv.ConflictVersions()
		d.Conflict = &ConflictDump{AggregateID: id, Expected: expected, Actual: actual}
	}
	d.PG = pgDump(err)
	return d
}

func pgDump(err error) *PGDump {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PGDump{
			Code:       pgxErr.Code,
			Class:      sqlStateClass(pgxErr.Code),
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PGDump{
			Code:       string(pqErr.Code),
			Class:      sqlStateClass(string(pqErr.Code)),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

func sqlStateClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	switch code[:2] {
	case "08":
		return "connection"
	case "22":
		return "data"
	case "23":
		return "integrity"
	case "40":
		return "rollback"
	case "53", "57":
		return "resources"
	default:
		return code[:2]
	}
}
