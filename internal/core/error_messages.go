package core

// # Error Codes Reference
//
// User-facing messages carry a code that operators can quote when reporting
// a failed load. Codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this key already exists
//	        Patterns: "unique constraint", "duplicate key"
//	DB002 - Not null: A required value was stored as empty
//	        Patterns: "not null constraint", "violates not-null"
//	DB003 - Foreign key: Referenced parent record does not exist
//	        Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused: Unable to connect to database
//	DB005 - Database busy: Another writer holds the database lock
//	        Patterns: "database is locked", "sqlite_busy"
//	DB006 - Timeout: Operation timed out
//	DB007 - Datatype mismatch: A value does not fit the column type
//	        Patterns: "datatype mismatch", "invalid input syntax"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL003 - Required field: Required field is empty
//	VAL004 - Missing column: Required column is missing from the batch
//
// # File Errors (FILE001-FILE099)
//
//	FILE002 - Invalid CSV: File is not a valid CSV
//	FILE003 - Encoding error: File contains invalid characters
//	FILE005 - Empty file: The batch file has no header row
//	FILE006 - Missing file: The batch file does not exist
//
// # Entity and Run Errors
//
//	ENT001 - Unknown entity: The entity is not registered
//	RUN001 - Run in progress: Another load run is active
//	RUN002 - Request cancelled
//	RUN003 - Request timeout
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// Typed errors are classified first. Everything else is matched
// case-insensitively against the pattern table; the first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgDuplicateKey = UserMessage{
		Message: "A record with this key already exists",
		Action:  "Check the batch for conflicting keys",
		Code:    "DB001",
	}
	msgNotNull = UserMessage{
		Message: "A required value was empty",
		Action:  "Ensure all required columns have values",
		Code:    "DB002",
	}
	msgForeignKey = UserMessage{
		Message: "Referenced parent record does not exist",
		Action:  "Load the parent entity first or fix the reference",
		Code:    "DB003",
	}
	msgDatatype = UserMessage{
		Message: "A value does not match the column type",
		Action:  "Check numeric columns for stray text",
		Code:    "DB007",
	}
	msgMissingColumn = UserMessage{
		Message: "Required column is missing from the batch",
		Action:  "Check that all required columns are present in your file",
		Code:    "VAL004",
	}
	msgUnknownEntity = UserMessage{
		Message: "Unknown entity",
		Action:  "Use one of the registered entity names",
		Code:    "ENT001",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// More specific patterns come before general ones.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Constraint Errors
	// =========================================================================
	{pattern: "unique constraint", msg: msgDuplicateKey},
	{pattern: "duplicate key", msg: msgDuplicateKey},
	{pattern: "not null constraint", msg: msgNotNull},
	{pattern: "violates not-null", msg: msgNotNull},
	{pattern: "foreign key constraint", msg: msgForeignKey},
	{pattern: "violates foreign key", msg: msgForeignKey},
	{pattern: "datatype mismatch", msg: msgDatatype},
	{pattern: "invalid input syntax", msg: msgDatatype},

	// =========================================================================
	// Database Connection Errors
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database is busy with another writer",
			Action:  "Wait for the other load to finish and retry",
			Code:    "DB005",
		},
	},
	{
		pattern: "sqlite_busy",
		msg: UserMessage{
			Message: "Database is busy with another writer",
			Action:  "Wait for the other load to finish and retry",
			Code:    "DB005",
		},
	},

	// =========================================================================
	// Run Errors
	// =========================================================================
	{
		pattern: "load run already in progress",
		msg: UserMessage{
			Message: "Another load run is active",
			Action:  "Wait for the current run to finish",
			Code:    "RUN001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller batch or try again later",
			Code:    "RUN003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller batch or try again later",
			Code:    "DB006",
		},
	},

	// =========================================================================
	// Validation Errors
	// =========================================================================
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Ensure all required columns have values",
			Code:    "VAL003",
		},
	},
	{pattern: "missing required column", msg: msgMissingColumn},

	// =========================================================================
	// File Errors
	// =========================================================================
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with balanced quotes",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The batch file is empty",
			Action:  "Provide a CSV file with a header row",
			Code:    "FILE005",
		},
	},
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "The batch file does not exist",
			Action:  "Check the file path",
			Code:    "FILE006",
		},
	},
	{pattern: "unknown entity", msg: msgUnknownEntity},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the underlying error",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed engine errors are classified directly; other errors are matched
// against errorPatterns. Unmatched errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var unknown *UnknownEntityError
	if errors.As(err, &unknown) {
		return msgUnknownEntity
	}
	var schema *SchemaViolationError
	if errors.As(err, &schema) {
		return msgMissingColumn
	}
	var store *StoreError
	if errors.As(err, &store) {
		switch store.Constraint {
		case ConstraintUnique:
			return msgDuplicateKey
		case ConstraintNotNull:
			return msgNotNull
		case ConstraintForeignKey:
			return msgForeignKey
		case ConstraintDatatype:
			return msgDatatype
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
