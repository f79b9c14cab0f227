package core

// error_messages.go maps pipeline errors to user-facing messages with a
// support code. Kinds are matched first (errors.Is), then a small set of
// driver/OS text patterns, then the ERR000 fallback.
//
// # Ingest (ING001-ING099)
//
//	ING001 - InputNotFound: the configured input file does not exist
//	ING002 - EmptyInput: the input file has no header line
//	ING003 - MalformedRow: a row did not match the header (abort policy)
//
// # Database (DB001-DB099)
//
//	DB001 - ConnectionUnavailable: store unreachable after retries
//	DB002 - SchemaConflict: table could not be inspected, created or dropped
//	DB003 - Connection refused (pattern)
//	DB004 - Timeout (pattern)
//
// # Load (LOAD001-LOAD099)
//
//	LOAD001 - LoadAborted: a batch, truncate or commit failed; rolled back
//
// # Export (EXP001-EXP099)
//
//	EXP001 - TableMissing: export requested before any ingest
//	EXP002 - QueryFailed: store error while reading the table
//	EXP003 - WriteFailed: output file could not be written
//	EXP004 - Permission denied (pattern)
//
// # Runs (RUN001-RUN099)
//
//	RUN001 - ConcurrentRunRejected: the same operation is already running

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type kindMessage struct {
	kind error
	msg  UserMessage
}

var kindMessages = []kindMessage{
	{ErrInputNotFound, UserMessage{"Input file not found", "Check INPUT_DIR and INPUT_FILE", "ING001"}},
	{ErrEmptyInput, UserMessage{"Input file has no header line", "Provide a file whose first line names the columns", "ING002"}},
	{ErrMalformedRow, UserMessage{"Input contains a malformed row", "Fix the row or set INGEST_MALFORMED_POLICY=skip", "ING003"}},
	{ErrConnectionUnavailable, UserMessage{"Database is unavailable", "Please try again in a few moments", "DB001"}},
	{ErrSchemaConflict, UserMessage{"Target table could not be prepared", "Check database permissions for the pipeline user", "DB002"}},
	{ErrLoadAborted, UserMessage{"Load was aborted and rolled back", "The table still holds its previous contents; check the logs", "LOAD001"}},
	{ErrTableMissing, UserMessage{"Table has not been loaded yet", "Run an ingest before exporting", "EXP001"}},
	{ErrQueryFailed, UserMessage{"Reading the table failed", "Please try again", "EXP002"}},
	{ErrWriteFailed, UserMessage{"Export file could not be written", "Check that OUTPUT_DIR exists and is writable", "EXP003"}},
	{ErrConcurrentRunRejected, UserMessage{"This operation is already running", "Wait for the current run to finish", "RUN001"}},
}

// errorPatterns catches causes that reach the caller without a kind.
// First match wins.
var errorPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB004"}},
	{"permission denied", UserMessage{"Permission denied", "Check file and directory permissions", "EXP004"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts err to a user-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, km := range kindMessages {
		if errors.Is(err, km.kind) {
			return km.msg
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

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
