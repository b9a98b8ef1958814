package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/smukkama/vrisa/internal/apperr"
)

// PostgreSQL SQLSTATE codes the store maps onto apperr kinds.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
	codeInvalidText         = "22P02"
	codeQueryCanceled       = "57014"
)

var referencedEntity = map[string]string{
	"account_id":            "account",
	"admin_id":              "admin profile",
	"authorized_profile_id": "authorized profile",
	"institution_id":        "institution",
	"station_id":            "station",
	"alert_id":              "alert",
}

// translate converts a driver error into an apperr. subject names the
// entity being operated on, e.g. "station 7".
func translate(err error, subject string) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("%s not found", subject)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(err, apperr.Timeout, "%s: query deadline exceeded", subject)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return apperr.Wrap(err, apperr.Conflict, "%s already exists", subject)
		case codeForeignKeyViolation:
			// Deletes blocked by ON DELETE RESTRICT report the parent table
			// in the message; inserts report a missing parent.
			if strings.HasPrefix(pqErr.Message, "update or delete on table") {
				return apperr.Wrap(err, apperr.Conflict, "%s is still referenced by %s", subject, pqErr.Table)
			}
			return apperr.Wrap(err, apperr.NotFound, "%s not found", missingReference(pqErr))
		case codeCheckViolation, codeNotNullViolation, codeInvalidText:
			return apperr.Wrap(err, apperr.InvalidArgument, "invalid %s: %s", subject, pqErr.Message)
		case codeQueryCanceled:
			return apperr.Wrap(err, apperr.Timeout, "%s: query canceled", subject)
		}
	}

	return apperr.Wrap(err, apperr.Internal, "%s", subject)
}

// missingReference names the parent entity of a failed foreign key from
// its default constraint name, <table>_<column>_fkey.
func missingReference(pqErr *pq.Error) string {
	column := strings.TrimSuffix(strings.TrimPrefix(pqErr.Constraint, pqErr.Table+"_"), "_fkey")
	if name, ok := referencedEntity[column]; ok {
		return name
	}
	return fmt.Sprintf("referenced row (%s)", pqErr.Constraint)
}
