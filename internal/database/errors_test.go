package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"

	"github.com/smukkama/vrisa/internal/apperr"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"no rows", sql.ErrNoRows, apperr.NotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), apperr.NotFound},
		{"deadline", context.DeadlineExceeded, apperr.Timeout},
		{"unique", &pq.Error{Code: codeUniqueViolation}, apperr.Conflict},
		{"check", &pq.Error{Code: codeCheckViolation}, apperr.InvalidArgument},
		{"canceled by server", &pq.Error{Code: codeQueryCanceled}, apperr.Timeout},
		{"unknown driver error", errors.New("driver: bad connection"), apperr.Internal},
		{"already translated", apperr.Forbiddenf("nope"), apperr.Forbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err, "station 7")
			if apperr.KindOf(got) != tt.want {
				t.Errorf("Expected %s, got %s (%v)", tt.want, apperr.KindOf(got), got)
			}
		})
	}
}

func TestTranslate_Nil(t *testing.T) {
	if err := translate(nil, "station"); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestTranslate_ForeignKey(t *testing.T) {
	insert := &pq.Error{
		Code:       codeForeignKeyViolation,
		Message:    `insert or update on table "station_consults" violates foreign key constraint "station_consults_authorized_profile_id_fkey"`,
		Table:      "station_consults",
		Constraint: "station_consults_authorized_profile_id_fkey",
	}
	err := translate(insert, "access for authorized profile 999 on station 3")
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("Expected NotFound, got %v", err)
	}
	if msg := apperr.Message(err); msg != "authorized profile not found" {
		t.Errorf("Expected missing parent in message, got %q", msg)
	}

	restrict := &pq.Error{
		Code:       codeForeignKeyViolation,
		Message:    `update or delete on table "admin_profiles" violates foreign key constraint "institutions_admin_id_fkey" on table "institutions"`,
		Table:      "institutions",
		Constraint: "institutions_admin_id_fkey",
	}
	err = translate(restrict, "admin profile 5")
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("Expected Conflict for restricted delete, got %v", err)
	}
}

func TestPoint_Validate(t *testing.T) {
	tests := []struct {
		point Point
		ok    bool
	}{
		{Point{Lon: -76.53, Lat: 3.45}, true},
		{Point{Lon: 180, Lat: -90}, true},
		{Point{Lon: 0, Lat: 95}, false},
		{Point{Lon: -181, Lat: 0}, false},
	}

	for _, tt := range tests {
		err := tt.point.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%+v) = %v, want ok=%v", tt.point, err, tt.ok)
		}
		if err != nil && !apperr.Is(err, apperr.InvalidArgument) {
			t.Errorf("Expected InvalidArgument, got %v", err)
		}
	}
}

func TestPoint_JSON(t *testing.T) {
	var p Point
	if err := p.UnmarshalJSON([]byte(`[-76.53, 3.45]`)); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if p.Lon != -76.53 || p.Lat != 3.45 {
		t.Errorf("Unexpected point %+v", p)
	}
	if err := p.UnmarshalJSON([]byte(`[1]`)); err == nil {
		t.Error("Expected error for single coordinate")
	}
}
