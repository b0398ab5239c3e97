package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

type sampleBody struct {
	CraftsmanID string `json:"craftsman_id" validate:"required,uuid"`
	Duration    int    `json:"duration_mins" validate:"required,gt=0"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"craftsman_id":"nope","duration_mins":0}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", pkgerrors.As(err).Details())
	}
	if details["craftsman_id"] != "must be a valid uuid" {
		t.Fatalf("unexpected craftsman_id message %q", details["craftsman_id"])
	}
	if details["duration_mins"] != "is required" {
		t.Fatalf("unexpected duration message %q", details["duration_mins"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"craftsman_id":"`+uuid.NewString()+`","duration_mins":30,"extra":1}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	valid := `{"craftsman_id":"` + uuid.NewString() + `","duration_mins":30}`
	cases := map[string]string{
		"empty":    ``,
		"trailing": valid + `{}`,
		"syntax":   `{"craftsman_id":`,
		"type":     `{"craftsman_id":"x","duration_mins":"thirty"}`,
		"oversize": `{"craftsman_id":"` + strings.Repeat("a", int(MaxBodyBytes)) + `"}`,
	}
	for name, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		var body sampleBody
		if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(valid))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); err != nil || body.Duration != 30 {
		t.Fatalf("valid body rejected: %v", err)
	}
}

func TestDecodeJSONBodyNamesUnknownField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"duration_mins":30,"tip":5}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	details, _ := pkgerrors.As(err).Details().(map[string]string)
	if details["tip"] != "is not allowed" {
		t.Fatalf("expected tip to be reported, got %v", err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 20, 1, 100); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err := ParseQueryInt(req, "limit", 20, 1, 100)
	if err != nil || got != 20 {
		t.Fatalf("expected default 20, got %d (%v)", got, err)
	}
}

func TestPathUUID(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("appointmentId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := PathUUID(req, "appointmentId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := PathUUID(req, "missing"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?unreadOnly=maybe", nil)
	if _, err := ParseQueryBool(req, "unreadOnly"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/?unreadOnly=%20true%20", nil)
	if got, err := ParseQueryBool(req, "unreadOnly"); err != nil || !got {
		t.Fatalf("expected true, got %v (%v)", got, err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if got, err := ParseQueryBool(req, "unreadOnly"); err != nil || got {
		t.Fatalf("expected false default, got %v (%v)", got, err)
	}
}

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{in: "  Flat 4\x00B  ", max: 0, want: "Flat 4B"},
		{in: "line one\nline two", max: 0, want: "line one\nline two"},
		{in: "abcdef", max: 3, want: "abc"},
		{in: "مصر", max: 3, want: "م"},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
