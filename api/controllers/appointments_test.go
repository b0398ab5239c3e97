package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/internal/appointments"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

type testAppointmentsService struct {
	appointments.Service
	bookFn   func(ctx context.Context, input appointments.BookInput) (*models.Appointment, error)
	acceptFn func(ctx context.Context, input appointments.ActionInput) (*models.Appointment, error)
	cancelFn func(ctx context.Context, input appointments.ActionInput) (*models.Appointment, error)
	getFn    func(ctx context.Context, id, actorID uuid.UUID, role enums.UserRole) (*models.Appointment, error)
}

func (s *testAppointmentsService) Book(ctx context.Context, input appointments.BookInput) (*models.Appointment, error) {
	return s.bookFn(ctx, input)
}

func (s *testAppointmentsService) Accept(ctx context.Context, input appointments.ActionInput) (*models.Appointment, error) {
	return s.acceptFn(ctx, input)
}

func (s *testAppointmentsService) Cancel(ctx context.Context, input appointments.ActionInput) (*models.Appointment, error) {
	return s.cancelFn(ctx, input)
}

func (s *testAppointmentsService) Get(ctx context.Context, id, actorID uuid.UUID, role enums.UserRole) (*models.Appointment, error) {
	return s.getFn(ctx, id, actorID, role)
}

func sampleAppointment(status enums.AppointmentStatus) *models.Appointment {
	hold := uuid.New()
	return &models.Appointment{
		ID:              uuid.New(),
		CustomerID:      uuid.New(),
		CraftsmanID:     uuid.New(),
		CategoryID:      uuid.New(),
		ScheduledAt:     time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		DurationMins:    90,
		Status:          status,
		Price:           models.Price{Currency: enums.CurrencyEGP, SubtotalCents: 2800, FeesCents: 200, TotalCents: 3000},
		Address:         models.Address{Line1: "1 Nile Corniche", City: "Cairo"},
		WalletHoldTxnID: &hold,
	}
}

func TestBookAppointmentMapsRequest(t *testing.T) {
	customerID := uuid.New()
	craftsmanID := uuid.New()
	var got appointments.BookInput
	svc := &testAppointmentsService{
		bookFn: func(ctx context.Context, input appointments.BookInput) (*models.Appointment, error) {
			got = input
			return sampleAppointment(enums.AppointmentStatusPending), nil
		},
	}

	body := `{
		"craftsman_id": "` + craftsmanID.String() + `",
		"category_id": "` + uuid.NewString() + `",
		"scheduled_at": "2026-05-01T11:00:00+02:00",
		"duration_mins": 90,
		"price": {"currency": "egp", "subtotal_cents": 2800, "fees_cents": 200, "total_cents": 3000},
		"address": {"line1": "  1 Nile Corniche ", "city": "Cairo"},
		"tracking": true,
		"notes": "ring twice"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	req = asActor(req, customerID, enums.UserRoleCustomer)
	resp := httptest.NewRecorder()
	BookAppointment(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}
	if got.CustomerID != customerID || got.CraftsmanID != craftsmanID {
		t.Fatalf("unexpected participants %+v", got)
	}
	if !got.ScheduledAt.Equal(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)) || got.ScheduledAt.Location() != time.UTC {
		t.Fatalf("expected UTC schedule, got %s", got.ScheduledAt)
	}
	if got.Price.Currency != enums.CurrencyEGP || got.Price.TotalCents != 3000 {
		t.Fatalf("unexpected price %+v", got.Price)
	}
	if got.Address.Line1 != "1 Nile Corniche" || !got.Tracking || got.Notes != "ring twice" {
		t.Fatalf("unexpected mapping %+v", got)
	}

	var envelope struct {
		Data struct {
			Status string `json:"status"`
			Price  struct {
				Total string `json:"total"`
			} `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Data.Status != "pending" || envelope.Data.Price.Total != "30.00" {
		t.Fatalf("unexpected view %+v", envelope.Data)
	}
}

func TestBookAppointmentRejectsInvalidBody(t *testing.T) {
	svc := &testAppointmentsService{
		bookFn: func(ctx context.Context, input appointments.BookInput) (*models.Appointment, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(`{"craftsman_id":"x","duration_mins":0}`))
	req = asActor(req, uuid.New(), enums.UserRoleCustomer)
	resp := httptest.NewRecorder()
	BookAppointment(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestBookAppointmentSurfacesInsufficientBalance(t *testing.T) {
	svc := &testAppointmentsService{
		bookFn: func(ctx context.Context, input appointments.BookInput) (*models.Appointment, error) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance")
		},
	}
	body := `{"craftsman_id":"` + uuid.NewString() + `","category_id":"` + uuid.NewString() + `","scheduled_at":"2026-05-01T09:00:00Z","duration_mins":60,"price":{"subtotal_cents":900,"fees_cents":100,"total_cents":1000},"address":{"line1":"a","city":"b"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	req = asActor(req, uuid.New(), enums.UserRoleCustomer)
	resp := httptest.NewRecorder()
	BookAppointment(svc, testLogger())(resp, req)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), string(pkgerrors.CodeInsufficientBalance)) {
		t.Fatalf("expected error code in body, got %s", resp.Body.String())
	}
}

func TestAppointmentActionDispatchesByName(t *testing.T) {
	craftsmanID := uuid.New()
	appt := sampleAppointment(enums.AppointmentStatusAccepted)
	var got appointments.ActionInput
	svc := &testAppointmentsService{
		acceptFn: func(ctx context.Context, input appointments.ActionInput) (*models.Appointment, error) {
			got = input
			return appt, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/accept", nil)
	req = addRouteParams(asActor(req, craftsmanID, enums.UserRoleCraftsman), "appointmentId", appt.ID.String(), "action", "accept")
	resp := httptest.NewRecorder()
	AppointmentAction(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if got.AppointmentID != appt.ID || got.ActorID != craftsmanID || got.ActorRole != enums.UserRoleCraftsman {
		t.Fatalf("unexpected action input %+v", got)
	}
}

func TestAppointmentActionPassesReason(t *testing.T) {
	customerID := uuid.New()
	appt := sampleAppointment(enums.AppointmentStatusCanceled)
	var reason string
	svc := &testAppointmentsService{
		cancelFn: func(ctx context.Context, input appointments.ActionInput) (*models.Appointment, error) {
			reason = input.Reason
			return nil, pkgerrors.New(pkgerrors.CodeIllegalTransition, "appointment transition not allowed")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/cancel", strings.NewReader(`{"reason":" plans changed "}`))
	req = addRouteParams(asActor(req, customerID, enums.UserRoleCustomer), "appointmentId", appt.ID.String(), "action", "cancel")
	resp := httptest.NewRecorder()
	AppointmentAction(svc, testLogger())(resp, req)

	if reason != "plans changed" {
		t.Fatalf("expected trimmed reason, got %q", reason)
	}
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}

func TestAppointmentActionUnknown(t *testing.T) {
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+id+"/teleport", nil)
	req = addRouteParams(asActor(req, uuid.New(), enums.UserRoleAdmin), "appointmentId", id, "action", "teleport")
	resp := httptest.NewRecorder()
	AppointmentAction(&testAppointmentsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestGetAppointmentPassesActor(t *testing.T) {
	userID := uuid.New()
	appt := sampleAppointment(enums.AppointmentStatusPending)
	svc := &testAppointmentsService{
		getFn: func(ctx context.Context, id, actorID uuid.UUID, role enums.UserRole) (*models.Appointment, error) {
			if id != appt.ID || actorID != userID || role != enums.UserRoleCustomer {
				t.Fatalf("unexpected args %s %s %s", id, actorID, role)
			}
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/"+appt.ID.String(), nil)
	req = addRouteParams(asActor(req, userID, enums.UserRoleCustomer), "appointmentId", appt.ID.String())
	resp := httptest.NewRecorder()
	GetAppointment(svc, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
