/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/timegate/internal/auth"
	"github.com/friendsincode/timegate/internal/availability"
	"github.com/friendsincode/timegate/internal/booking"
	"github.com/friendsincode/timegate/internal/clock"
	"github.com/friendsincode/timegate/internal/content"
	"github.com/friendsincode/timegate/internal/datelock"
	"github.com/friendsincode/timegate/internal/db"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/models"
	"github.com/friendsincode/timegate/internal/publishing"
)

var (
	testSecret       = []byte("api-test-secret")
	testReturnSecret = []byte("api-test-return-secret")
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	handler http.Handler
	clock   *clock.Fixed
	admin   string
	logs    *syncBuffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := database.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewFixed(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	locks := datelock.New()
	store := content.NewDBStore(database, zerolog.Nop())
	queue := publishing.NewQueue(database, time.UTC, clk, bus, zerolog.Nop())

	svc := Services{
		Availability: availability.NewStore(database, availability.Options{Locker: locks, Clock: clk, Bus: bus}, zerolog.Nop()),
		Ledger: booking.NewLedger(database, booking.Options{Locker: locks, Clock: clk, Bus: bus, PendingTTL: 30 * time.Minute}, zerolog.Nop()).
			WithPayment(booking.PaymentConfig{Secret: testSecret, ReturnSecret: testReturnSecret}),
		Catalog:   booking.NewCatalog(database, bus, nil, zerolog.Nop()),
		Queue:     queue,
		Scheduler: publishing.NewScheduler(database, queue, store, clk, bus, publishing.Config{}, zerolog.Nop()),
		Content:   store,
		Bus:       bus,
	}

	logs := &syncBuffer{}
	r := chi.NewRouter()
	New(svc, testSecret, zerolog.New(logs)).Routes(r)

	admin, err := auth.Issue(testSecret, auth.Claims{UserID: "admin-1", Roles: []string{auth.RoleAdmin}}, time.Hour)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return &testServer{handler: r, clock: clk, admin: admin, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) createOffering(t *testing.T, title string, priceCents int64) models.ServiceOffering {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/offerings", s.admin, map[string]any{"title": title, "price_cents": priceCents})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create offering status = %d: %s", rr.Code, rr.Body.String())
	}
	return decode[models.ServiceOffering](t, rr)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	if rr := s.do(t, http.MethodGet, "/api/v1/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	editor, _ := auth.Issue(testSecret, auth.Claims{UserID: "ed", Roles: []string{auth.RoleEditor}}, time.Hour)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "nope", http.StatusUnauthorized},
		{"editor", editor, http.StatusForbidden},
		{"admin", s.admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodGet, "/api/v1/bookings", tt.token, nil)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/availability/2026-02-10/generate", s.admin,
		map[string]any{"start": "09:00", "end": "12:00", "increment": 60})
	if rr.Code != http.StatusOK {
		t.Fatalf("generate status = %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodPost, "/api/v1/availability/2026-02-10/presets/afternoon", s.admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("preset status = %d: %s", rr.Code, rr.Body.String())
	}
	got := decode[slotsResponse](t, rr)
	if len(got.Slots) != 7 || got.Slots[3] != "1:00 PM" {
		t.Fatalf("slots after preset = %v", got.Slots)
	}

	offering := s.createOffering(t, "Consultation", 5000)
	req := map[string]any{
		"date":        "2026-02-10",
		"slot_label":  "1:00 PM",
		"offering_id": offering.ID,
		"customer":    map[string]any{"name": "Ada", "email": "ada@example.com"},
	}
	rr = s.do(t, http.MethodPost, "/api/v1/public/bookings", "", req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create booking status = %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[bookingCreatedResponse](t, rr)
	if created.Payment == nil || created.Payment.Token == "" {
		t.Fatal("expected a payment handoff with the new booking")
	}
	if created.Booking.Service.OfferingID != offering.ID || created.Booking.Service.PriceCents != 5000 {
		t.Fatalf("booked service = %+v, want the catalog offering", created.Booking.Service)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/public/bookings", "", req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("double booking status = %d, want 409", rr.Code)
	}
	if body := decode[map[string]string](t, rr); body["error"] != "slot_unavailable" {
		t.Fatalf("double booking error = %q", body["error"])
	}

	rr = s.do(t, http.MethodGet, "/api/v1/public/availability/2026-02-10", "", nil)
	open := decode[slotsResponse](t, rr)
	for _, label := range open.Slots {
		if label == "1:00 PM" {
			t.Fatalf("booked slot still open: %v", open.Slots)
		}
	}
	if len(open.Slots) != 6 {
		t.Fatalf("open slots = %v, want 6", open.Slots)
	}

	rr = s.do(t, http.MethodDelete, "/api/v1/availability/2026-02-10/slots?label=1:00%20PM", s.admin, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("remove booked slot status = %d, want 409", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.Booking.ID+"/confirm", s.admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", rr.Code, rr.Body.String())
	}
	confirmed := decode[models.Booking](t, rr)
	if confirmed.Status != models.BookingConfirmed || !confirmed.IsPaid {
		t.Fatalf("confirmed = %s paid=%v", confirmed.Status, confirmed.IsPaid)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.Booking.ID+"/cancel", s.admin, map[string]string{"reason": "customer"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.Booking.ID+"/confirm", s.admin, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("confirm cancelled status = %d, want 409", rr.Code)
	}
}

func TestPaymentReturnConfirms(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/availability/2026-02-10/presets/morning", s.admin, nil)
	offering := s.createOffering(t, "Consultation", 5000)

	rr := s.do(t, http.MethodPost, "/api/v1/public/bookings", "", map[string]any{
		"date":        "2026-02-10",
		"slot_label":  "9:00 AM",
		"offering_id": offering.ID,
		"customer":    map[string]any{"name": "Ada", "email": "ada@example.com"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create booking status = %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[bookingCreatedResponse](t, rr)
	if created.Payment == nil {
		t.Fatal("expected a payment handoff with the new booking")
	}

	// The visitor's checkout token cannot confirm its own booking.
	rr = s.do(t, http.MethodPost, "/api/v1/public/bookings/payment-return", "", map[string]string{"token": created.Payment.Token})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("checkout token replay status = %d, want 401", rr.Code)
	}
	rr = s.do(t, http.MethodGet, "/api/v1/bookings/"+created.Booking.ID, s.admin, nil)
	if b := decode[models.Booking](t, rr); b.Status != models.BookingPendingPayment || b.IsPaid {
		t.Fatalf("after replay booking = %s paid=%v, want pending_payment", b.Status, b.IsPaid)
	}

	underpaid, err := auth.IssuePaymentReturn(testReturnSecret, created.Booking.ID, 1, s.clock.Now(), time.Hour)
	if err != nil {
		t.Fatalf("IssuePaymentReturn: %v", err)
	}
	rr = s.do(t, http.MethodPost, "/api/v1/public/bookings/payment-return", "", map[string]string{"token": underpaid})
	if rr.Code != http.StatusConflict {
		t.Fatalf("underpaid return status = %d, want 409", rr.Code)
	}

	paid, err := auth.IssuePaymentReturn(testReturnSecret, created.Booking.ID, 5000, s.clock.Now(), time.Hour)
	if err != nil {
		t.Fatalf("IssuePaymentReturn: %v", err)
	}
	rr = s.do(t, http.MethodPost, "/api/v1/public/bookings/payment-return", "", map[string]string{"token": paid})
	if rr.Code != http.StatusOK {
		t.Fatalf("payment return status = %d: %s", rr.Code, rr.Body.String())
	}
	if b := decode[models.Booking](t, rr); b.Status != models.BookingConfirmed {
		t.Fatalf("status = %s, want confirmed", b.Status)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/public/bookings/payment-return", "", map[string]string{"token": s.admin})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("admin token as payment token status = %d, want 401", rr.Code)
	}
}

func TestAdhocServiceIsAdminOnly(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/availability/2026-02-10/presets/morning", s.admin, nil)

	body := map[string]any{
		"date":       "2026-02-10",
		"slot_label": "10:00 AM",
		"service":    map[string]any{"title": "Consultation", "price_cents": 0},
		"customer":   map[string]any{"name": "Ada", "email": "ada@example.com"},
	}
	rr := s.do(t, http.MethodPost, "/api/v1/public/bookings", "", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("public ad-hoc booking status = %d, want 400 (%s)", rr.Code, rr.Body.String())
	}
	if got := decode[map[string]string](t, rr); got["error"] != "invalid_request" {
		t.Fatalf("error = %q, want invalid_request", got["error"])
	}

	if rr := s.do(t, http.MethodPost, "/api/v1/bookings", "", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous admin booking status = %d, want 401", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/bookings", s.admin, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin ad-hoc booking status = %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[bookingCreatedResponse](t, rr)
	if created.Booking.Service.Kind != models.ServiceKindAdhoc || created.Booking.Service.Title != "Consultation" {
		t.Fatalf("booked service = %+v, want ad-hoc Consultation", created.Booking.Service)
	}
}

func TestAdminBookingActionsLogActor(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/availability/2026-02-10/presets/morning", s.admin, nil)
	offering := s.createOffering(t, "Consultation", 5000)

	rr := s.do(t, http.MethodPost, "/api/v1/public/bookings", "", map[string]any{
		"date":        "2026-02-10",
		"slot_label":  "11:00 AM",
		"offering_id": offering.ID,
		"customer":    map[string]any{"name": "Ada", "email": "ada@example.com"},
	})
	created := decode[bookingCreatedResponse](t, rr)

	for _, action := range []string{"confirm", "cancel"} {
		rr = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.Booking.ID+"/"+action, s.admin, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d: %s", action, rr.Code, rr.Body.String())
		}
	}

	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s.logs.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil && entry["booking_id"] == created.Booking.ID && entry["actor"] != nil {
			lines = append(lines, entry)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("actor log lines = %v, want confirm and cancel", lines)
	}
	for _, entry := range lines {
		if entry["actor"] != "admin-1" {
			t.Fatalf("actor = %v, want admin-1", entry["actor"])
		}
	}
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"reversed range", http.MethodPost, "/api/v1/availability/2026-02-10/generate", map[string]any{"start": "17:00", "end": "09:00", "increment": 60}, http.StatusBadRequest, "invalid_range"},
		{"zero increment", http.MethodPost, "/api/v1/availability/2026-02-10/generate", map[string]any{"start": "09:00", "end": "17:00", "increment": 0}, http.StatusBadRequest, "invalid_increment"},
		{"bad date", http.MethodGet, "/api/v1/availability/2026-13-01", nil, http.StatusBadRequest, "invalid_date"},
		{"unknown preset", http.MethodPost, "/api/v1/availability/2026-02-10/presets/brunch", nil, http.StatusNotFound, "unknown_preset"},
		{"missing booking", http.MethodGet, "/api/v1/bookings/nope", nil, http.StatusNotFound, "booking_not_found"},
		{"invalid item", http.MethodPost, "/api/v1/items", map[string]any{"kind": "podcast", "payload": map[string]any{"title": "x"}}, http.StatusBadRequest, "invalid_item"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, tt.method, tt.path, s.admin, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if body := decode[map[string]string](t, rr); body["error"] != tt.code {
				t.Fatalf("error = %q, want %q", body["error"], tt.code)
			}
		})
	}
}

func TestItemPublishNowAppearsInPublicPosts(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/items", s.admin, map[string]any{
		"kind":        "content_post",
		"payload":     map[string]any{"title": "Open studio", "body": "Come by **Saturday** for tours."},
		"target_date": "2026-03-01",
		"target_time": "09:00",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create item status = %d: %s", rr.Code, rr.Body.String())
	}
	item := decode[models.ScheduledItem](t, rr)

	rr = s.do(t, http.MethodPost, "/api/v1/items/"+item.ID+"/publish", s.admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("publish status = %d: %s", rr.Code, rr.Body.String())
	}
	if res := decode[map[string]string](t, rr); res["result"] != string(publishing.ResultPublished) {
		t.Fatalf("publish result = %q", res["result"])
	}

	rr = s.do(t, http.MethodPost, "/api/v1/items/"+item.ID+"/publish", s.admin, nil)
	if res := decode[map[string]string](t, rr); res["result"] != string(publishing.ResultAlreadyPublished) {
		t.Fatalf("second publish result = %q", res["result"])
	}

	rr = s.do(t, http.MethodGet, "/api/v1/public/posts", "", nil)
	posts := decode[[]map[string]any](t, rr)
	if len(posts) != 1 || posts[0]["title"] != "Open studio" || posts[0]["excerpt"] != "Come by Saturday for tours." {
		t.Fatalf("public posts = %v", posts)
	}

	rr = s.do(t, http.MethodPatch, "/api/v1/items/"+item.ID, s.admin, map[string]any{"payload": map[string]any{"title": "Edited"}})
	if rr.Code != http.StatusConflict {
		t.Fatalf("edit after publish status = %d, want 409", rr.Code)
	}
}

func TestOfferingsPublicAndAdmin(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/offerings", s.admin, map[string]any{"title": "Mixing", "price_cents": 9000})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create offering status = %d: %s", rr.Code, rr.Body.String())
	}
	o := decode[models.ServiceOffering](t, rr)

	rr = s.do(t, http.MethodPatch, "/api/v1/offerings/"+o.ID, s.admin, map[string]any{"active": false, "version": o.Version})
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodPatch, "/api/v1/offerings/"+o.ID, s.admin, map[string]any{"active": true, "version": o.Version})
	if rr.Code != http.StatusConflict {
		t.Fatalf("stale version status = %d, want 409", rr.Code)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/public/offerings", "", nil)
	if list := decode[[]map[string]any](t, rr); len(list) != 0 {
		t.Fatalf("public offerings = %v, want none", list)
	}
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes("booking.created, nope ,item.published")
	if len(got) != 2 || got[0] != events.EventBookingCreated || got[1] != events.EventItemPublished {
		t.Fatalf("parseEventTypes = %v", got)
	}
	if parseEventTypes("") != nil {
		t.Fatal("empty input should select nothing")
	}
}
