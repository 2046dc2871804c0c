package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/oyilmaz/aptDues/pkg/auth"
	"github.com/oyilmaz/aptDues/pkg/cache"
	"github.com/oyilmaz/aptDues/pkg/models"
	"github.com/oyilmaz/aptDues/pkg/store"
)

// memStore is a simple in-memory implementation of the Storage interface for testing.
type memStore struct {
	apartments map[uuid.UUID]*models.Apartment
	payments   map[uuid.UUID]*models.Payment
	failAll    bool
}

func newMemStore() *memStore {
	return &memStore{
		apartments: make(map[uuid.UUID]*models.Apartment),
		payments:   make(map[uuid.UUID]*models.Payment),
	}
}

func (m *memStore) fail() error {
	if m.failAll {
		return fmt.Errorf("dial tcp: connection refused")
	}
	return nil
}

func (m *memStore) CreateApartment(a *models.Apartment) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.apartments[a.ID] = a
	return nil
}

func (m *memStore) GetApartment(id uuid.UUID) (*models.Apartment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	a, ok := m.apartments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (m *memStore) UpdateApartment(a *models.Apartment) error {
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.apartments[a.ID]; !ok {
		return store.ErrNotFound
	}
	m.apartments[a.ID] = a
	return nil
}

func (m *memStore) DeleteApartment(id uuid.UUID) error {
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.apartments[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.apartments, id)
	for pid, p := range m.payments {
		if p.ApartmentID == id {
			delete(m.payments, pid)
		}
	}
	return nil
}

func (m *memStore) GetAllApartments() ([]*models.Apartment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	apartments := []*models.Apartment{}
	for _, a := range m.apartments {
		apartments = append(apartments, a)
	}
	return apartments, nil
}

func (m *memStore) CreatePayment(p *models.Payment) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.payments[p.ID] = p
	return nil
}

func (m *memStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	p, ok := m.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) UpdatePayment(p *models.Payment) error {
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.payments[p.ID]; !ok {
		return store.ErrNotFound
	}
	m.payments[p.ID] = p
	return nil
}

func (m *memStore) DeletePayment(id uuid.UUID) error {
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.payments[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.payments, id)
	return nil
}

func (m *memStore) GetAllPayments() ([]*models.Payment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	payments := []*models.Payment{}
	for _, p := range m.payments {
		payments = append(payments, p)
	}
	return payments, nil
}

func (m *memStore) GetPaymentsForApartment(apartmentID uuid.UUID) ([]*models.Payment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	payments := []*models.Payment{}
	for _, p := range m.payments {
		if p.ApartmentID == apartmentID {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

func (m *memStore) Close() error {
	return nil
}

func newTestServer(t *testing.T, ms *memStore) *Server {
	t.Helper()
	snapshot, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { snapshot.Close() })
	return NewServer(ms, snapshot, nil, time.Second)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func seedApartment(ms *memStore, number, owner string, fee float64) *models.Apartment {
	a := &models.Apartment{
		ID:         uuid.New(),
		Number:     number,
		Owner:      owner,
		Phone:      "05551234567",
		MonthlyFee: decimal.NewFromFloat(fee),
	}
	ms.apartments[a.ID] = a
	return a
}

func seedPayment(ms *memStore, apartmentID uuid.UUID, month string, amount float64) *models.Payment {
	p := &models.Payment{
		ID:          uuid.New(),
		ApartmentID: apartmentID,
		Month:       month,
		Amount:      decimal.NewFromFloat(amount),
		PaidAmount:  decimal.Zero,
		Status:      models.StatusPending,
		DueDate:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	ms.payments[p.ID] = p
	return p
}

func TestLoginAndMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("7490"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	ms := newMemStore()
	server := newTestServer(t, ms)
	server.sessions = auth.NewSessions(string(hash), "test-secret")
	router := server.routes()

	rr := doJSON(t, router, "GET", "/apartments", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", rr.Code)
	}

	rr = doJSON(t, router, "POST", "/login", map[string]string{"password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for wrong password, got %d", rr.Code)
	}

	rr = doJSON(t, router, "POST", "/login", map[string]string{"password": "7490"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for login, got %d", rr.Code)
	}
	var loginResp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&loginResp); err != nil {
		t.Fatalf("Failed to decode login response: %v", err)
	}
	if loginResp["token"] == "" {
		t.Fatal("Expected a token in the login response")
	}

	req := httptest.NewRequest("GET", "/apartments", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp["token"])
	authed := httptest.NewRecorder()
	router.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Errorf("Expected status 200 with token, got %d", authed.Code)
	}
}

func TestCreateApartmentAndPayment(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(t, ms)
	router := server.routes()

	rr := doJSON(t, router, "POST", "/apartments", map[string]interface{}{
		"apartment_number": "12",
		"owner_name":       "Ali Veli",
		"phone":            "05551234567",
		"monthly_fee":      500,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var apartment models.Apartment
	if err := json.NewDecoder(rr.Body).Decode(&apartment); err != nil {
		t.Fatalf("Failed to decode apartment: %v", err)
	}
	if apartment.Number != "12" {
		t.Errorf("Expected apartment number 12, got %s", apartment.Number)
	}

	paymentReq := map[string]interface{}{
		"apartment_id": apartment.ID.String(),
		"month":        "2024-03",
		"amount":       500,
		"due_date":     "2024-03-15",
	}
	rr = doJSON(t, router, "POST", "/payments", paymentReq)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 for payment, got %d: %s", rr.Code, rr.Body.String())
	}
	var payment models.Payment
	if err := json.NewDecoder(rr.Body).Decode(&payment); err != nil {
		t.Fatalf("Failed to decode payment: %v", err)
	}
	if payment.Status != models.StatusPending {
		t.Errorf("Expected status pending, got %s", payment.Status)
	}

	rr = doJSON(t, router, "POST", "/payments", paymentReq)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate month, got %d", rr.Code)
	}

	rr = doJSON(t, router, "POST", "/payments", map[string]interface{}{
		"apartment_id": uuid.New().String(),
		"month":        "2024-03",
		"amount":       500,
		"due_date":     "2024-03-15",
	})
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown apartment, got %d", rr.Code)
	}
}

func TestPayAndRevert(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(t, ms)
	router := server.routes()

	apartment := seedApartment(ms, "5", "Ayşe Kaya", 500)
	payment := seedPayment(ms, apartment.ID, "2024-03", 500)
	base := "/payments/" + payment.ID.String()

	rr := doJSON(t, router, "POST", base+"/pay", map[string]interface{}{"paid_amount": 200})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got models.Payment
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode payment: %v", err)
	}
	if got.Status != models.StatusPartial {
		t.Errorf("Expected status partial, got %s", got.Status)
	}
	if !got.PaidAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Expected paid amount 200, got %s", got.PaidAmount)
	}

	rr = doJSON(t, router, "POST", base+"/pay", map[string]interface{}{"paid_amount": 600})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for overpayment, got %d", rr.Code)
	}

	rr = doJSON(t, router, "POST", base+"/pay", map[string]interface{}{})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for settle in full, got %d", rr.Code)
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode payment: %v", err)
	}
	if got.Status != models.StatusPaid {
		t.Errorf("Expected status paid, got %s", got.Status)
	}
	if got.PaidDate == nil {
		t.Error("Expected a paid date after settling in full")
	}

	rr = doJSON(t, router, "POST", base+"/revert", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for revert, got %d", rr.Code)
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode payment: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Expected status pending after revert, got %s", got.Status)
	}
	if !got.PaidAmount.IsZero() {
		t.Errorf("Expected paid amount 0 after revert, got %s", got.PaidAmount)
	}
}

func TestGenerateMonthlyDues(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(t, ms)
	router := server.routes()

	seedApartment(ms, "1", "Ali Veli", 500)
	seedApartment(ms, "2", "Ayşe Kaya", 500)

	body := map[string]interface{}{
		"month":    "2024-04",
		"amount":   500,
		"due_date": "2024-04-15",
	}
	rr := doJSON(t, router, "POST", "/payments/generate", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Created int `json:"created"`
		Skipped int `json:"skipped"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Created != 2 || resp.Skipped != 0 {
		t.Errorf("Expected 2 created and 0 skipped, got %d and %d", resp.Created, resp.Skipped)
	}

	rr = doJSON(t, router, "POST", "/payments/generate", body)
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Created != 0 || resp.Skipped != 2 {
		t.Errorf("Expected 0 created and 2 skipped on rerun, got %d and %d", resp.Created, resp.Skipped)
	}
}

func TestAdvancePayment(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(t, ms)
	router := server.routes()

	apartment := seedApartment(ms, "7", "Mehmet Demir", 500)

	rr := doJSON(t, router, "POST", "/payments/advance", map[string]interface{}{
		"apartment_id":   apartment.ID.String(),
		"start_month":    "2024-11",
		"month_count":    3,
		"monthly_amount": 500,
		"total_paid":     1400,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400 for amount mismatch, got %d", rr.Code)
	}
	var mismatch struct {
		Difference decimal.Decimal `json:"difference"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&mismatch); err != nil {
		t.Fatalf("Failed to decode mismatch response: %v", err)
	}
	if !mismatch.Difference.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("Expected difference -100, got %s", mismatch.Difference)
	}

	rr = doJSON(t, router, "POST", "/payments/advance", map[string]interface{}{
		"apartment_id":   apartment.ID.String(),
		"start_month":    "2024-11",
		"month_count":    3,
		"monthly_amount": 500,
		"total_paid":     1500,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Months   []string          `json:"months"`
		Created  int               `json:"created"`
		Payments []*models.Payment `json:"payments"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Created != 3 {
		t.Fatalf("Expected 3 payments created, got %d", resp.Created)
	}
	if resp.Months[2] != "2025-01" {
		t.Errorf("Expected third month 2025-01, got %s", resp.Months[2])
	}
	for _, p := range resp.Payments {
		if p.Status != models.StatusPaid {
			t.Errorf("Expected status paid for %s, got %s", p.Month, p.Status)
		}
		if !p.IsAdvancePayment {
			t.Errorf("Expected advance flag set for %s", p.Month)
		}
	}
}

func TestReportCSV(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(t, ms)
	router := server.routes()

	apartment := seedApartment(ms, "3", "Fatma Şahin", 500)
	seedPayment(ms, apartment.ID, "2024-03", 500)

	rr := doJSON(t, router, "GET", "/report.csv?month=2024-03", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/csv; charset=utf-8" {
		t.Errorf("Expected CSV content type, got %s", got)
	}
	body := rr.Body.String()
	if !strings.HasPrefix(body, "\xEF\xBB\xBF") {
		t.Error("Expected report to start with a UTF-8 BOM")
	}
	if !strings.Contains(body, `"Apartment","Owner","Month"`) {
		t.Errorf("Expected quoted header row, got %q", body)
	}
	if !strings.Contains(body, `"Fatma Şahin"`) {
		t.Errorf("Expected owner row in report, got %q", body)
	}
}

func TestStateRemoteAndFallback(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(t, ms)
	router := server.routes()

	apartment := seedApartment(ms, "9", "Ali Veli", 500)
	seedPayment(ms, apartment.ID, "2024-03", 500)

	rr := doJSON(t, router, "GET", "/state", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var state struct {
		Source     string             `json:"source"`
		Warning    string             `json:"warning"`
		Apartments []models.Apartment `json:"apartments"`
		Payments   []models.Payment   `json:"payments"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&state); err != nil {
		t.Fatalf("Failed to decode state: %v", err)
	}
	if state.Source != "remote" {
		t.Errorf("Expected source remote, got %s", state.Source)
	}
	if len(state.Apartments) != 1 || len(state.Payments) != 1 {
		t.Errorf("Expected 1 apartment and 1 payment, got %d and %d",
			len(state.Apartments), len(state.Payments))
	}

	// The successful load wrote the snapshot, so a dead store is now covered.
	ms.failAll = true
	rr = doJSON(t, router, "GET", "/state", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 from cache, got %d", rr.Code)
	}
	if err := json.NewDecoder(rr.Body).Decode(&state); err != nil {
		t.Fatalf("Failed to decode state: %v", err)
	}
	if state.Source != "cache" {
		t.Errorf("Expected source cache, got %s", state.Source)
	}
	if state.Warning == "" {
		t.Error("Expected a warning when serving from cache")
	}
	if len(state.Apartments) != 1 {
		t.Errorf("Expected 1 cached apartment, got %d", len(state.Apartments))
	}
}

func TestStateUnavailableWithoutCache(t *testing.T) {
	ms := newMemStore()
	ms.failAll = true
	server := newTestServer(t, ms)
	router := server.routes()

	rr := doJSON(t, router, "GET", "/state", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 with no cache, got %d", rr.Code)
	}
}

func TestWhatsAppDraft(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(t, ms)
	router := server.routes()

	apartment := seedApartment(ms, "4", "Ali Veli", 500)
	p := seedPayment(ms, apartment.ID, "2024-02", 500)
	p.DueDate = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	rr := doJSON(t, router, "GET", "/apartments/"+apartment.ID.String()+"/whatsapp?type=reminder", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Message string `json:"message"`
		Phone   string `json:"phone"`
		Link    string `json:"link"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.Contains(resp.Message, "Ali Veli") {
		t.Errorf("Expected message to mention the owner, got %q", resp.Message)
	}
	if resp.Phone != "905551234567" {
		t.Errorf("Expected normalized phone 905551234567, got %s", resp.Phone)
	}
	if !strings.HasPrefix(resp.Link, "https://wa.me/905551234567?text=") {
		t.Errorf("Expected wa.me link, got %s", resp.Link)
	}

	other := seedApartment(ms, "6", "Hasan Çelik", 500)
	rr = doJSON(t, router, "GET", "/apartments/"+other.ID.String()+"/whatsapp", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for apartment with no debt, got %d", rr.Code)
	}
}
