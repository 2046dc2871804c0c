package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/oyilmaz/aptDues/pkg/auth"
	"github.com/oyilmaz/aptDues/pkg/cache"
	"github.com/oyilmaz/aptDues/pkg/config"
	"github.com/oyilmaz/aptDues/pkg/dues"
	"github.com/oyilmaz/aptDues/pkg/models"
	"github.com/oyilmaz/aptDues/pkg/notify"
	"github.com/oyilmaz/aptDues/pkg/report"
	"github.com/oyilmaz/aptDues/pkg/store"
)

const dateLayout = "2006-01-02"

// Server holds the engine and its collaborators.
type Server struct {
	engine      *dues.Engine
	storage     store.Storage
	snapshot    *cache.Snapshot
	sessions    *auth.Sessions
	validate    *validator.Validate
	loadTimeout time.Duration
}

func NewServer(s store.Storage, snapshot *cache.Snapshot, sessions *auth.Sessions, loadTimeout time.Duration) *Server {
	return &Server{
		engine:      dues.NewEngine(s),
		storage:     s,
		snapshot:    snapshot,
		sessions:    sessions,
		validate:    validator.New(),
		loadTimeout: loadTimeout,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/login", s.loginHandler).Methods("POST")

	api := router.NewRoute().Subrouter()
	if s.sessions != nil {
		api.Use(s.sessions.Middleware)
	}

	api.HandleFunc("/state", s.stateHandler).Methods("GET")
	api.HandleFunc("/summary", s.summaryHandler).Methods("GET")
	api.HandleFunc("/report.csv", s.reportHandler).Methods("GET")

	api.HandleFunc("/apartments", s.listApartmentsHandler).Methods("GET")
	api.HandleFunc("/apartments", s.createApartmentHandler).Methods("POST")
	api.HandleFunc("/apartments/{id}", s.getApartmentHandler).Methods("GET")
	api.HandleFunc("/apartments/{id}", s.updateApartmentHandler).Methods("PUT")
	api.HandleFunc("/apartments/{id}", s.deleteApartmentHandler).Methods("DELETE")
	api.HandleFunc("/apartments/{id}/whatsapp", s.whatsappHandler).Methods("GET")

	api.HandleFunc("/payments", s.listPaymentsHandler).Methods("GET")
	api.HandleFunc("/payments", s.createPaymentHandler).Methods("POST")
	api.HandleFunc("/payments/generate", s.generateDuesHandler).Methods("POST")
	api.HandleFunc("/payments/advance", s.advancePaymentHandler).Methods("POST")
	api.HandleFunc("/payments/{id}", s.getPaymentHandler).Methods("GET")
	api.HandleFunc("/payments/{id}", s.deletePaymentHandler).Methods("DELETE")
	api.HandleFunc("/payments/{id}/pay", s.payHandler).Methods("POST")
	api.HandleFunc("/payments/{id}/revert", s.revertHandler).Methods("POST")

	return router
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "Password is required", http.StatusBadRequest)
		return
	}

	token, err := s.sessions.Login(req.Password)
	if err != nil {
		http.Error(w, "Invalid password", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// stateHandler serves the combined roster and dues records. The remote fetch
// races a timeout; when it loses, the last local snapshot is served instead
// so the operator can keep working offline.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	apartments, payments, err := s.loadRemoteState()
	if err == nil {
		s.refreshSnapshots(apartments, payments)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"source":     "remote",
			"apartments": apartments,
			"payments":   payments,
		})
		return
	}

	kind := store.Classify(err)
	log.Printf("State load failed (%s): %v", store.FailureMessage(kind), err)

	cachedApartments, aErr := s.snapshot.LoadApartments()
	cachedPayments, pErr := s.snapshot.LoadPayments()
	if aErr != nil || pErr != nil {
		http.Error(w, store.FailureMessage(kind), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":     "cache",
		"warning":    store.FailureMessage(kind),
		"apartments": cachedApartments,
		"payments":   cachedPayments,
	})
}

func (s *Server) loadRemoteState() ([]*models.Apartment, []*models.Payment, error) {
	type result struct {
		apartments []*models.Apartment
		payments   []*models.Payment
		err        error
	}

	done := make(chan result, 1)
	go func() {
		apartments, err := s.engine.GetAllApartments()
		if err != nil {
			done <- result{err: err}
			return
		}
		payments, err := s.engine.GetAllPayments()
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{apartments: apartments, payments: payments}
	}()

	select {
	case res := <-done:
		return res.apartments, res.payments, res.err
	case <-time.After(s.loadTimeout):
		return nil, nil, fmt.Errorf("data service timed out after %s", s.loadTimeout)
	}
}

// refreshSnapshots keeps the local fallback current. Failures only get
// logged; the snapshot is a convenience, not a requirement.
func (s *Server) refreshSnapshots(apartments []*models.Apartment, payments []*models.Payment) {
	if s.snapshot == nil {
		return
	}
	if apartments != nil {
		if err := s.snapshot.SaveApartments(apartments); err != nil {
			log.Printf("Failed to update apartments snapshot: %v", err)
		}
	}
	if payments != nil {
		if err := s.snapshot.SavePayments(payments); err != nil {
			log.Printf("Failed to update payments snapshot: %v", err)
		}
	}
}

// snapshotAfterMutation re-reads both collections and rewrites the local
// snapshot after a successful write.
func (s *Server) snapshotAfterMutation() {
	if s.snapshot == nil {
		return
	}
	apartments, err := s.engine.GetAllApartments()
	if err != nil {
		log.Printf("Snapshot refresh skipped, apartments load failed: %v", err)
		return
	}
	payments, err := s.engine.GetAllPayments()
	if err != nil {
		log.Printf("Snapshot refresh skipped, payments load failed: %v", err)
		return
	}
	s.refreshSnapshots(apartments, payments)
}

func (s *Server) listApartmentsHandler(w http.ResponseWriter, r *http.Request) {
	apartments, err := s.engine.GetAllApartments()
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apartments)
}

type apartmentRequest struct {
	Number        string          `json:"apartment_number" validate:"required"`
	Owner         string          `json:"owner_name" validate:"required"`
	Phone         string          `json:"phone"`
	Email         string          `json:"email" validate:"omitempty,email"`
	Floor         int             `json:"floor"`
	ApartmentSize int             `json:"apartment_size"`
	MonthlyFee    decimal.Decimal `json:"monthly_fee"`
}

func (s *Server) createApartmentHandler(w http.ResponseWriter, r *http.Request) {
	var req apartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid apartment: %v", err), http.StatusBadRequest)
		return
	}

	apartment, err := s.engine.AddApartment(req.Number, req.Owner, req.Phone, req.Email,
		req.Floor, req.ApartmentSize, req.MonthlyFee)
	if err != nil {
		log.Printf("Error creating apartment: %v", err)
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	writeJSON(w, http.StatusCreated, apartment)
}

func (s *Server) getApartmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	apartment, err := s.engine.GetApartment(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apartment)
}

func (s *Server) updateApartmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req apartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid apartment: %v", err), http.StatusBadRequest)
		return
	}

	apartment, err := s.engine.GetApartment(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	apartment.Number = req.Number
	apartment.Owner = req.Owner
	apartment.Phone = req.Phone
	apartment.Email = req.Email
	apartment.Floor = req.Floor
	apartment.ApartmentSize = req.ApartmentSize
	apartment.MonthlyFee = req.MonthlyFee

	if err := s.engine.UpdateApartment(apartment); err != nil {
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	writeJSON(w, http.StatusOK, apartment)
}

func (s *Server) deleteApartmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteApartment(id); err != nil {
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	payments, err := s.engine.GetAllPayments()
	if err != nil {
		s.storeError(w, err)
		return
	}
	if month := r.URL.Query().Get("month"); month != "" {
		filtered := payments[:0]
		for _, p := range payments {
			if p.Month == month {
				filtered = append(filtered, p)
			}
		}
		payments = filtered
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) createPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApartmentID string          `json:"apartment_id" validate:"required,uuid"`
		Month       string          `json:"month" validate:"required"`
		Amount      decimal.Decimal `json:"amount"`
		DueDate     string          `json:"due_date" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid payment: %v", err), http.StatusBadRequest)
		return
	}

	apartmentID, err := uuid.Parse(req.ApartmentID)
	if err != nil {
		http.Error(w, "Invalid apartment ID", http.StatusBadRequest)
		return
	}
	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		http.Error(w, "Invalid due date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	payment, err := s.engine.CreatePayment(apartmentID, req.Month, req.Amount, dueDate)
	if err != nil {
		if errors.Is(err, dues.ErrDuplicatePayment) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := s.engine.GetPayment(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) deletePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeletePayment(id); err != nil {
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	w.WriteHeader(http.StatusNoContent)
}

// payHandler records a payment entry. A missing amount settles the record in
// full; otherwise the entry must be positive and no more than the amount due.
func (s *Server) payHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		PaidAmount *decimal.Decimal `json:"paid_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payment *models.Payment
	var err error
	if req.PaidAmount == nil {
		payment, err = s.engine.MarkFullyPaid(id)
	} else {
		payment, err = s.engine.ApplyPayment(id, *req.PaidAmount)
	}
	if err != nil {
		if errors.Is(err, dues.ErrNonPositiveAmount) || errors.Is(err, dues.ErrOverpayment) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) revertHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := s.engine.RevertToPending(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) generateDuesHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month   string          `json:"month" validate:"required"`
		Amount  decimal.Decimal `json:"amount"`
		DueDate string          `json:"due_date" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		http.Error(w, "Invalid due date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	created, skipped, err := s.engine.GenerateMonthlyDues(req.Month, req.Amount, dueDate)
	if err != nil {
		log.Printf("Error generating monthly dues: %v", err)
		s.storeError(w, err)
		return
	}
	s.snapshotAfterMutation()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"created":  len(created),
		"skipped":  skipped,
		"payments": created,
	})
}

func (s *Server) advancePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApartmentID   string          `json:"apartment_id" validate:"required,uuid"`
		StartMonth    string          `json:"start_month" validate:"required"`
		MonthCount    int             `json:"month_count" validate:"required,min=1,max=12"`
		MonthlyAmount decimal.Decimal `json:"monthly_amount"`
		TotalPaid     decimal.Decimal `json:"total_paid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	apartmentID, err := uuid.Parse(req.ApartmentID)
	if err != nil {
		http.Error(w, "Invalid apartment ID", http.StatusBadRequest)
		return
	}

	plan, err := s.engine.RecordAdvancePayment(apartmentID, req.StartMonth, req.MonthCount,
		req.MonthlyAmount, req.TotalPaid)
	if err != nil {
		var mismatch *dues.AmountMismatchError
		switch {
		case errors.As(err, &mismatch):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":      mismatch.Error(),
				"expected":   mismatch.Expected,
				"entered":    mismatch.Entered,
				"difference": mismatch.Difference,
			})
		case errors.Is(err, dues.ErrNothingToProcess),
			errors.Is(err, dues.ErrMonthCountRange),
			errors.Is(err, dues.ErrNonPositiveAmount):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Printf("Error recording advance payment: %v", err)
			s.storeError(w, err)
		}
		return
	}
	s.snapshotAfterMutation()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"months":         plan.RequestedMonths,
		"created":        len(plan.NewPayments),
		"skipped_months": plan.SkippedMonths,
		"payments":       plan.NewPayments,
	})
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = dues.CurrentMonth(time.Now())
	}
	summary, err := s.engine.SummarizeMonth(month)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	apartments, err := s.engine.GetAllApartments()
	if err != nil {
		s.storeError(w, err)
		return
	}
	payments, err := s.engine.GetAllPayments()
	if err != nil {
		s.storeError(w, err)
		return
	}

	month := r.URL.Query().Get("month")
	status := r.URL.Query().Get("status")
	filtered := make([]*models.Payment, 0, len(payments))
	for _, p := range payments {
		if month != "" && p.Month != month {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		filtered = append(filtered, p)
	}

	filename := "dues-report.csv"
	if month != "" {
		filename = fmt.Sprintf("dues-report-%s.csv", month)
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	rows := report.BuildRows(apartments, filtered)
	if err := report.WriteCSV(w, rows); err != nil {
		log.Printf("Error writing report: %v", err)
	}
}

func (s *Server) whatsappHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	debtors, err := s.engine.Debtors()
	if err != nil {
		s.storeError(w, err)
		return
	}

	for _, debtor := range debtors {
		if debtor.Apartment.ID != id {
			continue
		}
		msgType := notify.MessageType(r.URL.Query().Get("type"))
		message := notify.Draft(debtor, msgType, r.URL.Query().Get("template"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":     message,
			"phone":       notify.NormalizePhone(debtor.Apartment.Phone),
			"link":        notify.DeepLink(debtor.Apartment.Phone, message),
			"total_debt":  debtor.TotalDebt,
			"owed_months": debtor.OwedMonths,
		})
		return
	}

	http.Error(w, "Apartment has no outstanding dues", http.StatusNotFound)
}

// storeError maps a storage failure onto an HTTP response.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	kind := store.Classify(err)
	switch kind {
	case store.FailureConnectivity:
		http.Error(w, store.FailureMessage(kind), http.StatusServiceUnavailable)
	case store.FailureAuth, store.FailureSchema:
		http.Error(w, store.FailureMessage(kind), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer pgStore.Close()

	snapshot, err := cache.Open(cfg.CachePath)
	if err != nil {
		log.Fatalf("Failed to open local cache: %v", err)
	}
	defer snapshot.Close()

	sessions := auth.NewSessions(cfg.AdminPasswordHash, cfg.JWTSecret)
	server := NewServer(pgStore, snapshot, sessions, cfg.LoadTimeout)

	// Warm load so the first /state answer is fast and the snapshot is
	// fresh. A failure here is not fatal; the cache covers it.
	apartments, payments, err := server.loadRemoteState()
	if err != nil {
		log.Printf("Initial load failed (%s): %v", store.FailureMessage(store.Classify(err)), err)
	} else {
		server.refreshSnapshots(apartments, payments)
		log.Printf("Loaded %d apartments and %d payments.", len(apartments), len(payments))
	}

	log.Printf("Server starting on %s", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, server.routes()))
}
