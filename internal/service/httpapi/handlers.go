package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/intake"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

type createResponse struct {
	OK        bool    `json:"ok"`
	Ref       string  `json:"ref"`
	ID        *string `json:"id"`
	ProofURL  string  `json:"proofUrl,omitempty"`
	Persisted bool    `json:"persisted"`
}

type notificationView struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type updateResponse struct {
	OK            bool                 `json:"ok"`
	ID            string               `json:"id"`
	Ref           string               `json:"ref"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	Note          string               `json:"note,omitempty"`
	Changes       []domain.Change      `json:"changes"`
	Notifications []notificationView   `json:"notifications"`
}

type statusPatchBody struct {
	Status        *string `json:"status"`
	PaymentStatus *string `json:"paymentStatus"`
	Note          *string `json:"note"`
}

func (s *Server) reqLog(r *http.Request) *log.Entry {
	return s.logger.WithField("request_id", middleware.GetReqID(r.Context()))
}

// createOrder принимает заказ. Успешный ответ приходит всегда после
// нормализации: 201, если заказ сохранён, и 202 в деградированном режиме.
func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	req, err := intake.DecodeRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Legacy {
		s.reqLog(r).WithField("path", r.URL.Path).Debug("legacy order shape accepted")
	}

	res, err := s.svc.Create(r.Context(), req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), verr.Details())
			return
		}
		s.reqLog(r).WithError(err).Error("order intake failed")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	out := createResponse{OK: true, Ref: res.Reference, ProofURL: res.ProofURL, Persisted: res.Persisted}
	status := http.StatusAccepted
	if res.Persisted {
		id := res.ID
		out.ID = &id
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

func (s *Server) trackOrder(w http.ResponseWriter, r *http.Request) {
	ref, id, ok := lookupParams(w, r)
	if !ok {
		return
	}
	view, err := s.svc.Track(r.Context(), ref, id)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK    bool             `json:"ok"`
		Order orders.TrackView `json:"order"`
	}{OK: true, Order: view})
}

func (s *Server) orderReceipt(w http.ResponseWriter, r *http.Request) {
	ref, id, ok := lookupParams(w, r)
	if !ok {
		return
	}
	pdf, filename, err := s.svc.Receipt(r.Context(), ref, id)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func lookupParams(w http.ResponseWriter, r *http.Request) (string, orders.Identity, bool) {
	q := r.URL.Query()
	ref := strings.TrimSpace(q.Get("ref"))
	id := orders.Identity{Phone: q.Get("phone"), Email: q.Get("email")}
	if ref == "" || (strings.TrimSpace(id.Phone) == "" && strings.TrimSpace(id.Email) == "") {
		writeError(w, http.StatusBadRequest, "ref and phone or email are required", nil)
		return "", orders.Identity{}, false
	}
	return ref, id, true
}

func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, domain.ErrOrderNotFound.Error(), nil)
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		s.reqLog(r).WithError(err).Warn("order lookup unavailable")
		writeError(w, http.StatusServiceUnavailable, "order lookup is temporarily unavailable", nil)
	case errors.Is(err, orders.ErrReceiptUnavailable):
		writeError(w, http.StatusInternalServerError, orders.ErrReceiptUnavailable.Error(), nil)
	default:
		s.reqLog(r).WithError(err).Error("order lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	problems, err := validateSchema(statusPatchLoader, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrMalformedPayload.Error(), nil)
		return
	}
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), problems)
		return
	}

	var raw statusPatchBody
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrMalformedPayload.Error(), nil)
		return
	}
	patch, problems := toPatch(raw)
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), problems)
		return
	}

	res, err := s.svc.UpdateStatus(r.Context(), id, patch)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, domain.ErrOrderNotFound.Error(), nil)
		return
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		s.reqLog(r).WithError(err).WithField("order_id", id).Error("status update not stored")
		writeError(w, http.StatusServiceUnavailable, "order store is unavailable", nil)
		return
	default:
		s.reqLog(r).WithError(err).WithField("order_id", id).Error("status update failed")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	if subject, ok := r.Context().Value(adminSubjectKey).(string); ok {
		s.reqLog(r).WithFields(log.Fields{"admin": subject, "order_ref": res.Order.Reference}).Info("order updated by admin")
	}

	changes := res.Changes
	if changes == nil {
		changes = []domain.Change{}
	}
	writeJSON(w, http.StatusOK, updateResponse{
		OK:            true,
		ID:            res.Order.ID,
		Ref:           res.Order.Reference,
		Status:        res.Order.Status,
		PaymentStatus: res.Order.PaymentStatus,
		Note:          res.Order.Note,
		Changes:       changes,
		Notifications: notificationViews(res.Outcomes),
	})
}

func toPatch(raw statusPatchBody) (domain.StatusPatch, []string) {
	var (
		patch    domain.StatusPatch
		problems []string
	)
	if raw.Status != nil {
		st, ok := domain.ParseOrderStatus(*raw.Status)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown status %q", *raw.Status))
		} else {
			patch.Status = &st
		}
	}
	if raw.PaymentStatus != nil {
		ps, ok := domain.ParsePaymentStatus(*raw.PaymentStatus)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown paymentStatus %q", *raw.PaymentStatus))
		} else {
			patch.PaymentStatus = &ps
		}
	}
	if raw.Note != nil {
		note := strings.TrimSpace(*raw.Note)
		patch.Note = &note
	}
	return patch, problems
}

func notificationViews(outcomes []notify.Outcome) []notificationView {
	views := make([]notificationView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, notificationView{Channel: string(o.Channel), Status: string(o.Status), Reason: o.Reason})
	}
	return views
}

func (s *Server) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK     bool                   `json:"ok"`
		Events []domain.TimelineEvent `json:"events"`
	}{OK: true, Events: events})
}

func (s *Server) orderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK    bool         `json:"ok"`
		Stats orders.Stats `json:"stats"`
	}{OK: true, Stats: stats})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, domain.ErrMalformedPayload.Error(), nil)
		return nil, false
	}
	return body, true
}
