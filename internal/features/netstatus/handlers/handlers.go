package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
)

const (
	publicHistoryLimit = 10
	adminHistoryLimit  = 50
	maxBodyBytes       = 1 << 20
	minMaintenanceMsg  = 5
)

// Handlers contains all network status HTTP handlers
type Handlers struct {
	logger        *core.Logger
	state         StatusReader
	history       HistoryReader
	checker       StatusChecker
	maintenance   MaintenanceScheduler
	subscriptions SubscriptionService
	events        EventSource
	baseURL       string
}

// Deps groups the collaborators the handlers need
type Deps struct {
	State         StatusReader
	History       HistoryReader
	Checker       StatusChecker
	Maintenance   MaintenanceScheduler
	Subscriptions SubscriptionService
	Events        EventSource
	BaseURL       string
}

// NewHandlers creates a new handlers instance
func NewHandlers(logger *core.Logger, deps Deps) *Handlers {
	return &Handlers{
		logger:        logger,
		state:         deps.State,
		history:       deps.History,
		checker:       deps.Checker,
		maintenance:   deps.Maintenance,
		subscriptions: deps.Subscriptions,
		events:        deps.Events,
		baseURL:       strings.TrimRight(deps.BaseURL, "/"),
	}
}

// MessageResponse is the body of every successful mutating call
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BrowserKeys are the web-push keys of a browser subscription
type BrowserKeys struct {
	Auth   string `json:"auth"`
	P256dh string `json:"p256dh"`
}

// SubscribeRequest is the body of POST /api/subscribe
type SubscribeRequest struct {
	Type     string       `json:"type"`
	Email    string       `json:"email,omitempty"`
	URL      string       `json:"url,omitempty"`
	Endpoint string       `json:"endpoint,omitempty"`
	Keys     *BrowserKeys `json:"keys,omitempty"`
}

// UnsubscribeRequest is the body of POST /api/unsubscribe. Exactly one of the
// fields is expected; email is assumed when none is set.
type UnsubscribeRequest struct {
	Email    string `json:"email,omitempty"`
	URL      string `json:"url,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// MaintenanceRequest is the body of POST /api/admin/maintenance
type MaintenanceRequest struct {
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// TypeCounts breaks subscriptions down by channel
type TypeCounts struct {
	Email   int `json:"email"`
	Webhook int `json:"webhook"`
	Browser int `json:"browser"`
}

// SubscriptionSummary is the body of GET /api/subscribe
type SubscriptionSummary struct {
	TotalSubscriptions int        `json:"totalSubscriptions"`
	TypeCounts         TypeCounts `json:"typeCounts"`
}

// NetworkStatusResponse is the body of GET /api/network-status
type NetworkStatusResponse struct {
	CurrentStatus models.CurrentStatus        `json:"currentStatus"`
	History       []models.NetworkStatusEvent `json:"history"`
}

// AdminNetworkStatusResponse is the body of GET /api/admin/network-status
type AdminNetworkStatusResponse struct {
	History           []models.NetworkStatusEvent `json:"history"`
	SubscriptionStats models.SubscriptionStats    `json:"subscriptionStats"`
}

var subscribeMessages = map[string]map[models.SubscribeOutcome]string{
	"email": {
		models.VerificationSent:   "Please check your email to verify your subscription.",
		models.VerificationResent: "Verification email resent. Please check your inbox.",
		models.AlreadySubscribed:  "You are already subscribed to network status updates.",
	},
	"webhook": {
		models.Subscribed:        "Webhook successfully subscribed to network status updates.",
		models.AlreadySubscribed: "Webhook is already subscribed to network status updates.",
	},
	"browser": {
		models.Subscribed:        "Browser successfully subscribed to network status updates.",
		models.AlreadySubscribed: "Browser is already subscribed to network status updates.",
	},
}

// Subscribe handles POST /api/subscribe for every channel
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		outcome models.SubscribeOutcome
		err     error
	)
	switch req.Type {
	case "":
		core.HandleError(w, core.NewValidationError("Missing subscription type", nil))
		return
	case "email":
		outcome, err = h.subscriptions.SubscribeEmail(r.Context(), req.Email)
	case "webhook":
		outcome, err = h.subscriptions.SubscribeWebhook(r.Context(), req.URL)
	case "browser":
		var keys BrowserKeys
		if req.Keys != nil {
			keys = *req.Keys
		}
		outcome, err = h.subscriptions.SubscribeBrowser(r.Context(), req.Endpoint, keys.Auth, keys.P256dh)
	default:
		core.HandleError(w, core.NewValidationError("Unsupported subscription type", nil))
		return
	}
	if err != nil {
		h.fail(w, r, err, "Failed to process subscription")
		return
	}

	core.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: subscribeMessages[req.Type][outcome]})
}

// SubscriptionStats handles GET /api/subscribe
func (h *Handlers) SubscriptionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.subscriptions.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to fetch subscription stats")
		return
	}

	core.WriteJSON(w, http.StatusOK, SubscriptionSummary{
		TotalSubscriptions: stats.Total,
		TypeCounts:         TypeCounts{Email: stats.Email, Webhook: stats.Webhook, Browser: stats.Browser},
	})
}

// Unsubscribe handles POST /api/unsubscribe
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.Endpoint != "":
		err = h.subscriptions.UnsubscribeBrowser(r.Context(), req.Endpoint)
	case req.URL != "":
		err = h.subscriptions.UnsubscribeWebhook(r.Context(), req.URL)
	default:
		err = h.subscriptions.UnsubscribeEmail(r.Context(), req.Email)
	}
	if err != nil {
		h.fail(w, r, err, "Failed to process unsubscribe request")
		return
	}

	core.WriteJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "Successfully unsubscribed from network status updates",
	})
}

// Verify handles GET /api/verify and redirects to the confirmation page
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	err := h.subscriptions.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if core.IsCode(err, core.ErrCodeNotFound) {
			core.WriteErrorResponse(w, http.StatusBadRequest,
				core.NewValidationError("Invalid or expired verification token", err))
			return
		}
		h.fail(w, r, err, "Failed to verify subscription")
		return
	}

	http.Redirect(w, r, h.baseURL+"/subscription-confirmed", http.StatusTemporaryRedirect)
}

// NetworkStatus handles GET /api/network-status
func (h *Handlers) NetworkStatus(w http.ResponseWriter, r *http.Request) {
	history, err := h.history.History(r.Context(), publicHistoryLimit)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch network status")
		return
	}

	core.WriteJSON(w, http.StatusOK, NetworkStatusResponse{
		CurrentStatus: h.state.Snapshot(),
		History:       nonNil(history),
	})
}

// CheckStatus handles POST /api/admin/check-status
func (h *Handlers) CheckStatus(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Check(r.Context())
	h.logger.WithContext(r.Context()).Info("Manual status check",
		"outcome", result.Outcome, "status", result.Current)

	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Network status check initiated successfully",
		"outcome": result.Outcome,
		"status":  result.Current,
	})
}

// ScheduleMaintenance handles POST /api/admin/maintenance
func (h *Handlers) ScheduleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req MaintenanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	message := strings.TrimSpace(req.Message)
	if len(message) < minMaintenanceMsg {
		core.HandleError(w, core.NewValidationError("Please enter a message describing the maintenance", nil))
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		core.HandleError(w, core.NewValidationError("Please provide a valid start time", err))
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		core.HandleError(w, core.NewValidationError("Please provide a valid end time", err))
		return
	}

	details := strings.TrimSpace(req.Details)
	if details != "" {
		message = message + " - " + details
	}

	event, err := h.maintenance.Schedule(r.Context(), models.MaintenanceWindow{
		Start:   start,
		End:     end,
		Message: message,
		Details: details,
	})
	if err != nil {
		h.fail(w, r, err, "Failed to schedule maintenance")
		return
	}

	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Maintenance scheduled successfully",
		"event":   event,
	})
}

// PendingMaintenance handles GET /api/admin/maintenance
func (h *Handlers) PendingMaintenance(w http.ResponseWriter, r *http.Request) {
	core.WriteJSON(w, http.StatusOK, map[string]any{"pending": h.maintenance.Pending()})
}

// CancelMaintenance handles DELETE /api/admin/maintenance/{id}
func (h *Handlers) CancelMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		core.HandleError(w, core.NewValidationError("Invalid maintenance id", err))
		return
	}

	if !h.maintenance.Cancel(id) {
		core.HandleError(w, core.NewNotFoundError("No pending maintenance window with that id", nil))
		return
	}

	core.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Maintenance end check cancelled"})
}

// AdminNetworkStatus handles GET /api/admin/network-status
func (h *Handlers) AdminNetworkStatus(w http.ResponseWriter, r *http.Request) {
	history, err := h.history.History(r.Context(), adminHistoryLimit)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch network status data")
		return
	}
	stats, err := h.subscriptions.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to fetch network status data")
		return
	}

	core.WriteJSON(w, http.StatusOK, AdminNetworkStatusResponse{
		History:           nonNil(history),
		SubscriptionStats: stats,
	})
}

// decode reads a JSON body into dst, writing a 400 on failure
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		core.HandleError(w, core.NewValidationError("Invalid request body", err))
		return false
	}
	return true
}

// fail writes err. Client errors keep their message; server errors are logged
// and answered with fallback unless they carry a delivery message.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var appErr *core.AppError
	if !errors.As(err, &appErr) {
		appErr = core.NewInternalError(fallback, err)
	}

	status := core.GetHTTPStatusCode(appErr)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error(fallback, "error", err)
		if appErr.Code != core.ErrCodeDelivery {
			appErr = core.NewAppError(appErr.Code, fallback, appErr.Err)
		}
	}
	core.WriteErrorResponse(w, status, appErr)
}

func nonNil(events []models.NetworkStatusEvent) []models.NetworkStatusEvent {
	if events == nil {
		return []models.NetworkStatusEvent{}
	}
	return events
}
