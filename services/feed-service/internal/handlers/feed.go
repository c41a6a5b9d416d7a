package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carebridge-au/carebridge/services/feed-service/internal/cache"
	"github.com/carebridge-au/carebridge/services/feed-service/internal/storage"
)

const (
	maxPostBody    = 2000
	defaultPageLen = 20
	maxPageLen     = 100
)

type FeedHandler struct {
	repo    *storage.FeedRepository
	metrics *storage.MetricsRepository
	cache   *cache.Cache
	logger  *slog.Logger
	now     func() time.Time
}

func NewFeedHandler(repo *storage.FeedRepository, metrics *storage.MetricsRepository, pageCache *cache.Cache, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		repo:    repo,
		metrics: metrics,
		cache:   pageCache,
		logger:  logger,
		now:     time.Now,
	}
}

type createPostRequest struct {
	Body    string `json:"body"`
	GroupID string `json:"group_id,omitempty"`
}

type postItem struct {
	PostID     string `json:"post_id"`
	AuthorID   string `json:"author_id"`
	AuthorRole string `json:"author_role"`
	GroupID    string `json:"group_id,omitempty"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at"`
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type joinGroupRequest struct {
	GroupID string `json:"group_id"`
}

type groupItem struct {
	GroupID     string `json:"group_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	MemberCount int    `json:"member_count"`
	CreatedAt   string `json:"created_at"`
}

type activityItem struct {
	EventType     string `json:"event_type"`
	BookingID     string `json:"booking_id"`
	ProviderID    string `json:"provider_id"`
	ParticipantID string `json:"participant_id"`
	OccurredAt    string `json:"occurred_at"`
}

type metricsResponse struct {
	ProviderID string               `json:"provider_id"`
	Bookings   []bookingMetricItem  `json:"bookings"`
	Deliveries []deliveryMetricItem `json:"deliveries"`
}

type bookingMetricItem struct {
	Day            string `json:"day"`
	ConfirmedCount int    `json:"confirmed_count"`
	CancelledCount int    `json:"cancelled_count"`
}

type deliveryMetricItem struct {
	Day         string `json:"day"`
	Channel     string `json:"channel"`
	SentCount   int    `json:"sent_count"`
	FailedCount int    `json:"failed_count"`
}

func (h *FeedHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	if userID == "" {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	req.GroupID = strings.TrimSpace(req.GroupID)
	if req.Body == "" {
		http.Error(w, "body is required", http.StatusBadRequest)
		return
	}
	if len(req.Body) > maxPostBody {
		http.Error(w, "body too long", http.StatusBadRequest)
		return
	}

	post, err := h.repo.CreatePost(r.Context(), storage.Post{
		AuthorID:   userID,
		AuthorRole: role,
		GroupID:    req.GroupID,
		Body:       req.Body,
	})
	if err != nil {
		h.logger.Error("failed to create post", "err", err)
		http.Error(w, "failed to create post", http.StatusInternalServerError)
		return
	}

	h.cache.Invalidate(r.Context(), postsCacheKey(req.GroupID))

	writeJSON(w, http.StatusCreated, toPostItem(post))
}

func (h *FeedHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	groupID := strings.TrimSpace(r.URL.Query().Get("group_id"))
	limit := parseLimit(r.URL.Query().Get("limit"))

	before := h.now().UTC()
	firstPage := true
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid before", http.StatusBadRequest)
			return
		}
		before = parsed
		firstPage = false
	}

	// Only the first page is cached; deeper pages are rare and cheap.
	cacheKey := postsCacheKey(groupID)
	if firstPage && limit == defaultPageLen {
		var cached []postItem
		if h.cache.Get(r.Context(), cacheKey, &cached) {
			writeJSON(w, http.StatusOK, map[string]any{"posts": cached})
			return
		}
	}

	posts, err := h.repo.ListPosts(r.Context(), groupID, before, limit)
	if err != nil {
		h.logger.Error("failed to list posts", "err", err)
		http.Error(w, "failed to list posts", http.StatusInternalServerError)
		return
	}

	items := make([]postItem, 0, len(posts))
	for _, p := range posts {
		items = append(items, toPostItem(p))
	}
	if firstPage && limit == defaultPageLen {
		h.cache.Set(r.Context(), cacheKey, items)
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": items})
}

func (h *FeedHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	group, err := h.repo.CreateGroup(r.Context(), storage.Group{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
	})
	if err != nil {
		h.logger.Error("failed to create group", "err", err)
		http.Error(w, "failed to create group", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toGroupItem(group))
}

func (h *FeedHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}

	var req joinGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.GroupID = strings.TrimSpace(req.GroupID)
	if req.GroupID == "" {
		http.Error(w, "group_id is required", http.StatusBadRequest)
		return
	}

	if err := h.repo.JoinGroup(r.Context(), req.GroupID, userID); err != nil {
		if err == pgx.ErrNoRows {
			http.Error(w, "group not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to join group", "err", err)
		http.Error(w, "failed to join group", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"group_id": req.GroupID, "status": "joined"})
}

func (h *FeedHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	groups, err := h.repo.ListGroups(r.Context(), maxPageLen)
	if err != nil {
		h.logger.Error("failed to list groups", "err", err)
		http.Error(w, "failed to list groups", http.StatusInternalServerError)
		return
	}

	items := make([]groupItem, 0, len(groups))
	for _, g := range groups {
		items = append(items, toGroupItem(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": items})
}

// Activity returns the caller's activity stream. Admins can inspect any
// provider via the provider_id query param.
func (h *FeedHandler) Activity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	if userID == "" {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}

	filterProvider := ""
	filterParticipant := ""
	switch role {
	case "admin":
		filterProvider = strings.TrimSpace(r.URL.Query().Get("provider_id"))
		if filterProvider == "" {
			filterParticipant = strings.TrimSpace(r.URL.Query().Get("participant_id"))
		}
		if filterProvider == "" && filterParticipant == "" {
			http.Error(w, "provider_id or participant_id is required", http.StatusBadRequest)
			return
		}
	case "provider":
		if providerID == "" {
			http.Error(w, "provider identity required", http.StatusForbidden)
			return
		}
		filterProvider = providerID
	default:
		filterParticipant = userID
	}

	entries, err := h.repo.ListActivity(r.Context(), filterProvider, filterParticipant, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.logger.Error("failed to list activity", "err", err)
		http.Error(w, "failed to list activity", http.StatusInternalServerError)
		return
	}

	items := make([]activityItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, activityItem{
			EventType:     e.EventType,
			BookingID:     e.BookingID,
			ProviderID:    e.ProviderID,
			ParticipantID: e.ParticipantID,
			OccurredAt:    e.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}

// Metrics serves the provider dashboard numbers: daily confirmed/cancelled
// bookings and reminder delivery counts for the last 30 days.
func (h *FeedHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))

	switch role {
	case "admin":
		providerID = strings.TrimSpace(r.URL.Query().Get("provider_id"))
		if providerID == "" {
			http.Error(w, "provider_id is required", http.StatusBadRequest)
			return
		}
	case "provider":
		if providerID == "" {
			http.Error(w, "provider identity required", http.StatusForbidden)
			return
		}
	default:
		http.Error(w, "provider or admin role required", http.StatusForbidden)
		return
	}

	since := h.now().UTC().AddDate(0, 0, -30)

	bookings, err := h.metrics.ListBookingMetrics(r.Context(), providerID, since)
	if err != nil {
		h.logger.Error("failed to list booking metrics", "err", err)
		http.Error(w, "failed to list metrics", http.StatusInternalServerError)
		return
	}
	deliveries, err := h.metrics.ListDeliveryMetrics(r.Context(), providerID, since)
	if err != nil {
		h.logger.Error("failed to list delivery metrics", "err", err)
		http.Error(w, "failed to list metrics", http.StatusInternalServerError)
		return
	}

	resp := metricsResponse{
		ProviderID: providerID,
		Bookings:   make([]bookingMetricItem, 0, len(bookings)),
		Deliveries: make([]deliveryMetricItem, 0, len(deliveries)),
	}
	for _, m := range bookings {
		resp.Bookings = append(resp.Bookings, bookingMetricItem{
			Day:            m.Day.Format("2006-01-02"),
			ConfirmedCount: m.ConfirmedCount,
			CancelledCount: m.CancelledCount,
		})
	}
	for _, m := range deliveries {
		resp.Deliveries = append(resp.Deliveries, deliveryMetricItem{
			Day:         m.Day.Format("2006-01-02"),
			Channel:     m.Channel,
			SentCount:   m.SentCount,
			FailedCount: m.FailedCount,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func postsCacheKey(groupID string) string {
	if groupID == "" {
		return "feed:posts:global"
	}
	return "feed:posts:group:" + groupID
}

func parseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageLen
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultPageLen
	}
	if n > maxPageLen {
		return maxPageLen
	}
	return n
}

func toPostItem(p storage.Post) postItem {
	return postItem{
		PostID:     p.ID,
		AuthorID:   p.AuthorID,
		AuthorRole: p.AuthorRole,
		GroupID:    p.GroupID,
		Body:       p.Body,
		CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toGroupItem(g storage.Group) groupItem {
	return groupItem{
		GroupID:     g.ID,
		Name:        g.Name,
		Description: g.Description,
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
		CreatedAt:   g.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
