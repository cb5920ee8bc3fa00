package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/ember/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/geo"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/relationship"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "ember_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUserService  = errors.New("user service dependency required")
	errMissingGraph        = errors.New("relationship graph dependency required")
	errMissingChatStore    = errors.New("chat store dependency required")
	errMissingPresenceHub  = errors.New("presence hub dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the session credential.
type SessionTokenManager interface {
	IssueSessionToken(userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface over the core services.
type Dependencies struct {
	TokenManager SessionTokenManager
	Users        *users.Service
	Graph        *relationship.Graph
	Chats        *chat.Store
	Hub          *presence.Hub
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router serving both the REST surface and
// the realtime websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Graph == nil {
		return nil, errMissingGraph
	}
	if deps.Chats == nil {
		return nil, errMissingChatStore
	}
	if deps.Hub == nil {
		return nil, errMissingPresenceHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.TokenManager,
		users:  deps.Users,
		graph:  deps.Graph,
		chats:  deps.Chats,
		events: NewEventRouter(deps.Graph, deps.Chats, deps.Hub, deps.Users, logger),
		logger: logger,
	}

	router.GET("/", handler.handleRoot)
	router.POST("/register", handler.handleRegister)
	router.POST("/login", handler.handleLogin)
	router.GET("/ws", handler.handleWebsocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleProfile)
	protected.PUT("/profile", handler.handleProfileUpdate)
	protected.DELETE("/profile", handler.handleDeactivate)
	protected.PUT("/location", handler.handleLocationUpdate)
	protected.GET("/location/settings", handler.handleLocationSettings)
	protected.PUT("/location/privacy", handler.handleLocationPrivacy)
	protected.GET("/profiles", handler.handleProfiles)
	protected.POST("/like/:user_id", handler.handleLike)
	protected.POST("/skip/:user_id", handler.handleSkip)
	protected.GET("/matches", handler.handleMatches)
	protected.GET("/chats", handler.handleChats)
	protected.POST("/chat/:user_id/send", handler.handleChatSend)
	protected.GET("/chat/:user_id/messages", handler.handleChatMessages)
	protected.DELETE("/chat/:user_id/message/:message_id", handler.handleChatDelete)
	protected.POST("/block/:user_id", handler.handleBlock)
	protected.DELETE("/block/:user_id", handler.handleUnblock)
	protected.GET("/blocked", handler.handleBlocked)
	protected.GET("/user/:user_id/status", handler.handleUserStatus)

	return router, nil
}

type httpHandler struct {
	tokens SessionTokenManager
	users  *users.Service
	graph  *relationship.Graph
	chats  *chat.Store
	events *EventRouter
	logger *zap.Logger
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ember api is running", "users": len(h.users.List())})
}

type registerPayload struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	Name      string   `json:"name"`
	Age       int      `json:"age"`
	City      string   `json:"city"`
	Bio       string   `json:"bio"`
	Interests []string `json:"interests"`
}

type sessionPayload struct {
	Token     string     `json:"token"`
	ExpiresIn int64      `json:"expires_in"`
	User      users.User `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Register(users.RegisterInput{
		Email:     request.Email,
		Password:  request.Password,
		Name:      request.Name,
		Age:       request.Age,
		City:      request.City,
		Bio:       request.Bio,
		Interests: request.Interests,
	})
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email_already_registered"})
			return
		}
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.issueSession(c, account)
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Authenticate(request.Email, request.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_email_or_password"})
		return
	}

	h.issueSession(c, account)
}

func (h *httpHandler) issueSession(c *gin.Context, account users.User) {
	token, expiresIn, err := h.tokens.IssueSessionToken(account.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, sessionPayload{Token: token, ExpiresIn: expiresIn, User: account})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	account, ok := h.users.Get(c.GetString(userIDContextKey))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, account)
}

type profileUpdatePayload struct {
	Name      *string   `json:"name"`
	Age       *int      `json:"age"`
	City      *string   `json:"city"`
	Bio       *string   `json:"bio"`
	Interests *[]string `json:"interests"`
}

func (h *httpHandler) handleProfileUpdate(c *gin.Context) {
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.UpdateProfile(c.GetString(userIDContextKey), users.ProfilePatch{
		Name:      request.Name,
		Age:       request.Age,
		City:      request.City,
		Bio:       request.Bio,
		Interests: request.Interests,
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) handleDeactivate(c *gin.Context) {
	if err := h.users.Deactivate(c.GetString(userIDContextKey)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

type locationPayload struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	ShowLocation *bool   `json:"show_location"`
}

func (h *httpHandler) handleLocationUpdate(c *gin.Context) {
	var request locationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	show := true
	if request.ShowLocation != nil {
		show = *request.ShowLocation
	}
	if err := h.users.UpdateLocation(c.GetString(userIDContextKey), request.Latitude, request.Longitude, show); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "location_updated"})
}

func (h *httpHandler) handleLocationSettings(c *gin.Context) {
	account, ok := h.users.Get(c.GetString(userIDContextKey))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"latitude":      account.Latitude,
		"longitude":     account.Longitude,
		"show_location": account.ShowLocation,
	})
}

type locationPrivacyPayload struct {
	ShowLocation bool `json:"show_location"`
}

func (h *httpHandler) handleLocationPrivacy(c *gin.Context) {
	var request locationPrivacyPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.users.SetShowLocation(c.GetString(userIDContextKey), request.ShowLocation); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"show_location": request.ShowLocation})
}

type profileCard struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Age             int      `json:"age,omitempty"`
	City            string   `json:"city,omitempty"`
	Bio             string   `json:"bio,omitempty"`
	Interests       []string `json:"interests"`
	CommonInterests []string `json:"common_interests"`
	MatchScore      int      `json:"match_score"`
	PhotoRef        string   `json:"photo,omitempty"`
	Distance        *float64 `json:"distance,omitempty"`
	ShowLocation    bool     `json:"show_location"`
}

func (h *httpHandler) handleProfiles(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	caller, ok := h.users.Get(callerID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}

	var maxDistance float64
	if raw := strings.TrimSpace(c.Query("max_distance")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_max_distance"})
			return
		}
		maxDistance = parsed
	}

	seen := make(map[string]bool)
	for _, id := range h.graph.Seen(callerID) {
		seen[id] = true
	}
	myInterests := make(map[string]bool)
	for _, interest := range caller.Interests {
		myInterests[interest] = true
	}

	cards := make([]profileCard, 0)
	for _, candidate := range h.users.List() {
		if candidate.ID == callerID || seen[candidate.ID] {
			continue
		}
		if h.graph.BlockedEitherDirection(callerID, candidate.ID) {
			continue
		}

		common := make([]string, 0)
		for _, interest := range candidate.Interests {
			if myInterests[interest] {
				common = append(common, interest)
			}
		}

		distance := distanceBetween(caller, candidate)
		if maxDistance > 0 && distance != nil && *distance > maxDistance {
			continue
		}

		cards = append(cards, profileCard{
			ID:              candidate.ID,
			Name:            candidate.Name,
			Age:             candidate.Age,
			City:            candidate.City,
			Bio:             candidate.Bio,
			Interests:       candidate.Interests,
			CommonInterests: common,
			MatchScore:      len(common),
			PhotoRef:        candidate.PhotoRef,
			Distance:        distance,
			ShowLocation:    candidate.ShowLocation,
		})
	}

	sortCardsByScore(cards)
	c.JSON(http.StatusOK, cards)
}

type likeResponsePayload struct {
	Status      string         `json:"status"`
	IsMatch     bool           `json:"is_match"`
	MatchedUser *users.Summary `json:"matched_user,omitempty"`
}

func (h *httpHandler) handleLike(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	targetID := c.Param("user_id")

	result, err := h.events.HandleLike(callerID, targetID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target"})
		return
	}

	response := likeResponsePayload{Status: "liked", IsMatch: result.IsMatch}
	if result.IsMatch {
		if summary, ok := h.users.PublicSummary(targetID); ok {
			response.MatchedUser = &summary
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSkip(c *gin.Context) {
	if err := h.graph.RecordSkip(c.GetString(userIDContextKey), c.Param("user_id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "skipped"})
}

type matchEntry struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Age         int           `json:"age,omitempty"`
	City        string        `json:"city,omitempty"`
	Bio         string        `json:"bio,omitempty"`
	Interests   []string      `json:"interests"`
	PhotoRef    string        `json:"photo,omitempty"`
	LastMessage *chat.Message `json:"last_message"`
	Online      bool          `json:"online"`
	LastSeen    *time.Time    `json:"last_seen,omitempty"`
	Distance    *float64      `json:"distance,omitempty"`
}

func (h *httpHandler) handleMatches(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	caller, ok := h.users.Get(callerID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}

	entries := make([]matchEntry, 0)
	for _, peerID := range h.graph.DeliverableMatches(callerID) {
		peer, ok := h.users.Get(peerID)
		if !ok {
			continue
		}
		entry := matchEntry{
			ID:        peer.ID,
			Name:      peer.Name,
			Age:       peer.Age,
			City:      peer.City,
			Bio:       peer.Bio,
			Interests: peer.Interests,
			PhotoRef:  peer.PhotoRef,
			Distance:  distanceBetween(caller, peer),
		}
		if last, found := h.chats.LastMessage(callerID, peerID); found {
			entry.LastMessage = &last
		}
		status := h.events.hub.GetStatus(peerID)
		entry.Online = status.Online
		if !status.LastSeen.IsZero() {
			lastSeen := status.LastSeen
			entry.LastSeen = &lastSeen
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, entries)
}

type chatEntry struct {
	UserID      string        `json:"user_id"`
	UserName    string        `json:"user_name"`
	PhotoRef    string        `json:"photo,omitempty"`
	LastMessage *chat.Message `json:"last_message"`
	UnreadCount int           `json:"unread_count"`
}

func (h *httpHandler) handleChats(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)

	entries := make([]chatEntry, 0)
	for _, peerID := range h.graph.DeliverableMatches(callerID) {
		peer, ok := h.users.Get(peerID)
		if !ok {
			continue
		}
		entry := chatEntry{
			UserID:      peer.ID,
			UserName:    peer.Name,
			PhotoRef:    peer.PhotoRef,
			UnreadCount: h.chats.UnreadCount(callerID, peerID, callerID),
		}
		if last, found := h.chats.LastMessage(callerID, peerID); found {
			entry.LastMessage = &last
		}
		entries = append(entries, entry)
	}
	sortChatsByRecency(entries)
	c.JSON(http.StatusOK, entries)
}

type sendMessagePayload struct {
	Text     string `json:"text"`
	ImageRef string `json:"image_ref"`
}

func (h *httpHandler) handleChatSend(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	receiverID := c.Param("user_id")

	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message, err := h.events.HandleMessage(callerID, receiverID, request.Text, request.ImageRef)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "you_can_only_chat_with_matches"})
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *httpHandler) handleChatMessages(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	partnerID := c.Param("user_id")

	if !h.graph.IsMatched(callerID, partnerID) || h.graph.BlockedEitherDirection(callerID, partnerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you_can_only_chat_with_matches"})
		return
	}
	c.JSON(http.StatusOK, h.events.HandleFetch(callerID, partnerID))
}

func (h *httpHandler) handleChatDelete(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	partnerID := c.Param("user_id")

	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_message_id"})
		return
	}
	if _, err := h.events.HandleDelete(callerID, partnerID, messageID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *httpHandler) handleBlock(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	targetID := c.Param("user_id")

	if err := h.graph.RecordBlock(callerID, targetID); err != nil {
		if errors.Is(err, relationship.ErrAlreadyBlocked) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_blocked"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "blocked"})
}

func (h *httpHandler) handleUnblock(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	targetID := c.Param("user_id")

	if err := h.graph.RemoveBlock(callerID, targetID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "block_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unblocked"})
}

func (h *httpHandler) handleBlocked(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)

	summaries := make([]users.Summary, 0)
	for _, blockedID := range h.graph.Blocked(callerID) {
		if summary, ok := h.users.PublicSummary(blockedID); ok {
			summaries = append(summaries, summary)
		}
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *httpHandler) handleUserStatus(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	targetID := c.Param("user_id")

	// Blocked pairs see each other as offline; presence is part of the
	// interaction surface a block suppresses.
	if h.graph.BlockedEitherDirection(callerID, targetID) {
		c.JSON(http.StatusOK, presence.Status{})
		return
	}
	c.JSON(http.StatusOK, h.events.hub.GetStatus(targetID))
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	token := c.Query("token")
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !h.users.Exists(userID) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	newWSSession(userID, conn, h.events, h.logger).run()
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !h.users.Exists(userID) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// distanceBetween returns the rounded distance in km when both users have
// coordinates and the peer shares their location.
func distanceBetween(viewer, peer users.User) *float64 {
	if viewer.Latitude == nil || viewer.Longitude == nil {
		return nil
	}
	if peer.Latitude == nil || peer.Longitude == nil || !peer.ShowLocation {
		return nil
	}
	distance := geo.DistanceKm(*viewer.Latitude, *viewer.Longitude, *peer.Latitude, *peer.Longitude)
	rounded := float64(int(distance*10+0.5)) / 10
	return &rounded
}

func sortCardsByScore(cards []profileCard) {
	for i := 1; i < len(cards); i++ {
		for j := i; j > 0 && cards[j].MatchScore > cards[j-1].MatchScore; j-- {
			cards[j], cards[j-1] = cards[j-1], cards[j]
		}
	}
}

func sortChatsByRecency(entries []chatEntry) {
	timestamp := func(entry chatEntry) time.Time {
		if entry.LastMessage == nil {
			return time.Time{}
		}
		return entry.LastMessage.CreatedAt
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && timestamp(entries[j]).After(timestamp(entries[j-1])); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
