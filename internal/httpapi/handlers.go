package httpapi

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/auth"
	"github.com/jensholdgaard/auctionhub/internal/invoice"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

const (
	defaultBidLimit = 50
	maxBidLimit     = 200
)

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

type createAuctionRequest struct {
	ItemName        string          `json:"itemName" validate:"required,max=200"`
	Description     string          `json:"description" validate:"max=2000"`
	StartingPrice   decimal.Decimal `json:"startingPrice"`
	BidIncrement    decimal.Decimal `json:"bidIncrement"`
	GoLiveAt        *time.Time      `json:"goLiveAt"`
	DurationMinutes int             `json:"durationMinutes" validate:"required,min=1,max=10080"`
}

type counterRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type auctionView struct {
	*store.Auction
	EndsAt     time.Time  `json:"endsAt"`
	HighestBid *store.Bid `json:"highestBid"`
}

type statusResponse struct {
	Status store.AuctionStatus `json:"status"`
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, token, err := s.auth.Signup(r.Context(), auth.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     store.Role(req.Role),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{User: u, Token: token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: u, Token: token})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := s.auth.User(r.Context(), identity(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func parseStatuses(raw string) ([]store.AuctionStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []store.AuctionStatus
	for _, part := range strings.Split(raw, ",") {
		st := store.AuctionStatus(strings.TrimSpace(part))
		switch st {
		case store.StatusScheduled, store.StatusLive, store.StatusEnded,
			store.StatusAccepted, store.StatusRejected, store.StatusCounterPending,
			store.StatusCounterAccepted, store.StatusCounterRejected:
			out = append(out, st)
		default:
			return nil, &validationError{msg: "unknown status " + strconv.Quote(string(st))}
		}
	}
	return out, nil
}

func (s *Server) listAuctions(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	auctions, err := s.repos.Auctions.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.repos.Auctions.GetByID(ctx, chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	highest, err := s.repos.Bids.Highest(ctx, a.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionView{Auction: a, EndsAt: a.EndsAt(), HighestBid: highest})
}

func (s *Server) listBids(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.repos.Auctions.GetByID(ctx, chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := defaultBidLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, &validationError{msg: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxBidLimit)
	}

	bids, err := s.repos.Bids.ListByAuction(ctx, a.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (s *Server) createAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l := auction.Listing{
		ItemName:        req.ItemName,
		Description:     req.Description,
		StartingPrice:   req.StartingPrice,
		BidIncrement:    req.BidIncrement,
		DurationMinutes: req.DurationMinutes,
	}
	if req.GoLiveAt != nil {
		l.GoLiveAt = *req.GoLiveAt
	}

	a, err := s.catalog.Create(r.Context(), identity(r).ID, l)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, auctionView{Auction: a, EndsAt: a.EndsAt()})
}

func (s *Server) sellerAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.repos.Auctions.ListBySeller(r.Context(), identity(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (s *Server) acceptBid(w http.ResponseWriter, r *http.Request) {
	inv, err := s.negotiator.Accept(r.Context(), identity(r).ID, chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) rejectBid(w http.ResponseWriter, r *http.Request) {
	if err := s.negotiator.Reject(r.Context(), identity(r).ID, chi.URLParam(r, "auctionID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: store.StatusRejected})
}

func (s *Server) counterOffer(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := s.negotiator.Counter(r.Context(), identity(r).ID, chi.URLParam(r, "auctionID"), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) acceptCounter(w http.ResponseWriter, r *http.Request) {
	inv, err := s.negotiator.AcceptCounter(r.Context(), identity(r).ID, chi.URLParam(r, "offerID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) rejectCounter(w http.ResponseWriter, r *http.Request) {
	if err := s.negotiator.RejectCounter(r.Context(), identity(r).ID, chi.URLParam(r, "offerID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: store.StatusCounterRejected})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.repos.Notifications.ListByUser(r.Context(), identity(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	err := s.repos.Notifications.MarkRead(r.Context(), chi.URLParam(r, "notificationID"), identity(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// invoiceFile serves a generated invoice to the buyer, the seller or an
// admin.
func (s *Server) invoiceFile(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	auctionID := strings.TrimSuffix(strings.TrimPrefix(file, "invoice-"), ".pdf")
	if auctionID == "" || invoice.FileName(auctionID) != file || filepath.Base(file) != file {
		s.writeError(w, r, store.ErrNotFound)
		return
	}

	inv, err := s.repos.Invoices.GetByAuction(r.Context(), auctionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identity(r)
	if id.Role != store.RoleAdmin && id.ID != inv.BuyerID && id.ID != inv.SellerID {
		writeJSON(w, http.StatusForbidden, errorBody{Message: "Insufficient permissions"})
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, filepath.Join(s.invoiceDir, file))
}

func (s *Server) adminAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.repos.Auctions.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (s *Server) adminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.repos.Users.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) forceStart(w http.ResponseWriter, r *http.Request) {
	a, err := s.scheduler.ForceStart(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionView{Auction: a, EndsAt: a.EndsAt()})
}

func (s *Server) resetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := s.scheduler.Reset(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionView{Auction: a, EndsAt: a.EndsAt()})
}
