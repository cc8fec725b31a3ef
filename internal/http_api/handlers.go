package http_api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/internal/verifier"
	"github.com/keypay/keypay/pkg/validation"
)

// LoginRequest is the JSON body for /auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest is the JSON body for /auth/register
type RegisterRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" binding:"required"`
}

// AuthResponse is returned by login and register
type AuthResponse struct {
	Success bool              `json:"success"`
	Token   string            `json:"token"`
	User    *models.Principal `json:"user"`
}

type VerifyOrderRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

type OrderResponse struct {
	Success bool          `json:"success"`
	Order   *models.Order `json:"order"`
	QRURL   string        `json:"qr_url"`
}

type LicenseStatusRequest struct {
	Status models.LicenseStatus `json:"status" binding:"required"`
}

type BatchStatusRequest struct {
	IDs    []string             `json:"ids" binding:"required,min=1"`
	Status models.LicenseStatus `json:"status" binding:"required"`
}

func (s *HTTPServer) login(c *gin.Context) {
	if s.accounts == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "Login is not available"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	token, user, err := s.accounts.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Success: true, Token: token, User: user})
}

func (s *HTTPServer) register(c *gin.Context) {
	if s.accounts == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "Registration is not available"})
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Password != req.PasswordConfirm {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Passwords do not match"})
		return
	}

	token, user, err := s.accounts.Register(c.Request.Context(), strings.TrimSpace(req.Email), req.Password, req.PasswordConfirm)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Infow("User registered", "user", user.ID)
	c.JSON(http.StatusCreated, AuthResponse{Success: true, Token: token, User: user})
}

// ensureOrder returns the caller's reusable pending order or a fresh one.
func (s *HTTPServer) ensureOrder(c *gin.Context) {
	order, err := s.keypay.EnsureOrder(c.Request.Context(), principal(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, OrderResponse{
		Success: true,
		Order:   order,
		QRURL:   PaymentQRURL(s.opts.QRServiceURL, order.Address),
	})
}

func (s *HTTPServer) listOrders(c *gin.Context) {
	orders, err := s.keypay.ListOrders(c.Request.Context(), principal(c), c.Query("search"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items": orders})
}

// verifyOrder answers with the bare verify result so dashboard clients can
// read it the same way from this route and from the remote alias.
func (s *HTTPServer) verifyOrder(c *gin.Context) {
	var req VerifyOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	result, err := s.keypay.VerifyOrder(c.Request.Context(), principal(c), strings.TrimSpace(req.OrderID))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) issueLicense(c *gin.Context) {
	result, err := s.keypay.IssueLicense(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) listLicenses(c *gin.Context) {
	filter := models.LicenseFilter{
		User:    c.Query("user"),
		Status:  models.LicenseStatus(c.Query("status")),
		Keyword: strings.TrimSpace(c.Query("keyword")),
		Expiry:  models.ExpiryFilter(c.Query("expiry")),
		Note:    c.Query("note"),
	}

	page, err := s.keypay.ListLicenses(c.Request.Context(), principal(c), filter, pageFromQuery(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *HTTPServer) createLicenses(c *gin.Context) {
	var req models.CreateLicensesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	keys, err := s.keypay.CreateLicenses(c.Request.Context(), principal(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "items": keys})
}

func (s *HTTPServer) setLicenseStatus(c *gin.Context) {
	var req LicenseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	if err := s.keypay.SetLicenseStatus(c.Request.Context(), principal(c), c.Param("id"), req.Status); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// batchLicenseStatus reports how many keys changed even when some failed.
func (s *HTTPServer) batchLicenseStatus(c *gin.Context) {
	var req BatchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	updated, err := s.keypay.BatchSetLicenseStatus(c.Request.Context(), principal(c), req.IDs, req.Status)
	if err != nil && updated == 0 {
		s.writeError(c, err)
		return
	}
	resp := gin.H{"success": err == nil, "updated": updated}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) listUsers(c *gin.Context) {
	page := pageFromQuery(c)
	users, total, err := s.keypay.ListUsers(c.Request.Context(), principal(c), strings.TrimSpace(c.Query("search")), page)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items": users, "totalItems": total})
}

// paymentQR returns a QR image URL for the given address, or for the current pay address.
func (s *HTTPServer) paymentQR(c *gin.Context) {
	address := strings.TrimSpace(c.Query("address"))
	if address == "" {
		address = s.keypay.PayAddress()
	}
	if err := validation.ValidateAddress(address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid address: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"address": address,
		"url":     PaymentQRURL(s.opts.QRServiceURL, address),
	})
}

func pageFromQuery(c *gin.Context) models.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	perPage, _ := strconv.Atoi(c.Query("perPage"))
	return models.Page{Page: page, PerPage: perPage}
}

func (s *HTTPServer) badRequest(c *gin.Context, err error) {
	s.logger.Debugw("Invalid request body", "error", err, "request_id", c.GetString(ctxRequestID))
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Invalid request body: " + err.Error(),
	})
}

// writeError maps service errors onto HTTP statuses. Unknown errors are
// logged and hidden behind a generic message.
func (s *HTTPServer) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Errorw("Request failed", "error", err, "path", c.FullPath(), "request_id", c.GetString(ctxRequestID))
		msg = "Internal server error"
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, models.ErrLicenseNotFound), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrOrderExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrDuplicateTx):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnsupportedChain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, verifier.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoPayAddress):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
