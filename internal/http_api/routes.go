package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.Use(s.requestID())

	v1 := s.router.Group("/api/v1")
	v1.POST("/auth/login", s.login)
	v1.POST("/auth/register", s.register)
	v1.GET("/payment-qr", s.paymentQR)

	authed := v1.Group("", s.authenticate())
	authed.POST("/orders", s.ensureOrder)
	authed.GET("/orders", s.listOrders)
	authed.POST("/verify-order", s.verifyOrder)
	authed.POST("/orders/:id/license", s.issueLicense)
	authed.GET("/licenses", s.listLicenses)
	authed.POST("/licenses", s.createLicenses)
	authed.PATCH("/licenses/:id/status", s.setLicenseStatus)
	authed.POST("/licenses/batch-status", s.batchLicenseStatus)
	authed.GET("/users", s.listUsers)

	if s.opts.VerifyPath != "" {
		s.router.POST(s.opts.VerifyPath, s.authenticate(), s.verifyOrder)
	}
}
