package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nylondiamond/wristhub/pkg/pairing"
)

type createPairingRequest struct {
	LifespanDays int `json:"lifespan_days"`
}

// CreatePairing issues a fresh active pairing code, revoking any previously
// advertised one.
func (s *Server) CreatePairing(c *gin.Context) {
	var req createPairingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	result, err := s.pairing.RefreshActive(c.Request.Context(), s.owner,
		s.pairingURLs.Base, s.pairingURLs.Local, s.pairingURLs.Remote,
		req.LifespanDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create pairing code"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type redeemRequest struct {
	PairingCode string `json:"pairing_code"`
	DeviceName  string `json:"device_name"`
}

// RedeemPairing exchanges a pairing code for an access token. Unknown and
// expired codes are indistinguishable to the caller.
func (s *Server) RedeemPairing(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PairingCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pairing_code is required"})
		return
	}

	result, err := s.pairing.Redeem(c.Request.Context(), req.PairingCode,
		c.ClientIP(), req.DeviceName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pairing redemption failed"})
		return
	}
	if result == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired pairing code"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// PairingQR renders the active pairing code as an SVG QR. The code must be
// supplied and match the active session, so stale links stop working the
// moment the code is redeemed or superseded.
func (s *Server) PairingQR(c *gin.Context) {
	code := c.Query("code")
	sess, ok := s.pairing.ActiveSession()
	if !ok || code == "" || code != sess.Code {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching pairing code"})
		return
	}

	svg, err := pairing.RenderQRSVG(sess, 8)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render QR"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/svg+xml", svg)
}
