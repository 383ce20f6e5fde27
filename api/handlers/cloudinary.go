package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/civix/civix-api/clients/cloudstore"
	"github.com/civix/civix-api/config"
)

// Signer signs direct browser uploads
type Signer interface {
	Sign(now time.Time) (cloudstore.Signature, error)
}

// CloudinaryHandler handles Cloudinary related requests
type CloudinaryHandler struct {
	Signer Signer
}

// GenerateSignature generates a signature for Cloudinary uploads
func (c CloudinaryHandler) GenerateSignature(w http.ResponseWriter, r *http.Request) {
	if c.Signer == nil {
		config.ErrorStatus("Uploads are not configured", http.StatusServiceUnavailable, w, errors.New("cloudinary not configured"))
		return
	}
	sig, err := c.Signer.Sign(time.Now())
	if err != nil {
		config.ErrorStatus("failed to sign upload", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}
