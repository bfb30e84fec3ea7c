package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
	"github.com/noah-isme/campus-ops-api/pkg/response"
)

type receiptTokenParser interface {
	Parse(token string) (paymentID, relPath string, expiresAt time.Time, err error)
}

type receiptOpener interface {
	Open(name string) (*os.File, error)
}

// ReceiptHandler serves archived receipt PDFs through signed links,
// outside the authenticated API surface. The token is the capability;
// no claims are required.
type ReceiptHandler struct {
	signer  receiptTokenParser
	archive receiptOpener
}

// NewReceiptHandler builds a new handler.
func NewReceiptHandler(signer receiptTokenParser, archive receiptOpener) *ReceiptHandler {
	return &ReceiptHandler{signer: signer, archive: archive}
}

// Download godoc
// @Summary Download a receipt through a signed link
// @Tags Fees
// @Produce application/pdf
// @Param token path string true "Signed receipt token"
// @Success 200 {file} binary
// @Router /receipts/{token} [get]
func (h *ReceiptHandler) Download(c *gin.Context) {
	paymentID, relPath, _, err := h.signer.Parse(c.Param("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired receipt link"))
		return
	}
	file, err := h.archive.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "receipt not found"))
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stat receipt"))
		return
	}
	c.Header("Content-Disposition", "attachment; filename=receipt-"+paymentID+".pdf")
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, nil)
}
