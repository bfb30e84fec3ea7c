package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-ops-api/pkg/storage"
)

func receiptTestContext(t *testing.T, target string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	c.Request = req
	return c, w
}

func TestReceiptHandlerDownload(t *testing.T) {
	archive, err := storage.NewReceiptStore(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("receipt-secret", time.Hour)

	pdf := []byte("%PDF-1.3 receipt body")
	_, err = archive.Save("tenant-1/pay-1.pdf", pdf)
	require.NoError(t, err)

	token, _, err := signer.Generate("pay-1", "tenant-1/pay-1.pdf")
	require.NoError(t, err)

	handler := NewReceiptHandler(signer, archive)
	c, w := receiptTestContext(t, "/receipts/"+token)
	c.Params = gin.Params{{Key: "token", Value: token}}

	handler.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "receipt-pay-1.pdf")
	require.Equal(t, pdf, w.Body.Bytes())
}

func TestReceiptHandlerDownloadRejectsBadToken(t *testing.T) {
	archive, err := storage.NewReceiptStore(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("receipt-secret", time.Hour)

	handler := NewReceiptHandler(signer, archive)
	c, w := receiptTestContext(t, "/receipts/not-a-token")
	c.Params = gin.Params{{Key: "token", Value: "not-a-token"}}

	handler.Download(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReceiptHandlerDownloadMissingFile(t *testing.T) {
	archive, err := storage.NewReceiptStore(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("receipt-secret", time.Hour)

	token, _, err := signer.Generate("pay-gone", "tenant-1/pay-gone.pdf")
	require.NoError(t, err)

	handler := NewReceiptHandler(signer, archive)
	c, w := receiptTestContext(t, "/receipts/"+token)
	c.Params = gin.Params{{Key: "token", Value: token}}

	handler.Download(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
