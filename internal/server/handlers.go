package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/extractor"
	"github.com/tjfontaine/invoice-extractor/internal/promptcache"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
	"github.com/tjfontaine/invoice-extractor/internal/usage"
)

const maxUploadBytes = 20 << 20

// DocumentProcessor is the slice of the extraction pipeline the handlers use.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, reference string, opts extractor.ProcessOptions) (*domain.ExtractedResult, error)
}

// Chatter is the slice of the chat service the handlers use.
type Chatter interface {
	Ask(ctx context.Context, sessionID, question string) (string, error)
	History(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Handlers bundles the API surface's dependencies.
type Handlers struct {
	Processor  DocumentProcessor
	Usage      *usage.Service
	Chat       Chatter
	Invoices   storage.InvoiceStore
	Cache      *promptcache.Cache
	UploadsDir string
	Logger     *slog.Logger
}

// Mount registers all routes on the router.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/process", h.processInvoice)
			r.Post("/upload", h.uploadInvoice)
			r.Get("/", h.listInvoices)
			r.Delete("/", h.deleteAllInvoices)
			r.Get("/find", h.findInvoiceByNumber)
			r.Get("/search", h.searchInvoices)
			r.Get("/{id}", h.getInvoice)
		})
		r.Route("/usage", func(r chi.Router) {
			r.Get("/stats", h.usageStats)
			r.Get("/", h.listUsage)
			r.Delete("/", h.deleteUsage)
		})
		r.Delete("/cache", h.purgeCache)
		r.Post("/chat", h.chat)
		r.Get("/chat/{sessionID}", h.chatHistory)
	})

	if h.UploadsDir != "" {
		fs := http.StripPrefix("/files/", http.FileServer(http.Dir(h.UploadsDir)))
		r.Get("/files/*", fs.ServeHTTP)
	}
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processRequest struct {
	FileURL      string `json:"fileUrl"`
	ForceNoCache bool   `json:"forceNoCache"`
}

type processResponse struct {
	Invoice    *domain.Invoice         `json:"invoice"`
	Extraction *domain.ExtractedResult `json:"extraction"`
}

func (h *Handlers) processInvoice(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.FileURL) == "" {
		writeError(w, http.StatusBadRequest, "fileUrl is required")
		return
	}

	h.runExtraction(w, r, req.FileURL, req.ForceNoCache)
}

func (h *Handlers) uploadInvoice(w http.ResponseWriter, r *http.Request) {
	if h.UploadsDir == "" {
		writeError(w, http.StatusNotImplemented, "uploads are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	storedName := uuid.New().String() + ext
	path := filepath.Join(h.UploadsDir, storedName)

	dst, err := os.Create(path)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to store upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(path)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	dst.Close()

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	reference := fmt.Sprintf("%s://%s/files/%s", scheme, r.Host, storedName)

	force, _ := strconv.ParseBool(r.URL.Query().Get("forceNoCache"))
	h.runExtraction(w, r, reference, force)
}

// runExtraction drives the invoice lifecycle around one document: pending
// row, pipeline run, row updated from the result.
func (h *Handlers) runExtraction(w http.ResponseWriter, r *http.Request, reference string, forceNoCache bool) {
	ctx := r.Context()
	AddLogField(ctx, "reference", reference)

	inv := &domain.Invoice{
		Status:          "pending",
		Currency:        "USD",
		OriginalFileURL: reference,
	}
	if err := h.Invoices.SaveInvoice(ctx, inv); err != nil {
		h.Logger.ErrorContext(ctx, "failed to create invoice", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create invoice")
		return
	}

	result, err := h.Processor.ProcessDocument(ctx, reference, extractor.ProcessOptions{
		ForceNoCache: forceNoCache,
		InvoiceID:    &inv.ID,
	})
	if err != nil {
		AddError(ctx, err)
		inv.Status = "error"
		inv.ProcessingErrors = err.Error()
		if saveErr := h.Invoices.SaveInvoice(ctx, inv); saveErr != nil {
			h.Logger.ErrorContext(ctx, "failed to update invoice after error", "error", saveErr)
		}
		if domain.IsTransport(err) {
			writeError(w, http.StatusBadGateway, "document unreachable")
			return
		}
		writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}

	applyResult(inv, result)
	if err := h.Invoices.SaveInvoice(ctx, inv); err != nil {
		h.Logger.ErrorContext(ctx, "failed to update invoice", "error", err)
	}

	writeJSON(w, http.StatusOK, processResponse{Invoice: inv, Extraction: result})
}

func applyResult(inv *domain.Invoice, result *domain.ExtractedResult) {
	inv.CustomerName = result.CustomerName
	inv.VendorName = result.VendorName
	inv.InvoiceNumber = result.InvoiceNumber
	inv.InvoiceDate = result.InvoiceDate
	inv.DueDate = result.DueDate
	inv.Amount = result.Amount
	inv.Currency = result.Currency
	inv.Confidence = result.Confidence
	inv.ExtractionMethod = string(result.ExtractionMethod)
	inv.ProcessingErrors = strings.Join(result.ProcessingErrors, "; ")

	switch result.ExtractionMethod {
	case domain.MethodText, domain.MethodVision:
		inv.Status = "processed"
	case domain.MethodValidationFailed:
		inv.Status = "rejected"
	default:
		inv.Status = "error"
	}
}

func (h *Handlers) listInvoices(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	invoices, err := h.Invoices.ListInvoices(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list invoices")
		return
	}
	if invoices == nil {
		invoices = []*domain.Invoice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load invoice")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handlers) findInvoiceByNumber(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}
	inv, err := h.Invoices.FindInvoiceByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to find invoice")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handlers) searchInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	invoices, err := h.Invoices.SearchInvoices(r.Context(), q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if invoices == nil {
		invoices = []*domain.Invoice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handlers) deleteAllInvoices(w http.ResponseWriter, r *http.Request) {
	n, err := h.Invoices.DeleteAllInvoices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete invoices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handlers) usageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Usage.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute usage stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) listUsage(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.Usage.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list usage")
		return
	}
	if recs == nil {
		recs = []*domain.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (h *Handlers) deleteUsage(w http.ResponseWriter, r *http.Request) {
	n, err := h.Usage.Reset(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handlers) purgeCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.Cache.Purge(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to purge cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
}

func (h *Handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	AddLogField(r.Context(), "session_id", req.SessionID)

	reply, err := h.Chat.Ask(r.Context(), req.SessionID, req.Message)
	if err != nil {
		AddError(r.Context(), err)
		if domain.IsTransport(err) {
			writeError(w, http.StatusBadGateway, "model provider unreachable")
			return
		}
		writeError(w, http.StatusInternalServerError, "chat failed")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Reply: reply})
}

func (h *Handlers) chatHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Chat.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
