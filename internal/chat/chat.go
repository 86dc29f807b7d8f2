// Package chat answers questions about stored invoices over durable,
// caller-keyed sessions. Transcript state lives in the session store, never
// in package-level memory, so concurrent sessions stay isolated and survive
// restarts.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tjfontaine/invoice-extractor/internal/api/openai"
	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/pricing"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
)

const systemPrompt = `You are an assistant that answers questions about the user's processed invoices. Use only the invoice data provided below. If the answer is not in the data, say so. Amounts are given in cents; present them as currency.

Invoices:
`

// invoiceContextLimit bounds how many invoices are folded into the prompt.
const invoiceContextLimit = 50

// ChatClient is the slice of the OpenAI client the chat service needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
}

// Service runs invoice Q&A sessions.
type Service struct {
	llm      ChatClient
	sessions storage.SessionStore
	invoices storage.InvoiceStore
	usage    storage.UsageStore
	prices   *pricing.Table
	model    string
	logger   *slog.Logger
}

// New creates a chat service.
func New(llm ChatClient, sessions storage.SessionStore, invoices storage.InvoiceStore, usageStore storage.UsageStore, prices *pricing.Table, model string, logger *slog.Logger) *Service {
	if model == "" {
		model = "gpt-4-turbo-preview"
	}
	if prices == nil {
		prices = pricing.NewDefaultTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		llm:      llm,
		sessions: sessions,
		invoices: invoices,
		usage:    usageStore,
		prices:   prices,
		model:    model,
		logger:   logger,
	}
}

// Ask appends a question to the session, answers it against the stored
// invoices, and persists both turns of the exchange.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question is empty")
	}

	if err := s.sessions.EnsureSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("ensure session: %w", err)
	}
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}

	invoices, err := s.invoices.ListInvoices(ctx, invoiceContextLimit, 0)
	if err != nil {
		return "", fmt.Errorf("load invoices: %w", err)
	}

	messages := make([]openai.Message, 0, len(sess.Messages)+2)
	messages = append(messages, openai.TextMessage("system", systemPrompt+invoiceContext(invoices)))
	for _, msg := range sess.Messages {
		messages = append(messages, openai.TextMessage(msg.Role, msg.Content))
	}
	messages = append(messages, openai.TextMessage("user", question))

	resp, err := s.llm.CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", domain.ErrTransport("chat call failed", err)
	}
	answer := resp.Content()
	if answer == "" {
		return "", domain.ErrEmptyCompletion
	}

	now := time.Now().UTC()
	userTurn := &domain.SessionMessage{SessionID: sessionID, Role: "user", Content: question, CreatedAt: now}
	assistantTurn := &domain.SessionMessage{SessionID: sessionID, Role: "assistant", Content: answer, CreatedAt: now.Add(time.Millisecond)}
	for _, turn := range []*domain.SessionMessage{userTurn, assistantTurn} {
		if err := s.sessions.AppendMessage(ctx, turn); err != nil {
			// The answer is already in hand; a lost transcript turn should
			// not fail the request.
			s.logger.ErrorContext(ctx, "failed to persist chat turn", "session_id", sessionID, "error", err)
			break
		}
	}

	if resp.Usage.TotalTokens > 0 {
		rec := &domain.UsageRecord{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Cost:             s.prices.Cost(s.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
			Operation:        "invoice_chat",
		}
		if err := s.usage.AppendUsage(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "failed to record chat usage", "error", err)
		}
	}

	return answer, nil
}

// History returns the session transcript.
func (s *Service) History(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

func invoiceContext(invoices []*domain.Invoice) string {
	if len(invoices) == 0 {
		return "(no invoices on file)"
	}
	var b strings.Builder
	for _, inv := range invoices {
		fmt.Fprintf(&b, "- #%s from %s to %s: %d cents %s, dated %s",
			inv.InvoiceNumber, inv.VendorName, inv.CustomerName,
			inv.Amount, inv.Currency, inv.InvoiceDate.Format("2006-01-02"))
		if inv.DueDate != nil {
			fmt.Fprintf(&b, ", due %s", inv.DueDate.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, " (status: %s)\n", inv.Status)
	}
	return b.String()
}
