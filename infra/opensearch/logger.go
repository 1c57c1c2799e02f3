package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// OutcomeEvent is the document indexed whenever a payment leaves pending
type OutcomeEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	PaymentID      string    `json:"payment_id"`
	TransactionID  string    `json:"transaction_id"`
	Provider       string    `json:"provider,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Source         string    `json:"source"`
	Reason         string    `json:"reason,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Gateway        string    `json:"gateway_response,omitempty"`
}

// Logger handles OpenSearch logging operations
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{
		client: client,
	}
}

// LogSystemEvent logs a system event to OpenSearch
func (l *Logger) LogSystemEvent(ctx context.Context, log any) error {
	if !l.client.IsEnabled() {
		return nil
	}
	return l.index(ctx, SystemLogIndex, uuid.New().String(), log)
}

// LogOutcomeEvent records a payment outcome change
func (l *Logger) LogOutcomeEvent(ctx context.Context, event OutcomeEvent) error {
	if !l.client.IsEnabled() {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return l.index(ctx, PaymentOutcomeIndex, uuid.New().String(), event)
}

// GetOutcomeEvents returns the outcome history of a payment, newest first
func (l *Logger) GetOutcomeEvents(ctx context.Context, paymentID string) ([]OutcomeEvent, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("logging is disabled")
	}

	searchQuery := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"payment_id": paymentID},
		},
		"sort": []map[string]any{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"size": 100,
	}

	queryJSON, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{PaymentOutcomeIndex},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				Source OutcomeEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	events := make([]OutcomeEvent, len(searchResult.Hits.Hits))
	for i, hit := range searchResult.Hits.Hits {
		events[i] = hit.Source
	}
	return events, nil
}

func (l *Logger) index(ctx context.Context, indexName, documentID string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      indexName,
		DocumentID: documentID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch index error: %s", res.String())
	}

	return nil
}

var sensitivePatterns = func() []*regexp.Regexp {
	fields := []string{
		"apiKey", "api_key", "secretKey", "secret_key", "webhookSecret", "password", "token",
		"authorization", "client_secret",
	}
	patterns := make([]*regexp.Regexp, 0, len(fields))
	for _, field := range fields {
		patterns = append(patterns, regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*"[^"]*"`, field)))
	}
	return patterns
}()

// SanitizeForLog masks credential-like JSON fields before a payload is logged
func SanitizeForLog(data string) string {
	result := data
	for _, re := range sensitivePatterns {
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			key := strings.TrimSpace(match[:strings.IndexByte(match, ':')])
			return key + `:"***REDACTED***"`
		})
	}
	return result
}
