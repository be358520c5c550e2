package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/store"
)

const (
	// LevelTrace is a custom log level for detailed HTTP traffic.
	LevelTrace = slog.Level(-8)

	// DefaultModel is used when no model name is configured.
	DefaultModel = "gemini-2.0-flash"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini returned no text")

// GeminiModel implements models.CompletionService using the Google Gemini API.
// One client is kept per credential.
type GeminiModel struct {
	modelName  string
	defaultKey string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

var (
	_ models.CompletionService = (*GeminiModel)(nil)
	_ models.ModelLister       = (*GeminiModel)(nil)
)

// New creates a new GeminiModel. apiKey is used when a call passes no credential.
func New(ctx context.Context, apiKey, modelName string) (*GeminiModel, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &GeminiModel{
		modelName:  modelName,
		defaultKey: apiKey,
		clients:    make(map[string]*genai.Client),
	}
	if _, err := m.client(ctx, apiKey); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *GeminiModel) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		apiKey = m.defaultKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[apiKey]; ok {
		return c, nil
	}

	httpClient := &http.Client{
		Transport: &loggingTransport{
			base:   http.DefaultTransport,
			apiKey: apiKey,
		},
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	m.clients[apiKey] = c
	return c, nil
}

type loggingTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A custom http.Client bypasses the library's API key injection.
	if t.apiKey != "" && req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}

	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return t.base.RoundTrip(req)
	}

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Debug("Failed to dump Gemini request", "error", err)
	} else {
		slog.Debug("Gemini REST Request", "url", req.URL.String(), "dump", string(reqDump))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	respDump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		slog.Debug("Failed to dump Gemini response", "error", err)
	} else {
		slog.Debug("Gemini REST Response", "dump", string(respDump))
	}

	return resp, nil
}

// Close releases resources.
func (m *GeminiModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		c.Close()
	}
	m.clients = map[string]*genai.Client{}
}

// List returns available models.
func (m *GeminiModel) List(ctx context.Context) ([]string, error) {
	c, err := m.client(ctx, "")
	if err != nil {
		return nil, err
	}
	iter := c.ListModels(ctx)
	var names []string
	for {
		model, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		slog.Debug("Found Gemini model", "name", model.Name)
		names = append(names, model.Name)
	}
	return names, nil
}

// Complete sends the conversation and returns the concatenated reply text.
// The last turn is sent as the new message and the rest become chat history.
func (m *GeminiModel) Complete(ctx context.Context, turns []store.WireTurn, credential, systemInstruction string) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("no turns to send")
	}
	slog.Debug("Gemini.Complete", "model", m.modelName, "turnCount", len(turns))

	c, err := m.client(ctx, credential)
	if err != nil {
		return "", err
	}
	gm := c.GenerativeModel(m.modelName)
	if systemInstruction != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	}

	contents, err := toContents(turns)
	if err != nil {
		return "", err
	}

	cs := gm.StartChat()
	cs.History = contents[:len(contents)-1]
	resp, err := cs.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	return responseText(resp)
}

// toContents converts wire turns to genai contents. Turns without parts are dropped.
func toContents(turns []store.WireTurn) ([]*genai.Content, error) {
	var contents []*genai.Content
	for i, t := range turns {
		var parts []genai.Part
		for _, p := range t.Parts {
			if p.InlineData != nil {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("turn %d: invalid inline data: %w", i, err)
				}
				parts = append(parts, genai.Blob{MIMEType: p.InlineData.MIMEType, Data: data})
				continue
			}
			if p.Text != "" {
				parts = append(parts, genai.Text(p.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := store.WireRoleUser
		if t.Role == store.WireRoleModel || t.Role == string(store.RoleAssistant) {
			role = store.WireRoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("no content to send")
	}
	return contents, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
		// Only the first candidate is used.
		break
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
