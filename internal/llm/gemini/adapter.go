package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/danshapiro/socratic/internal/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Adapter implements llm.Client against the Gemini generateContent API.
// One Adapter is bound to exactly one API key; the credential gateway
// constructs a fresh Adapter per attempt.
type Adapter struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func New(apiKey, baseURL string) *Adapter {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		APIKey:  strings.TrimSpace(apiKey),
		BaseURL: base,
		// Avoid short client-level timeouts; rely on request context deadlines instead.
		Client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := req.Validate(); err != nil {
		return llm.Response{}, err
	}
	body, err := json.Marshal(buildBody(req))
	if err != nil {
		return llm.Response{}, err
	}
	httpResp, err := a.post(ctx, req.Model, "generateContent", nil, body)
	if err != nil {
		return llm.Response{}, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return llm.Response{}, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return llm.Response{}, llm.ErrorFromHTTPStatus(httpResp.StatusCode, errorMessage(raw))
	}

	var doc generateResponse
	if err := json.Unmarshal(raw, &doc); err != nil {
		return llm.Response{}, fmt.Errorf("decode generateContent response: %w", err)
	}
	return doc.toResponse(), nil
}

func (a *Adapter) GenerateStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(buildBody(req))
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	httpResp, err := a.postCtx(sctx, req.Model, "streamGenerateContent", url.Values{"alt": {"sse"}}, body)
	if err != nil {
		cancel()
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		cancel()
		return nil, llm.ErrorFromHTTPStatus(httpResp.StatusCode, errorMessage(raw))
	}
	scanner := bufio.NewScanner(httpResp.Body)
	// A single data: frame can carry a large delta; the default 64KB token
	// limit would kill the stream on valid input.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &sseStream{body: httpResp.Body, scanner: scanner, cancel: cancel}, nil
}

func (a *Adapter) post(ctx context.Context, model, verb string, extra url.Values, body []byte) (*http.Response, error) {
	return a.postCtx(ctx, model, verb, extra, body)
}

func (a *Adapter) postCtx(ctx context.Context, model, verb string, extra url.Values, body []byte) (*http.Response, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s", a.BaseURL, url.PathEscape(model), verb)
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("key", a.APIKey)
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return a.Client.Do(httpReq)
}

// buildBody assembles the generateContent request payload.
func buildBody(req llm.Request) map[string]any {
	parts := []map[string]any{{"text": req.Prompt}}
	for _, att := range req.Attachments {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{
				"mimeType": att.MIMEType,
				"data":     base64.StdEncoding.EncodeToString(att.Data),
			},
		})
	}

	genCfg := map[string]any{}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	}
	if req.MaxOutputTokens > 0 {
		genCfg["maxOutputTokens"] = req.MaxOutputTokens
	}
	if req.ResponseSchema != nil {
		genCfg["responseMimeType"] = "application/json"
		// Gemini's Schema is a restricted subset; strip JSON-schema-only fields
		// (e.g., additionalProperties) so requests don't fail validation.
		genCfg["responseSchema"] = sanitizeSchema(req.ResponseSchema)
	}

	body := map[string]any{
		"contents": []map[string]any{{
			"role":  "user",
			"parts": parts,
		}},
		"generationConfig": genCfg,
	}
	if strings.TrimSpace(req.System) != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}

	var tools []map[string]any
	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			d := map[string]any{
				"name":        t.Name,
				"description": t.Description,
			}
			if t.Parameters != nil {
				d["parameters"] = sanitizeSchema(t.Parameters)
			}
			decls = append(decls, d)
		}
		tools = append(tools, map[string]any{"functionDeclarations": decls})
	}
	if req.EnableGrounding {
		tools = append(tools, map[string]any{"googleSearch": map[string]any{}})
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}
	return body
}

// sanitizeSchema returns a copy of the schema with keywords Gemini's Schema
// type rejects removed, recursing into properties/items.
func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema", "$id", "definitions", "$defs":
			continue
		case "properties":
			if props, ok := v.(map[string]any); ok {
				cp := make(map[string]any, len(props))
				for name, sub := range props {
					if subSchema, ok := sub.(map[string]any); ok {
						cp[name] = sanitizeSchema(subSchema)
					} else {
						cp[name] = sub
					}
				}
				out[k] = cp
				continue
			}
			out[k] = v
		case "items":
			if subSchema, ok := v.(map[string]any); ok {
				out[k] = sanitizeSchema(subSchema)
				continue
			}
			out[k] = v
		default:
			out[k] = v
		}
	}
	return out
}

// Response decoding.

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		GroundingMetadata *groundingMetadata `json:"groundingMetadata"`
	} `json:"candidates"`
}

type part struct {
	Text         string `json:"text"`
	FunctionCall *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall"`
}

type groundingMetadata struct {
	GroundingChunks []struct {
		Web *struct {
			Title string `json:"title"`
			URI   string `json:"uri"`
		} `json:"web"`
	} `json:"groundingChunks"`
}

func (d generateResponse) toResponse() llm.Response {
	var resp llm.Response
	if len(d.Candidates) == 0 {
		return resp
	}
	cand := d.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
		if p.FunctionCall != nil && resp.FunctionCall == nil {
			resp.FunctionCall = &llm.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
		}
	}
	resp.Text = text.String()
	if cand.GroundingMetadata != nil {
		gm := &llm.GroundingMetadata{}
		for _, ch := range cand.GroundingMetadata.GroundingChunks {
			if ch.Web == nil {
				continue
			}
			gm.Citations = append(gm.Citations, llm.Citation{Title: ch.Web.Title, URI: ch.Web.URI})
		}
		if len(gm.Citations) > 0 {
			resp.Grounding = gm
		}
	}
	return resp
}

func errorMessage(raw []byte) string {
	var doc struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &doc); err == nil && strings.TrimSpace(doc.Error.Message) != "" {
		return doc.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// sseStream pulls text deltas out of a streamGenerateContent alt=sse body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	done    bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var doc generateResponse
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			// Skip keepalive/unparsable frames rather than killing the stream.
			continue
		}
		delta := doc.toResponse().Text
		if delta == "" {
			continue
		}
		return delta, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		_ = s.Close()
		return "", err
	}
	_ = s.Close()
	return "", io.EOF
}

func (s *sseStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}
