package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

var (
	ErrProviderUnavailable = apperr.New(apperr.ErrUnavailable, "whatsapp provider unavailable")
	ErrRejected            = apperr.New(apperr.ErrConflict, "whatsapp rejected the request")
)

// Provider is the WhatsApp Cloud API as used by the service.
type Provider interface {
	SubscribeApp(ctx context.Context, p *WabaProject, callbackURL, verifyToken string) error
	CreateTemplate(ctx context.Context, p *WabaProject, t Template) error
	// SendText and SendTemplate take the recipient as E.164 digits and return
	// the provider message id.
	SendText(ctx context.Context, p *WabaProject, to, body string) (string, error)
	SendTemplate(ctx context.Context, p *WabaProject, to string, t Template, params []string) (string, error)
	UpdateProfile(ctx context.Context, p *WabaProject, profile Profile) error
}

// GraphError is an error response from the Graph API.
type GraphError struct {
	Status    int
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	Message   string `json:"message"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api %d (code %d): %s", e.Status, e.Code, e.Message)
}

func (e *GraphError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return ErrProviderUnavailable
	}
	return ErrRejected
}

// templateExistsSubcode is returned when a template with the same name and
// language is already registered.
const templateExistsSubcode = 2388024

// GraphClient talks to graph.facebook.com. Calls share one rate limiter so a
// burst of reminders stays under the Cloud API throughput limits.
type GraphClient struct {
	baseURL    string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type GraphOption func(*GraphClient)

func WithHTTPClient(c *http.Client) GraphOption {
	return func(g *GraphClient) { g.httpClient = c }
}

func WithRateLimit(perSecond float64, burst int) GraphOption {
	return func(g *GraphClient) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func NewGraphClient(baseURL, version string, opts ...GraphOption) *GraphClient {
	g := &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *GraphClient) do(ctx context.Context, token, method, path string, body, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+"/"+g.version+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error GraphError `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		envelope.Error.Status = resp.StatusCode
		if envelope.Error.Message == "" {
			envelope.Error.Message = http.StatusText(resp.StatusCode)
		}
		return &envelope.Error
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
	}
	return nil
}

func (g *GraphClient) SubscribeApp(ctx context.Context, p *WabaProject, callbackURL, verifyToken string) error {
	body := map[string]string{
		"override_callback_uri": callbackURL,
		"verify_token":          verifyToken,
	}
	return g.do(ctx, p.AccessToken, http.MethodPost, "/"+p.BusinessAccountID+"/subscribed_apps", body, nil)
}

func (g *GraphClient) CreateTemplate(ctx context.Context, p *WabaProject, t Template) error {
	body := map[string]interface{}{
		"name":     t.Name,
		"language": t.Language,
		"category": t.Category,
		"components": []map[string]interface{}{{
			"type": "BODY",
			"text": t.Body,
			"example": map[string]interface{}{
				"body_text": [][]string{t.Examples},
			},
		}},
	}
	err := g.do(ctx, p.AccessToken, http.MethodPost, "/"+p.BusinessAccountID+"/message_templates", body, nil)
	var ge *GraphError
	if errors.As(err, &ge) && ge.Subcode == templateExistsSubcode {
		return nil
	}
	return err
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (g *GraphClient) send(ctx context.Context, p *WabaProject, body map[string]interface{}) (string, error) {
	body["messaging_product"] = "whatsapp"
	var out sendResponse
	if err := g.do(ctx, p.AccessToken, http.MethodPost, "/"+p.PhoneNumberID+"/messages", body, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 {
		return "", fmt.Errorf("%w: response without message id", ErrProviderUnavailable)
	}
	return out.Messages[0].ID, nil
}

func (g *GraphClient) SendText(ctx context.Context, p *WabaProject, to, text string) (string, error) {
	return g.send(ctx, p, map[string]interface{}{
		"to":   to,
		"type": "text",
		"text": map[string]interface{}{"body": text, "preview_url": false},
	})
}

func (g *GraphClient) SendTemplate(ctx context.Context, p *WabaProject, to string, t Template, params []string) (string, error) {
	parameters := make([]map[string]string, len(params))
	for i, v := range params {
		parameters[i] = map[string]string{"type": "text", "text": v}
	}
	return g.send(ctx, p, map[string]interface{}{
		"to":   to,
		"type": "template",
		"template": map[string]interface{}{
			"name":     t.Name,
			"language": map[string]string{"code": t.Language},
			"components": []map[string]interface{}{{
				"type":       "body",
				"parameters": parameters,
			}},
		},
	})
}

func (g *GraphClient) UpdateProfile(ctx context.Context, p *WabaProject, profile Profile) error {
	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"about":             profile.About,
		"description":       profile.Description,
		"email":             profile.Email,
		"websites":          profile.Websites,
	}
	return g.do(ctx, p.AccessToken, http.MethodPost, "/"+p.PhoneNumberID+"/whatsapp_business_profile", body, nil)
}
