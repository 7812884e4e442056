package froeling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/anicoll/froeling-integration/internal/pkg/config"
	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

const (
	loginPath    = "/connect/v1.0/resources/login"
	overviewPath = "/fcs/v1.0/resources/user/%s/facility/%s/overview"
	userAgent    = "froeling-integration"
	osType       = "web"
)

type loginRequest struct {
	OsType   string `json:"osType"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginResponse struct {
	UserData map[string]any `json:"userData"`
}

// Session holds the Froeling Connect credentials and the bearer token of the
// current login. It is owned by a single poller and is not safe for
// concurrent use.
type Session struct {
	cfg        config.FroelingConfig
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	authToken string
	userID    string
	expiresAt time.Time
	connected bool
}

type Option func(*Session)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.httpClient = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

func NewSession(cfg config.FroelingConfig, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     zap.L(), // returns the global logger.
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ControllerName is the facility id with dots replaced, used as the prefix of
// every record key.
func (s *Session) ControllerName() string {
	return s.cfg.ControllerName()
}

func (s *Session) Connected() bool {
	return s.connected
}

// TokenExpiry returns the expiry of the current token when it is a JWT.
func (s *Session) TokenExpiry() (time.Time, bool) {
	return s.expiresAt, !s.expiresAt.IsZero()
}

// Connect logs in and stores the returned bearer token and user id.
func (s *Session) Connect(ctx context.Context) error {
	payload, err := json.Marshal(loginRequest{
		OsType:   osType,
		Password: s.cfg.Password,
		Username: s.cfg.Username,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: login returned status %d", ErrAuth, res.StatusCode)
	}

	token := res.Header.Get("Authorization")
	if token == "" {
		return fmt.Errorf("%w: login response has no authorization header", ErrAuth)
	}

	body := loginResponse{}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decode login response: %w", ErrAuth, err)
	}
	if body.UserData == nil {
		return fmt.Errorf("%w: login response has no userData", ErrAuth)
	}
	userID, err := newObject("userData", body.UserData).text("userId")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	s.authToken = token
	s.userID = userID
	s.connected = true
	s.expiresAt, _ = tokenExpiry(token)

	s.logger.Debug("logged in to froeling connect",
		zap.String("user_id", userID),
		zap.Time("token_expiry", s.expiresAt),
	)
	return nil
}

// Disconnect drops the token and user id. Calling it on a disconnected
// session is a no-op.
func (s *Session) Disconnect() {
	s.connected = false
	s.authToken = ""
	s.userID = ""
	s.expiresAt = time.Time{}
}

// FetchOverview downloads the raw facility overview document.
func (s *Session) FetchOverview(ctx context.Context) (Overview, error) {
	if !s.connected {
		return nil, fmt.Errorf("%w: %w", ErrMapping, ErrNotConnected)
	}

	u := s.cfg.BaseURL + fmt.Sprintf(overviewPath, url.PathEscape(s.userID), url.PathEscape(s.cfg.FacilityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", s.authToken)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: overview returned status %d", ErrMapping, res.StatusCode)
	}

	doc := Overview{}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode overview: %w", ErrMapping, err)
	}
	return doc, nil
}

// GetDevices fetches the overview and maps it into a snapshot.
func (s *Session) GetDevices(ctx context.Context) (*model.Snapshot, error) {
	doc, err := s.FetchOverview(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, err := MapSnapshot(s.ControllerName(), doc, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Debug("mapped facility overview",
		zap.Int("devices", len(snapshot.Devices)),
		zap.Int("skipped", len(snapshot.Skipped)),
	)
	return snapshot, nil
}

// tokenExpiry reads the exp claim of a JWT bearer token without verifying
// its signature. Opaque tokens report false.
func tokenExpiry(header string) (time.Time, bool) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
