package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ezmail/ezmail/internal/config"
)

// GmailTransport implements Transport using the Gmail API
type GmailTransport struct {
	service *gmail.Service
}

var _ Transport = (*GmailTransport)(nil)

// NewGmailTransport creates a new GmailTransport.
// With CredentialsJSON it uses a service account with domain-wide delegation
// impersonating sender; otherwise it uses OAuth2 client credentials plus a
// refresh token for the sender mailbox.
func NewGmailTransport(ctx context.Context, cfg config.GmailConfig, sender string) (*GmailTransport, error) {
	if sender == "" {
		return nil, fmt.Errorf("gmail: sender address is required")
	}

	var opt option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		jwtConfig, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
		}
		jwtConfig.Subject = sender
		opt = option.WithHTTPClient(jwtConfig.Client(ctx))
	case cfg.RefreshToken != "":
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailSendScope},
		}
		token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		opt = option.WithHTTPClient(oauthCfg.Client(ctx, token))
	default:
		return nil, fmt.Errorf("gmail: credentials JSON or refresh token is required")
	}

	svc, err := gmail.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}
	return NewGmailTransportWithService(svc), nil
}

// NewGmailTransportWithService wraps an already configured Gmail service
func NewGmailTransportWithService(svc *gmail.Service) *GmailTransport {
	return &GmailTransport{service: svc}
}

// Send sends the message via the Gmail API
func (g *GmailTransport) Send(ctx context.Context, msg *Message) error {
	var buf bytes.Buffer
	if err := WriteMIME(&buf, msg); err != nil {
		return fmt.Errorf("gmail: failed to build message: %w", err)
	}

	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(buf.Bytes()),
	}

	if _, err := g.service.Users.Messages.Send("me", gmailMsg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: failed to send email: %w", err)
	}
	return nil
}
