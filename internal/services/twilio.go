package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Ananth-NQI/smsbook-backend/internal/logging"
	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSProvider sends a single SMS and returns the provider message id.
// Failures are reported as *ProviderError.
type SMSProvider interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// TwilioService sends SMS through the Twilio REST API
type TwilioService struct {
	client         *twilio.RestClient
	from           string
	statusCallback string
	log            *slog.Logger
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService(accountSID, authToken, from, statusCallback string, logger *slog.Logger) (*TwilioService, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioService{
		client:         c,
		from:           from,
		statusCallback: statusCallback,
		log:            logger,
	}, nil
}

// Send delivers one SMS. The Twilio client has no context support, so ctx is
// only checked before the call.
func (t *TwilioService) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ProviderError{Err: err}
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(to)
	params.SetBody(body)
	if t.statusCallback != "" {
		params.SetStatusCallback(t.statusCallback)
	}

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return "", toProviderError(err)
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return "", &ProviderError{Code: *resp.ErrorCode, Err: errors.New(msg)}
	}
	if resp.Sid == nil {
		return "", &ProviderError{Err: errors.New("twilio response missing sid")}
	}

	t.log.Info("sms_sent", "to", logging.MaskPhone(to), "sid", *resp.Sid)
	return *resp.Sid, nil
}

func toProviderError(err error) *ProviderError {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return &ProviderError{Status: restErr.Status, Code: restErr.Code, Err: err}
	}
	return &ProviderError{Err: err}
}

// LogProvider stands in for Twilio when credentials are not configured. It
// logs the message and returns a synthetic sid.
type LogProvider struct {
	log *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{log: logger}
}

func (p *LogProvider) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ProviderError{Err: err}
	}
	sid := "LOG" + uuid.NewString()
	p.log.Info("sms_not_sent", "to", logging.MaskPhone(to), "sid", sid, "body", body)
	return sid, nil
}
