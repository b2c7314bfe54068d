package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESAPI is the part of the SES client the transport uses.
type SESAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESConfig configures the SES transport.
type SESConfig struct {
	Region           string
	ConfigurationSet string
}

// SESTransport sends raw MIME messages through Amazon SES.
type SESTransport struct {
	client    SESAPI
	configSet string
	logger    *zap.Logger
}

// NewSESTransport loads the default AWS configuration for cfg.Region.
func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return NewSESTransportWithClient(ses.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewSESTransportWithClient uses an existing client.
func NewSESTransportWithClient(client SESAPI, cfg SESConfig, logger *zap.Logger) *SESTransport {
	return &SESTransport{client: client, configSet: cfg.ConfigurationSet, logger: logger}
}

// Send delivers env. Messages SES rejects outright are permanent failures.
func (s *SESTransport) Send(ctx context.Context, env Envelope) error {
	raw, err := BuildMIME(env)
	if err != nil {
		return Permanent(err)
	}

	input := &ses.SendRawEmailInput{
		Source:       aws.String(env.From),
		Destinations: env.To,
		RawMessage:   &types.RawMessage{Data: raw},
	}
	if s.configSet != "" {
		input.ConfigurationSetName = aws.String(s.configSet)
	}

	result, err := s.client.SendRawEmail(ctx, input)
	if err != nil {
		var rejected *types.MessageRejected
		var unverified *types.MailFromDomainNotVerifiedException
		if errors.As(err, &rejected) || errors.As(err, &unverified) {
			return Permanent(fmt.Errorf("ses rejected message: %w", err))
		}
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.Strings("to", env.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
