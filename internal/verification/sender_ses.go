package verification

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the subset of the SESv2 client the sender needs.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers verification codes through Amazon SES.
type SESSender struct {
	client SESAPI
	from   string
}

// NewSESSender creates a sender that sends from the given address.
func NewSESSender(client SESAPI, from string) *SESSender {
	return &SESSender{client: client, from: from}
}

// SendCode emails the code with a plain text and HTML body.
func (s *SESSender) SendCode(ctx context.Context, email, code string) error {
	subject := "Your verification code"
	textBody := fmt.Sprintf("Your verification code is %s. It expires in 15 minutes.", code)
	htmlBody := fmt.Sprintf(`<p>Your verification code is:</p><p style="font-size:28px;font-weight:bold;letter-spacing:4px">%s</p><p>It expires in 15 minutes.</p>`, code)

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(textBody)},
					Html: &types.Content{Data: aws.String(htmlBody)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
