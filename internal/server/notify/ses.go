package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the subset of the SES client used by the notifier.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

var _ SESAPI = (*sesv2.Client)(nil)

type SESNotifier struct {
	client SESAPI
	sender string
}

func NewSESNotifier(client SESAPI, sender string) *SESNotifier {
	return &SESNotifier{client: client, sender: sender}
}

func (n *SESNotifier) Send(ctx context.Context, msg Message) error {
	charset := aws.String("UTF-8")

	_, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.sender),
		Destination:      &sestypes.Destination{ToAddresses: msg.To},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: charset},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(msg.TextBody), Charset: charset},
					Html: &sestypes.Content{Data: aws.String(msg.HTMLBody), Charset: charset},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
