// Package queue implements the two collab.Queue backends named in the
// domain stack: S3Queue durably stores an accepted message as an object
// (grounded on awsinteg.S3Client, adapted from awsinteg/s3.go's
// s3manager.Uploader usage), and RelayQueue hands an accepted message to
// the outbound SMTP relay client (grounded on
// inet.MailClient.SendRaw, adapted from inet/mail_client.go).
package queue

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/relaydog/mtasession/awsinteg"
	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/inet"
	"github.com/relaydog/mtasession/lalog"
)

// S3Queue uploads the envelope's message body to a bucket, keyed by session
// ID and arrival time, and reports a queue id back to the client in the
// success reply.
type S3Queue struct {
	Client     *awsinteg.S3Client
	BucketName string
	KeyPrefix  string
	Logger     lalog.Logger
}

// QueueMessage implements collab.Queue.
func (q *S3Queue) QueueMessage(ctx context.Context, env *collab.Envelope) ([]byte, error) {
	key := fmt.Sprintf("%s/%s-%d", q.KeyPrefix, env.SessionID, time.Now().UnixNano())
	if err := q.Client.Upload(ctx, q.BucketName, key, bytes.NewReader(env.Message)); err != nil {
		q.Logger.Warning(env.SessionID, err, "failed to upload message to bucket %q", q.BucketName)
		return nil, err
	}
	return []byte(fmt.Sprintf("250 2.0.0 queued as %s\r\n", key)), nil
}

var _ collab.Queue = (*S3Queue)(nil)

// RelayQueue hands an accepted message straight to an outbound MTA via
// inet.MailClient, whose Send/SendRaw methods already run delivery
// asynchronously with their own bounded-retry loop; QueueMessage therefore
// returns success as soon as the relay attempt has been handed off, the
// same "fire and accept" contract SMTP relays commonly offer.
type RelayQueue struct {
	Client *inet.MailClient
}

// QueueMessage implements collab.Queue.
func (q *RelayQueue) QueueMessage(ctx context.Context, env *collab.Envelope) ([]byte, error) {
	recipients := make([]string, len(env.RcptTo))
	for i, r := range env.RcptTo {
		recipients[i] = r.Original
	}
	if err := q.Client.SendRaw(env.MailFrom, env.Message, recipients...); err != nil {
		return nil, err
	}
	return []byte("250 2.0.0 Message accepted for relay\r\n"), nil
}

var _ collab.Queue = (*RelayQueue)(nil)
