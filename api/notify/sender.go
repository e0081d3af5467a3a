// Package notify pushes job record updates to subscriber callback addresses.
package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

var (
	// ErrGone is returned when the subscriber address no longer exists (HTTP 410).
	ErrGone = errors.New("subscriber gone")
	// ErrDelivery is returned for any other rejected push.
	ErrDelivery = errors.New("push delivery failed")
)

// Signing is the scope and secret pushes are signed with.
type Signing struct {
	Region    string
	Service   string
	AccessKey string
	SecretKey string
}

// Notifier delivers one message to one subscriber address.
type Notifier interface {
	Send(ctx context.Context, addr string, message interface{}) error
}

// Sender issues signed JSON POSTs. Requests carry a SigV4 Authorization header derived from the
// secret, date, region and service. Without an access key requests are sent unsigned.
type Sender struct {
	client  *http.Client
	signer  *v4.Signer
	signing Signing
	clock   clockwork.Clock
}

// NewSender creates a sender using client for transport.
func NewSender(client *http.Client, signing Signing, clock clockwork.Clock) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sender{
		client:  client,
		signer:  v4.NewSigner(),
		signing: signing,
		clock:   clock,
	}
}

// Send posts message as JSON to addr.
func (s *Sender) Send(ctx context.Context, addr string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal push message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "invalid subscriber address %q", addr)
	}
	req.Header.Set("Content-Type", "application/json")

	if s.signing.AccessKey != "" {
		payloadHash := sha256.Sum256(body)
		creds := aws.Credentials{
			AccessKeyID:     s.signing.AccessKey,
			SecretAccessKey: s.signing.SecretKey,
		}
		err = s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(payloadHash[:]),
			s.signing.Service, s.signing.Region, s.clock.Now())
		if err != nil {
			return errors.Wrap(err, "failed to sign push")
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(ErrDelivery, "post to %s: %v", addr, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone:
		return errors.Wrapf(ErrGone, "post to %s", addr)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errors.Wrapf(ErrDelivery, "post to %s returned %d", addr, resp.StatusCode)
	}
	return nil
}
