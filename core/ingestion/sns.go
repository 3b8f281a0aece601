package ingestion

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"sales-forecast/core/models"
)

const maxCertificateSize = 64 << 10

// CertificateSource loads the certificate SNS signed a message with
type CertificateSource func(ctx context.Context, certURL string) (*x509.Certificate, error)

// SNSVerifier authenticates messages delivered by SNS over HTTP. A message is
// accepted only when it comes from the configured topic, its certificate and
// subscription URLs are SNS endpoints of the topic's region, and its
// signature verifies.
type SNSVerifier struct {
	topicArn string
	host     string
	source   CertificateSource

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

// SNSOption configures an SNSVerifier.
type SNSOption func(*SNSVerifier)

// WithCertificateSource replaces the HTTPS download of signing certificates.
func WithCertificateSource(source CertificateSource) SNSOption {
	return func(v *SNSVerifier) {
		if source != nil {
			v.source = source
		}
	}
}

// NewSNSVerifier creates a verifier pinned to topicArn. client downloads
// signing certificates; nil means http.DefaultClient.
func NewSNSVerifier(topicArn string, client *http.Client, opts ...SNSOption) *SNSVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	v := &SNSVerifier{
		topicArn: topicArn,
		certs:    make(map[string]*x509.Certificate),
	}
	if parts := strings.Split(topicArn, ":"); len(parts) == 6 && parts[2] == "sns" && parts[3] != "" {
		v.host = "sns." + parts[3] + ".amazonaws.com"
	}
	v.source = func(ctx context.Context, certURL string) (*x509.Certificate, error) {
		return downloadCertificate(ctx, client, certURL)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify authenticates env. Every rejection is a Forbidden error.
func (v *SNSVerifier) Verify(ctx context.Context, env *SNSEnvelope) error {
	const op = "ingestion.verify_sns"

	if v.host == "" {
		return models.Forbidden(op, "no sns topic configured")
	}
	if env.TopicArn != v.topicArn {
		return models.Forbidden(op, fmt.Sprintf("unexpected topic %q", env.TopicArn))
	}
	if err := v.CheckURL(env.SigningCertURL); err != nil {
		return models.Forbidden(op, "signing certificate: "+err.Error())
	}
	if env.Type == SNSSubscriptionConfirmation || env.Type == SNSUnsubscribeConfirmation {
		if err := v.CheckURL(env.SubscribeURL); err != nil {
			return models.Forbidden(op, "subscribe url: "+err.Error())
		}
	}

	signed, err := stringToSign(env)
	if err != nil {
		return models.Forbidden(op, err.Error())
	}
	signature, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return models.Forbidden(op, "malformed signature")
	}

	var hash crypto.Hash
	var digest []byte
	switch env.SignatureVersion {
	case "1":
		sum := sha1.Sum([]byte(signed))
		hash, digest = crypto.SHA1, sum[:]
	case "2":
		sum := sha256.Sum256([]byte(signed))
		hash, digest = crypto.SHA256, sum[:]
	default:
		return models.Forbidden(op, fmt.Sprintf("unsupported signature version %q", env.SignatureVersion))
	}

	cert, err := v.certificate(ctx, env.SigningCertURL)
	if err != nil {
		return models.Forbidden(op, err.Error())
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return models.Forbidden(op, "signing certificate has no rsa key")
	}
	if err := rsa.VerifyPKCS1v15(key, hash, digest, signature); err != nil {
		return models.Forbidden(op, "signature does not verify")
	}
	return nil
}

// CheckURL accepts only https URLs on the SNS endpoint of the topic's region
func (v *SNSVerifier) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid url %q", raw)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("url must use https")
	}
	if u.User != nil || u.Port() != "" || !strings.EqualFold(u.Hostname(), v.host) {
		return fmt.Errorf("host %q is not %s", u.Host, v.host)
	}
	return nil
}

func (v *SNSVerifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	v.mu.Lock()
	cert, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return cert, nil
	}

	cert, err := v.source(ctx, certURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing certificate: %w", err)
	}
	v.mu.Lock()
	v.certs[certURL] = cert
	v.mu.Unlock()
	return cert, nil
}

func downloadCertificate(ctx context.Context, client *http.Client, certURL string) (*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certificate download returned %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateSize))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certificate is not pem encoded")
	}
	return x509.ParseCertificate(block.Bytes)
}

// stringToSign builds the canonical form SNS signs for each message type
func stringToSign(env *SNSEnvelope) (string, error) {
	type field struct{ name, value string }

	var fields []field
	switch env.Type {
	case SNSNotification:
		fields = []field{{"Message", env.Message}, {"MessageId", env.MessageID}}
		if env.Subject != "" {
			fields = append(fields, field{"Subject", env.Subject})
		}
		fields = append(fields,
			field{"Timestamp", env.Timestamp},
			field{"TopicArn", env.TopicArn},
			field{"Type", env.Type},
		)
	case SNSSubscriptionConfirmation, SNSUnsubscribeConfirmation:
		fields = []field{
			{"Message", env.Message},
			{"MessageId", env.MessageID},
			{"SubscribeURL", env.SubscribeURL},
			{"Timestamp", env.Timestamp},
			{"Token", env.Token},
			{"TopicArn", env.TopicArn},
			{"Type", env.Type},
		}
	default:
		return "", fmt.Errorf("unknown message type %q", env.Type)
	}

	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.name + "\n" + f.value + "\n")
	}
	return b.String(), nil
}
