// Package cbr sources the default monthly accrual rate from the
// Central Bank of Russia key-rate feed. The annual key rate is divided
// into a monthly percent; on any transport or parse failure the
// configured fallback rate is used so accrual computation never blocks
// on the network.
package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/akulagin/invest-card-service/internal/config"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// cacheTTL bounds how often the feed is queried.
const cacheTTL = time.Hour

var twelve = decimal.NewFromInt(12)

// Client fetches the key rate and derives a monthly rate percent.
type Client struct {
	url      string
	client   *http.Client
	log      *logrus.Logger
	fallback decimal.Decimal

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
}

// NewClient initializes a rate client. The configured MONTHLY_RATE is
// the fallback when the feed is unreachable.
func NewClient(cfg *config.Config, log *logrus.Logger) (*Client, error) {
	fallback, err := decimal.NewFromString(cfg.MonthlyRate)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback monthly rate %q: %w", cfg.MonthlyRate, err)
	}
	return &Client{
		url: cfg.CBRURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log:      log,
		fallback: fallback,
	}, nil
}

// MonthlyRate returns the current monthly rate percent, cached for an
// hour. Failures fall back to the configured default.
func (c *Client) MonthlyRate(ctx context.Context) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < cacheTTL {
		return c.cached
	}

	annual, err := c.fetchKeyRate(ctx)
	if err != nil {
		c.log.Warnf("Failed to fetch key rate, using fallback %s%%: %v", c.fallback, err)
		return c.fallback
	}

	c.cached = annual.Div(twelve)
	c.fetchedAt = time.Now()
	c.log.Infof("Key rate %s%% annual, %s%% monthly", annual, c.cached)
	return c.cached
}

// buildSOAPRequest creates a SOAP request for the key rate
func (c *Client) buildSOAPRequest() string {
	fromDate := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	toDate := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<KeyRate xmlns="http://web.cbr.ru/">
					<fromDate>%s</fromDate>
					<ToDate>%s</ToDate>
				</KeyRate>
			</soap12:Body>
		</soap12:Envelope>`, fromDate, toDate)
}

// sendRequest sends the SOAP request to CBR
func (c *Client) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// parseXMLResponse extracts the latest key rate from the SOAP response
func (c *Client) parseXMLResponse(rawBody []byte) (decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse XML: %w", err)
	}

	krElements := doc.FindElements("//diffgram/KeyRate/KR")
	if len(krElements) == 0 {
		return decimal.Zero, fmt.Errorf("no key rate data found in XML")
	}

	rateElement := krElements[0].FindElement("./Rate")
	if rateElement == nil {
		return decimal.Zero, fmt.Errorf("rate element not found in XML")
	}

	rate, err := decimal.NewFromString(rateElement.Text())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate %q: %w", rateElement.Text(), err)
	}
	return rate, nil
}

func (c *Client) fetchKeyRate(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest())
	if err != nil {
		return decimal.Zero, err
	}
	return c.parseXMLResponse(body)
}
