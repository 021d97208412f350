package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/medprice/internal/domain"
	"github.com/user/medprice/internal/rotation"
)

var freeShipRe = regexp.MustCompile(`^\d+免邮\s*`)

// BrowserSource is the CompletenessSource implementation. Each invocation
// opens a scoped headless-browser session, renders the provider listing the
// aggregate API refuses to expose, and extracts every provider's price.
// The session and its OS process are released on every exit path.
type BrowserSource struct {
	tokens  *TokenManager
	rotator *rotation.Manager
	logger  *zap.Logger
	baseURL string
	timeout time.Duration
}

// NewBrowserSource builds the completeness source against baseURL. Each
// session draws its identity (user agent, optional proxy) from rotator.
func NewBrowserSource(baseURL string, tokens *TokenManager, rotator *rotation.Manager, timeout time.Duration, logger *zap.Logger) *BrowserSource {
	return &BrowserSource{
		tokens:  tokens,
		rotator: rotator,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

// GetAllProviderPrices renders the wholesale listing for the keyword (or a
// known external product id) and returns one record per provider.
func (s *BrowserSource) GetAllProviderPrices(ctx context.Context, keyword string, externalID int64) ([]domain.ProviderPrice, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.rotator.UserAgent()),
	)
	if proxy := s.rotator.Proxy(); proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, s.timeout)
	defer cancelTimeout()

	var html string
	err = chromedp.Run(taskCtx,
		s.setAuthCookie(token),
		chromedp.Navigate(s.listingURL(keyword, externalID)),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second), // listing rows render after the initial paint
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, &TransientError{Op: "browser listing", Err: err}
	}

	prices, err := s.extractProviderPrices(html)
	if err != nil {
		return nil, err
	}
	s.logger.Info("completeness source extracted provider prices",
		zap.String("keyword", keyword), zap.Int("count", len(prices)))
	return prices, nil
}

func (s *BrowserSource) listingURL(keyword string, externalID int64) string {
	if externalID != 0 {
		return fmt.Sprintf("%s/#/drug/%d", s.baseURL, externalID)
	}
	return fmt.Sprintf("%s/#/search?keyword=%s", s.baseURL, url.QueryEscape(keyword))
}

func (s *BrowserSource) setAuthCookie(token string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		u, err := url.Parse(s.baseURL)
		if err != nil {
			return err
		}
		return network.SetCookie("Token", token).WithDomain(u.Hostname()).WithPath("/").Do(ctx)
	})
}

// extractProviderPrices pulls provider rows out of the rendered listing.
// Individual malformed rows are skipped, never fatal to the call.
func (s *BrowserSource) extractProviderPrices(html string) ([]domain.ProviderPrice, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("source: parsing listing html: %w", err)
	}

	var prices []domain.ProviderPrice
	doc.Find(".wholesale-item, .provider-item").Each(func(_ int, sel *goquery.Selection) {
		providerName := cleanProviderName(strings.TrimSpace(sel.Find(".provider-name, .shop-name").First().Text()))
		priceText := strings.TrimSpace(sel.Find(".price, .wholesale-price").First().Text())
		if providerName == "" || priceText == "" {
			return
		}
		price, ok := parsePriceText(priceText)
		if !ok {
			s.logger.Warn("skipping listing row with unparseable price",
				zap.String("provider", providerName), zap.String("text", priceText))
			return
		}
		providerID, _ := strconv.ParseInt(sel.AttrOr("data-provider-id", ""), 10, 64)
		prices = append(prices, domain.ProviderPrice{
			ProviderName:  providerName,
			ProviderID:    providerID,
			ProductName:   strings.TrimSpace(sel.Find(".drug-name, .item-name").First().Text()),
			Price:         price,
			Specification: strings.TrimSpace(sel.Find(".spec, .specification").First().Text()),
			Manufacturer:  strings.TrimSpace(sel.Find(".manufacturer, .factory").First().Text()),
			SourceRef:     sel.AttrOr("data-wholesale-id", ""),
		})
	})
	return prices, nil
}

// cleanProviderName drops promotional tags listings prepend to shop names,
// e.g. "[满减] 某某医药" or "3免邮 某某医药".
func cleanProviderName(name string) string {
	if i := strings.LastIndex(name, "]"); i >= 0 {
		name = strings.TrimSpace(name[i+1:])
	}
	name = freeShipRe.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

func parsePriceText(text string) (decimal.Decimal, bool) {
	text = strings.NewReplacer("¥", "", "￥", "", ",", "").Replace(text)
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}
