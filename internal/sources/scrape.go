package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"voicemart/internal/common/config"
	apphttp "voicemart/internal/common/http"
	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

// ScrapeConnector fetches a retailer's search page and reads products out of
// it with CSS selectors.
type ScrapeConnector struct {
	handle     models.SourceHandle
	client     *apphttp.Client
	lex        *vocab.Lexicon
	searchURL  string
	selectors  config.SelectorConfig
	maxResults int
	currency   string
	now        func() time.Time
}

func NewScrapeConnector(h models.SourceHandle, cfg config.SourceConfig, client *apphttp.Client, lex *vocab.Lexicon) *ScrapeConnector {
	return &ScrapeConnector{
		handle:     h,
		client:     client,
		lex:        lex,
		searchURL:  cfg.SearchURL,
		selectors:  cfg.Selectors,
		maxResults: cfg.MaxResults,
		currency:   cfg.Currency,
		now:        time.Now,
	}
}

func (c *ScrapeConnector) Handle() models.SourceHandle {
	return c.handle
}

// searchPage expands the {query}, {category}, {min} and {max} placeholders.
func (c *ScrapeConnector) searchPage(q *models.StructuredQuery) string {
	category := q.Category
	if category == models.CategoryAny {
		category = ""
	}
	return strings.NewReplacer(
		"{query}", url.QueryEscape(q.SearchTerms()),
		"{category}", url.QueryEscape(category),
		"{min}", bound(q.PriceMin),
		"{max}", bound(q.PriceMax),
	).Replace(c.searchURL)
}

func bound(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (c *ScrapeConnector) Resolve(ctx context.Context, q *models.StructuredQuery, timeout time.Duration) ([]models.CandidateProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page := c.searchPage(q)
	resp, err := c.client.Get(ctx, page, map[string]string{
		"Accept":          "text/html,application/xhtml+xml",
		"Accept-Language": "en-US,en;q=0.9",
	})
	if err != nil {
		return nil, classify(c.handle.ID, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, statusError(c.handle.ID, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(c.handle.ID, ctx.Err())
		}
		return nil, newError(c.handle.ID, models.FailureParseError, err)
	}

	base, _ := url.Parse(page)
	fetchedAt := c.now()

	items := doc.Find(c.selectors.Item)
	var out []models.CandidateProduct
	items.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(out) >= c.maxResults {
			return false
		}
		if p, ok := c.parseItem(s, base, fetchedAt); ok {
			out = append(out, p)
		}
		return true
	})

	if items.Length() > 0 && len(out) == 0 {
		return nil, newError(c.handle.ID, models.FailureParseError,
			fmt.Errorf("%d items matched %q but none had a title", items.Length(), c.selectors.Item))
	}
	return out, nil
}

func (c *ScrapeConnector) parseItem(s *goquery.Selection, base *url.URL, fetchedAt time.Time) (models.CandidateProduct, bool) {
	title := strings.Join(strings.Fields(s.Find(c.selectors.Title).First().Text()), " ")
	if title == "" {
		return models.CandidateProduct{}, false
	}

	p := models.CandidateProduct{
		SourceID:  c.handle.ID,
		Title:     title,
		Currency:  c.currency,
		FetchedAt: fetchedAt,
	}

	if c.selectors.Price != "" {
		if v, cur, ok := parsePrice(s.Find(c.selectors.Price).First().Text()); ok {
			p.Price = v
			if cur != "" {
				p.Currency = cur
			}
		}
	}
	if c.selectors.Link != "" {
		if href, ok := s.Find(c.selectors.Link).First().Attr("href"); ok {
			p.URL = absolute(base, href)
		}
	}
	if c.selectors.Image != "" {
		img := s.Find(c.selectors.Image).First()
		src, ok := img.Attr("src")
		if !ok || strings.HasPrefix(src, "data:") {
			src, ok = img.Attr("data-src")
		}
		if ok {
			p.ImageURL = absolute(base, src)
		}
	}
	if c.selectors.Availability != "" {
		p.Availability = availabilityOf(s.Find(c.selectors.Availability).First().Text())
	}

	if c.selectors.IDAttr != "" {
		p.ExternalID, _ = s.Attr(c.selectors.IDAttr)
	}
	if p.ExternalID == "" {
		p.ExternalID = p.URL
	}
	if p.ExternalID == "" {
		p.ExternalID = title
	}

	enrich(&p, c.lex)
	return p, true
}

func absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil || ref == "" {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
