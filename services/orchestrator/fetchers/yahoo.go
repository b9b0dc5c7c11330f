// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fetchers implements the evidence branch backends: Yahoo Finance
// market data with an InfluxDB candle cache, SerpAPI news search, and
// Weaviate filing retrieval.
package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("finsight.orchestrator.fetchers")

// yahooUserAgent is required; Yahoo rejects default Go client agents.
const yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Candle is one daily OHLCV bar.
type Candle struct {
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// YahooClient talks to the public Yahoo Finance quote and chart endpoints.
type YahooClient struct {
	// QuoteBaseURL and ChartBaseURL are overridable for tests.
	QuoteBaseURL string
	ChartBaseURL string
	HTTPClient   HTTPClient
}

// NewYahooClient builds a client against the production Yahoo endpoints.
func NewYahooClient(httpClient HTTPClient) *YahooClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &YahooClient{
		QuoteBaseURL: "https://query1.finance.yahoo.com/v10/finance/quoteSummary",
		ChartBaseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
		HTTPClient:   httpClient,
	}
}

// --- quoteSummary response shapes ---

// yfNum is Yahoo's {raw, fmt} number wrapper.
type yfNum struct {
	Raw float64 `json:"raw"`
}

type yahooQuoteSummary struct {
	QuoteSummary struct {
		Result []yahooQuoteResult `json:"result"`
		Error  interface{}        `json:"error"`
	} `json:"quoteSummary"`
}

type yahooQuoteResult struct {
	Price struct {
		LongName           string `json:"longName"`
		RegularMarketPrice yfNum  `json:"regularMarketPrice"`
		MarketCap          yfNum  `json:"marketCap"`
	} `json:"price"`
	SummaryDetail struct {
		TrailingPE       yfNum `json:"trailingPE"`
		ForwardPE        yfNum `json:"forwardPE"`
		DividendYield    yfNum `json:"dividendYield"`
		FiftyTwoWeekHigh yfNum `json:"fiftyTwoWeekHigh"`
		FiftyTwoWeekLow  yfNum `json:"fiftyTwoWeekLow"`
	} `json:"summaryDetail"`
	DefaultKeyStatistics struct {
		TrailingEps yfNum `json:"trailingEps"`
		PriceToBook yfNum `json:"priceToBook"`
	} `json:"defaultKeyStatistics"`
	FinancialData struct {
		TotalRevenue   yfNum `json:"totalRevenue"`
		GrossProfits   yfNum `json:"grossProfits"`
		FreeCashflow   yfNum `json:"freeCashflow"`
		DebtToEquity   yfNum `json:"debtToEquity"`
		ReturnOnEquity yfNum `json:"returnOnEquity"`
		RevenueGrowth  yfNum `json:"revenueGrowth"`
		EarningsGrowth yfNum `json:"earningsGrowth"`
	} `json:"financialData"`
	AssetProfile struct {
		Sector   string `json:"sector"`
		Industry string `json:"industry"`
	} `json:"assetProfile"`
}

// --- chart response shapes ---

type yahooChartResponse struct {
	Chart struct {
		Result []yahooChartResult `json:"result"`
		Error  interface{}        `json:"error"`
	} `json:"chart"`
}

type yahooChartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []float64 `json:"open"`
			High   []float64 `json:"high"`
			Low    []float64 `json:"low"`
			Close  []float64 `json:"close"`
			Volume []int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// QuoteSummary fetches valuation and profile data for one ticker.
func (y *YahooClient) QuoteSummary(ctx context.Context, ticker string) (*yahooQuoteResult, error) {
	ctx, span := tracer.Start(ctx, "YahooClient.QuoteSummary")
	defer span.End()
	span.SetAttributes(attribute.String("ticker", ticker))

	endpoint := fmt.Sprintf("%s/%s?modules=%s",
		y.QuoteBaseURL, url.PathEscape(ticker),
		"price,summaryDetail,defaultKeyStatistics,financialData,assetProfile")

	var parsed yahooQuoteSummary
	if err := y.getJSON(ctx, endpoint, &parsed); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if parsed.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("yahoo quoteSummary error for %s: %v", ticker, parsed.QuoteSummary.Error)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("no quoteSummary result for %s", ticker)
	}
	return &parsed.QuoteSummary.Result[0], nil
}

// DailyCandles fetches up to days of daily bars ending now, oldest first.
// Rows with missing fields are dropped rather than zero-filled.
func (y *YahooClient) DailyCandles(ctx context.Context, ticker string, days int) ([]Candle, error) {
	ctx, span := tracer.Start(ctx, "YahooClient.DailyCandles")
	defer span.End()
	span.SetAttributes(attribute.String("ticker", ticker), attribute.Int("days", days))

	end := time.Now()
	start := end.AddDate(0, 0, -days)
	endpoint := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=1d&events=history",
		y.ChartBaseURL, url.PathEscape(ticker), start.Unix(), end.Unix())

	var parsed yahooChartResponse
	if err := y.getJSON(ctx, endpoint, &parsed); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error for %s: %v", ticker, parsed.Chart.Error)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart result for %s", ticker)
	}

	res := parsed.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("incomplete chart indicators for %s", ticker)
	}
	quote := res.Indicators.Quote[0]
	var adjClose []float64
	if len(res.Indicators.AdjClose) > 0 {
		adjClose = res.Indicators.AdjClose[0].AdjClose
	}

	candles := make([]Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(quote.Close) || i >= len(quote.Open) ||
			i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Volume) {
			continue
		}
		if quote.Close[i] == 0 {
			continue
		}
		c := Candle{
			Time:     time.Unix(ts, 0).UTC(),
			Open:     quote.Open[i],
			High:     quote.High[i],
			Low:      quote.Low[i],
			Close:    quote.Close[i],
			AdjClose: quote.Close[i],
			Volume:   quote.Volume[i],
		}
		if i < len(adjClose) && adjClose[i] != 0 {
			c.AdjClose = adjClose[i]
		}
		candles = append(candles, c)
	}

	span.SetAttributes(attribute.Int("candles", len(candles)))
	return candles, nil
}

func (y *YahooClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", yahooUserAgent)

	resp, err := y.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call Yahoo API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Yahoo API returned status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode Yahoo JSON: %w", err)
	}
	return nil
}
