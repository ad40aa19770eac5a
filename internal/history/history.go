// Package history preloads bar history so the indicator store has a full
// warmup window before the first streamed bar arrives.
package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ha-trend-bot/internal/models"

	"github.com/adshao/go-binance/v2"
)

// Downloader fetches historical klines from the public market-data API.
type Downloader struct {
	client *binance.Client
}

// NewDownloader creates a downloader. The kline endpoints are public, so no
// API key is required.
func NewDownloader() *Downloader {
	return &Downloader{client: binance.NewClient("", "")}
}

// Download fetches the last `days` days of bars at the given interval,
// oldest first.
func (d *Downloader) Download(symbol, interval string, days int) ([]models.Bar, error) {
	startTime := time.Now().AddDate(0, 0, -days)
	var bars []models.Bar

	for t := startTime; t.Before(time.Now()); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			Limit(1000). // API page size cap
			Do(context.Background())
		if err != nil {
			return nil, fmt.Errorf("download klines for %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			bar, err := toBar(k)
			if err != nil {
				return nil, fmt.Errorf("parse kline for %s: %w", symbol, err)
			}
			bars = append(bars, bar)
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		time.Sleep(200 * time.Millisecond) // stay under the request rate limit
	}

	return bars, nil
}

func toBar(k *binance.Kline) (models.Bar, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Bar{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Bar{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Bar{}, err
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Bar{}, err
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Bar{}, err
	}

	return models.Bar{
		Timestamp: time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
